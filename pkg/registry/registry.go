// file: pkg/registry/registry.go

package registry

import (
	"context"
	"fmt"
	"path"
	"sort"
	"sync"

	metav1 "github.com/fx147/operator-base/pkg/apis/meta/v1"
	"github.com/google/uuid"
)

// StatusPathFunc 根据资源实例计算它的 status 子资源路径。
type StatusPathFunc func(meta metav1.ResourceMeta) string

// Subscription 是一次正在进行的 watch 连接的句柄。
// 每次自动重连都会生成一个新的 Subscription 替换旧的。
type Subscription struct {
	// ID 只用于日志，方便把重连前后的日志区分开
	ID     uuid.UUID
	cancel context.CancelFunc
}

// NewSubscription 创建一个句柄，cancel 用来中断底层连接。
func NewSubscription(cancel context.CancelFunc) *Subscription {
	return &Subscription{ID: uuid.New(), cancel: cancel}
}

// Cancel 中断这次订阅。
func (s *Subscription) Cancel() {
	if s != nil && s.cancel != nil {
		s.cancel()
	}
}

// Registration 是每个资源类型在 registry 中的状态。
type Registration struct {
	// ID 形如 "<plural>.<apiVersion>"
	ID string
	// CollectionPath 是资源集合的 URI，例如 /apis/example.com/v1/widgets
	CollectionPath string
	// StatusPath 计算单个实例的 status 路径
	StatusPath StatusPathFunc

	// stop 停止整个 watch 循环（包括后续的重连）
	stop   context.CancelFunc
	active *Subscription
}

// Registry 按资源类型 ID 保存 status 路径构造函数和当前活跃的订阅。
// 只有 watch 控制器会修改它，status 客户端和 StopAll 只读取。
type Registry struct {
	mu    sync.RWMutex
	items map[string]*Registration
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[string]*Registration)}
}

// ResourceID 计算资源类型 ID。group 为空时是核心 API 组，ID 为 "<plural>.<version>"。
func ResourceID(group, version, plural string) string {
	return plural + "." + APIVersion(group, version)
}

// APIVersion 拼出 apiVersion 字符串。
func APIVersion(group, version string) string {
	if group == "" {
		return version
	}
	return group + "/" + version
}

// CollectionPath 返回集群范围内资源集合的 URI。
func CollectionPath(group, version, plural string) string {
	if group == "" {
		return path.Join("/api", version, plural)
	}
	return path.Join("/apis", group, version, plural)
}

// NewStatusPathFunc 返回一个按 namespace 插入 namespaces/<ns> 段的 status 路径构造函数。
//
//	/apis/example.com/v1/namespaces/ns1/widgets/foo/status
//	/apis/example.com/v1/widgets/foo/status   (集群级资源)
func NewStatusPathFunc(group, version, plural string) StatusPathFunc {
	prefix := "/api/" + version
	if group != "" {
		prefix = path.Join("/apis", group, version)
	}
	return func(meta metav1.ResourceMeta) string {
		if meta.Namespace == "" {
			return path.Join(prefix, plural, meta.Name, "status")
		}
		return path.Join(prefix, "namespaces", meta.Namespace, plural, meta.Name, "status")
	}
}

// Register 为资源类型注册（或覆盖）路径信息和循环的停止函数。
// 如果同一 ID 已有循环在运行，旧循环会被停止。
func (r *Registry) Register(reg *Registration, stop context.CancelFunc) error {
	if reg == nil || reg.ID == "" {
		return fmt.Errorf("registration id may not be empty")
	}
	if reg.StatusPath == nil {
		return fmt.Errorf("registration %q has no status path function", reg.ID)
	}

	r.mu.Lock()
	old := r.items[reg.ID]
	reg.stop = stop
	r.items[reg.ID] = reg
	r.mu.Unlock()

	if old != nil && old != reg {
		r.halt(old)
	}
	return nil
}

// StatusPath 返回资源实例的 status 路径。资源类型没有注册时 ok 为 false。
func (r *Registry) StatusPath(meta metav1.ResourceMeta) (string, bool) {
	r.mu.RLock()
	reg, ok := r.items[meta.ID]
	r.mu.RUnlock()
	if !ok {
		return "", false
	}
	return reg.StatusPath(meta), true
}

// Get 返回资源类型的注册信息。
func (r *Registry) Get(id string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.items[id]
	return reg, ok
}

// IDs 返回所有已注册的资源类型 ID，按字典序排列。
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.items))
	for id := range r.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetActive 替换资源类型当前的订阅句柄。
// 返回 false 表示资源类型已经不在 registry 中或已被另一个循环接管，调用方应当放弃这次订阅。
func (r *Registry) SetActive(reg *Registration, sub *Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.items[reg.ID] != reg || reg.stop == nil {
		return false
	}
	reg.active = sub
	return true
}

// Active 返回资源类型当前的订阅句柄。
func (r *Registry) Active(id string) *Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if reg, ok := r.items[id]; ok {
		return reg.active
	}
	return nil
}

// StopAll 中断所有活跃的订阅并停止重连，路径构造函数保留，
// 所以已经在队列中的事件仍然可以更新 status。
func (r *Registry) StopAll() int {
	r.mu.Lock()
	regs := make([]*Registration, 0, len(r.items))
	for _, reg := range r.items {
		regs = append(regs, reg)
	}
	r.mu.Unlock()

	stopped := 0
	for _, reg := range regs {
		if r.halt(reg) {
			stopped++
		}
	}
	return stopped
}

func (r *Registry) halt(reg *Registration) bool {
	r.mu.Lock()
	stop, active := reg.stop, reg.active
	reg.stop, reg.active = nil, nil
	r.mu.Unlock()

	if stop == nil {
		return false
	}
	stop()
	active.Cancel()
	return true
}
