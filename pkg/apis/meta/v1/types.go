package v1

import (
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// ResourceMeta 是某个资源实例在某一时刻的身份快照。
// 每次 watch 通知和每次 status 更新的响应都会生成一个新的 ResourceMeta，不会原地修改。
type ResourceMeta struct {
	// ID 是资源类型的标识，形如 "<plural>.<apiVersion>"，
	// 用来在 registry 中找到对应的 status 路径构造函数。
	ID string `json:"id"`

	// +required
	Name string `json:"name"`

	// 集群级资源为空
	// +optional
	Namespace string `json:"namespace,omitempty"`

	// ResourceVersion 是集群返回的不透明版本号
	// +required
	ResourceVersion string `json:"resourceVersion"`

	// +required
	APIVersion string `json:"apiVersion"`

	// +required
	Kind string `json:"kind"`
}

// Key 返回 "namespace/name" 形式的 key，集群级资源只返回 name。
func (m ResourceMeta) Key() string {
	if m.Namespace == "" {
		return m.Name
	}
	return m.Namespace + "/" + m.Name
}

func (m ResourceMeta) String() string {
	return fmt.Sprintf("%s %s (rv=%s)", m.Kind, m.Key(), m.ResourceVersion)
}

// EventType 定义了事件的类型
type EventType string

const (
	Added    EventType = "ADDED"
	Modified EventType = "MODIFIED"
	Deleted  EventType = "DELETED"

	// Bookmark 和 Error 只在 watch 流内部使用，不会分发给业务回调。
	Bookmark EventType = "BOOKMARK"
	Error    EventType = "ERROR"
)

// Deliverable 判断该类型的事件是否应该交给业务回调。
func (t EventType) Deliverable() bool {
	switch t {
	case Added, Modified, Deleted:
		return true
	}
	return false
}

// ResourceEvent 是一次资源变更通知。
// 由 watch 控制器为每条通知创建，由 dispatch 队列恰好消费一次。
type ResourceEvent struct {
	Meta ResourceMeta
	Type EventType
	// Object 是通知中携带的原始资源对象
	Object *unstructured.Unstructured
}

// WatchEvent 是 watch 流中一行的线格式：{"type": ..., "object": ...}。
type WatchEvent struct {
	Type   EventType              `json:"type"`
	Object map[string]interface{} `json:"object"`
}
