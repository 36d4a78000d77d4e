// file: pkg/watch/controller.go

package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	metav1 "github.com/fx147/operator-base/pkg/apis/meta/v1"
	"github.com/fx147/operator-base/pkg/client/rest"
	"github.com/fx147/operator-base/pkg/dispatch"
	"github.com/fx147/operator-base/pkg/registry"
	"github.com/fx147/operator-base/pkg/util"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	apimetav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	kjson "k8s.io/apimachinery/pkg/runtime/serializer/json"
	"k8s.io/apimachinery/pkg/runtime/serializer/streaming"
	"k8s.io/apimachinery/pkg/util/wait"
)

// DefaultRestartDelay 是 watch 断开后重连前的固定等待时间。
// 没有重试上限，也没有退避增长。
const DefaultRestartDelay = 100 * time.Millisecond

var (
	errStreamClosed = errors.New("watch stream closed by server")
	errExpired      = errors.New("resource version expired")
)

// watchEventDecoder 只负责外层的 {"type": ..., "object": ...} 帧，
// object 留作原始字节，由 decodeObject 按 unstructured 解码。
var watchEventDecoder runtime.Decoder

func init() {
	scheme := runtime.NewScheme()
	apimetav1.AddToGroupVersion(scheme, schema.GroupVersion{Version: "v1"})
	watchEventDecoder = kjson.NewSerializerWithOptions(kjson.DefaultMetaFactory, scheme, scheme, kjson.SerializerOptions{})
}

// decodeObject 用 UnstructuredJSONScheme 解码通知中的对象，整数保持 int64。
func decodeObject(raw []byte) (*unstructured.Unstructured, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: object is empty", metav1.ErrMalformedObject)
	}
	obj, err := runtime.Decode(unstructured.UnstructuredJSONScheme, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", metav1.ErrMalformedObject, err)
	}
	u, ok := obj.(*unstructured.Unstructured)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected object %T", metav1.ErrMalformedObject, obj)
	}
	return u, nil
}

// Options 配置 watch 控制器。
type Options struct {
	// RestartDelay 默认为 DefaultRestartDelay
	RestartDelay time.Duration
	// Checkpoints 默认为内存存储
	Checkpoints registry.CheckpointStore
	Logger      util.Logger
}

// Controller 为每个资源类型维护一个会自动重连的 watch，并把通知送进分发队列。
// 它不直接调用回调，这样所有资源类型的事件都经过同一个队列串行处理。
type Controller struct {
	client       rest.Interface
	registry     *registry.Registry
	queue        *dispatch.Queue
	checkpoints  registry.CheckpointStore
	restartDelay time.Duration
	logger       util.Logger

	wg sync.WaitGroup
}

// NewController 创建一个新的 watch 控制器。
func NewController(client rest.Interface, reg *registry.Registry, queue *dispatch.Queue, opts Options) *Controller {
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = DefaultRestartDelay
	}
	if opts.Checkpoints == nil {
		opts.Checkpoints = registry.NewMemoryCheckpointStore()
	}
	return &Controller{
		client:       client,
		registry:     reg,
		queue:        queue,
		checkpoints:  opts.Checkpoints,
		restartDelay: opts.RestartDelay,
		logger:       util.OrNop(opts.Logger),
	}
}

// Watch 注册资源类型的 status 路径构造函数，并在后台打开它的 watch。
// 返回资源类型 ID。ctx 结束或调用 StopAll 后 watch 停止。
func (c *Controller) Watch(ctx context.Context, group, version, plural string, handler dispatch.Handler) (string, error) {
	if version == "" || plural == "" {
		return "", fmt.Errorf("version and plural must be specified")
	}
	if handler == nil {
		return "", fmt.Errorf("handler may not be nil")
	}

	reg := &registry.Registration{
		ID:             registry.ResourceID(group, version, plural),
		CollectionPath: registry.CollectionPath(group, version, plural),
		StatusPath:     registry.NewStatusPathFunc(group, version, plural),
	}

	loopCtx, stop := context.WithCancel(ctx)
	if err := c.registry.Register(reg, stop); err != nil {
		stop()
		return "", err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer stop()
		// wait.UntilWithContext 在每次 runOnce 返回后等待 restartDelay 再重新调用
		wait.UntilWithContext(loopCtx, func(ctx context.Context) {
			c.runOnce(ctx, reg, handler)
		}, c.restartDelay)
	}()

	return reg.ID, nil
}

// StopAll 中断所有活跃的 watch，不会清空已经入队的事件。
func (c *Controller) StopAll() {
	n := c.registry.StopAll()
	c.logger.Infof("Stopped %d watch(es)", n)
}

// Wait 阻塞直到所有 watch 循环退出。
func (c *Controller) Wait() {
	c.wg.Wait()
}

// runOnce 打开一次订阅并消费到它结束。
func (c *Controller) runOnce(ctx context.Context, reg *registry.Registration, handler dispatch.Handler) {
	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub := registry.NewSubscription(cancel)
	if !c.registry.SetActive(reg, sub) {
		return
	}

	rv, err := c.checkpoints.Get(reg.ID)
	if err != nil {
		c.logger.Warningf("Failed to read checkpoint for %s, watching from scratch: %v", reg.ID, err)
		rv = ""
	}

	req := c.client.Get().
		AbsPath(reg.CollectionPath).
		Param("watch", "true").
		Param("allowWatchBookmarks", "true")
	if rv != "" {
		req.Param("resourceVersion", rv)
	}

	body, err := req.Stream(subCtx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if apierrors.IsGone(err) || apierrors.IsResourceExpired(err) {
			// 检查点过期，下一次从头开始 watch
			c.clearCheckpoint(reg.ID)
		}
		c.logger.Warningf("Failed to open watch for %s: %v; restarting in %v", reg.ID, err, c.restartDelay)
		return
	}
	defer body.Close()

	c.logger.Infof("Watching %s (subscription %s, resourceVersion %q)", reg.CollectionPath, sub.ID, rv)

	err = c.consume(subCtx, reg.ID, body, handler)
	if ctx.Err() != nil {
		// 被 StopAll 或上层 ctx 取消，不再重连
		return
	}
	c.logger.Warningf("Watch for %s (subscription %s) terminated: %v; restarting in %v", reg.ID, sub.ID, err, c.restartDelay)
}

// consume 逐条解码 watch 流，直到流结束或出错。返回值永远不为 nil。
// 外层帧解码失败会结束订阅，单条通知里的对象解码失败只跳过这一条。
func (c *Controller) consume(ctx context.Context, id string, body io.ReadCloser, handler dispatch.Handler) error {
	decoder := streaming.NewDecoder(kjson.Framer.NewFrameReader(body), watchEventDecoder)
	for {
		var we apimetav1.WatchEvent
		if _, _, err := decoder.Decode(nil, &we); err != nil {
			if errors.Is(err, io.EOF) {
				return errStreamClosed
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("failed to decode watch event: %w", err)
		}

		if err := c.handle(ctx, id, metav1.EventType(we.Type), we.Object.Raw, handler); err != nil {
			return err
		}
	}
}

// handle 处理一条通知。返回错误表示需要结束当前订阅。
func (c *Controller) handle(ctx context.Context, id string, eventType metav1.EventType, raw []byte, handler dispatch.Handler) error {
	switch {
	case eventType == metav1.Error:
		return c.handleError(id, raw)

	case eventType == metav1.Bookmark:
		obj, err := decodeObject(raw)
		if err != nil {
			c.logger.Warningf("Ignoring undecodable bookmark for %s: %v", id, err)
			return nil
		}
		c.saveCheckpoint(id, obj.GetResourceVersion())
		return nil

	case eventType.Deliverable():
		obj, err := decodeObject(raw)
		if err != nil {
			c.logger.Errorf("Skipping %s notification for %s: %v", eventType, id, err)
			return nil
		}
		ev, err := metav1.NewEvent(id, eventType, obj)
		if err != nil {
			// 单条畸形通知不影响后续通知
			c.logger.Errorf("Skipping %s notification for %s: %v", eventType, id, err)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := c.queue.Push(ev, handler); err != nil {
			return err
		}
		c.saveCheckpoint(id, ev.Meta.ResourceVersion)
		return nil

	default:
		c.logger.Warningf("Ignoring watch notification of unknown type %q for %s", eventType, id)
		return nil
	}
}

// handleError 处理 ERROR 通知。410 Gone 说明检查点过期，清除后从头开始 watch。
func (c *Controller) handleError(id string, raw []byte) error {
	obj, err := decodeObject(raw)
	if err != nil {
		return fmt.Errorf("watch error with undecodable status: %w", err)
	}
	status := apimetav1.Status{}
	if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, &status); err != nil {
		return fmt.Errorf("watch error with undecodable status: %w", err)
	}

	if status.Code == http.StatusGone || status.Reason == apimetav1.StatusReasonGone || status.Reason == apimetav1.StatusReasonExpired {
		c.clearCheckpoint(id)
		return fmt.Errorf("%w: %s", errExpired, status.Message)
	}
	return fmt.Errorf("watch error (code %d, reason %s): %s", status.Code, status.Reason, status.Message)
}

func (c *Controller) clearCheckpoint(id string) {
	if err := c.checkpoints.Delete(id); err != nil {
		c.logger.Warningf("Failed to clear checkpoint for %s: %v", id, err)
	}
}

func (c *Controller) saveCheckpoint(id, rv string) {
	if rv == "" {
		return
	}
	if err := c.checkpoints.Put(id, rv); err != nil {
		c.logger.Warningf("Failed to save checkpoint %s for %s: %v", rv, id, err)
	}
}
