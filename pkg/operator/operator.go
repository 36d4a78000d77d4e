// Package operator 把 CRD 注册、watch、分发队列和 status 更新组合成一个 operator 实例。
// 具体的 operator 只需要实现 Setup，在其中注册资源类型并打开 watch。
package operator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	metav1 "github.com/fx147/operator-base/pkg/apis/meta/v1"
	"github.com/fx147/operator-base/pkg/client/rest"
	"github.com/fx147/operator-base/pkg/crd"
	"github.com/fx147/operator-base/pkg/dispatch"
	"github.com/fx147/operator-base/pkg/kubeconfig"
	"github.com/fx147/operator-base/pkg/registry"
	"github.com/fx147/operator-base/pkg/status"
	"github.com/fx147/operator-base/pkg/util"
	"github.com/fx147/operator-base/pkg/watch"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
)

var (
	ErrAlreadyStarted = errors.New("operator already started")
	ErrNotStarted     = errors.New("operator not started")
)

// Setup 是具体 operator 必须实现的唯一钩子。
// Start 调用它来注册资源类型并打开 watch，返回错误会中止启动。
type Setup interface {
	Setup(ctx context.Context, op *Operator) error
}

// SetupFunc 让普通函数实现 Setup。
type SetupFunc func(ctx context.Context, op *Operator) error

func (f SetupFunc) Setup(ctx context.Context, op *Operator) error {
	return f(ctx, op)
}

type options struct {
	logger       util.Logger
	restartDelay time.Duration
	checkpoints  registry.CheckpointStore
	policy       dispatch.ErrorPolicy
}

// Option 配置 Operator。
type Option func(*options)

// WithLogger 设置日志输出，默认不输出。
func WithLogger(l util.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRestartDelay 设置 watch 断开后的固定重连间隔。
func WithRestartDelay(d time.Duration) Option {
	return func(o *options) { o.restartDelay = d }
}

// WithCheckpointStore 设置 watch 续传位置的存储。
func WithCheckpointStore(s registry.CheckpointStore) Option {
	return func(o *options) { o.checkpoints = s }
}

// WithErrorPolicy 设置回调返回错误时分发队列的行为。
func WithErrorPolicy(p dispatch.ErrorPolicy) Option {
	return func(o *options) { o.policy = p }
}

// Operator 持有路径注册表、分发队列和 watch 控制器，它们只属于这一个实例。
type Operator struct {
	setup  Setup
	logger util.Logger

	registry  *registry.Registry
	queue     *dispatch.Queue
	watches   *watch.Controller
	registrar *crd.Registrar
	status    *status.Client

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// New 创建一个 Operator。conn 提供集群地址和认证信息。
func New(conn kubeconfig.Connection, setup Setup, opts ...Option) (*Operator, error) {
	if conn == nil {
		return nil, fmt.Errorf("connection may not be nil")
	}
	if setup == nil {
		return nil, fmt.Errorf("setup may not be nil")
	}

	o := &options{policy: dispatch.ContinueOnError}
	for _, opt := range opts {
		opt(o)
	}
	logger := util.OrNop(o.logger)

	client := rest.NewRESTClient(conn)
	reg := registry.NewRegistry()
	queue := dispatch.NewQueue(o.policy, logger)

	return &Operator{
		setup:    setup,
		logger:   logger,
		registry: reg,
		queue:    queue,
		watches: watch.NewController(client, reg, queue, watch.Options{
			RestartDelay: o.restartDelay,
			Checkpoints:  o.checkpoints,
			Logger:       logger,
		}),
		registrar: crd.NewRegistrar(client, logger),
		status:    status.NewClient(client, reg, logger),
	}, nil
}

// Start 调用 Setup，成功后在后台启动唯一的分发 worker 并立即返回。
// Setup 失败时已经打开的 watch 会被停止，错误原样返回。
// ctx 结束等同于 Stop 之后再关闭队列。分发 worker 因任何原因退出时所有 watch 都会被停止。
func (op *Operator) Start(ctx context.Context) error {
	op.mu.Lock()
	if op.started {
		op.mu.Unlock()
		return ErrAlreadyStarted
	}
	op.started = true
	runCtx, cancel := context.WithCancel(ctx)
	op.cancel = cancel
	op.done = make(chan struct{})
	op.mu.Unlock()

	if err := op.setup.Setup(runCtx, op); err != nil {
		op.watches.StopAll()
		cancel()
		op.queue.ShutDown()
		close(op.done)
		op.logger.Errorf("Operator setup failed: %v", err)
		return fmt.Errorf("setup failed: %w", err)
	}
	op.logger.Infof("Operator started, watching %d resource type(s)", len(op.registry.IDs()))

	go func() {
		defer close(op.done)
		err := op.queue.Run(runCtx)
		op.mu.Lock()
		op.err = err
		op.mu.Unlock()
		// 分发 worker 已经退出，继续 watch 只会不断入队失败并重连
		if err != nil {
			op.logger.Errorf("Event dispatch stopped, stopping watches: %v", err)
		}
		op.Stop()
	}()
	return nil
}

// Stop 中断所有活跃的 watch。已经入队的事件仍会被分发，之后不会有新的回调。
func (op *Operator) Stop() {
	op.watches.StopAll()
}

// Shutdown 停止 watch 并关闭分发队列，等待已入队的事件处理完或 ctx 结束。
func (op *Operator) Shutdown(ctx context.Context) error {
	op.mu.Lock()
	done, cancel := op.done, op.cancel
	op.mu.Unlock()
	if done == nil {
		return ErrNotStarted
	}

	op.Stop()
	op.queue.ShutDown()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	cancel()
	op.watches.Wait()
	return op.Err()
}

// Run 启动 operator 并阻塞到 ctx 结束或分发停止，返回分发停止的原因。
func (op *Operator) Run(ctx context.Context) error {
	if err := op.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		op.Stop()
	case <-op.done:
		op.Stop()
	}
	<-op.done
	op.cancel()
	op.watches.Wait()
	return op.Err()
}

// Done 在分发 worker 退出后关闭。
func (op *Operator) Done() <-chan struct{} {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.done
}

// Err 返回分发 worker 退出的原因，只有 StopOnError 策略下才可能非空。
func (op *Operator) Err() error {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.err
}

// RegisterCRD 把资源类型定义安装到集群中，已存在视为成功。
func (op *Operator) RegisterCRD(ctx context.Context, def *apiextensionsv1.CustomResourceDefinition) (crd.Descriptor, error) {
	return op.registrar.Register(ctx, def)
}

// RegisterCRDFromFile 从 YAML 或 JSON 文件读取定义并注册。
func (op *Operator) RegisterCRDFromFile(ctx context.Context, path string) (crd.Descriptor, error) {
	def, err := crd.LoadDefinition(path)
	if err != nil {
		return crd.Descriptor{}, err
	}
	return op.RegisterCRD(ctx, def)
}

// Watch 打开资源类型的 watch，返回资源类型 ID。
func (op *Operator) Watch(ctx context.Context, group, version, plural string, handler dispatch.Handler) (string, error) {
	return op.watches.Watch(ctx, group, version, plural, handler)
}

// WatchDescriptor 用 Descriptor 的首选版本打开 watch。
func (op *Operator) WatchDescriptor(ctx context.Context, desc crd.Descriptor, handler dispatch.Handler) (string, error) {
	version := desc.PreferredVersion()
	if version == "" {
		return "", fmt.Errorf("resource %s.%s has no served version", desc.Plural, desc.Group)
	}
	return op.Watch(ctx, desc.Group, version, desc.Plural, handler)
}

// SetStatus 整体替换资源的 status。
func (op *Operator) SetStatus(ctx context.Context, meta metav1.ResourceMeta, st interface{}) (metav1.ResourceMeta, error) {
	return op.status.SetStatus(ctx, meta, st)
}

// PatchStatus 用 merge patch 更新资源的 status。
func (op *Operator) PatchStatus(ctx context.Context, meta metav1.ResourceMeta, st interface{}) (metav1.ResourceMeta, error) {
	return op.status.PatchStatus(ctx, meta, st)
}

// StatusPath 返回资源实例的 status 路径，资源类型未被 watch 时 ok 为 false。
func (op *Operator) StatusPath(meta metav1.ResourceMeta) (string, bool) {
	return op.registry.StatusPath(meta)
}
