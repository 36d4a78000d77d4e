package dispatch

import (
	"context"
	"errors"
	"fmt"

	metav1 "github.com/fx147/operator-base/pkg/apis/meta/v1"
	"github.com/fx147/operator-base/pkg/util"
	"k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/client-go/util/workqueue"
)

// ErrQueueShutDown 表示队列已经关闭，不再接受新事件。
var ErrQueueShutDown = errors.New("dispatch queue is shut down")

// Handler 是业务方提供的事件回调。
type Handler interface {
	OnEvent(ctx context.Context, event metav1.ResourceEvent) error
}

// HandlerFunc 让普通函数可以作为 Handler 使用。
type HandlerFunc func(ctx context.Context, event metav1.ResourceEvent) error

func (f HandlerFunc) OnEvent(ctx context.Context, event metav1.ResourceEvent) error {
	return f(ctx, event)
}

// ErrorPolicy 决定回调返回错误后队列如何处理。
type ErrorPolicy int

const (
	// ContinueOnError 记录错误并继续处理下一个事件。
	ContinueOnError ErrorPolicy = iota
	// StopOnError 停止分发，Run 返回该错误。
	StopOnError
)

// item 是队列中的一个元素。
// 每次 Push 都分配新的指针，所以 workqueue 的去重不会合并两次通知。
type item struct {
	event   metav1.ResourceEvent
	handler Handler
}

// Queue 是全进程唯一的有序分发队列。
// 所有资源类型共享同一个 FIFO，并且只有一个 worker，
// 上一个回调完全返回之前不会开始下一个。
// 一个慢回调会拖慢所有资源类型的事件。
type Queue struct {
	queue  workqueue.TypedInterface[*item]
	policy ErrorPolicy
	logger util.Logger
}

// NewQueue 创建一个新的分发队列。logger 为 nil 时不输出日志。
func NewQueue(policy ErrorPolicy, logger util.Logger) *Queue {
	return &Queue{
		queue:  workqueue.NewTypedWithConfig(workqueue.TypedQueueConfig[*item]{Name: "resource-events"}),
		policy: policy,
		logger: util.OrNop(logger),
	}
}

// Push 把事件和它的回调追加到队尾。
func (q *Queue) Push(event metav1.ResourceEvent, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler may not be nil")
	}
	if q.queue.ShuttingDown() {
		return ErrQueueShutDown
	}
	q.queue.Add(&item{event: event, handler: handler})
	return nil
}

// Len 返回等待分发的事件数量。
func (q *Queue) Len() int {
	return q.queue.Len()
}

// ShutDown 关闭队列。已经入队的事件仍会被 Run 处理完。
func (q *Queue) ShutDown() {
	q.queue.ShutDown()
}

// Run 启动唯一的 worker，阻塞直到 ctx 结束且队列排空，或者在 StopOnError 策略下回调出错。
// 回调中的 panic 不会被吞掉，HandleCrash 记录后会继续向上抛出。
func (q *Queue) Run(ctx context.Context) error {
	defer runtime.HandleCrash()
	defer q.queue.ShutDown()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			q.queue.ShutDown()
		case <-done:
		}
	}()

	for {
		ok, err := q.processNextItem(ctx)
		if !ok {
			return nil
		}
		if err != nil && q.policy == StopOnError {
			q.logger.Errorf("Stopping event dispatch: %v", err)
			return err
		}
	}
}

// processNextItem 从队列中取出一个事件并调用回调。
// 返回 false 表示队列已关闭并排空。
func (q *Queue) processNextItem(ctx context.Context) (bool, error) {
	it, quit := q.queue.Get()
	if quit {
		return false, nil
	}
	defer q.queue.Done(it)

	err := it.handler.OnEvent(ctx, it.event)
	if err != nil {
		err = fmt.Errorf("handler failed for %s event on %s: %w", it.event.Type, it.event.Meta, err)
		if q.policy == ContinueOnError {
			runtime.HandleError(err)
			q.logger.Warningf("Dropping %s event for %s: %v", it.event.Type, it.event.Meta.Key(), err)
		}
	}
	return true, err
}
