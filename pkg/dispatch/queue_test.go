package dispatch

import (
	"context"
	"errors"
	"fmt"
	goruntime "runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	metav1 "github.com/fx147/operator-base/pkg/apis/meta/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEvent(id, name string) metav1.ResourceEvent {
	return metav1.ResourceEvent{
		Type: metav1.Modified,
		Meta: metav1.ResourceMeta{
			ID:              id,
			Name:            name,
			Namespace:       "default",
			ResourceVersion: "1",
			APIVersion:      "example.com/v1",
			Kind:            "Widget",
		},
	}
}

// recorder 记录回调的调用顺序，并检查是否有并发调用。
type recorder struct {
	mu       sync.Mutex
	names    []string
	inFlight int32
	overlap  atomic.Bool
	delay    time.Duration
}

func (r *recorder) OnEvent(ctx context.Context, ev metav1.ResourceEvent) error {
	if atomic.AddInt32(&r.inFlight, 1) > 1 {
		r.overlap.Store(true)
	}
	defer atomic.AddInt32(&r.inFlight, -1)

	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	r.mu.Lock()
	r.names = append(r.names, ev.Meta.Name)
	r.mu.Unlock()
	return nil
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func runQueue(t *testing.T, q *Queue) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

// TestQueue_OrderAcrossTypes 验证不同资源类型的事件按到达顺序串行分发
func TestQueue_OrderAcrossTypes(t *testing.T) {
	q := NewQueue(ContinueOnError, nil)

	// 两种资源类型共享同一个回调记录器，才能观察全局顺序
	shared := &recorder{delay: time.Millisecond}
	var want []string
	for i := 0; i < 20; i++ {
		name := fmt.Sprintf("o%d", i)
		want = append(want, name)
		id := "widgets.example.com/v1"
		if i%2 == 1 {
			id = "gadgets.example.com/v1"
		}
		require.NoError(t, q.Push(newTestEvent(id, name), shared))
	}

	runQueue(t, q)

	require.Eventually(t, func() bool { return len(shared.seen()) == len(want) }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, want, shared.seen())
	assert.False(t, shared.overlap.Load(), "callbacks must never run concurrently")
}

// TestQueue_ConcurrentProducers 验证多个生产者并发 Push 时回调仍然不会并发执行
func TestQueue_ConcurrentProducers(t *testing.T) {
	q := NewQueue(ContinueOnError, nil)
	rec := &recorder{}
	runQueue(t, q)

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				_ = q.Push(newTestEvent("widgets.example.com/v1", fmt.Sprintf("p%d-%d", p, i)), rec)
			}
		}(p)
	}
	wg.Wait()

	require.Eventually(t, func() bool { return len(rec.seen()) == 100 }, 5*time.Second, 5*time.Millisecond)
	assert.False(t, rec.overlap.Load())

	// 同一生产者的事件保持相对顺序
	last := map[string]int{}
	for _, name := range rec.seen() {
		var p, i int
		_, err := fmt.Sscanf(name, "p%d-%d", &p, &i)
		require.NoError(t, err)
		prev, ok := last[fmt.Sprint(p)]
		if ok {
			assert.Greater(t, i, prev)
		}
		last[fmt.Sprint(p)] = i
	}
}

func TestQueue_ContinueOnError(t *testing.T) {
	q := NewQueue(ContinueOnError, nil)
	var calls []string
	var mu sync.Mutex
	h := HandlerFunc(func(ctx context.Context, ev metav1.ResourceEvent) error {
		mu.Lock()
		calls = append(calls, ev.Meta.Name)
		mu.Unlock()
		if ev.Meta.Name == "bad" {
			return errors.New("boom")
		}
		return nil
	})

	require.NoError(t, q.Push(newTestEvent("w", "bad"), h))
	require.NoError(t, q.Push(newTestEvent("w", "good"), h))
	runQueue(t, q)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 2
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"bad", "good"}, calls)
}

func TestQueue_StopOnError(t *testing.T) {
	q := NewQueue(StopOnError, nil)
	boom := errors.New("boom")
	var good atomic.Bool
	h := HandlerFunc(func(ctx context.Context, ev metav1.ResourceEvent) error {
		if ev.Meta.Name == "bad" {
			return boom
		}
		good.Store(true)
		return nil
	})

	require.NoError(t, q.Push(newTestEvent("w", "bad"), h))
	require.NoError(t, q.Push(newTestEvent("w", "good"), h))
	_, done := runQueue(t, q)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, boom)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after handler error")
	}
	assert.False(t, good.Load(), "dispatch must halt after the failing event")
	assert.ErrorIs(t, q.Push(newTestEvent("w", "late"), h), ErrQueueShutDown)
}

func TestQueue_DrainsOnShutdown(t *testing.T) {
	q := NewQueue(ContinueOnError, nil)
	rec := &recorder{}
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Push(newTestEvent("w", fmt.Sprintf("o%d", i)), rec))
	}

	// ctx 已经取消，队列中的事件仍然会被处理完
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, q.Run(ctx))
	assert.Equal(t, []string{"o0", "o1", "o2"}, rec.seen())
	assert.Equal(t, 0, q.Len())
}

func TestQueue_RunReleasesWatcherGoroutine(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	before := goruntime.NumGoroutine()

	boom := errors.New("boom")
	failing := HandlerFunc(func(context.Context, metav1.ResourceEvent) error { return boom })
	for i := 0; i < 50; i++ {
		// StopOnError 返回和 ShutDown 后排空返回，ctx 都还没有结束
		stopping := NewQueue(StopOnError, nil)
		require.NoError(t, stopping.Push(newTestEvent("w", "bad"), failing))
		require.ErrorIs(t, stopping.Run(ctx), boom)

		drained := NewQueue(ContinueOnError, nil)
		require.NoError(t, drained.Push(newTestEvent("w", "ok"), &recorder{}))
		drained.ShutDown()
		require.NoError(t, drained.Run(ctx))
	}

	assert.Eventually(t, func() bool {
		return goruntime.NumGoroutine() <= before+5
	}, 3*time.Second, 10*time.Millisecond, "Run left goroutines waiting on a live context")
}

func TestQueue_PushValidation(t *testing.T) {
	q := NewQueue(ContinueOnError, nil)
	assert.Error(t, q.Push(newTestEvent("w", "x"), nil))
	q.ShutDown()
	assert.ErrorIs(t, q.Push(newTestEvent("w", "x"), &recorder{}), ErrQueueShutDown)
}
