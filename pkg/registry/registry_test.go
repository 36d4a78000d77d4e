package registry

import (
	"context"
	"path/filepath"
	"testing"

	metav1 "github.com/fx147/operator-base/pkg/apis/meta/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResourceID(t *testing.T) {
	assert.Equal(t, "widgets.example.com/v1", ResourceID("example.com", "v1", "widgets"))
	assert.Equal(t, "configmaps.v1", ResourceID("", "v1", "configmaps"))
}

func TestCollectionPath(t *testing.T) {
	assert.Equal(t, "/apis/example.com/v1/widgets", CollectionPath("example.com", "v1", "widgets"))
	assert.Equal(t, "/api/v1/configmaps", CollectionPath("", "v1", "configmaps"))
}

func TestStatusPathFunc(t *testing.T) {
	fn := NewStatusPathFunc("example.com", "v1", "widgets")

	// 命名空间资源
	meta := metav1.ResourceMeta{
		ID:              "widgets.example.com/v1",
		Name:            "foo",
		Namespace:       "ns1",
		ResourceVersion: "5",
		APIVersion:      "example.com/v1",
		Kind:            "Widget",
	}
	assert.Equal(t, "/apis/example.com/v1/namespaces/ns1/widgets/foo/status", fn(meta))

	// 集群级资源
	meta.Namespace = ""
	assert.Equal(t, "/apis/example.com/v1/widgets/foo/status", fn(meta))

	core := NewStatusPathFunc("", "v1", "pods")
	assert.Equal(t, "/api/v1/namespaces/default/pods/bar/status",
		core(metav1.ResourceMeta{Name: "bar", Namespace: "default"}))
}

func newTestRegistration(id string) *Registration {
	return &Registration{
		ID:             id,
		CollectionPath: "/apis/example.com/v1/widgets",
		StatusPath:     NewStatusPathFunc("example.com", "v1", "widgets"),
	}
}

func TestRegistry_RegisterAndStatusPath(t *testing.T) {
	r := NewRegistry()

	_, ok := r.StatusPath(metav1.ResourceMeta{ID: "widgets.example.com/v1", Name: "foo"})
	assert.False(t, ok)

	require.NoError(t, r.Register(newTestRegistration("widgets.example.com/v1"), func() {}))
	p, ok := r.StatusPath(metav1.ResourceMeta{ID: "widgets.example.com/v1", Name: "foo"})
	require.True(t, ok)
	assert.Equal(t, "/apis/example.com/v1/widgets/foo/status", p)
	assert.Equal(t, []string{"widgets.example.com/v1"}, r.IDs())

	assert.Error(t, r.Register(&Registration{}, nil))
	assert.Error(t, r.Register(&Registration{ID: "x"}, nil))
}

func TestRegistry_StopAll(t *testing.T) {
	r := NewRegistry()

	loopCtx, stop := context.WithCancel(context.Background())
	reg := newTestRegistration("widgets.example.com/v1")
	require.NoError(t, r.Register(reg, stop))

	subCtx, cancelSub := context.WithCancel(loopCtx)
	first := NewSubscription(cancelSub)
	require.True(t, r.SetActive(reg, first))
	assert.Same(t, first, r.Active(reg.ID))

	// 重连时句柄被替换
	_, cancelSecond := context.WithCancel(loopCtx)
	second := NewSubscription(cancelSecond)
	require.True(t, r.SetActive(reg, second))
	assert.Same(t, second, r.Active(reg.ID))
	assert.NotEqual(t, first.ID, second.ID)

	assert.Equal(t, 1, r.StopAll())
	assert.Error(t, loopCtx.Err())
	assert.Error(t, subCtx.Err())
	assert.Nil(t, r.Active(reg.ID))

	// 停止后不再接受新的订阅，但路径构造函数仍然可用
	assert.False(t, r.SetActive(reg, NewSubscription(func() {})))
	_, ok := r.StatusPath(metav1.ResourceMeta{ID: reg.ID, Name: "foo"})
	assert.True(t, ok)

	assert.Equal(t, 0, r.StopAll())
}

func TestRegistry_ReRegisterStopsOldLoop(t *testing.T) {
	r := NewRegistry()

	oldCtx, oldStop := context.WithCancel(context.Background())
	old := newTestRegistration("widgets.example.com/v1")
	require.NoError(t, r.Register(old, oldStop))

	require.NoError(t, r.Register(newTestRegistration("widgets.example.com/v1"), func() {}))
	assert.Error(t, oldCtx.Err())
	assert.False(t, r.SetActive(old, NewSubscription(func() {})))
}

func testCheckpointStore(t *testing.T, store CheckpointStore) {
	rv, err := store.Get("widgets.example.com/v1")
	require.NoError(t, err)
	assert.Empty(t, rv)

	require.NoError(t, store.Put("widgets.example.com/v1", "42"))
	rv, err = store.Get("widgets.example.com/v1")
	require.NoError(t, err)
	assert.Equal(t, "42", rv)

	require.NoError(t, store.Delete("widgets.example.com/v1"))
	rv, err = store.Get("widgets.example.com/v1")
	require.NoError(t, err)
	assert.Empty(t, rv)
}

func TestMemoryCheckpointStore(t *testing.T) {
	testCheckpointStore(t, NewMemoryCheckpointStore())
}

func TestBoltCheckpointStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")

	store, closeFn, err := OpenBoltCheckpointStore(path)
	require.NoError(t, err)
	testCheckpointStore(t, store)

	// 重新打开后数据仍在
	require.NoError(t, store.Put("pods.v1", "7"))
	require.NoError(t, closeFn())

	store, closeFn, err = OpenBoltCheckpointStore(path)
	require.NoError(t, err)
	defer closeFn()
	rv, err := store.Get("pods.v1")
	require.NoError(t, err)
	assert.Equal(t, "7", rv)
}
