package registry

import (
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"
)

var (
	// _checkpointBucketKey 保存每个资源类型最后一次看到的 resourceVersion。
	_checkpointBucketKey = []byte("checkpoints")
)

// CheckpointStore 记录每个资源类型 watch 到的最新 resourceVersion，
// 重连时从这个版本继续，避免重放整个集合。
type CheckpointStore interface {
	// Get 返回资源类型的 resourceVersion，没有记录时返回空字符串。
	Get(id string) (string, error)
	Put(id, resourceVersion string) error
	Delete(id string) error
}

// MemoryCheckpointStore 只在进程内保存检查点。
type MemoryCheckpointStore struct {
	versions sync.Map // id -> resourceVersion
}

var _ CheckpointStore = &MemoryCheckpointStore{}

func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{}
}

func (m *MemoryCheckpointStore) Get(id string) (string, error) {
	rv, ok := m.versions.Load(id)
	if !ok {
		return "", nil
	}
	return rv.(string), nil
}

func (m *MemoryCheckpointStore) Put(id, resourceVersion string) error {
	m.versions.Store(id, resourceVersion)
	return nil
}

func (m *MemoryCheckpointStore) Delete(id string) error {
	m.versions.Delete(id)
	return nil
}

// BoltCheckpointStore 把检查点持久化到 bbolt 文件，进程重启后也能续上 watch。
type BoltCheckpointStore struct {
	db *bolt.DB // 直接持有 bbolt DB 实例以使用其事务
}

var _ CheckpointStore = &BoltCheckpointStore{}

// NewBoltCheckpointStore 接收一个已经打开的 bbolt 数据库实例。
func NewBoltCheckpointStore(db *bolt.DB) (*BoltCheckpointStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(_checkpointBucketKey)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create checkpoint bucket: %w", err)
	}
	return &BoltCheckpointStore{db: db}, nil
}

// OpenBoltCheckpointStore 打开（或创建）path 处的数据库文件。
// 返回的 close 函数负责关闭数据库。
func OpenBoltCheckpointStore(path string) (*BoltCheckpointStore, func() error, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open checkpoint file %s: %w", path, err)
	}
	store, err := NewBoltCheckpointStore(db)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return store, db.Close, nil
}

func (b *BoltCheckpointStore) Get(id string) (string, error) {
	var rv string
	err := b.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(_checkpointBucketKey).Get([]byte(id)); v != nil {
			rv = string(v)
		}
		return nil
	})
	return rv, err
}

func (b *BoltCheckpointStore) Put(id, resourceVersion string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(_checkpointBucketKey).Put([]byte(id), []byte(resourceVersion))
	})
}

func (b *BoltCheckpointStore) Delete(id string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(_checkpointBucketKey).Delete([]byte(id))
	})
}
