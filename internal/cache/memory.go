package cache

import (
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Entry 内存层缓存条目。TTL 写入时确定，读取不续期（无滑动过期），
// 保证陈旧度上界可预测。
type Entry struct {
	Key       string
	Value     []byte
	CreatedAt time.Time
	TTL       time.Duration
	hitCount  atomic.Int64
}

// Expired 是否已过期
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.CreatedAt.Add(e.TTL))
}

// HitCount 命中次数
func (e *Entry) HitCount() int64 {
	return e.hitCount.Load()
}

// memoryTier 进程内有界 LRU 层
type memoryTier struct {
	entries *lru.Cache[string, *Entry]
}

func newMemoryTier(maxEntries int) *memoryTier {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	entries, err := lru.New[string, *Entry](maxEntries)
	if err != nil {
		panic(err)
	}
	return &memoryTier{entries: entries}
}

func (m *memoryTier) get(key string) ([]byte, bool) {
	e, ok := m.entries.Get(key)
	if !ok {
		return nil, false
	}
	if e.Expired(time.Now()) {
		m.entries.Remove(key)
		return nil, false
	}
	e.hitCount.Add(1)
	return e.Value, true
}

func (m *memoryTier) set(key string, value []byte, ttl time.Duration) {
	m.entries.Add(key, &Entry{
		Key:       key,
		Value:     value,
		CreatedAt: time.Now(),
		TTL:       ttl,
	})
}

func (m *memoryTier) remove(key string) {
	m.entries.Remove(key)
}

func (m *memoryTier) len() int {
	return m.entries.Len()
}
