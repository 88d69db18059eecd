package cooldown

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

// Store — где живут дедлайны кулдаунов. Ключ уже включает биржу и символ.
type Store interface {
	Get(ctx context.Context, key string) (until time.Time, ok bool, err error)
	Set(ctx context.Context, key string, until time.Time) error
	Delete(ctx context.Context, key string) error
}

const shards = 16

type shard struct {
	mu sync.Mutex
	m  map[string]time.Time
}

// MemoryStore — локальное хранилище, разбитое на шарды по хешу ключа.
type MemoryStore struct {
	shards [shards]shard
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i].m = make(map[string]time.Time)
	}
	return s
}

func (s *MemoryStore) shard(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.shards[h.Sum32()%shards]
}

func (s *MemoryStore) Get(_ context.Context, key string) (time.Time, bool, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	until, ok := sh.m[key]
	return until, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, until time.Time) error {
	sh := s.shard(key)
	sh.mu.Lock()
	sh.m[key] = until
	sh.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	sh := s.shard(key)
	sh.mu.Lock()
	delete(sh.m, key)
	sh.mu.Unlock()
	return nil
}

// Sweep выкидывает истёкшие записи.
func (s *MemoryStore) Sweep(now time.Time) int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k, until := range sh.m {
			if !now.Before(until) {
				delete(sh.m, k)
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}
