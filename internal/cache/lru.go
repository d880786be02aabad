package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"

	"stake-raffle/internal/services/raffle"
)

// LRU is a typed, size-bounded cache safe for concurrent use.
type LRU[K comparable, V any] struct {
	c    *lru.Cache
	take sync.Mutex
}

func NewLRU[K comparable, V any](size int) (*LRU[K, V], error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &LRU[K, V]{c: c}, nil
}

func (l *LRU[K, V]) Get(key K) (V, bool) {
	v, ok := l.c.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

func (l *LRU[K, V]) Add(key K, value V) {
	l.c.Add(key, value)
}

// Take returns the value for key and removes it. Concurrent takes of the
// same key succeed at most once.
func (l *LRU[K, V]) Take(key K) (V, bool) {
	l.take.Lock()
	defer l.take.Unlock()
	v, ok := l.Get(key)
	if ok {
		l.c.Remove(key)
	}
	return v, ok
}

func (l *LRU[K, V]) Len() int {
	return l.c.Len()
}

// Resolutions caches computed raffle resolutions by raffle id.
type Resolutions struct {
	*LRU[uint64, *raffle.Resolution]
}

func NewResolutions(size int) (*Resolutions, error) {
	l, err := NewLRU[uint64, *raffle.Resolution](size)
	if err != nil {
		return nil, err
	}
	return &Resolutions{LRU: l}, nil
}
