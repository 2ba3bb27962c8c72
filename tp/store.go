package tp

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// Store remembers discharges the service has already issued, keyed by a
// digest of the sealed ticket, so a replayed request gets the same token
// instead of a fresh mint.
type Store interface {
	Get(ticketHash string) (token string, ok bool)
	Set(ticketHash, token string)
}

// MemoryStore is an LRU-bounded in-process Store.
type MemoryStore struct {
	cache *lru.Cache[string, string]
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(size int) (*MemoryStore, error) {
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}

	return &MemoryStore{cache: cache}, nil
}

func (s *MemoryStore) Get(ticketHash string) (string, bool) {
	return s.cache.Get(ticketHash)
}

func (s *MemoryStore) Set(ticketHash, token string) {
	s.cache.Add(ticketHash, token)
}
