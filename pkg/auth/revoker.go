package auth

import (
	"sync"
	"time"
)

// TokenRevoker tracks revoked session ids until they expire.
type TokenRevoker interface {
	Revoke(id string, ttl time.Duration) error
	IsRevoked(id string) (bool, error)
}

// MemoryTokenRevoker keeps revoked ids in-memory (single instance only).
type MemoryTokenRevoker struct {
	mu  sync.Mutex
	ids map[string]time.Time
}

func NewMemoryTokenRevoker() *MemoryTokenRevoker {
	return &MemoryTokenRevoker{ids: make(map[string]time.Time)}
}

// Revoke marks id as revoked until ttl elapses. Expired entries are swept here.
func (r *MemoryTokenRevoker) Revoke(id string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, expiry := range r.ids {
		if now.After(expiry) {
			delete(r.ids, k)
		}
	}
	r.ids[id] = now.Add(ttl)
	return nil
}

func (r *MemoryTokenRevoker) IsRevoked(id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	expiry, ok := r.ids[id]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiry) {
		delete(r.ids, id)
		return false, nil
	}
	return true, nil
}
