package envelope

import (
	"sync"
	"time"
)

// InMemoryNonceStore is a bounded, mutex-protected nonce→expiry map purged
// lazily on access, the same shape as the teacher's in-memory key maps.
type InMemoryNonceStore struct {
	mu      sync.Mutex
	expires map[string]time.Time
	maxSize int
}

// NewInMemoryNonceStore constructs a nonce store. maxSize bounds the map;
// when it is full, expired entries are purged before insertion and, if it
// is still full, one arbitrary entry is dropped (not an LRU).
func NewInMemoryNonceStore(maxSize int) *InMemoryNonceStore {
	if maxSize <= 0 {
		maxSize = 100_000
	}
	return &InMemoryNonceStore{expires: make(map[string]time.Time), maxSize: maxSize}
}

func (s *InMemoryNonceStore) SeenOrRemember(nonce string, expiresAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeExpiredLocked()

	if exp, ok := s.expires[nonce]; ok {
		if time.Now().Before(exp) {
			return true
		}
		// expired entry with the same nonce text: treat as fresh
	}

	if len(s.expires) >= s.maxSize {
		s.purgeExpiredLocked()
		if len(s.expires) >= s.maxSize {
			// still full: drop one arbitrary entry rather than grow unbounded
			for k := range s.expires {
				delete(s.expires, k)
				break
			}
		}
	}

	s.expires[nonce] = expiresAt
	return false
}

func (s *InMemoryNonceStore) purgeExpiredLocked() {
	now := time.Now()
	for k, exp := range s.expires {
		if now.After(exp) {
			delete(s.expires, k)
		}
	}
}

// Size reports the current number of remembered nonces, for admin/ops
// introspection.
func (s *InMemoryNonceStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.expires)
}
