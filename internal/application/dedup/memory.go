package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryAdmissionStore is the process-local AdmissionStore. Horizontal
// scaling of the coordinator needs the Redis store instead; with only
// in-memory stores the one-request-per-player invariant holds per
// instance, not cluster-wide.
type MemoryAdmissionStore struct {
	mu          sync.Mutex
	pending     map[string]*PendingRequest
	lastAttempt map[string]time.Time
}

func NewMemoryAdmissionStore() *MemoryAdmissionStore {
	return &MemoryAdmissionStore{
		pending:     make(map[string]*PendingRequest),
		lastAttempt: make(map[string]time.Time),
	}
}

func (s *MemoryAdmissionStore) TryReserve(ctx context.Context, req *PendingRequest, throttle time.Duration) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := req.IssuedAt
	var wait time.Duration

	if p, ok := s.pending[req.PlayerID]; ok {
		if p.ExpiresAt.After(now) {
			wait = p.ExpiresAt.Sub(now)
		} else {
			delete(s.pending, req.PlayerID)
		}
	}
	if last, ok := s.lastAttempt[req.PlayerID]; ok {
		if since := now.Sub(last); since < throttle && throttle-since > wait {
			wait = throttle - since
		}
	}

	s.lastAttempt[req.PlayerID] = now
	if wait > 0 {
		return wait, nil
	}
	s.pending[req.PlayerID] = req
	return 0, nil
}

func (s *MemoryAdmissionStore) Release(ctx context.Context, playerID string, requestID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[playerID]
	if !ok || p.RequestID != requestID {
		return false, nil
	}
	delete(s.pending, playerID)
	return true, nil
}

// PendingCount is exposed for stats and tests.
func (s *MemoryAdmissionStore) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
