package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in process. Wizard sessions are process local too, so it is
// the production store for this service.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || entry.expired(now) {
		entry = Entry{
			Key:         key,
			Fingerprint: fingerprint,
			Status:      StatusPending,
			CreatedAt:   now,
			ExpiresAt:   now.Add(ttl),
		}
		s.entries[key] = entry
		return Reservation{Outcome: OutcomeNew, Entry: entry}, nil
	}
	if entry.Fingerprint != fingerprint {
		return Reservation{}, ErrFingerprintMismatch
	}
	if entry.Status == StatusCompleted {
		return Reservation{Outcome: OutcomeReplay, Entry: entry}, nil
	}
	return Reservation{Outcome: OutcomeInProgress, Entry: entry}, nil
}

func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if ok && entry.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	if !ok {
		entry = Entry{Key: key, Fingerprint: fingerprint, CreatedAt: now}
	}
	entry.Status = StatusCompleted
	entry.StatusCode = resp.StatusCode
	entry.Header = replayableHeader(resp.Header)
	entry.Body = append([]byte(nil), resp.Body...)
	entry.ExpiresAt = now.Add(ttl)
	s.entries[key] = entry
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Sweep removes up to limit expired entries. A limit of zero or less removes all of them.
func (s *MemoryStore) Sweep(_ context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if limit > 0 && removed >= limit {
			break
		}
		if entry.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
