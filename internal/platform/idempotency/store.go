package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL is how long a completed response stays replayable.
const DefaultTTL = 24 * time.Hour

// Status is the lifecycle state of a stored key.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Outcome describes what Reserve found for a key.
type Outcome int

const (
	// OutcomeNew means the caller owns the key and should run the request.
	OutcomeNew Outcome = iota
	// OutcomeReplay means a stored response exists and must be replayed.
	OutcomeReplay
	// OutcomeInProgress means another request holds the key.
	OutcomeInProgress
)

// Reservation is the result of Reserve.
type Reservation struct {
	Outcome Outcome
	Entry   Entry
}

// Entry is a stored key with its captured response.
type Entry struct {
	Key         string
	Fingerprint string
	Status      Status
	StatusCode  int
	Header      http.Header
	Body        []byte
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Response is the captured handler response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Store persists reservations and responses.
type Store interface {
	Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error)
	Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, key string) error
	Sweep(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reused for a different request")

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// replayableHeader drops hop-by-hop and per-response headers from stored responses.
func replayableHeader(header http.Header) http.Header {
	out := make(http.Header, len(header))
	for name, values := range header {
		switch strings.ToLower(name) {
		case "content-length", "date", "connection", "keep-alive", "transfer-encoding", "trailer", "upgrade":
			continue
		}
		out[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	return out
}
