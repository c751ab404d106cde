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

// DefaultTTL is how long a stored response stays replayable.
const DefaultTTL = 24 * time.Hour

// Outcome is the result of claiming a key.
type Outcome int

const (
	// OutcomeClaimed means the caller owns the key and must run the request.
	OutcomeClaimed Outcome = iota
	// OutcomeReplay means a completed response exists for the key.
	OutcomeReplay
	// OutcomeInFlight means another request holds the key.
	OutcomeInFlight
)

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reused with a different request")

// Entry is the persisted state of one key.
type Entry struct {
	Fingerprint string              `json:"fingerprint"`
	Completed   bool                `json:"completed"`
	Status      int                 `json:"status,omitempty"`
	Headers     map[string][]string `json:"headers,omitempty"`
	Body        []byte              `json:"body,omitempty"`
	ExpiresAt   time.Time           `json:"expiresAt"`
}

// Response is a handler response captured for replay.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists key claims and completed responses.
type Store interface {
	// Claim reserves key for fingerprint, or reports the existing entry.
	Claim(ctx context.Context, key, fingerprint string, ttl time.Duration) (Outcome, Entry, error)
	// Complete stores the response for a claimed key.
	Complete(ctx context.Context, key, fingerprint string, resp Response, ttl time.Duration) error
	// Release drops a claim so a retry can run again.
	Release(ctx context.Context, key, fingerprint string) error
}

func storageKey(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

func completedEntry(fingerprint string, resp Response, expires time.Time) Entry {
	entry := Entry{
		Fingerprint: fingerprint,
		Completed:   true,
		Status:      resp.Status,
		ExpiresAt:   expires,
	}
	if len(resp.Body) > 0 {
		entry.Body = append([]byte(nil), resp.Body...)
	}
	for name, values := range resp.Headers {
		canonical := http.CanonicalHeaderKey(name)
		if hopByHop(canonical) {
			continue
		}
		if entry.Headers == nil {
			entry.Headers = make(map[string][]string)
		}
		entry.Headers[canonical] = append([]string(nil), values...)
	}
	return entry
}

func hopByHop(name string) bool {
	switch name {
	case "Content-Length", "Date", "Connection", "Keep-Alive", "Transfer-Encoding", "Upgrade", "Te", "Trailer":
		return true
	}
	return false
}
