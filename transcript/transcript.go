// Package transcript persists completed prompt exchanges so sessions can be
// reviewed after their instances are gone.
package transcript

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Exchange is one completed prompt/response pair of a session.
type Exchange struct {
	SessionID string    `json:"session_id"`
	Agent     string    `json:"agent"`
	Prompt    string    `json:"prompt"`
	Response  string    `json:"response"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists exchanges. Implementations must be safe for concurrent use.
type Store interface {
	// SaveExchange records one completed exchange. A zero CreatedAt is
	// stamped with the current time.
	SaveExchange(ctx context.Context, ex Exchange) error

	// ListExchanges returns a session's exchanges in recording order.
	ListExchanges(ctx context.Context, sessionID string) ([]Exchange, error)

	// SearchExchanges returns exchanges across all sessions whose prompt or
	// response contains the query as a substring, in a stable store-defined
	// order. A positive limit caps the result count; an empty query matches
	// everything.
	SearchExchanges(ctx context.Context, query string, limit int) ([]Exchange, error)

	// Close releases any underlying resources.
	Close() error
}

// InMemoryStore is a volatile Store keeping exchanges in a process local map.
// It is safe for concurrent access and best suited for tests or ephemeral
// demo sessions.
type InMemoryStore struct {
	mu        sync.RWMutex
	exchanges map[string][]Exchange
}

// NewInMemoryStore constructs an empty in-memory transcript store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{exchanges: make(map[string][]Exchange)}
}

// SaveExchange records one completed exchange.
func (s *InMemoryStore) SaveExchange(_ context.Context, ex Exchange) error {
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.exchanges[ex.SessionID] = append(s.exchanges[ex.SessionID], ex)
	return nil
}

// ListExchanges returns a copy of the session's exchanges in recording order.
func (s *InMemoryStore) ListExchanges(_ context.Context, sessionID string) ([]Exchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Exchange(nil), s.exchanges[sessionID]...), nil
}

// SearchExchanges scans every session for substring matches. Sessions are
// visited in sorted ID order so results are deterministic.
func (s *InMemoryStore) SearchExchanges(_ context.Context, query string, limit int) ([]Exchange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessionIDs := make([]string, 0, len(s.exchanges))
	for id := range s.exchanges {
		sessionIDs = append(sessionIDs, id)
	}
	sort.Strings(sessionIDs)

	var results []Exchange
	for _, id := range sessionIDs {
		for _, ex := range s.exchanges[id] {
			if limit > 0 && len(results) >= limit {
				return results, nil
			}
			if query == "" || strings.Contains(ex.Prompt, query) || strings.Contains(ex.Response, query) {
				results = append(results, ex)
			}
		}
	}
	return results, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
