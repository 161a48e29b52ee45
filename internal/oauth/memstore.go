package oauth

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store. It backs local single-process
// deployments and tests. A background loop sweeps expired codes and tokens;
// client registrations are kept until the process exits.
type MemoryStore struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	codes    map[string]*AuthorizationCode
	consumed map[string]time.Time
	tokens   map[string]*AccessToken
	mappings map[string]*TokenMapping

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// consumedRetention is how long a redeemed code value is remembered so a
// replay can be told apart from an unknown code.
const consumedRetention = 10 * time.Minute

// NewMemoryStore creates an in-memory store and starts its cleanup loop.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		clients:     make(map[string]*Client),
		codes:       make(map[string]*AuthorizationCode),
		consumed:    make(map[string]time.Time),
		tokens:      make(map[string]*AccessToken),
		mappings:    make(map[string]*TokenMapping),
		stopCleanup: make(chan struct{}),
	}

	go s.cleanupLoop()

	return s
}

func (s *MemoryStore) SaveClient(_ context.Context, client *Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[client.ClientID] = client
	return nil
}

func (s *MemoryStore) GetClient(_ context.Context, clientID string) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, ErrNotFound
	}
	return client, nil
}

func (s *MemoryStore) SaveAuthorizationCode(_ context.Context, code *AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code.Code] = code
	return nil
}

// ConsumeAuthorizationCode fetches and deletes a code under a single lock,
// so concurrent exchanges of the same code see exactly one winner.
func (s *MemoryStore) ConsumeAuthorizationCode(_ context.Context, code string) (*AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.codes[code]
	if !ok {
		if _, wasConsumed := s.consumed[code]; wasConsumed {
			return nil, ErrCodeConsumed
		}
		return nil, ErrNotFound
	}

	delete(s.codes, code)
	s.consumed[code] = time.Now()

	if record.Expired() {
		return nil, ErrNotFound
	}
	return record, nil
}

func (s *MemoryStore) SaveToken(_ context.Context, token *AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.Token] = token
	return nil
}

func (s *MemoryStore) GetToken(_ context.Context, token string) (*AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.tokens[token]
	if !ok {
		return nil, ErrNotFound
	}
	if record.Expired() {
		delete(s.tokens, token)
		delete(s.mappings, token)
		return nil, ErrNotFound
	}
	return record, nil
}

func (s *MemoryStore) DeleteToken(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
	return nil
}

func (s *MemoryStore) SaveTokenMapping(_ context.Context, mapping *TokenMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings[mapping.Token] = mapping
	return nil
}

func (s *MemoryStore) GetTokenMapping(_ context.Context, token string) (*TokenMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	mapping, ok := s.mappings[token]
	if !ok {
		return nil, ErrNotFound
	}
	return mapping, nil
}

func (s *MemoryStore) DeleteTokenMapping(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.mappings, token)
	return nil
}

// Close stops the cleanup loop. Safe to call multiple times.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopCleanup)
	})
	return nil
}

// cleanupLoop periodically sweeps expired codes, tokens, and mappings.
func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	count := 0

	for code, record := range s.codes {
		if record.Expired() {
			delete(s.codes, code)
			count++
		}
	}
	for code, consumedAt := range s.consumed {
		if now.Sub(consumedAt) > consumedRetention {
			delete(s.consumed, code)
		}
	}
	for value, token := range s.tokens {
		if token.Expired() {
			delete(s.tokens, value)
			delete(s.mappings, value)
			count++
		}
	}
	for value, mapping := range s.mappings {
		if !mapping.ExpiresAt.IsZero() && now.After(mapping.ExpiresAt) {
			delete(s.mappings, value)
			delete(s.tokens, value)
			count++
		}
	}

	if count > 0 {
		slog.Debug("swept expired oauth records", "count", count)
	}
}
