// Package auth manages the gateway's QuickBooks connection: the OAuth
// authorization-code flow, the stored company link, and access token
// refresh. All state is in-memory; the company must reconnect after a
// restart.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"
)

// TokenPair holds the credentials Intuit issues for a connection.
type TokenPair struct {
	AccessToken   string
	RefreshToken  string
	AccessExpiry  time.Time
	RefreshExpiry time.Time
}

// AccessExpired reports whether the access token is expired or expires
// within the given margin. A zero expiry never expires.
func (t TokenPair) AccessExpired(margin time.Duration) bool {
	if t.AccessExpiry.IsZero() {
		return false
	}
	return time.Now().Add(margin).After(t.AccessExpiry)
}

// Connection is an authorized link to a single QuickBooks company.
type Connection struct {
	RealmID string
	Tokens  TokenPair
}

const (
	// stateExpiry controls how long an issued OAuth state value stays
	// valid while waiting for the user to finish the consent screen.
	stateExpiry = 10 * time.Minute

	// cleanupInterval controls how often expired entries are reaped.
	cleanupInterval = 5 * time.Minute
)

// stateEntry tracks an issued state value with its expiry time.
type stateEntry struct {
	expiresAt time.Time
}

// Store holds the in-memory connection and pending OAuth state values.
type Store struct {
	mu     sync.RWMutex
	conn   *Connection           // nil when disconnected
	states map[string]stateEntry // state value -> expiry
	stopGC chan struct{}
}

// NewStore creates an empty store and starts a background goroutine
// that periodically removes expired state values.
// Call Stop() to clean up the goroutine.
func NewStore() *Store {
	s := &Store{
		states: make(map[string]stateEntry),
		stopGC: make(chan struct{}),
	}
	go s.gcLoop()
	return s
}

// Stop terminates the background cleanup goroutine.
func (s *Store) Stop() {
	close(s.stopGC)
}

func (s *Store) gcLoop() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopGC:
			return
		}
	}
}

// cleanup removes all expired state values.
func (s *Store) cleanup() {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, entry := range s.states {
		if now.After(entry.expiresAt) {
			delete(s.states, k)
		}
	}
}

// Set replaces the stored connection. Realm and tokens are written
// together so readers never observe a half-updated connection.
func (s *Store) Set(conn Connection) {
	s.mu.Lock()
	s.conn = &conn
	s.mu.Unlock()
}

// Get returns a copy of the stored connection.
// ok is false when no company is connected.
func (s *Store) Get() (Connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.conn == nil {
		return Connection{}, false
	}
	return *s.conn, true
}

// Connected reports whether a company is currently connected.
func (s *Store) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn != nil
}

// Clear removes the stored connection. Safe to call when disconnected.
func (s *Store) Clear() {
	s.mu.Lock()
	s.conn = nil
	s.mu.Unlock()
}

// UpdateTokens replaces the tokens of the connection to the given
// realm. Returns false without writing when that realm is no longer
// the connected one, so a refresh that races a disconnect or a
// reconnect can never attach its tokens to the wrong company.
func (s *Store) UpdateTokens(realmID string, tokens TokenPair) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil || s.conn.RealmID != realmID {
		return false
	}
	s.conn.Tokens = tokens
	return true
}

// IssueState generates, stores, and returns a new OAuth state value.
func (s *Store) IssueState() string {
	state := RandomHex(16)
	s.mu.Lock()
	s.states[state] = stateEntry{expiresAt: time.Now().Add(stateExpiry)}
	s.mu.Unlock()
	return state
}

// ConsumeState retrieves and deletes a state value.
// Returns false if the value is not found, empty, or expired.
func (s *Store) ConsumeState(state string) bool {
	if state == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.states[state]
	if !ok {
		return false
	}
	delete(s.states, state)
	return time.Now().Before(entry.expiresAt)
}

// RandomHex generates a cryptographically random hex string of the given byte length.
func RandomHex(byteLen int) string {
	b := make([]byte, byteLen)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return hex.EncodeToString(b)
}
