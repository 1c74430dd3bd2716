// Package challenge issues and single-use-consumes WebAuthn ceremony
// challenges. The pool is process-wide and shared by registration and
// authentication; a challenge verifies successfully at most once.
package challenge

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"
)

// Size is the byte length of issued challenges.
const Size = 32

// DefaultTTL bounds how long an unconsumed challenge stays valid.
const DefaultTTL = 5 * time.Minute

// Store holds pending challenges keyed by their base64url encoding.
type Store struct {
	mu      sync.Mutex
	pending map[string]time.Time // encoded challenge -> expiry
	ttl     time.Duration
	now     func() time.Time

	stopSweep chan struct{}
	stopOnce  sync.Once
}

// NewStore creates a challenge store with the given TTL. A ttl of zero
// means DefaultTTL.
func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		pending:   make(map[string]time.Time),
		ttl:       ttl,
		now:       time.Now,
		stopSweep: make(chan struct{}),
	}
}

// Create generates a cryptographically random challenge, records it as
// pending, and returns the raw bytes for the client.
func (s *Store) Create() ([]byte, error) {
	buf := make([]byte, Size)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate challenge: %w", err)
	}

	key := base64.RawURLEncoding.EncodeToString(buf)

	s.mu.Lock()
	s.pending[key] = s.now().Add(s.ttl)
	s.mu.Unlock()

	return buf, nil
}

// VerifyAndConsume atomically checks that the challenge is pending and
// unexpired and removes it. It returns false for challenges that were never
// issued, already consumed, or expired; that is a verification failure for
// the caller, not an error.
func (s *Store) VerifyAndConsume(challenge []byte) bool {
	key := base64.RawURLEncoding.EncodeToString(challenge)

	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.pending[key]
	if !ok {
		return false
	}
	delete(s.pending, key)
	return s.now().Before(expiry)
}

// Len reports the number of pending challenges.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Sweep removes expired entries. It is idempotent and safe to run
// concurrently with live traffic.
func (s *Store) Sweep() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, expiry := range s.pending {
		if now.After(expiry) {
			delete(s.pending, key)
		}
	}
}

// StartSweeper runs Sweep on the given interval until Stop is called.
func (s *Store) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-s.stopSweep:
				return
			}
		}
	}()
}

// Stop halts the background sweeper.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopSweep) })
}
