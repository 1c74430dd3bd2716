package store

import (
	"context"
	"sync"
	"time"

	"github.com/warden-auth/warden/core"
)

// MemoryStore is an in-memory implementation of the user, credential and
// token stores. It backs tests and single-node development runs.
type MemoryStore struct {
	mu     sync.RWMutex
	users  map[string]core.User
	creds  map[string]core.Credential
	tokens map[string]core.TokenRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:  make(map[string]core.User),
		creds:  make(map[string]core.Credential),
		tokens: make(map[string]core.TokenRecord),
	}
}

// PutUser stores or replaces a user record.
func (s *MemoryStore) PutUser(ctx context.Context, user core.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.users[user.ID] = user
	return nil
}

// GetUser retrieves a user by id.
func (s *MemoryStore) GetUser(ctx context.Context, id string) (core.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return core.User{}, core.ErrUserNotFound
	}
	return user, nil
}

// PutCredential stores a new credential, rejecting duplicate ids.
func (s *MemoryStore) PutCredential(ctx context.Context, cred core.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := cred.Key()
	if _, ok := s.creds[key]; ok {
		return core.ErrCredentialExists
	}
	s.creds[key] = cred
	return nil
}

// GetCredential retrieves a credential by its encoded id.
func (s *MemoryStore) GetCredential(ctx context.Context, key string) (core.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cred, ok := s.creds[key]
	if !ok {
		return core.Credential{}, core.ErrCredentialNotFound
	}
	return cred, nil
}

// ListCredentials returns all credentials owned by the user.
func (s *MemoryStore) ListCredentials(ctx context.Context, userID string) ([]core.Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var creds []core.Credential
	for _, cred := range s.creds {
		if cred.UserID == userID {
			creds = append(creds, cred)
		}
	}
	return creds, nil
}

// DeleteCredential removes one credential.
func (s *MemoryStore) DeleteCredential(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.creds[key]; !ok {
		return core.ErrCredentialNotFound
	}
	delete(s.creds, key)
	return nil
}

// PutToken stores a hashed token record.
func (s *MemoryStore) PutToken(ctx context.Context, rec core.TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens[rec.Hash] = rec
	return nil
}

// GetToken retrieves a token record by hash.
func (s *MemoryStore) GetToken(ctx context.Context, hash string) (core.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.tokens[hash]
	if !ok {
		return core.TokenRecord{}, core.ErrTokenNotFound
	}
	return rec, nil
}

// ConsumeToken fetches and removes a record as one step under the lock, so
// concurrent rotations of the same refresh token cannot both succeed.
func (s *MemoryStore) ConsumeToken(ctx context.Context, hash string) (core.TokenRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tokens[hash]
	if !ok {
		return core.TokenRecord{}, core.ErrTokenNotFound
	}
	delete(s.tokens, hash)
	return rec, nil
}

// DeletePair removes both halves of a session pair.
func (s *MemoryStore) DeletePair(ctx context.Context, userID, pairID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for hash, rec := range s.tokens {
		if rec.UserID == userID && rec.PairID == pairID {
			delete(s.tokens, hash)
		}
	}
	return nil
}

// DeleteByUser removes every token record belonging to the user.
func (s *MemoryStore) DeleteByUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for hash, rec := range s.tokens {
		if rec.UserID == userID {
			delete(s.tokens, hash)
		}
	}
	return nil
}

// DeleteExpired sweeps token records whose expiry precedes now.
func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for hash, rec := range s.tokens {
		if rec.Expired(now) {
			delete(s.tokens, hash)
		}
	}
	return nil
}
