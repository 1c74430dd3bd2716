package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/warden-auth/warden/core"
)

// RedisStore is a Redis implementation of the user, credential and token
// stores. Token records carry a native TTL, so the expiry sweep is a no-op.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis store around an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "warden:",
	}
}

func (s *RedisStore) userKey(id string) string        { return s.prefix + "user:" + id }
func (s *RedisStore) credKey(key string) string       { return s.prefix + "cred:" + key }
func (s *RedisStore) credIndexKey(uid string) string  { return s.prefix + "user-creds:" + uid }
func (s *RedisStore) tokenKey(hash string) string     { return s.prefix + "token:" + hash }
func (s *RedisStore) tokenIndexKey(uid string) string { return s.prefix + "user-tokens:" + uid }
func (s *RedisStore) pairKey(pairID string) string    { return s.prefix + "pair:" + pairID }

type redisUser struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type redisCredential struct {
	ID        []byte    `json:"id"`
	UserID    string    `json:"user_id"`
	Algorithm int64     `json:"algorithm"`
	PublicKey []byte    `json:"public_key"`
	CreatedAt time.Time `json:"created_at"`
}

type redisToken struct {
	Hash      string    `json:"hash"`
	Kind      string    `json:"kind"`
	UserID    string    `json:"user_id"`
	PairID    string    `json:"pair_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PutUser stores or replaces a user record.
func (s *RedisStore) PutUser(ctx context.Context, user core.User) error {
	payload, err := json.Marshal(redisUser{ID: user.ID, Name: user.Name, CreatedAt: user.CreatedAt})
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	if err := s.client.Set(ctx, s.userKey(user.ID), payload, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreOperationFailed, err)
	}
	return nil
}

// GetUser retrieves a user by id.
func (s *RedisStore) GetUser(ctx context.Context, id string) (core.User, error) {
	raw, err := s.client.Get(ctx, s.userKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return core.User{}, core.ErrUserNotFound
		}
		return core.User{}, fmt.Errorf("%w: %v", core.ErrStoreOperationFailed, err)
	}
	var u redisUser
	if err := json.Unmarshal(raw, &u); err != nil {
		return core.User{}, fmt.Errorf("unmarshal user: %w", err)
	}
	return core.User{ID: u.ID, Name: u.Name, CreatedAt: u.CreatedAt}, nil
}

// PutCredential stores a new credential and indexes it by owner.
func (s *RedisStore) PutCredential(ctx context.Context, cred core.Credential) error {
	payload, err := json.Marshal(redisCredential{
		ID:        cred.ID,
		UserID:    cred.UserID,
		Algorithm: cred.Algorithm,
		PublicKey: cred.PublicKey,
		CreatedAt: cred.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal credential: %w", err)
	}

	key := cred.Key()
	ok, err := s.client.SetNX(ctx, s.credKey(key), payload, 0).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreOperationFailed, err)
	}
	if !ok {
		return core.ErrCredentialExists
	}
	if err := s.client.SAdd(ctx, s.credIndexKey(cred.UserID), key).Err(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreOperationFailed, err)
	}
	return nil
}

// GetCredential retrieves a credential by its encoded id.
func (s *RedisStore) GetCredential(ctx context.Context, key string) (core.Credential, error) {
	raw, err := s.client.Get(ctx, s.credKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return core.Credential{}, core.ErrCredentialNotFound
		}
		return core.Credential{}, fmt.Errorf("%w: %v", core.ErrStoreOperationFailed, err)
	}
	return decodeRedisCredential(raw)
}

// ListCredentials returns all credentials owned by the user.
func (s *RedisStore) ListCredentials(ctx context.Context, userID string) ([]core.Credential, error) {
	keys, err := s.client.SMembers(ctx, s.credIndexKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrStoreOperationFailed, err)
	}

	var creds []core.Credential
	for _, key := range keys {
		cred, err := s.GetCredential(ctx, key)
		if err != nil {
			if errors.Is(err, core.ErrCredentialNotFound) {
				continue
			}
			return nil, err
		}
		creds = append(creds, cred)
	}
	return creds, nil
}

// DeleteCredential removes one credential and its index entry.
func (s *RedisStore) DeleteCredential(ctx context.Context, key string) error {
	cred, err := s.GetCredential(ctx, key)
	if err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.credKey(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreOperationFailed, err)
	}
	if err := s.client.SRem(ctx, s.credIndexKey(cred.UserID), key).Err(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreOperationFailed, err)
	}
	return nil
}

// PutToken stores a hashed token record with its remaining lifetime as the
// key TTL, and indexes it by user and by pair.
func (s *RedisStore) PutToken(ctx context.Context, rec core.TokenRecord) error {
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	payload, err := json.Marshal(redisToken{
		Hash:      rec.Hash,
		Kind:      string(rec.Kind),
		UserID:    rec.UserID,
		PairID:    rec.PairID,
		ExpiresAt: rec.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.tokenKey(rec.Hash), payload, ttl)
	pipe.SAdd(ctx, s.tokenIndexKey(rec.UserID), rec.Hash)
	pipe.SAdd(ctx, s.pairKey(rec.PairID), rec.Hash)
	pipe.Expire(ctx, s.pairKey(rec.PairID), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreOperationFailed, err)
	}
	return nil
}

// GetToken retrieves a token record by hash.
func (s *RedisStore) GetToken(ctx context.Context, hash string) (core.TokenRecord, error) {
	raw, err := s.client.Get(ctx, s.tokenKey(hash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return core.TokenRecord{}, core.ErrTokenNotFound
		}
		return core.TokenRecord{}, fmt.Errorf("%w: %v", core.ErrStoreOperationFailed, err)
	}
	return decodeRedisToken(raw)
}

// ConsumeToken fetches and removes a record atomically via GETDEL.
func (s *RedisStore) ConsumeToken(ctx context.Context, hash string) (core.TokenRecord, error) {
	raw, err := s.client.GetDel(ctx, s.tokenKey(hash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return core.TokenRecord{}, core.ErrTokenNotFound
		}
		return core.TokenRecord{}, fmt.Errorf("%w: %v", core.ErrStoreOperationFailed, err)
	}

	rec, err := decodeRedisToken(raw)
	if err != nil {
		return core.TokenRecord{}, err
	}

	pipe := s.client.TxPipeline()
	pipe.SRem(ctx, s.tokenIndexKey(rec.UserID), hash)
	pipe.SRem(ctx, s.pairKey(rec.PairID), hash)
	_, _ = pipe.Exec(ctx)

	return rec, nil
}

// DeletePair removes both halves of a session pair.
func (s *RedisStore) DeletePair(ctx context.Context, userID, pairID string) error {
	hashes, err := s.client.SMembers(ctx, s.pairKey(pairID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreOperationFailed, err)
	}

	pipe := s.client.TxPipeline()
	for _, hash := range hashes {
		pipe.Del(ctx, s.tokenKey(hash))
		pipe.SRem(ctx, s.tokenIndexKey(userID), hash)
	}
	pipe.Del(ctx, s.pairKey(pairID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreOperationFailed, err)
	}
	return nil
}

// DeleteByUser removes every token record belonging to the user.
func (s *RedisStore) DeleteByUser(ctx context.Context, userID string) error {
	hashes, err := s.client.SMembers(ctx, s.tokenIndexKey(userID)).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreOperationFailed, err)
	}

	pipe := s.client.TxPipeline()
	for _, hash := range hashes {
		pipe.Del(ctx, s.tokenKey(hash))
	}
	pipe.Del(ctx, s.tokenIndexKey(userID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", core.ErrStoreOperationFailed, err)
	}
	return nil
}

// DeleteExpired is a no-op; Redis expires token keys natively.
func (s *RedisStore) DeleteExpired(ctx context.Context, now time.Time) error {
	return nil
}

func decodeRedisCredential(raw []byte) (core.Credential, error) {
	var c redisCredential
	if err := json.Unmarshal(raw, &c); err != nil {
		return core.Credential{}, fmt.Errorf("unmarshal credential: %w", err)
	}
	return core.Credential{
		ID:        c.ID,
		UserID:    c.UserID,
		Algorithm: c.Algorithm,
		PublicKey: c.PublicKey,
		CreatedAt: c.CreatedAt,
	}, nil
}

func decodeRedisToken(raw []byte) (core.TokenRecord, error) {
	var t redisToken
	if err := json.Unmarshal(raw, &t); err != nil {
		return core.TokenRecord{}, fmt.Errorf("unmarshal token: %w", err)
	}
	return core.TokenRecord{
		Hash:      t.Hash,
		Kind:      core.TokenKind(t.Kind),
		UserID:    t.UserID,
		PairID:    t.PairID,
		ExpiresAt: t.ExpiresAt,
	}, nil
}
