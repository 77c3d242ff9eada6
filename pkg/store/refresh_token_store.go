package store

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrInvalidRefreshToken indicates the token was not found or expired.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrRefreshTokenReplay indicates reuse of a rotated refresh token.
	ErrRefreshTokenReplay = errors.New("refresh token replay detected")
)

// RefreshTokenStore persists opaque refresh tokens for rotation. Every token
// belongs to a family started at login; presenting a superseded member of a
// family is treated as theft and revokes the family.
type RefreshTokenStore interface {
	NewToken(userID string, ttl time.Duration) (string, error)
	RotateToken(token string, ttl time.Duration) (userID string, newToken string, err error)
	DeleteToken(token string) error
}

// tokenFamily tracks one login's rotation chain. Only the latest hash is
// valid; older hashes stay recorded so replays can be recognized.
type tokenFamily struct {
	userID  string
	current string
	hashes  map[string]struct{}
	expiry  time.Time
}

// MemoryRefreshTokenStore is the single-process fallback used when no Redis
// address is configured.
type MemoryRefreshTokenStore struct {
	mu       sync.Mutex
	families map[string]*tokenFamily
	byHash   map[string]string // token hash -> family id
}

func NewMemoryRefreshTokenStore() *MemoryRefreshTokenStore {
	return &MemoryRefreshTokenStore{
		families: make(map[string]*tokenFamily),
		byHash:   make(map[string]string),
	}
}

func (s *MemoryRefreshTokenStore) NewToken(userID string, ttl time.Duration) (string, error) {
	token, err := randomHex(32)
	if err != nil {
		return "", err
	}
	familyID, err := randomHex(16)
	if err != nil {
		return "", err
	}
	hash := hashToken(token)

	s.mu.Lock()
	s.families[familyID] = &tokenFamily{
		userID:  userID,
		current: hash,
		hashes:  map[string]struct{}{hash: {}},
		expiry:  time.Now().UTC().Add(ttl),
	}
	s.byHash[hash] = familyID
	s.mu.Unlock()
	return token, nil
}

func (s *MemoryRefreshTokenStore) RotateToken(token string, ttl time.Duration) (string, string, error) {
	hash := hashToken(token)

	s.mu.Lock()
	defer s.mu.Unlock()

	familyID, ok := s.byHash[hash]
	if !ok {
		return "", "", ErrInvalidRefreshToken
	}
	family := s.families[familyID]
	if family == nil || time.Now().UTC().After(family.expiry) {
		s.dropFamily(familyID)
		return "", "", ErrInvalidRefreshToken
	}
	if family.current != hash {
		s.dropFamily(familyID)
		return "", "", ErrRefreshTokenReplay
	}

	next, err := randomHex(32)
	if err != nil {
		return "", "", err
	}
	nextHash := hashToken(next)
	family.current = nextHash
	family.hashes[nextHash] = struct{}{}
	family.expiry = time.Now().UTC().Add(ttl)
	s.byHash[nextHash] = familyID
	return family.userID, next, nil
}

func (s *MemoryRefreshTokenStore) DeleteToken(token string) error {
	s.mu.Lock()
	if familyID, ok := s.byHash[hashToken(token)]; ok {
		s.dropFamily(familyID)
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryRefreshTokenStore) dropFamily(familyID string) {
	if family := s.families[familyID]; family != nil {
		for hash := range family.hashes {
			delete(s.byHash, hash)
		}
	}
	delete(s.families, familyID)
}

// RedisRefreshTokenStore shares refresh token families across replicas.
// Layout: one string key per token hash pointing at its family id, a hash
// per family with the user and current token, and a set of every hash the
// family ever issued (for revocation on replay).
type RedisRefreshTokenStore struct {
	client *redis.Client
}

func NewRedisRefreshTokenStore(client *redis.Client) *RedisRefreshTokenStore {
	return &RedisRefreshTokenStore{client: client}
}

func (s *RedisRefreshTokenStore) NewToken(userID string, ttl time.Duration) (string, error) {
	token, err := randomHex(32)
	if err != nil {
		return "", err
	}
	familyID, err := randomHex(16)
	if err != nil {
		return "", err
	}
	ctx, cancel := redisOpContext()
	defer cancel()

	pipe := s.client.TxPipeline()
	writeFamilyMember(ctx, pipe, familyID, userID, hashToken(token), ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return "", err
	}
	return token, nil
}

func (s *RedisRefreshTokenStore) RotateToken(token string, ttl time.Duration) (string, string, error) {
	hash := hashToken(token)
	ctx, cancel := redisOpContext()
	defer cancel()

	for {
		if err := ctx.Err(); err != nil {
			return "", "", err
		}

		familyID, err := s.client.Get(ctx, keyTokenFamily(hash)).Result()
		if errors.Is(err, redis.Nil) {
			return "", "", ErrInvalidRefreshToken
		}
		if err != nil {
			return "", "", err
		}

		var (
			userID    string
			nextToken string
			poisoned  bool
		)
		err = s.client.Watch(ctx, func(tx *redis.Tx) error {
			fields, err := tx.HGetAll(ctx, keyFamily(familyID)).Result()
			if err != nil {
				return err
			}
			userID = fields["uid"]
			current := fields["current"]
			if userID == "" || current == "" {
				poisoned = true
				return ErrInvalidRefreshToken
			}
			if current != hash {
				poisoned = true
				return ErrRefreshTokenReplay
			}

			nextToken, err = randomHex(32)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				writeFamilyMember(ctx, pipe, familyID, userID, hashToken(nextToken), ttl)
				return nil
			})
			return err
		}, keyFamily(familyID))

		switch {
		case errors.Is(err, redis.TxFailedErr):
			// Another replica rotated concurrently; re-read and retry.
			continue
		case err != nil:
			if poisoned {
				_ = s.revokeFamily(ctx, familyID)
			}
			return "", "", err
		}
		return userID, nextToken, nil
	}
}

func (s *RedisRefreshTokenStore) DeleteToken(token string) error {
	ctx, cancel := redisOpContext()
	defer cancel()

	familyID, err := s.client.Get(ctx, keyTokenFamily(hashToken(token))).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.revokeFamily(ctx, familyID)
}

func (s *RedisRefreshTokenStore) revokeFamily(ctx context.Context, familyID string) error {
	hashes, err := s.client.SMembers(ctx, keyFamilyHashes(familyID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	pipe := s.client.TxPipeline()
	for _, hash := range hashes {
		pipe.Del(ctx, keyTokenFamily(hash))
	}
	pipe.Del(ctx, keyFamilyHashes(familyID), keyFamily(familyID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

// writeFamilyMember records a new current token for the family and refreshes
// all family TTLs.
func writeFamilyMember(ctx context.Context, pipe redis.Pipeliner, familyID, userID, hash string, ttl time.Duration) {
	pipe.Set(ctx, keyTokenFamily(hash), familyID, ttl)
	pipe.HSet(ctx, keyFamily(familyID), "uid", userID, "current", hash)
	pipe.Expire(ctx, keyFamily(familyID), ttl)
	pipe.SAdd(ctx, keyFamilyHashes(familyID), hash)
	pipe.Expire(ctx, keyFamilyHashes(familyID), ttl)
}

func redisOpContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 3*time.Second)
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func keyTokenFamily(hash string) string {
	return "epubshelf:refresh:token:" + hash
}

func keyFamily(familyID string) string {
	return "epubshelf:refresh:family:" + familyID
}

func keyFamilyHashes(familyID string) string {
	return "epubshelf:refresh:hashes:" + familyID
}
