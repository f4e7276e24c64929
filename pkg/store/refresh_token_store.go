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
	// ErrInvalidRefreshToken means the token is unknown, expired or revoked.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrRefreshTokenReplay means an already rotated token was presented again.
	ErrRefreshTokenReplay = errors.New("refresh token replay detected")
)

// DefaultRefreshTTL is how long a refresh token family stays valid without use.
const DefaultRefreshTTL = 30 * 24 * time.Hour

// RefreshTokenStore issues refresh tokens grouped in families. Each rotation
// replaces the family's current token; presenting an older one revokes the
// whole family.
type RefreshTokenStore interface {
	Issue(userID string) (string, error)
	Rotate(token string) (Rotation, error)
	Revoke(token string) error
}

// Rotation is the outcome of a successful refresh.
type Rotation struct {
	UserID string
	Token  string
}

type family struct {
	userID  string
	current string
	expiry  time.Time
	hashes  map[string]struct{}
}

// MemoryRefreshTokenStore keeps families in-process.
type MemoryRefreshTokenStore struct {
	ttl time.Duration

	mu       sync.Mutex
	families map[string]*family         // family id -> family
	byHash   map[string]string          // token hash -> family id
	byUser   map[string]map[string]bool // user id -> family ids
}

func NewMemoryRefreshTokenStore(ttl time.Duration) *MemoryRefreshTokenStore {
	if ttl <= 0 {
		ttl = DefaultRefreshTTL
	}
	return &MemoryRefreshTokenStore{
		ttl:      ttl,
		families: make(map[string]*family),
		byHash:   make(map[string]string),
		byUser:   make(map[string]map[string]bool),
	}
}

func (s *MemoryRefreshTokenStore) Issue(userID string) (string, error) {
	token, familyID, err := newTokenAndFamily()
	if err != nil {
		return "", err
	}
	hash := hashRefreshToken(token)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.families[familyID] = &family{
		userID:  userID,
		current: hash,
		expiry:  time.Now().Add(s.ttl),
		hashes:  map[string]struct{}{hash: {}},
	}
	s.byHash[hash] = familyID
	if s.byUser[userID] == nil {
		s.byUser[userID] = make(map[string]bool)
	}
	s.byUser[userID][familyID] = true
	return token, nil
}

func (s *MemoryRefreshTokenStore) Rotate(token string) (Rotation, error) {
	hash := hashRefreshToken(token)

	s.mu.Lock()
	defer s.mu.Unlock()
	familyID, ok := s.byHash[hash]
	if !ok {
		return Rotation{}, ErrInvalidRefreshToken
	}
	fam := s.families[familyID]
	if fam == nil || time.Now().After(fam.expiry) {
		s.dropLocked(familyID)
		return Rotation{}, ErrInvalidRefreshToken
	}
	if fam.current != hash {
		s.dropLocked(familyID)
		return Rotation{}, ErrRefreshTokenReplay
	}

	next, err := generateRefreshToken()
	if err != nil {
		return Rotation{}, err
	}
	nextHash := hashRefreshToken(next)
	fam.current = nextHash
	fam.expiry = time.Now().Add(s.ttl)
	fam.hashes[nextHash] = struct{}{}
	s.byHash[nextHash] = familyID
	return Rotation{UserID: fam.userID, Token: next}, nil
}

func (s *MemoryRefreshTokenStore) Revoke(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if familyID, ok := s.byHash[hashRefreshToken(token)]; ok {
		s.dropLocked(familyID)
	}
	return nil
}

// RevokeUserRefreshTokens drops every family of a user.
func (s *MemoryRefreshTokenStore) RevokeUserRefreshTokens(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for familyID := range s.byUser[userID] {
		s.dropLocked(familyID)
	}
	return nil
}

func (s *MemoryRefreshTokenStore) dropLocked(familyID string) {
	fam := s.families[familyID]
	if fam == nil {
		return
	}
	for h := range fam.hashes {
		delete(s.byHash, h)
	}
	delete(s.families, familyID)
	if fams := s.byUser[fam.userID]; fams != nil {
		delete(fams, familyID)
		if len(fams) == 0 {
			delete(s.byUser, fam.userID)
		}
	}
}

// RedisRefreshTokenStore keeps families in Redis. Rotation runs under WATCH
// on the family hash so two concurrent refreshes cannot both succeed.
type RedisRefreshTokenStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisRefreshTokenStore(client redis.UniversalClient, ttl time.Duration) *RedisRefreshTokenStore {
	if ttl <= 0 {
		ttl = DefaultRefreshTTL
	}
	return &RedisRefreshTokenStore{client: client, ttl: ttl}
}

func (s *RedisRefreshTokenStore) Issue(userID string) (string, error) {
	token, familyID, err := newTokenAndFamily()
	if err != nil {
		return "", err
	}
	hash := hashRefreshToken(token)
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		s.writeCurrent(ctx, pipe, familyID, userID, hash)
		return nil
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

func (s *RedisRefreshTokenStore) writeCurrent(ctx context.Context, pipe redis.Pipeliner, familyID, userID, hash string) {
	pipe.Set(ctx, refreshHashKey(hash), familyID, s.ttl)
	pipe.HSet(ctx, refreshFamilyKey(familyID), "user", userID, "current", hash)
	pipe.Expire(ctx, refreshFamilyKey(familyID), s.ttl)
	pipe.SAdd(ctx, refreshFamilyHashesKey(familyID), hash)
	pipe.Expire(ctx, refreshFamilyHashesKey(familyID), s.ttl)
	pipe.SAdd(ctx, refreshUserKey(userID), familyID)
	pipe.Expire(ctx, refreshUserKey(userID), s.ttl)
}

func (s *RedisRefreshTokenStore) Rotate(token string) (Rotation, error) {
	hash := hashRefreshToken(token)
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	for {
		familyID, err := s.client.Get(ctx, refreshHashKey(hash)).Result()
		if errors.Is(err, redis.Nil) {
			return Rotation{}, ErrInvalidRefreshToken
		}
		if err != nil {
			return Rotation{}, err
		}

		var (
			out    Rotation
			revoke bool
		)
		familyKey := refreshFamilyKey(familyID)
		err = s.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.HGetAll(ctx, familyKey).Result()
			if err != nil {
				return err
			}
			out.UserID = data["user"]
			switch {
			case data["current"] == "" || out.UserID == "":
				revoke = true
				return ErrInvalidRefreshToken
			case data["current"] != hash:
				revoke = true
				return ErrRefreshTokenReplay
			}
			out.Token, err = generateRefreshToken()
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				s.writeCurrent(ctx, pipe, familyID, out.UserID, hashRefreshToken(out.Token))
				return nil
			})
			return err
		}, familyKey)

		switch {
		case errors.Is(err, redis.TxFailedErr):
			if ctx.Err() != nil {
				return Rotation{}, ctx.Err()
			}
			continue
		case err != nil:
			if revoke {
				_ = s.dropFamily(ctx, familyID, out.UserID)
			}
			return Rotation{}, err
		}
		return out, nil
	}
}

func (s *RedisRefreshTokenStore) Revoke(token string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	familyID, err := s.client.Get(ctx, refreshHashKey(hashRefreshToken(token))).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.dropFamily(ctx, familyID, "")
}

// RevokeUserRefreshTokens drops every family of a user.
func (s *RedisRefreshTokenStore) RevokeUserRefreshTokens(userID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	familyIDs, err := s.client.SMembers(ctx, refreshUserKey(userID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	for _, familyID := range familyIDs {
		if err := s.dropFamily(ctx, familyID, userID); err != nil {
			return err
		}
	}
	return s.client.Del(ctx, refreshUserKey(userID)).Err()
}

func (s *RedisRefreshTokenStore) dropFamily(ctx context.Context, familyID, userID string) error {
	if userID == "" {
		user, err := s.client.HGet(ctx, refreshFamilyKey(familyID), "user").Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		userID = user
	}
	hashes, err := s.client.SMembers(ctx, refreshFamilyHashesKey(familyID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, h := range hashes {
			pipe.Del(ctx, refreshHashKey(h))
		}
		pipe.Del(ctx, refreshFamilyHashesKey(familyID), refreshFamilyKey(familyID))
		if userID != "" {
			pipe.SRem(ctx, refreshUserKey(userID), familyID)
		}
		return nil
	})
	return err
}

func newTokenAndFamily() (token, familyID string, err error) {
	token, err = generateRefreshToken()
	if err != nil {
		return "", "", err
	}
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	return token, hex.EncodeToString(buf), nil
}

func generateRefreshToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func hashRefreshToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func refreshHashKey(hash string) string             { return "bookie:refresh:hash:" + hash }
func refreshFamilyKey(familyID string) string       { return "bookie:refresh:family:" + familyID }
func refreshFamilyHashesKey(familyID string) string { return "bookie:refresh:family_hashes:" + familyID }
func refreshUserKey(userID string) string           { return "bookie:refresh:user:" + userID }
