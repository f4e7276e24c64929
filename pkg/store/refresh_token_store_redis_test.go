package store

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisRefreshStore(t *testing.T) (*RedisRefreshTokenStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisRefreshTokenStore(client, time.Minute), mr
}

func TestRedisRefreshTokenStoreRotateAndRevoke(t *testing.T) {
	s, _ := newRedisRefreshStore(t)

	token, err := s.Issue("user-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	rot, err := s.Rotate(token)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if rot.UserID != "user-1" {
		t.Fatalf("unexpected user id: %q", rot.UserID)
	}
	if rot.Token == "" || rot.Token == token {
		t.Fatalf("expected rotated token")
	}

	if err := s.Revoke(rot.Token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := s.Rotate(rot.Token); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected invalid token after revoke, got: %v", err)
	}
}

func TestRedisRefreshTokenStoreDetectsReplay(t *testing.T) {
	s, _ := newRedisRefreshStore(t)

	token, err := s.Issue("user-2")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	rot, err := s.Rotate(token)
	if err != nil {
		t.Fatalf("first rotate: %v", err)
	}

	if _, err := s.Rotate(token); !errors.Is(err, ErrRefreshTokenReplay) {
		t.Fatalf("expected replay detection, got: %v", err)
	}
	if _, err := s.Rotate(rot.Token); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected family revoked after replay, got: %v", err)
	}
}

func TestRedisRefreshTokenStoreExpires(t *testing.T) {
	s, mr := newRedisRefreshStore(t)

	token, err := s.Issue("user-5")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, err := s.Rotate(token); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected expired token to be invalid, got: %v", err)
	}
}

func TestRedisRefreshTokenStoreRevokeUserRefreshTokens(t *testing.T) {
	s, _ := newRedisRefreshStore(t)

	t1, err := s.Issue("user-4")
	if err != nil {
		t.Fatalf("issue 1: %v", err)
	}
	t2, err := s.Issue("user-4")
	if err != nil {
		t.Fatalf("issue 2: %v", err)
	}
	if err := s.RevokeUserRefreshTokens("user-4"); err != nil {
		t.Fatalf("revoke user tokens: %v", err)
	}
	for i, tok := range []string{t1, t2} {
		if _, err := s.Rotate(tok); !errors.Is(err, ErrInvalidRefreshToken) {
			t.Fatalf("expected token %d invalid after user revoke, got: %v", i+1, err)
		}
	}
}

func TestRedisRefreshTokenStoreConcurrentRotateRevokesFamilyOnReplay(t *testing.T) {
	s, _ := newRedisRefreshStore(t)

	token, err := s.Issue("user-3")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	const workers = 2
	start := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(workers)

	errs := make(chan error, workers)
	newTokens := make(chan string, workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			<-start
			rot, rotateErr := s.Rotate(token)
			if rotateErr == nil {
				newTokens <- rot.Token
			}
			errs <- rotateErr
		}()
	}

	close(start)
	wg.Wait()
	close(errs)
	close(newTokens)

	successes, replays := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, ErrRefreshTokenReplay):
			replays++
		default:
			t.Fatalf("unexpected rotate error: %v", err)
		}
	}
	if successes != 1 || replays != 1 {
		t.Fatalf("expected one success and one replay, got successes=%d replays=%d", successes, replays)
	}
	for issued := range newTokens {
		if _, err := s.Rotate(issued); !errors.Is(err, ErrInvalidRefreshToken) {
			t.Fatalf("expected family revoked after replay race, got: %v", err)
		}
	}
}
