// Package session owns the client credentials and refreshes them on demand.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/sync/singleflight"

	"bookie/pkg/bookieclient"
)

// ErrSessionExpired is returned when a refresh failed or did not help.
// It matches bookieclient.ErrAuthenticationRequired.
var ErrSessionExpired = fmt.Errorf("session expired: %w", bookieclient.ErrAuthenticationRequired)

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (bookieclient.RefreshResponse, error)
}

// Call is a protected request executed with the current access token.
type Call func(ctx context.Context, accessToken string) error

// Session holds the credentials of the signed-in user.
type Session struct {
	store     TokenStore
	refresher Refresher
	logger    *slog.Logger

	mu     sync.RWMutex
	tokens Tokens
	group  singleflight.Group
}

// Option customizes a Session.
type Option func(*Session)

// WithLogger sets the logger for refresh outcomes.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New restores persisted tokens from store.
func New(store TokenStore, refresher Refresher, opts ...Option) (*Session, error) {
	if store == nil {
		store = NewMemoryTokenStore(Tokens{})
	}
	s := &Session{store: store, refresher: refresher, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	tokens, err := store.Load()
	if err != nil {
		return nil, err
	}
	s.tokens = tokens
	return s, nil
}

// SignIn replaces the credentials and persists them.
func (s *Session) SignIn(t Tokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.store.Save(t); err != nil {
		return err
	}
	s.tokens = t
	return nil
}

// SignOut forgets the credentials locally.
func (s *Session) SignOut() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = Tokens{}
	return s.store.Clear()
}

// Tokens returns a copy of the current credentials.
func (s *Session) Tokens() Tokens {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens
}

// Authenticated reports whether an access token is present.
func (s *Session) Authenticated() bool {
	return s.Tokens().AccessToken != ""
}

// AccessToken returns the current token or ErrAuthenticationRequired.
func (s *Session) AccessToken() (string, error) {
	token := s.Tokens().AccessToken
	if token == "" {
		return "", bookieclient.ErrAuthenticationRequired
	}
	return token, nil
}

// WithAuthRetry runs call with the current access token. On a 401 it
// refreshes once and retries once; it never loops.
func (s *Session) WithAuthRetry(ctx context.Context, call Call) error {
	token, err := s.AccessToken()
	if err != nil {
		return err
	}
	err = call(ctx, token)
	if !errors.Is(err, bookieclient.ErrUnauthorized) {
		return err
	}

	fresh, rerr := s.refresh(ctx, token)
	if rerr != nil {
		s.logger.Warn("session refresh failed", "err", rerr)
		return fmt.Errorf("%w: %v", ErrSessionExpired, rerr)
	}
	err = call(ctx, fresh)
	if errors.Is(err, bookieclient.ErrUnauthorized) {
		return fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	return err
}

// refresh exchanges the refresh token once. Callers that saw the same stale
// token share a single request.
func (s *Session) refresh(ctx context.Context, stale string) (string, error) {
	v, err, _ := s.group.Do("refresh", func() (any, error) {
		current := s.Tokens()
		if current.AccessToken != "" && current.AccessToken != stale {
			return current.AccessToken, nil
		}
		if current.RefreshToken == "" {
			return "", errors.New("no refresh token")
		}
		if s.refresher == nil {
			return "", errors.New("refresh not configured")
		}
		resp, err := s.refresher.Refresh(ctx, current.RefreshToken)
		if err != nil {
			if status := bookieclient.StatusOf(err); status == http.StatusUnauthorized || status == http.StatusBadRequest {
				_ = s.SignOut()
			}
			return "", err
		}
		next := current
		next.AccessToken = resp.AccessToken
		if resp.RefreshToken != "" {
			next.RefreshToken = resp.RefreshToken
		}
		if err := s.SignIn(next); err != nil {
			return "", fmt.Errorf("persist refreshed tokens: %w", err)
		}
		return next.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
