package app

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"bookie/internal/util"
	"bookie/pkg/auth"
	"bookie/pkg/domain"
	"bookie/pkg/store"
)

var usernamePattern = regexp.MustCompile(`^[\p{L}\p{N}._-]{3,30}$`)

// SignUp registers a new user and returns it with an access and refresh token.
func (a *App) SignUp(username, email, password string) (domain.User, string, string, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(strings.ToLower(email))
	switch {
	case username == "":
		return domain.User{}, "", "", ErrUsernameRequired
	case email == "":
		return domain.User{}, "", "", ErrEmailRequired
	case password == "":
		return domain.User{}, "", "", ErrPasswordRequired
	}
	if !usernamePattern.MatchString(username) {
		return domain.User{}, "", "", ErrInvalidUsername
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, "", "", err
	}
	if _, exists, err := a.store.GetUserByEmail(email); err != nil {
		return domain.User{}, "", "", fmt.Errorf("check email: %w", err)
	} else if exists {
		return domain.User{}, "", "", ErrEmailAlreadyExists
	}
	if _, exists, err := a.store.GetUserByUsername(username); err != nil {
		return domain.User{}, "", "", fmt.Errorf("check username: %w", err)
	} else if exists {
		return domain.User{}, "", "", ErrUsernameTaken
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", "", fmt.Errorf("hash password: %w", err)
	}
	now := a.now()
	user := domain.User{
		ID:           util.NewID(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateUser(user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.User{}, "", "", ErrEmailAlreadyExists
		}
		return domain.User{}, "", "", fmt.Errorf("save user: %w", err)
	}
	return a.issueUserTokens(user)
}

// Login authenticates by email and password.
func (a *App) Login(email, password string) (domain.User, string, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return domain.User{}, "", "", ErrInvalidCredentials
	}
	user, ok, err := a.store.GetUserByEmail(email)
	if err != nil {
		return domain.User{}, "", "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", "", ErrInvalidCredentials
	}
	if !user.IsActive {
		return domain.User{}, "", "", ErrUserDisabled
	}
	return a.issueUserTokens(user)
}

func (a *App) issueUserTokens(user domain.User) (domain.User, string, string, error) {
	accessToken, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", "", fmt.Errorf("issue access token: %w", err)
	}
	refreshToken, err := a.refreshTokens.Issue(user.ID)
	if err != nil {
		return domain.User{}, "", "", fmt.Errorf("issue refresh token: %w", err)
	}
	return user, accessToken, refreshToken, nil
}

// Refresh rotates refreshToken and issues a new token pair. Presenting an
// already rotated token revokes its whole family.
func (a *App) Refresh(refreshToken string) (domain.User, string, string, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return domain.User{}, "", "", ErrRefreshTokenRequired
	}
	rot, err := a.refreshTokens.Rotate(refreshToken)
	if err != nil {
		if errors.Is(err, store.ErrInvalidRefreshToken) || errors.Is(err, store.ErrRefreshTokenReplay) {
			return domain.User{}, "", "", ErrInvalidRefreshToken
		}
		return domain.User{}, "", "", fmt.Errorf("rotate refresh token: %w", err)
	}
	user, found, err := a.store.GetUserByID(rot.UserID)
	if err != nil {
		return domain.User{}, "", "", fmt.Errorf("fetch user: %w", err)
	}
	if !found || !user.IsActive {
		_ = a.refreshTokens.Revoke(rot.Token)
		return domain.User{}, "", "", ErrInvalidRefreshToken
	}
	accessToken, err := a.sessions.NewSession(user.ID)
	if err != nil {
		_ = a.refreshTokens.Revoke(rot.Token)
		return domain.User{}, "", "", fmt.Errorf("issue access token: %w", err)
	}
	return user, accessToken, rot.Token, nil
}

// Logout invalidates the access token and, when given, the refresh family.
func (a *App) Logout(accessToken, refreshToken string) error {
	if err := a.sessions.DeleteSession(accessToken); err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	if refreshToken = strings.TrimSpace(refreshToken); refreshToken != "" {
		if err := a.refreshTokens.Revoke(refreshToken); err != nil {
			return fmt.Errorf("revoke refresh token: %w", err)
		}
	}
	return nil
}

// ChangePassword replaces the password after checking the current one and
// revokes every token issued before the change.
func (a *App) ChangePassword(userID, currentPassword, newPassword string) error {
	if currentPassword == "" || newPassword == "" {
		return ErrPasswordRequired
	}
	if err := auth.ValidatePassword(newPassword); err != nil {
		return err
	}
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !user.IsActive {
		return ErrUserNotFound
	}
	if !auth.CheckPassword(currentPassword, user.PasswordHash) {
		return ErrInvalidCredentials
	}
	passwordHash, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user.PasswordHash = passwordHash
	user.UpdatedAt = a.now()
	if err := a.store.SaveUser(user); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return a.revokeAllUserTokens(userID, user.UpdatedAt)
}

// DeactivateUser disables an account and revokes every token it holds.
func (a *App) DeactivateUser(userID string) error {
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return ErrUserNotFound
	}
	user.IsActive = false
	user.UpdatedAt = a.now()
	if err := a.store.SaveUser(user); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return a.revokeAllUserTokens(userID, user.UpdatedAt)
}

func (a *App) revokeAllUserTokens(userID string, since time.Time) error {
	if sessionRevoker, ok := a.sessions.(store.UserSessionRevoker); ok {
		if err := sessionRevoker.RevokeUserSessions(userID, since); err != nil {
			return fmt.Errorf("revoke sessions: %w", err)
		}
	}
	if refreshRevoker, ok := a.refreshTokens.(store.UserRefreshTokenRevoker); ok {
		if err := refreshRevoker.RevokeUserRefreshTokens(userID); err != nil {
			return fmt.Errorf("revoke refresh tokens: %w", err)
		}
	}
	return nil
}
