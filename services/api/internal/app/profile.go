package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"bookie/pkg/channelkey"
	"bookie/pkg/domain"
	"bookie/pkg/storage"
)

const (
	maxAboutRunes = 500
	maxGenres     = 10
)

// ErrUnsupportedImage is returned for avatar uploads that are not images.
var ErrUnsupportedImage = errors.New("formato de imagen no soportado (jpg, png, webp o gif)")

var avatarExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/gif":  "gif",
}

// ProfileUpdate carries the optional fields of PATCH /api/me. Nil fields are
// left unchanged.
type ProfileUpdate struct {
	AboutText          *string
	FavoriteGenres     *[]string
	CurrentReadingISBN *string
	ImageAvatar        *string
}

// UpdateProfile applies update to user and persists it.
func (a *App) UpdateProfile(user domain.User, update ProfileUpdate) (domain.User, error) {
	if update.AboutText != nil {
		about := strings.TrimSpace(*update.AboutText)
		if utf8.RuneCountInString(about) > maxAboutRunes {
			return domain.User{}, ErrAboutTooLong
		}
		user.AboutText = about
	}
	if update.FavoriteGenres != nil {
		genres := cleanGenres(*update.FavoriteGenres)
		if len(genres) > maxGenres {
			return domain.User{}, ErrTooManyGenres
		}
		user.FavoriteGenres = genres
	}
	if update.CurrentReadingISBN != nil {
		user.CurrentReadingISBN = channelkey.NormalizeKey(*update.CurrentReadingISBN)
	}
	if update.ImageAvatar != nil {
		user.ImageAvatar = strings.TrimSpace(*update.ImageAvatar)
	}
	user.UpdatedAt = a.now()
	if err := a.store.SaveUser(user); err != nil {
		return domain.User{}, fmt.Errorf("update user: %w", err)
	}
	return user, nil
}

// cleanGenres trims, drops empties and removes case-insensitive duplicates.
func cleanGenres(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, g := range in {
		g = strings.TrimSpace(g)
		key := strings.ToLower(g)
		if g == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, g)
	}
	return out
}

// UploadAvatar stores an avatar image and points the user's profile at it.
func (a *App) UploadAvatar(ctx context.Context, user domain.User, contentType string, r io.Reader, size int64) (domain.User, error) {
	if a.objects == nil {
		return domain.User{}, ErrStorageUnavailable
	}
	ext, ok := avatarExtensions[contentType]
	if !ok {
		return domain.User{}, ErrUnsupportedImage
	}
	key := storage.AvatarKey(user.ID, ext)
	if err := a.objects.Put(ctx, key, r, size, contentType); err != nil {
		return domain.User{}, fmt.Errorf("store avatar: %w", err)
	}
	url, err := a.objects.URL(ctx, key)
	if err != nil {
		return domain.User{}, fmt.Errorf("avatar url: %w", err)
	}
	return a.UpdateProfile(user, ProfileUpdate{ImageAvatar: &url})
}

// ListUsers returns every active user's public fields.
func (a *App) ListUsers() ([]domain.PublicUser, error) {
	users, err := a.store.ListUsers()
	if err != nil {
		return nil, err
	}
	out := make([]domain.PublicUser, 0, len(users))
	for _, u := range users {
		if u.IsActive {
			out = append(out, u.Public())
		}
	}
	return out, nil
}

// Profile is the public view of a reader: identity, about, library, top 3
// and the events they signed up to.
type Profile struct {
	User               domain.PublicUser     `json:"user"`
	AboutText          string                `json:"about_text,omitempty"`
	FavoriteGenres     []string              `json:"favorite_genres,omitempty"`
	CurrentReadingISBN string                `json:"current_reading_isbn,omitempty"`
	Library            []domain.LibraryEntry `json:"library"`
	Top3               []domain.TopBook      `json:"top3"`
	Events             []domain.Event        `json:"events"`
}

// UserProfile loads a profile, fetching its parts concurrently.
func (a *App) UserProfile(ctx context.Context, userID string) (Profile, error) {
	user, ok, err := a.store.GetUserByID(userID)
	if err != nil {
		return Profile{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok || !user.IsActive {
		return Profile{}, ErrUserNotFound
	}
	p := Profile{
		User:               user.Public(),
		AboutText:          user.AboutText,
		FavoriteGenres:     user.FavoriteGenres,
		CurrentReadingISBN: user.CurrentReadingISBN,
	}
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		p.Library, err = a.store.ListLibrary(userID)
		return err
	})
	g.Go(func() error {
		var err error
		p.Top3, err = a.store.ListTop3(userID)
		return err
	})
	g.Go(func() error {
		var err error
		p.Events, err = a.store.ListEventsByAttendee(userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Profile{}, fmt.Errorf("load profile: %w", err)
	}
	if p.Library == nil {
		p.Library = []domain.LibraryEntry{}
	}
	if p.Events == nil {
		p.Events = []domain.Event{}
	}
	return p, nil
}
