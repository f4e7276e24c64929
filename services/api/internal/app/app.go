package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bookie/pkg/ai"
	"bookie/pkg/domain"
	"bookie/pkg/queue"
	"bookie/pkg/storage"
	"bookie/pkg/store"
	"bookie/services/api/internal/googlebooks"
)

// JobKindISBN enriches the catalog entry behind an ISBN channel.
const JobKindISBN = "isbn"

// Catalog is the external book catalog (Google Books in production).
type Catalog interface {
	SearchByTitle(ctx context.Context, title string) (googlebooks.SearchResult, error)
	LookupISBN(ctx context.Context, isbn string) (domain.Book, error)
	RandomBook(ctx context.Context) (domain.BookRecommendation, error)
}

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL   string
	Store         store.Store
	Sessions      store.SessionStore
	RefreshTokens store.RefreshTokenStore
	Queue         queue.Queue
	Objects       storage.ObjectStore
	Catalog       Catalog
	Generator     ai.ChatStreamer
	SystemPrompt  string
	Logger        *slog.Logger
}

// App is the core application service wiring together storage, auth, the
// catalog and the AI assistant.
type App struct {
	store         store.Store
	sessions      store.SessionStore
	refreshTokens store.RefreshTokenStore
	queue         queue.Queue
	objects       storage.ObjectStore
	catalog       Catalog
	generator     ai.ChatStreamer
	systemPrompt  string
	logger        *slog.Logger
	now           func() time.Time
}

// New constructs the application. Store falls back to a GORM store on
// DatabaseURL; sessions and refresh tokens are required.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init gorm store: %w", err)
		}
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session store required")
	}
	if cfg.RefreshTokens == nil {
		return nil, fmt.Errorf("refresh token store required")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("book catalog required")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("chat generator required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	prompt := strings.TrimSpace(cfg.SystemPrompt)
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}
	return &App{
		store:         dataStore,
		sessions:      cfg.Sessions,
		refreshTokens: cfg.RefreshTokens,
		queue:         cfg.Queue,
		objects:       cfg.Objects,
		catalog:       cfg.Catalog,
		generator:     cfg.Generator,
		systemPrompt:  prompt,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}, nil
}

// UserFromToken resolves an active user from an access token.
func (a *App) UserFromToken(token string) (domain.User, bool) {
	uid, ok, err := a.sessions.GetUserIDByToken(token)
	if err != nil || !ok {
		return domain.User{}, false
	}
	user, found, err := a.store.GetUserByID(uid)
	if err != nil || !found || !user.IsActive {
		return domain.User{}, false
	}
	return user, true
}

// HandleJob runs background jobs taken from the queue.
func (a *App) HandleJob(ctx context.Context, job queue.JobStatus) error {
	switch job.Kind {
	case JobKindISBN:
		return a.enrichISBN(ctx, job.Key)
	default:
		a.logger.Warn("unknown job kind dropped", "job_id", job.ID, "kind", job.Kind)
		return nil
	}
}

// enrichISBN stores catalog data for isbn and fills the matching channel's
// thumbnail and authors when they were not supplied at creation.
func (a *App) enrichISBN(ctx context.Context, isbn string) error {
	book, err := a.catalog.LookupISBN(ctx, isbn)
	if errors.Is(err, googlebooks.ErrNotFound) {
		a.logger.Info("isbn not in catalog", "isbn", isbn)
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup isbn: %w", err)
	}
	now := a.now()
	book.CreatedAt, book.UpdatedAt = now, now
	if err := a.store.UpsertBook(book); err != nil {
		return fmt.Errorf("upsert book: %w", err)
	}
	channelID, ok := channelIDForISBN(isbn)
	if !ok {
		return nil
	}
	if err := a.store.FillChannelBook(channelID, book.Thumbnail, book.Authors); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("fill channel: %w", err)
	}
	a.logger.Info("isbn enriched", "isbn", book.ISBN, "channel_id", channelID)
	return nil
}

func (a *App) enqueue(ctx context.Context, kind, key string) {
	if a.queue == nil {
		return
	}
	if _, err := a.queue.Enqueue(ctx, kind, key); err != nil {
		a.logger.Warn("enqueue job failed", "kind", kind, "key", key, "err", err)
	}
}
