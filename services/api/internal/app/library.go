package app

import (
	"context"
	"fmt"
	"strings"

	"bookie/pkg/channelkey"
	"bookie/pkg/domain"
	"bookie/services/api/internal/googlebooks"
)

// LibraryBook is the book payload of POST /api/me/library.
type LibraryBook struct {
	ISBN      string
	Title     string
	Authors   []string
	Thumbnail string
	Publisher string
}

// SearchBooks proxies a title search to the catalog.
func (a *App) SearchBooks(ctx context.Context, title string) (googlebooks.SearchResult, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return googlebooks.SearchResult{}, ErrTitleRequired
	}
	res, err := a.catalog.SearchByTitle(ctx, title)
	if err != nil {
		a.logger.Warn("book search failed", "title", title, "err", err)
		return googlebooks.SearchResult{}, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	return res, nil
}

func (a *App) Library(userID string) ([]domain.LibraryEntry, error) {
	entries, err := a.store.ListLibrary(userID)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []domain.LibraryEntry{}
	}
	return entries, nil
}

// AddToLibrary records book in the catalog and adds it to the user's
// library. Adding a book twice is a no-op that returns the existing entry.
func (a *App) AddToLibrary(userID string, in LibraryBook) (domain.LibraryEntry, bool, error) {
	isbn := channelkey.NormalizeKey(in.ISBN)
	if isbn == "" {
		return domain.LibraryEntry{}, false, ErrISBNRequired
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return domain.LibraryEntry{}, false, ErrTitleRequired
	}
	now := a.now()
	book := domain.Book{
		ISBN:      isbn,
		Title:     title,
		Authors:   in.Authors,
		Publisher: strings.TrimSpace(in.Publisher),
		Thumbnail: strings.TrimSpace(in.Thumbnail),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.UpsertBook(book); err != nil {
		return domain.LibraryEntry{}, false, fmt.Errorf("upsert book: %w", err)
	}
	added, err := a.store.AddToLibrary(userID, isbn, now)
	if err != nil {
		return domain.LibraryEntry{}, false, fmt.Errorf("add to library: %w", err)
	}
	entries, err := a.store.ListLibrary(userID)
	if err != nil {
		return domain.LibraryEntry{}, false, fmt.Errorf("list library: %w", err)
	}
	for _, e := range entries {
		if e.Book.ISBN == isbn {
			return e, added, nil
		}
	}
	return domain.LibraryEntry{Book: book, AddedAt: now}, added, nil
}

// RemoveFromLibrary removes a book and drops it from the top 3 if present.
func (a *App) RemoveFromLibrary(userID, isbn string) error {
	isbn = channelkey.NormalizeKey(isbn)
	if isbn == "" {
		return ErrISBNRequired
	}
	removed, err := a.store.RemoveFromLibrary(userID, isbn)
	if err != nil {
		return fmt.Errorf("remove from library: %w", err)
	}
	if !removed {
		return ErrBookNotInLibrary
	}
	top, err := a.store.ListTop3(userID)
	if err != nil {
		return fmt.Errorf("list top3: %w", err)
	}
	kept := make([]domain.TopBook, 0, len(top))
	for _, t := range top {
		if t.ISBN != isbn {
			kept = append(kept, domain.TopBook{Position: t.Position, ISBN: t.ISBN})
		}
	}
	if len(kept) != len(top) {
		if err := a.store.ReplaceTop3(userID, kept); err != nil {
			return fmt.Errorf("update top3: %w", err)
		}
	}
	return nil
}

func (a *App) Top3(userID string) ([]domain.TopBook, error) {
	return a.store.ListTop3(userID)
}

// ReplaceTop3 sets the user's favourite books. Positions run 1..3, neither
// positions nor books may repeat, and every book must be in the library.
func (a *App) ReplaceTop3(userID string, entries []domain.TopBook) ([]domain.TopBook, error) {
	if len(entries) > 3 {
		return nil, ErrInvalidTop3
	}
	library, err := a.store.ListLibrary(userID)
	if err != nil {
		return nil, fmt.Errorf("list library: %w", err)
	}
	owned := make(map[string]bool, len(library))
	for _, e := range library {
		owned[e.Book.ISBN] = true
	}
	positions := make(map[int]bool, 3)
	books := make(map[string]bool, 3)
	clean := make([]domain.TopBook, 0, len(entries))
	for _, e := range entries {
		isbn := channelkey.NormalizeKey(e.ISBN)
		if e.Position < 1 || e.Position > 3 || isbn == "" || positions[e.Position] || books[isbn] {
			return nil, ErrInvalidTop3
		}
		if !owned[isbn] {
			return nil, ErrTop3NotInLibrary
		}
		positions[e.Position] = true
		books[isbn] = true
		clean = append(clean, domain.TopBook{Position: e.Position, ISBN: isbn})
	}
	if err := a.store.ReplaceTop3(userID, clean); err != nil {
		return nil, fmt.Errorf("replace top3: %w", err)
	}
	return a.store.ListTop3(userID)
}
