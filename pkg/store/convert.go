package store

import (
	"gorm.io/datatypes"

	"bookie/pkg/domain"
)

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:                 u.ID,
		Username:           u.Username,
		Email:              u.Email,
		PasswordHash:       u.PasswordHash,
		IsActive:           u.IsActive,
		CurrentReadingISBN: u.CurrentReadingISBN,
		AboutText:          u.AboutText,
		FavoriteGenres:     datatypes.NewJSONSlice(u.FavoriteGenres),
		ImageAvatar:        u.ImageAvatar,
		CreatedAt:          u.CreatedAt,
		UpdatedAt:          u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:                 m.ID,
		Username:           m.Username,
		Email:              m.Email,
		PasswordHash:       m.PasswordHash,
		IsActive:           m.IsActive,
		CurrentReadingISBN: m.CurrentReadingISBN,
		AboutText:          m.AboutText,
		FavoriteGenres:     []string(m.FavoriteGenres),
		ImageAvatar:        m.ImageAvatar,
		CreatedAt:          m.CreatedAt,
		UpdatedAt:          m.UpdatedAt,
	}
}

func bookToModel(b domain.Book) BookModel {
	return BookModel{
		ISBN:      b.ISBN,
		Title:     b.Title,
		Authors:   datatypes.NewJSONSlice(b.Authors),
		Publisher: b.Publisher,
		Thumbnail: b.Thumbnail,
		CreatedAt: b.CreatedAt,
		UpdatedAt: b.UpdatedAt,
	}
}

func bookFromModel(m BookModel) domain.Book {
	return domain.Book{
		ISBN:      m.ISBN,
		Title:     m.Title,
		Authors:   []string(m.Authors),
		Publisher: m.Publisher,
		Thumbnail: m.Thumbnail,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// mergeBook overlays the non-empty fields of next onto prev.
func mergeBook(prev, next domain.Book) domain.Book {
	out := prev
	if next.Title != "" {
		out.Title = next.Title
	}
	if len(next.Authors) > 0 {
		out.Authors = next.Authors
	}
	if next.Publisher != "" {
		out.Publisher = next.Publisher
	}
	if next.Thumbnail != "" {
		out.Thumbnail = next.Thumbnail
	}
	if !next.UpdatedAt.IsZero() {
		out.UpdatedAt = next.UpdatedAt
	}
	return out
}

func libraryISBNs(entries []LibraryEntryModel) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ISBN)
	}
	return out
}

func eventToModel(e domain.Event) EventModel {
	return EventModel{
		ID:          e.ID,
		Title:       e.Title,
		Date:        e.Date,
		Time:        e.Time,
		Category:    e.Category,
		Location:    e.Location,
		CreatedByID: e.CreatedByID,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func eventFromModel(m EventModel) domain.Event {
	return domain.Event{
		ID:          m.ID,
		Title:       m.Title,
		Date:        m.Date,
		Time:        m.Time,
		Category:    m.Category,
		Location:    m.Location,
		CreatedByID: m.CreatedByID,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func channelToModel(c domain.Channel) ChannelModel {
	return ChannelModel{
		ID:            c.ID,
		Type:          string(c.Type),
		Name:          c.Name,
		BookTitle:     c.BookTitle,
		ISBN:          c.ISBN,
		Thumbnail:     c.Thumbnail,
		Authors:       datatypes.NewJSONSlice(c.Authors),
		CreatedByID:   c.CreatedByID,
		MemberCount:   c.MemberCount,
		CreatedAt:     c.CreatedAt,
		LastMessageAt: c.LastMessageAt,
	}
}

func channelFromModel(m ChannelModel) domain.Channel {
	return domain.Channel{
		ID:            m.ID,
		Type:          domain.ChannelType(m.Type),
		Name:          m.Name,
		BookTitle:     m.BookTitle,
		ISBN:          m.ISBN,
		Thumbnail:     m.Thumbnail,
		Authors:       []string(m.Authors),
		CreatedByID:   m.CreatedByID,
		MemberCount:   m.MemberCount,
		CreatedAt:     m.CreatedAt,
		LastMessageAt: m.LastMessageAt,
	}
}

func channelsFromModels(models []ChannelModel) []domain.Channel {
	out := make([]domain.Channel, 0, len(models))
	for _, m := range models {
		out = append(out, channelFromModel(m))
	}
	return out
}
