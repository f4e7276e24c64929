package store

import (
	"errors"
	"time"

	"bookie/pkg/domain"
)

var (
	// ErrDuplicate is returned when a unique field (email, username) is taken.
	ErrDuplicate = errors.New("duplicate record")
	// ErrNotFound is returned by updates that target a missing row.
	ErrNotFound = errors.New("record not found")
)

// Store defines persistence for users, books, events and chat channels.
// Implementations must be safe for concurrent use.
type Store interface {
	// users
	CreateUser(domain.User) error
	SaveUser(domain.User) error
	GetUserByEmail(email string) (domain.User, bool, error)
	GetUserByUsername(username string) (domain.User, bool, error)
	GetUserByID(id string) (domain.User, bool, error)
	ListUsers() ([]domain.User, error)

	// books
	UpsertBook(domain.Book) error
	GetBook(isbn string) (domain.Book, bool, error)

	// library and top 3
	AddToLibrary(userID, isbn string, at time.Time) (added bool, err error)
	RemoveFromLibrary(userID, isbn string) (removed bool, err error)
	ListLibrary(userID string) ([]domain.LibraryEntry, error)
	ReplaceTop3(userID string, entries []domain.TopBook) error
	ListTop3(userID string) ([]domain.TopBook, error)

	// events
	SaveEvent(domain.Event) error
	GetEvent(id string) (domain.Event, bool, error)
	ListEvents() ([]domain.Event, error)
	DeleteEvent(id string) error
	AddAttendee(eventID, userID string) (added bool, err error)
	RemoveAttendee(eventID, userID string) (removed bool, err error)
	ListAttendees(eventID string) ([]domain.PublicUser, error)
	ListEventsByAttendee(userID string) ([]domain.Event, error)

	// channels
	CreateChannel(domain.Channel) (created bool, err error)
	GetChannel(id string) (domain.Channel, bool, error)
	ListChannels(typ domain.ChannelType) ([]domain.Channel, error)
	ListChannelsByMember(userID string) ([]domain.Channel, error)
	FillChannelBook(id, thumbnail string, authors []string) error
	DeleteChannel(id string) error
	AddMember(channelID, userID string, at time.Time) (added bool, err error)
	RemoveMember(channelID, userID string) (removed bool, err error)
	IsMember(channelID, userID string) (bool, error)
	ListMembers(channelID string) ([]domain.ChannelMember, error)
	AppendChannelMessage(domain.ChannelMessage) error
	ListChannelMessages(channelID string, limit int) ([]domain.ChannelMessage, error)
}

// SessionStore issues and validates access tokens.
type SessionStore interface {
	NewSession(userID string) (string, error)
	GetUserIDByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}

// UserSessionRevoker is an optional capability that revokes all sessions
// issued for a user up to a cutoff time.
type UserSessionRevoker interface {
	RevokeUserSessions(userID string, since time.Time) error
}

// UserRefreshTokenRevoker is an optional capability that revokes all refresh
// tokens for a user.
type UserRefreshTokenRevoker interface {
	RevokeUserRefreshTokens(userID string) error
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*GormStore)(nil)
)
