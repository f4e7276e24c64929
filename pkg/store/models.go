package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID                 string `gorm:"primaryKey"`
	Username           string `gorm:"uniqueIndex;not null"`
	Email              string `gorm:"uniqueIndex;not null"`
	PasswordHash       string `gorm:"not null"`
	IsActive           bool   `gorm:"not null;default:true"`
	CurrentReadingISBN string
	AboutText          string `gorm:"type:text"`
	FavoriteGenres     datatypes.JSONSlice[string]
	ImageAvatar        string
	CreatedAt          time.Time `gorm:"not null"`
	UpdatedAt          time.Time
}

type BookModel struct {
	ISBN      string `gorm:"primaryKey"`
	Title     string `gorm:"not null"`
	Authors   datatypes.JSONSlice[string]
	Publisher string
	Thumbnail string
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time
}

type LibraryEntryModel struct {
	UserID  string    `gorm:"primaryKey"`
	ISBN    string    `gorm:"primaryKey"`
	AddedAt time.Time `gorm:"not null;index"`
}

type TopBookModel struct {
	UserID   string `gorm:"primaryKey"`
	Position int    `gorm:"primaryKey"`
	ISBN     string `gorm:"not null"`
}

type EventModel struct {
	ID          string `gorm:"primaryKey"`
	Title       string `gorm:"not null"`
	Date        string `gorm:"not null;index"`
	Time        string `gorm:"not null"`
	Category    string `gorm:"not null"`
	Location    string `gorm:"not null"`
	CreatedByID string `gorm:"not null;index"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type EventAttendeeModel struct {
	EventID  string    `gorm:"primaryKey"`
	UserID   string    `gorm:"primaryKey;index"`
	JoinedAt time.Time `gorm:"not null"`
}

type ChannelModel struct {
	ID            string `gorm:"primaryKey"`
	Type          string `gorm:"not null;index"`
	Name          string `gorm:"not null"`
	BookTitle     string `gorm:"not null"`
	ISBN          string `gorm:"index"`
	Thumbnail     string
	Authors       datatypes.JSONSlice[string]
	CreatedByID   string    `gorm:"not null"`
	MemberCount   int       `gorm:"not null;default:0"`
	CreatedAt     time.Time `gorm:"not null"`
	LastMessageAt *time.Time
}

type ChannelMemberModel struct {
	ChannelID string    `gorm:"primaryKey"`
	UserID    string    `gorm:"primaryKey;index"`
	JoinedAt  time.Time `gorm:"not null"`
}

type ChannelMessageModel struct {
	ID        string    `gorm:"primaryKey"`
	ChannelID string    `gorm:"not null;index:idx_channel_messages_channel_created"`
	UserID    string    `gorm:"not null"`
	Text      string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null;index:idx_channel_messages_channel_created"`
}
