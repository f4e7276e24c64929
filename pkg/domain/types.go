package domain

import "time"

// ChannelType is the realtime channel kind. Book discussions are all "messaging".
type ChannelType string

const (
	ChannelMessaging ChannelType = "messaging"
)

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

type User struct {
	ID                 string    `json:"id"`
	Username           string    `json:"username"`
	Email              string    `json:"email"`
	PasswordHash       string    `json:"-"`
	IsActive           bool      `json:"is_active"`
	CurrentReadingISBN string    `json:"current_reading_isbn,omitempty"`
	AboutText          string    `json:"about_text,omitempty"`
	FavoriteGenres     []string  `json:"favorite_genres,omitempty"`
	ImageAvatar        string    `json:"image_avatar,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// PublicUser is the subset of a user that other users may see.
type PublicUser struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	ImageAvatar string `json:"image_avatar,omitempty"`
}

func (u User) Public() PublicUser {
	return PublicUser{ID: u.ID, Username: u.Username, ImageAvatar: u.ImageAvatar}
}

type Book struct {
	ISBN      string    `json:"isbn"`
	Title     string    `json:"title"`
	Authors   []string  `json:"authors"`
	Publisher string    `json:"publisher,omitempty"`
	Thumbnail string    `json:"thumbnail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type LibraryEntry struct {
	Book    Book      `json:"book"`
	AddedAt time.Time `json:"added_at"`
}

type TopBook struct {
	Position int    `json:"position"`
	ISBN     string `json:"isbn"`
	Book     *Book  `json:"book,omitempty"`
}

type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Date        string    `json:"date"`
	Time        string    `json:"time"`
	Category    string    `json:"category"`
	Location    string    `json:"location"`
	CreatedByID string    `json:"created_by_id"`
	Attendees   int       `json:"attendees"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Channel struct {
	ID            string      `json:"id"`
	Type          ChannelType `json:"type"`
	Name          string      `json:"name"`
	BookTitle     string      `json:"book_title"`
	ISBN          string      `json:"isbn,omitempty"`
	Thumbnail     string      `json:"thumbnail,omitempty"`
	Authors       []string    `json:"authors,omitempty"`
	CreatedByID   string      `json:"created_by_id"`
	MemberCount   int         `json:"member_count"`
	CreatedAt     time.Time   `json:"created_at"`
	LastMessageAt *time.Time  `json:"last_message_at,omitempty"`
}

// ChannelSummary is the directory row returned by the public channel listing.
type ChannelSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	BookTitle   string `json:"book_title"`
	MemberCount int    `json:"member_count"`
	Thumbnail   string `json:"thumbnail,omitempty"`
	CreatedByID string `json:"created_by_id,omitempty"`
}

func (c Channel) Summary() ChannelSummary {
	return ChannelSummary{
		ID:          c.ID,
		Name:        c.Name,
		BookTitle:   c.BookTitle,
		MemberCount: c.MemberCount,
		Thumbnail:   c.Thumbnail,
		CreatedByID: c.CreatedByID,
	}
}

type ChannelMember struct {
	ChannelID string     `json:"channel_id"`
	User      PublicUser `json:"user"`
	JoinedAt  time.Time  `json:"joined_at"`
}

type ChannelMessage struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channel_id"`
	UserID    string    `json:"user_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Message is one turn of an AI conversation transcript.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// BookRecommendation is the "surprise me" payload returned by the AI chat service.
type BookRecommendation struct {
	Title         string   `json:"title"`
	Authors       []string `json:"authors"`
	PublishedDate string   `json:"publishedDate,omitempty"`
	Description   string   `json:"description,omitempty"`
	Categories    []string `json:"categories,omitempty"`
	PageCount     int      `json:"pageCount,omitempty"`
	Thumbnail     string   `json:"thumbnail,omitempty"`
	ISBN          string   `json:"isbn,omitempty"`
}

// BookSearchItem is a normalized Google Books volume.
type BookSearchItem struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Authors       []string `json:"authors"`
	PublishedDate string   `json:"publishedDate,omitempty"`
	Thumbnail     string   `json:"thumbnail,omitempty"`
	ISBN          string   `json:"isbn,omitempty"`
}

// ChannelDetail is a channel together with its current members.
type ChannelDetail struct {
	Channel Channel         `json:"channel"`
	Members []ChannelMember `json:"members"`
}
