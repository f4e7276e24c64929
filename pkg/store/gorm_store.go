package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"bookie/pkg/domain"
)

const migrateLockID int64 = 26641731

// sqlitePrefix selects the SQLite driver, e.g. "sqlite::memory:" or
// "sqlite:bookie.db". Anything else is treated as a Postgres DSN.
const sqlitePrefix = "sqlite:"

// GormStore implements Store using GORM on Postgres or SQLite.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	cfg := &gorm.Config{Logger: gormLog, TranslateError: true}

	if path, ok := strings.CutPrefix(dsn, sqlitePrefix); ok {
		db, err := gorm.Open(sqlite.Open(path), cfg)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql db: %w", err)
		}
		// one connection keeps ":memory:" databases shared and serializes writers
		sqlDB.SetMaxOpenConns(1)
		if err := migrate(db); err != nil {
			return nil, err
		}
		return &GormStore{db: db}, nil
	}

	db, err := gorm.Open(postgres.Open(dsn), cfg)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, migrate); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&UserModel{},
		&BookModel{},
		&LibraryEntryModel{},
		&TopBookModel{},
		&EventModel{},
		&EventAttendeeModel{},
		&ChannelModel{},
		&ChannelMemberModel{},
		&ChannelMessageModel{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Ping checks database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func first[T any](tx *gorm.DB, out *T) (bool, error) {
	if err := tx.First(out).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CreateUser inserts a new user. Taken emails or usernames yield ErrDuplicate.
func (s *GormStore) CreateUser(u domain.User) error {
	model := userToModel(u)
	err := s.db.Create(&model).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

// SaveUser updates the mutable profile fields of an existing user.
func (s *GormStore) SaveUser(u domain.User) error {
	model := userToModel(u)
	res := s.db.Model(&UserModel{}).Where("id = ?", u.ID).Updates(map[string]any{
		"username":             model.Username,
		"email":                model.Email,
		"password_hash":        model.PasswordHash,
		"is_active":            model.IsActive,
		"current_reading_isbn": model.CurrentReadingISBN,
		"about_text":           model.AboutText,
		"favorite_genres":      model.FavoriteGenres,
		"image_avatar":         model.ImageAvatar,
		"updated_at":           model.UpdatedAt,
	})
	if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(email string) (domain.User, bool, error) {
	var model UserModel
	ok, err := first(s.db.Where("email = ?", email), &model)
	if !ok || err != nil {
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByUsername looks up a user by username.
func (s *GormStore) GetUserByUsername(username string) (domain.User, bool, error) {
	var model UserModel
	ok, err := first(s.db.Where("username = ?", username), &model)
	if !ok || err != nil {
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(id string) (domain.User, bool, error) {
	var model UserModel
	ok, err := first(s.db.Where("id = ?", id), &model)
	if !ok || err != nil {
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsers returns all users ordered by created_at.
func (s *GormStore) ListUsers() ([]domain.User, error) {
	var models []UserModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// UpsertBook stores a book. Existing rows keep their values for fields the
// new record leaves empty.
func (s *GormStore) UpsertBook(b domain.Book) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var existing BookModel
		ok, err := first(tx.Where("isbn = ?", b.ISBN), &existing)
		if err != nil {
			return err
		}
		if !ok {
			model := bookToModel(b)
			return tx.Create(&model).Error
		}
		merged := mergeBook(bookFromModel(existing), b)
		model := bookToModel(merged)
		return tx.Save(&model).Error
	})
}

// GetBook returns a book by normalized ISBN.
func (s *GormStore) GetBook(isbn string) (domain.Book, bool, error) {
	var model BookModel
	ok, err := first(s.db.Where("isbn = ?", isbn), &model)
	if !ok || err != nil {
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// AddToLibrary links a book to a user. Adding twice is a no-op.
func (s *GormStore) AddToLibrary(userID, isbn string, at time.Time) (bool, error) {
	res := s.db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&LibraryEntryModel{UserID: userID, ISBN: isbn, AddedAt: at.UTC()})
	return res.RowsAffected > 0, res.Error
}

// RemoveFromLibrary unlinks a book from a user.
func (s *GormStore) RemoveFromLibrary(userID, isbn string) (bool, error) {
	res := s.db.Delete(&LibraryEntryModel{}, "user_id = ? AND isbn = ?", userID, isbn)
	return res.RowsAffected > 0, res.Error
}

// ListLibrary returns the user's books, newest first.
func (s *GormStore) ListLibrary(userID string) ([]domain.LibraryEntry, error) {
	var entries []LibraryEntryModel
	if err := s.db.Where("user_id = ?", userID).Order("added_at DESC").Find(&entries).Error; err != nil {
		return nil, err
	}
	books, err := s.booksByISBN(libraryISBNs(entries))
	if err != nil {
		return nil, err
	}
	out := make([]domain.LibraryEntry, 0, len(entries))
	for _, e := range entries {
		book, ok := books[e.ISBN]
		if !ok {
			book = domain.Book{ISBN: e.ISBN}
		}
		out = append(out, domain.LibraryEntry{Book: book, AddedAt: e.AddedAt})
	}
	return out, nil
}

// ReplaceTop3 swaps the whole top 3 of a user in one transaction.
func (s *GormStore) ReplaceTop3(userID string, entries []domain.TopBook) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&TopBookModel{}, "user_id = ?", userID).Error; err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		models := make([]TopBookModel, 0, len(entries))
		for _, e := range entries {
			models = append(models, TopBookModel{UserID: userID, Position: e.Position, ISBN: e.ISBN})
		}
		return tx.Create(&models).Error
	})
}

// ListTop3 returns the user's top books ordered by position.
func (s *GormStore) ListTop3(userID string) ([]domain.TopBook, error) {
	var models []TopBookModel
	if err := s.db.Where("user_id = ?", userID).Order("position ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	isbns := make([]string, 0, len(models))
	for _, m := range models {
		isbns = append(isbns, m.ISBN)
	}
	books, err := s.booksByISBN(isbns)
	if err != nil {
		return nil, err
	}
	out := make([]domain.TopBook, 0, len(models))
	for _, m := range models {
		entry := domain.TopBook{Position: m.Position, ISBN: m.ISBN}
		if b, ok := books[m.ISBN]; ok {
			entry.Book = &b
		}
		out = append(out, entry)
	}
	return out, nil
}

func (s *GormStore) booksByISBN(isbns []string) (map[string]domain.Book, error) {
	out := make(map[string]domain.Book, len(isbns))
	if len(isbns) == 0 {
		return out, nil
	}
	var models []BookModel
	if err := s.db.Where("isbn IN ?", isbns).Find(&models).Error; err != nil {
		return nil, err
	}
	for _, m := range models {
		out[m.ISBN] = bookFromModel(m)
	}
	return out, nil
}

// SaveEvent inserts or replaces an event.
func (s *GormStore) SaveEvent(e domain.Event) error {
	model := eventToModel(e)
	return s.db.Save(&model).Error
}

// GetEvent returns an event with its attendee count.
func (s *GormStore) GetEvent(id string) (domain.Event, bool, error) {
	var model EventModel
	ok, err := first(s.db.Where("id = ?", id), &model)
	if !ok || err != nil {
		return domain.Event{}, false, err
	}
	counts, err := s.attendeeCounts([]string{id})
	if err != nil {
		return domain.Event{}, false, err
	}
	ev := eventFromModel(model)
	ev.Attendees = counts[id]
	return ev, true, nil
}

// ListEvents returns all events ordered by date and time.
func (s *GormStore) ListEvents() ([]domain.Event, error) {
	var models []EventModel
	if err := s.db.Order("date ASC").Order("time ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	return s.withAttendeeCounts(models)
}

// DeleteEvent removes an event and its attendee rows.
func (s *GormStore) DeleteEvent(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&EventAttendeeModel{}, "event_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&EventModel{}, "id = ?", id).Error
	})
}

// AddAttendee signs a user up; false when already signed up.
func (s *GormStore) AddAttendee(eventID, userID string) (bool, error) {
	res := s.db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&EventAttendeeModel{EventID: eventID, UserID: userID, JoinedAt: time.Now().UTC()})
	return res.RowsAffected > 0, res.Error
}

// RemoveAttendee cancels a signup; false when there was none.
func (s *GormStore) RemoveAttendee(eventID, userID string) (bool, error) {
	res := s.db.Delete(&EventAttendeeModel{}, "event_id = ? AND user_id = ?", eventID, userID)
	return res.RowsAffected > 0, res.Error
}

// ListAttendees returns the users signed up to an event.
func (s *GormStore) ListAttendees(eventID string) ([]domain.PublicUser, error) {
	var users []UserModel
	err := s.db.Model(&UserModel{}).
		Joins("JOIN event_attendee_models a ON a.user_id = user_models.id").
		Where("a.event_id = ?", eventID).
		Order("a.joined_at ASC").
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.PublicUser, 0, len(users))
	for _, u := range users {
		out = append(out, userFromModel(u).Public())
	}
	return out, nil
}

// ListEventsByAttendee returns events a user signed up to.
func (s *GormStore) ListEventsByAttendee(userID string) ([]domain.Event, error) {
	var models []EventModel
	err := s.db.Model(&EventModel{}).
		Joins("JOIN event_attendee_models a ON a.event_id = event_models.id").
		Where("a.user_id = ?", userID).
		Order("event_models.date ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return s.withAttendeeCounts(models)
}

func (s *GormStore) withAttendeeCounts(models []EventModel) ([]domain.Event, error) {
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	counts, err := s.attendeeCounts(ids)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Event, 0, len(models))
	for _, m := range models {
		ev := eventFromModel(m)
		ev.Attendees = counts[m.ID]
		out = append(out, ev)
	}
	return out, nil
}

func (s *GormStore) attendeeCounts(eventIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(eventIDs))
	if len(eventIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		EventID string
		N       int
	}
	err := s.db.Model(&EventAttendeeModel{}).
		Select("event_id, COUNT(*) AS n").
		Where("event_id IN ?", eventIDs).
		Group("event_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.EventID] = r.N
	}
	return out, nil
}

// CreateChannel inserts a channel unless its id already exists.
func (s *GormStore) CreateChannel(ch domain.Channel) (bool, error) {
	model := channelToModel(ch)
	model.MemberCount = 0
	res := s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&model)
	return res.RowsAffected > 0, res.Error
}

// GetChannel returns a channel by id.
func (s *GormStore) GetChannel(id string) (domain.Channel, bool, error) {
	var model ChannelModel
	ok, err := first(s.db.Where("id = ?", id), &model)
	if !ok || err != nil {
		return domain.Channel{}, false, err
	}
	return channelFromModel(model), true, nil
}

// ListChannels returns channels of a type, most recently created first.
func (s *GormStore) ListChannels(typ domain.ChannelType) ([]domain.Channel, error) {
	var models []ChannelModel
	if err := s.db.Where("type = ?", string(typ)).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	return channelsFromModels(models), nil
}

// ListChannelsByMember returns a user's channels, latest activity first.
func (s *GormStore) ListChannelsByMember(userID string) ([]domain.Channel, error) {
	var models []ChannelModel
	err := s.db.Model(&ChannelModel{}).
		Joins("JOIN channel_member_models m ON m.channel_id = channel_models.id").
		Where("m.user_id = ?", userID).
		Order("COALESCE(channel_models.last_message_at, channel_models.created_at) DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return channelsFromModels(models), nil
}

// FillChannelBook sets thumbnail and authors where they are still empty.
func (s *GormStore) FillChannelBook(id, thumbnail string, authors []string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var model ChannelModel
		ok, err := first(tx.Where("id = ?", id), &model)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		updates := map[string]any{}
		if model.Thumbnail == "" && thumbnail != "" {
			updates["thumbnail"] = thumbnail
		}
		if len(model.Authors) == 0 && len(authors) > 0 {
			updates["authors"] = datatypes.NewJSONSlice(authors)
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(&ChannelModel{}).Where("id = ?", id).Updates(updates).Error
	})
}

// DeleteChannel removes a channel with its members and messages.
func (s *GormStore) DeleteChannel(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ChannelMessageModel{}, "channel_id = ?", id).Error; err != nil {
			return err
		}
		if err := tx.Delete(&ChannelMemberModel{}, "channel_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&ChannelModel{}, "id = ?", id).Error
	})
}

// AddMember joins a user to a channel and bumps its member count.
func (s *GormStore) AddMember(channelID, userID string, at time.Time) (bool, error) {
	added := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&ChannelMemberModel{ChannelID: channelID, UserID: userID, JoinedAt: at.UTC()})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		added = true
		return tx.Model(&ChannelModel{}).Where("id = ?", channelID).
			Update("member_count", gorm.Expr("member_count + 1")).Error
	})
	return added, err
}

// RemoveMember removes a user from a channel and lowers its member count.
func (s *GormStore) RemoveMember(channelID, userID string) (bool, error) {
	removed := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Delete(&ChannelMemberModel{}, "channel_id = ? AND user_id = ?", channelID, userID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		removed = true
		return tx.Model(&ChannelModel{}).Where("id = ? AND member_count > 0", channelID).
			Update("member_count", gorm.Expr("member_count - 1")).Error
	})
	return removed, err
}

// IsMember reports whether userID belongs to channelID.
func (s *GormStore) IsMember(channelID, userID string) (bool, error) {
	var count int64
	err := s.db.Model(&ChannelMemberModel{}).
		Where("channel_id = ? AND user_id = ?", channelID, userID).
		Count(&count).Error
	return count > 0, err
}

// ListMembers returns channel members in join order.
func (s *GormStore) ListMembers(channelID string) ([]domain.ChannelMember, error) {
	var rows []struct {
		UserModel
		JoinedAt time.Time
	}
	err := s.db.Model(&UserModel{}).
		Select("user_models.*, m.joined_at AS joined_at").
		Joins("JOIN channel_member_models m ON m.user_id = user_models.id").
		Where("m.channel_id = ?", channelID).
		Order("m.joined_at ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.ChannelMember, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.ChannelMember{
			ChannelID: channelID,
			User:      userFromModel(r.UserModel).Public(),
			JoinedAt:  r.JoinedAt,
		})
	}
	return out, nil
}

// AppendChannelMessage stores a message and updates the channel activity time.
func (s *GormStore) AppendChannelMessage(msg domain.ChannelMessage) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		model := ChannelMessageModel{
			ID:        msg.ID,
			ChannelID: msg.ChannelID,
			UserID:    msg.UserID,
			Text:      msg.Text,
			CreatedAt: msg.CreatedAt.UTC(),
		}
		if err := tx.Create(&model).Error; err != nil {
			return err
		}
		return tx.Model(&ChannelModel{}).Where("id = ?", msg.ChannelID).
			Update("last_message_at", model.CreatedAt).Error
	})
}

// ListChannelMessages returns the latest messages in chronological order.
func (s *GormStore) ListChannelMessages(channelID string, limit int) ([]domain.ChannelMessage, error) {
	if limit <= 0 {
		return []domain.ChannelMessage{}, nil
	}
	var models []ChannelMessageModel
	if err := s.db.Where("channel_id = ?", channelID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.ChannelMessage, 0, len(models))
	for i := len(models) - 1; i >= 0; i-- {
		m := models[i]
		msgs = append(msgs, domain.ChannelMessage{ID: m.ID, ChannelID: m.ChannelID, UserID: m.UserID, Text: m.Text, CreatedAt: m.CreatedAt})
	}
	return msgs, nil
}
