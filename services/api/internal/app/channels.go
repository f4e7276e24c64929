package app

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"bookie/internal/util"
	"bookie/pkg/channelkey"
	"bookie/pkg/domain"
)

const (
	// RecentMessages is how many messages a watch replays.
	RecentMessages  = 50
	maxMessageRunes = 2000
)

// Join states reported by JoinChannel.
const (
	JoinStatusJoined        = "joined"
	JoinStatusAlreadyMember = "already_member"
)

var channelIDForISBN = channelkey.ChannelIDForISBN

// ChannelBook is the book metadata sent when opening an ISBN channel.
type ChannelBook struct {
	ISBN      string
	BookTitle string
	Thumbnail string
	Authors   []string
}

// ChannelJoin reports the outcome of a create-or-join or join call. Member
// is set when the caller was newly added.
type ChannelJoin struct {
	ChannelID string
	Created   bool
	Member    *domain.ChannelMember
}

func (j ChannelJoin) Status() string {
	if j.Member != nil {
		return JoinStatusJoined
	}
	return JoinStatusAlreadyMember
}

// CreateOrJoinByISBN opens the discussion channel for a book. The channel id
// depends only on the normalized ISBN, so repeated calls land on the same
// channel. A newly created channel schedules catalog enrichment.
func (a *App) CreateOrJoinByISBN(ctx context.Context, user domain.User, in ChannelBook) (ChannelJoin, error) {
	id, ok := channelIDForISBN(in.ISBN)
	if !ok {
		return ChannelJoin{}, ErrISBNRequired
	}
	isbn := channelkey.NormalizeKey(in.ISBN)
	title := strings.TrimSpace(in.BookTitle)
	if title == "" {
		title = "ISBN " + isbn
	}
	join, err := a.createOrJoin(user, domain.Channel{
		ID:        id,
		BookTitle: title,
		ISBN:      isbn,
		Thumbnail: strings.TrimSpace(in.Thumbnail),
		Authors:   in.Authors,
	})
	if err != nil {
		return ChannelJoin{}, err
	}
	if join.Created {
		a.enqueue(ctx, JobKindISBN, isbn)
	}
	return join, nil
}

// CreateOrJoinByTitle opens a legacy channel keyed by the title slug.
func (a *App) CreateOrJoinByTitle(user domain.User, title string) (ChannelJoin, error) {
	title = strings.TrimSpace(title)
	id, ok := channelkey.ChannelIDForTitle(title)
	if !ok {
		return ChannelJoin{}, ErrTitleRequired
	}
	return a.createOrJoin(user, domain.Channel{ID: id, BookTitle: title})
}

func (a *App) createOrJoin(user domain.User, ch domain.Channel) (ChannelJoin, error) {
	now := a.now()
	ch.Type = domain.ChannelMessaging
	ch.Name = "📚 " + ch.BookTitle
	ch.CreatedByID = user.ID
	ch.CreatedAt = now
	created, err := a.store.CreateChannel(ch)
	if err != nil {
		return ChannelJoin{}, fmt.Errorf("create channel: %w", err)
	}
	join := ChannelJoin{ChannelID: ch.ID, Created: created}
	if join.Member, err = a.addMember(ch.ID, user); err != nil {
		return ChannelJoin{}, err
	}
	if created {
		a.logger.Info("channel created", "channel_id", ch.ID, "user_id", user.ID)
	}
	return join, nil
}

// JoinChannel adds the caller to an existing channel. Joining twice is not
// an error.
func (a *App) JoinChannel(user domain.User, channelID string) (ChannelJoin, error) {
	if _, err := a.getChannel(channelID); err != nil {
		return ChannelJoin{}, err
	}
	member, err := a.addMember(channelID, user)
	if err != nil {
		return ChannelJoin{}, err
	}
	return ChannelJoin{ChannelID: channelID, Member: member}, nil
}

func (a *App) addMember(channelID string, user domain.User) (*domain.ChannelMember, error) {
	now := a.now()
	added, err := a.store.AddMember(channelID, user.ID, now)
	if err != nil {
		return nil, fmt.Errorf("add member: %w", err)
	}
	if !added {
		return nil, nil
	}
	return &domain.ChannelMember{ChannelID: channelID, User: user.Public(), JoinedAt: now}, nil
}

// LeaveChannel removes the caller from a channel and returns the removed
// membership.
func (a *App) LeaveChannel(user domain.User, channelID string) (domain.ChannelMember, error) {
	if _, err := a.getChannel(channelID); err != nil {
		return domain.ChannelMember{}, err
	}
	removed, err := a.store.RemoveMember(channelID, user.ID)
	if err != nil {
		return domain.ChannelMember{}, fmt.Errorf("remove member: %w", err)
	}
	if !removed {
		return domain.ChannelMember{}, ErrNotChannelMember
	}
	return domain.ChannelMember{ChannelID: channelID, User: user.Public()}, nil
}

// DeleteChannel removes a channel with its members and messages. Only the
// creator may delete it.
func (a *App) DeleteChannel(user domain.User, channelID string) error {
	ch, err := a.getChannel(channelID)
	if err != nil {
		return err
	}
	if ch.CreatedByID == "" || ch.CreatedByID != user.ID {
		return ErrNotChannelCreator
	}
	if err := a.store.DeleteChannel(channelID); err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	a.logger.Info("channel deleted", "channel_id", channelID, "user_id", user.ID)
	return nil
}

func (a *App) ChannelDetail(channelID string) (domain.ChannelDetail, error) {
	ch, err := a.getChannel(channelID)
	if err != nil {
		return domain.ChannelDetail{}, err
	}
	members, err := a.store.ListMembers(channelID)
	if err != nil {
		return domain.ChannelDetail{}, fmt.Errorf("list members: %w", err)
	}
	if members == nil {
		members = []domain.ChannelMember{}
	}
	return domain.ChannelDetail{Channel: ch, Members: members}, nil
}

// PublicChannels lists every messaging channel as a directory summary.
func (a *App) PublicChannels() ([]domain.ChannelSummary, error) {
	channels, err := a.store.ListChannels(domain.ChannelMessaging)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ChannelSummary, 0, len(channels))
	for _, ch := range channels {
		out = append(out, ch.Summary())
	}
	return out, nil
}

// MyChannels lists the caller's channels, most recent activity first.
func (a *App) MyChannels(user domain.User) ([]domain.Channel, error) {
	channels, err := a.store.ListChannelsByMember(user.ID)
	if err != nil {
		return nil, err
	}
	if channels == nil {
		channels = []domain.Channel{}
	}
	return channels, nil
}

// ChannelSnapshot is what a realtime watch starts from.
type ChannelSnapshot struct {
	Channel  domain.Channel
	Members  []domain.ChannelMember
	Messages []domain.ChannelMessage
}

// WatchChannel checks membership and loads the channel with its members and
// latest messages.
func (a *App) WatchChannel(userID, channelID string) (ChannelSnapshot, error) {
	ch, err := a.memberChannel(userID, channelID)
	if err != nil {
		return ChannelSnapshot{}, err
	}
	members, err := a.store.ListMembers(channelID)
	if err != nil {
		return ChannelSnapshot{}, fmt.Errorf("list members: %w", err)
	}
	messages, err := a.store.ListChannelMessages(channelID, RecentMessages)
	if err != nil {
		return ChannelSnapshot{}, fmt.Errorf("list messages: %w", err)
	}
	return ChannelSnapshot{Channel: ch, Members: members, Messages: messages}, nil
}

// PostMessage stores a chat message from a channel member.
func (a *App) PostMessage(userID, channelID, text string) (domain.ChannelMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ChannelMessage{}, ErrMessageRequired
	}
	if utf8.RuneCountInString(text) > maxMessageRunes {
		return domain.ChannelMessage{}, ErrMessageTooLong
	}
	if _, err := a.memberChannel(userID, channelID); err != nil {
		return domain.ChannelMessage{}, err
	}
	msg := domain.ChannelMessage{
		ID:        util.NewID(),
		ChannelID: channelID,
		UserID:    userID,
		Text:      text,
		CreatedAt: a.now(),
	}
	if err := a.store.AppendChannelMessage(msg); err != nil {
		return domain.ChannelMessage{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

func (a *App) memberChannel(userID, channelID string) (domain.Channel, error) {
	ch, err := a.getChannel(channelID)
	if err != nil {
		return domain.Channel{}, err
	}
	ok, err := a.store.IsMember(channelID, userID)
	if err != nil {
		return domain.Channel{}, fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return domain.Channel{}, ErrNotChannelMember
	}
	return ch, nil
}

func (a *App) getChannel(id string) (domain.Channel, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Channel{}, ErrChannelNotFound
	}
	ch, ok, err := a.store.GetChannel(id)
	if err != nil {
		return domain.Channel{}, fmt.Errorf("fetch channel: %w", err)
	}
	if !ok {
		return domain.Channel{}, ErrChannelNotFound
	}
	return ch, nil
}
