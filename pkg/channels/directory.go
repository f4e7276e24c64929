// Package channels manages book discussion channels: id derivation happens in
// channelkey, membership changes go through the backend, and live attachment
// goes through the realtime session.
package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"bookie/pkg/bookieclient"
	"bookie/pkg/channelkey"
	"bookie/pkg/domain"
	"bookie/pkg/realtime"
	"bookie/pkg/session"
)

var (
	ErrNotConnected = fmt.Errorf("user must be connected: %w", realtime.ErrNotConnected)
	ErrNotCreator   = errors.New("only the channel creator can delete it")
	ErrNotMember    = errors.New("not a member of this channel")
)

// DefaultBookTitle is sent when a book has no title.
const DefaultBookTitle = "Libro sin título"

// Backend is the channel part of the REST API.
type Backend interface {
	CreateOrJoinChannelByISBN(ctx context.Context, token string, req bookieclient.ChannelBookRequest) (bookieclient.ChannelResponse, error)
	CreateOrJoinChannelByTitle(ctx context.Context, token, title string) (bookieclient.ChannelResponse, error)
	JoinChannel(ctx context.Context, token, channelID string) (bookieclient.ChannelResponse, error)
	LeaveChannel(ctx context.Context, token, channelID string) error
	DeleteChannel(ctx context.Context, token, channelID string) error
	PublicChannels(ctx context.Context, token string) ([]domain.ChannelSummary, error)
	MyChannels(ctx context.Context, token string) ([]domain.Channel, error)
}

// Authorizer runs a call with a valid access token.
type Authorizer interface {
	WithAuthRetry(ctx context.Context, call session.Call) error
}

// Live is the realtime side of the directory.
type Live interface {
	UserID() string
	Watch(ctx context.Context, channelID string) (realtime.ChannelState, error)
	Release(channelID string)
}

// NewLive adapts a realtime client to Live.
func NewLive(c *realtime.Client) Live { return liveClient{c: c} }

type liveClient struct{ c *realtime.Client }

func (l liveClient) UserID() string { return l.c.UserID() }

func (l liveClient) Watch(ctx context.Context, channelID string) (realtime.ChannelState, error) {
	return l.c.Channel(domain.ChannelMessaging, channelID).Watch(ctx)
}

func (l liveClient) Release(channelID string) {
	if err := l.c.Channel(domain.ChannelMessaging, channelID).Unwatch(); err != nil && !errors.Is(err, realtime.ErrNotConnected) {
		slog.Debug("realtime unwatch failed", "channel_id", channelID, "err", err)
	}
}

// Book is the metadata attached to a channel on creation.
type Book struct {
	ISBN      string
	Title     string
	Thumbnail string
	Authors   []string
}

// Attachment is the result of entering a channel.
type Attachment struct {
	ChannelID string
	Created   bool
	State     realtime.ChannelState
}

// Directory is the channel lifecycle client.
type Directory struct {
	backend Backend
	auth    Authorizer
	live    Live
	logger  *slog.Logger
	states  stateObservers
}

// Option customizes a Directory.
type Option func(*Directory)

// WithLogger sets the logger used for rejected operations.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Directory) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDirectory builds a Directory over the REST backend and a live session.
func NewDirectory(backend Backend, auth Authorizer, live Live, opts ...Option) *Directory {
	d := &Directory{backend: backend, auth: auth, live: live, logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// OnState registers fn for every operation phase and returns its
// unsubscribe function.
func (d *Directory) OnState(fn func(OpState)) func() {
	return d.states.subscribe(fn)
}

// LastState returns the most recent phase, or nil before any operation.
func (d *Directory) LastState() OpState {
	return d.states.current()
}

func (d *Directory) connected() (string, error) {
	id := d.live.UserID()
	if id == "" {
		return "", ErrNotConnected
	}
	return id, nil
}

// run wraps fn in the Pending -> Confirmed/Rejected transition. The pending
// phase is always resolved, including when fn panics.
func (d *Directory) run(op Op, channelID string, fn func() (string, error)) (id string, err error) {
	d.states.publish(Pending{Op: op, ChannelID: channelID})
	defer func() {
		if r := recover(); r != nil {
			d.states.publish(Rejected{Op: op, ChannelID: channelID, Err: fmt.Errorf("%s panicked: %v", op, r)})
			panic(r)
		}
		if id == "" {
			id = channelID
		}
		if err != nil {
			d.logger.Warn("channel operation failed", "op", string(op), "channel_id", id, "err", err)
			d.states.publish(Rejected{Op: op, ChannelID: id, Err: err})
			return
		}
		d.states.publish(Confirmed{Op: op, ChannelID: id})
	}()
	return fn()
}

// CreateOrJoinByISBN enters the channel for book.ISBN, creating it on first
// use, and starts watching it.
func (d *Directory) CreateOrJoinByISBN(ctx context.Context, book Book) (Attachment, error) {
	if _, err := d.connected(); err != nil {
		return Attachment{}, err
	}
	isbn := channelkey.NormalizeKey(book.ISBN)
	if isbn == "" {
		return Attachment{}, fmt.Errorf("%w: book must have a valid ISBN to create a chat", bookieclient.ErrValidation)
	}
	expected, _ := channelkey.ChannelIDForISBN(isbn)
	title := strings.TrimSpace(book.Title)
	if title == "" {
		title = DefaultBookTitle
	}
	authors := book.Authors
	if authors == nil {
		authors = []string{}
	}

	var att Attachment
	_, err := d.run(OpCreateOrJoin, expected, func() (string, error) {
		var resp bookieclient.ChannelResponse
		err := d.auth.WithAuthRetry(ctx, func(ctx context.Context, token string) error {
			var err error
			resp, err = d.backend.CreateOrJoinChannelByISBN(ctx, token, bookieclient.ChannelBookRequest{
				ISBN:      isbn,
				BookTitle: title,
				Thumbnail: book.Thumbnail,
				Authors:   authors,
			})
			return err
		})
		if err != nil {
			return "", err
		}
		att, err = d.attach(ctx, resp)
		return att.ChannelID, err
	})
	return att, err
}

// CreateOrJoinByTitle enters a legacy title-keyed channel.
func (d *Directory) CreateOrJoinByTitle(ctx context.Context, title string) (Attachment, error) {
	if _, err := d.connected(); err != nil {
		return Attachment{}, err
	}
	title = strings.TrimSpace(title)
	if title == "" {
		return Attachment{}, fmt.Errorf("%w: book title is required", bookieclient.ErrValidation)
	}
	titleID, ok := channelkey.ChannelIDForTitle(title)
	if !ok {
		return Attachment{}, fmt.Errorf("%w: book title has no usable characters", bookieclient.ErrValidation)
	}
	var att Attachment
	_, err := d.run(OpCreateOrJoin, titleID, func() (string, error) {
		var resp bookieclient.ChannelResponse
		err := d.auth.WithAuthRetry(ctx, func(ctx context.Context, token string) error {
			var err error
			resp, err = d.backend.CreateOrJoinChannelByTitle(ctx, token, title)
			return err
		})
		if err != nil {
			return "", err
		}
		att, err = d.attach(ctx, resp)
		return att.ChannelID, err
	})
	return att, err
}

// JoinByID joins an existing channel. Joining a channel the caller already
// belongs to succeeds.
func (d *Directory) JoinByID(ctx context.Context, channelID string) (Attachment, error) {
	if _, err := d.connected(); err != nil {
		return Attachment{}, err
	}
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return Attachment{}, fmt.Errorf("%w: channel id is required", bookieclient.ErrValidation)
	}
	var att Attachment
	_, err := d.run(OpJoin, channelID, func() (string, error) {
		var resp bookieclient.ChannelResponse
		err := d.auth.WithAuthRetry(ctx, func(ctx context.Context, token string) error {
			var err error
			resp, err = d.backend.JoinChannel(ctx, token, channelID)
			return err
		})
		if err != nil {
			return "", err
		}
		if resp.ChannelID == "" {
			resp.ChannelID = channelID
		}
		att, err = d.attach(ctx, resp)
		return att.ChannelID, err
	})
	return att, err
}

func (d *Directory) attach(ctx context.Context, resp bookieclient.ChannelResponse) (Attachment, error) {
	if resp.ChannelID == "" {
		return Attachment{}, errors.New("backend returned no channel id")
	}
	state, err := d.live.Watch(ctx, resp.ChannelID)
	if err != nil {
		return Attachment{ChannelID: resp.ChannelID, Created: resp.Created}, fmt.Errorf("watch channel %s: %w", resp.ChannelID, err)
	}
	return Attachment{ChannelID: resp.ChannelID, Created: resp.Created, State: state}, nil
}

// Leave removes the caller from the channel. Leaving a channel the caller is
// not a member of fails with ErrNotMember.
func (d *Directory) Leave(ctx context.Context, channelID string) error {
	if _, err := d.connected(); err != nil {
		return err
	}
	_, err := d.run(OpLeave, channelID, func() (string, error) {
		err := d.auth.WithAuthRetry(ctx, func(ctx context.Context, token string) error {
			return d.backend.LeaveChannel(ctx, token, channelID)
		})
		if bookieclient.StatusOf(err) == http.StatusConflict {
			return "", fmt.Errorf("%w: %v", ErrNotMember, err)
		}
		if err != nil {
			return "", err
		}
		d.live.Release(channelID)
		return channelID, nil
	})
	return err
}

// Delete removes a channel. Only its creator may do so; anyone else is
// rejected before any request is made.
func (d *Directory) Delete(ctx context.Context, ch domain.Channel) error {
	if _, err := d.connected(); err != nil {
		return err
	}
	_, err := d.run(OpDelete, ch.ID, func() (string, error) {
		if !d.IsCreator(ch) {
			return "", ErrNotCreator
		}
		err := d.auth.WithAuthRetry(ctx, func(ctx context.Context, token string) error {
			return d.backend.DeleteChannel(ctx, token, ch.ID)
		})
		if bookieclient.StatusOf(err) == http.StatusForbidden {
			return "", fmt.Errorf("%w: %v", ErrNotCreator, err)
		}
		if err != nil {
			return "", err
		}
		d.live.Release(ch.ID)
		return ch.ID, nil
	})
	return err
}

// IsCreator reports whether the connected user created ch. It is false when
// either id is unknown.
func (d *Directory) IsCreator(ch domain.Channel) bool {
	self := d.live.UserID()
	return self != "" && ch.CreatedByID != "" && ch.CreatedByID == self
}

// IsMember reports whether the connected user is in the watched member list.
func (d *Directory) IsMember(state realtime.ChannelState) bool {
	self := d.live.UserID()
	if self == "" {
		return false
	}
	for _, m := range state.Members {
		if m.User.ID == self {
			return true
		}
	}
	return false
}

// MemberCount prefers the backend count and falls back to the member list.
func MemberCount(state realtime.ChannelState) int {
	if state.Channel.MemberCount > 0 {
		return state.Channel.MemberCount
	}
	return len(state.Members)
}

// ListPublicChannels returns every book discussion channel.
func (d *Directory) ListPublicChannels(ctx context.Context) ([]domain.ChannelSummary, error) {
	if _, err := d.connected(); err != nil {
		return nil, err
	}
	var out []domain.ChannelSummary
	err := d.auth.WithAuthRetry(ctx, func(ctx context.Context, token string) error {
		var err error
		out, err = d.backend.PublicChannels(ctx, token)
		return err
	})
	return out, err
}

// MyChannels returns the caller's channels, most recent activity first.
func (d *Directory) MyChannels(ctx context.Context) ([]domain.Channel, error) {
	if _, err := d.connected(); err != nil {
		return nil, err
	}
	var out []domain.Channel
	err := d.auth.WithAuthRetry(ctx, func(ctx context.Context, token string) error {
		var err error
		out, err = d.backend.MyChannels(ctx, token)
		return err
	})
	return out, err
}
