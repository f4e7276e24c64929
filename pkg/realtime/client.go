// Package realtime is the client side of the chat hub: one session object per
// signed-in user, channel watches and event subscriptions.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/singleflight"

	"bookie/pkg/domain"
)

var (
	ErrNotConnected = errors.New("realtime: not connected")
	ErrInvalidUser  = errors.New("realtime: user id is required")
	// ErrRejected wraps error frames returned by the hub.
	ErrRejected = errors.New("realtime: request rejected")
)

const (
	writeWait   = 10 * time.Second
	maxMessages = 200
)

// Config describes how to reach the hub.
type Config struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8080/api/realtime.
	URL    string
	Dialer *websocket.Dialer
	Logger *slog.Logger
}

// URLFromAPI derives the hub endpoint from an API base URL.
func URLFromAPI(base string) (string, error) {
	u, err := url.Parse(strings.TrimRight(base, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http", "":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/realtime"
	return u.String(), nil
}

// User is the identity announced on connect.
type User struct {
	ID    string
	Name  string
	Image string
}

// Client is a realtime session. It is safe for concurrent use.
type Client struct {
	cfg    Config
	logger *slog.Logger

	connectMu sync.Mutex
	flight    singleflight.Group

	mu       sync.RWMutex
	link     *link
	user     User
	channels map[string]*Channel

	subs  listeners
	reqID atomic.Uint64
}

// New returns a disconnected client.
func New(cfg Config) *Client {
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, logger: logger, channels: make(map[string]*Channel)}
}

// link is one websocket connection with its pending requests.
type link struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}

	mu      sync.Mutex
	pending map[string]chan Frame
	closed  bool
}

func (l *link) write(f Frame) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = l.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return l.ws.WriteJSON(f)
}

func (l *link) await(id string) chan Frame {
	ch := make(chan Frame, 1)
	l.mu.Lock()
	l.pending[id] = ch
	l.mu.Unlock()
	return ch
}

func (l *link) forget(id string) {
	l.mu.Lock()
	delete(l.pending, id)
	l.mu.Unlock()
}

func (l *link) resolve(f Frame) bool {
	l.mu.Lock()
	ch, ok := l.pending[f.RequestID]
	delete(l.pending, f.RequestID)
	l.mu.Unlock()
	if ok {
		ch <- f
	}
	return ok
}

func (l *link) shutdown() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.pending = nil
	l.mu.Unlock()
	close(l.done)
	_ = l.ws.Close()
}

// Connect opens the session for user. Connecting the already connected user
// is a no-op; connecting another user first disconnects the current one.
// Concurrent calls for the same user share one dial.
func (c *Client) Connect(ctx context.Context, user User, token string) error {
	if strings.TrimSpace(user.ID) == "" {
		return ErrInvalidUser
	}
	if c.connectedAs(user.ID) {
		return nil
	}
	_, err, _ := c.flight.Do(user.ID, func() (any, error) {
		c.connectMu.Lock()
		defer c.connectMu.Unlock()
		if c.connectedAs(user.ID) {
			return nil, nil
		}
		if c.Connected() {
			c.Disconnect()
		}
		return nil, c.dial(ctx, user, token)
	})
	return err
}

func (c *Client) dial(ctx context.Context, user User, token string) error {
	if c.cfg.URL == "" {
		return errors.New("realtime: url is required")
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	ws, resp, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("realtime: connect: %s: %w", resp.Status, err)
		}
		return fmt.Errorf("realtime: connect: %w", err)
	}
	l := &link{ws: ws, done: make(chan struct{}), pending: make(map[string]chan Frame)}

	c.mu.Lock()
	c.link = l
	c.user = user
	c.mu.Unlock()

	go c.readLoop(l)
	c.logger.Info("realtime connected", "user_id", user.ID)
	c.subs.emit(Event{Type: EventConnectionChanged, Connected: true})
	return nil
}

// Disconnect closes the socket and releases every subscription and channel
// handle. It is safe to call when not connected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	l := c.link
	userID := c.user.ID
	c.link = nil
	c.user = User{}
	c.channels = make(map[string]*Channel)
	c.mu.Unlock()
	if l == nil {
		return
	}
	l.writeMu.Lock()
	_ = l.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	l.writeMu.Unlock()
	l.shutdown()
	c.logger.Info("realtime disconnected", "user_id", userID)
	c.subs.emit(Event{Type: EventConnectionChanged, Connected: false})
	c.subs.reset()
}

// UserID returns the connected user id, or "" when disconnected.
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.link == nil {
		return ""
	}
	return c.user.ID
}

func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.link != nil
}

func (c *Client) connectedAs(userID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.link != nil && c.user.ID == userID
}

// On registers fn for eventType across all channels. An empty eventType
// matches every event.
func (c *Client) On(eventType string, fn Handler) Subscription {
	return c.subs.add(eventType, "", fn)
}

// Channel returns the handle for a channel, creating it on first use.
func (c *Client) Channel(typ domain.ChannelType, id string) *Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.channels[id]; ok {
		return ch
	}
	ch := &Channel{client: c, typ: typ, id: id}
	ch.state.Channel = domain.Channel{ID: id, Type: typ}
	c.channels[id] = ch
	return ch
}

func (c *Client) lookup(id string) *Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels[id]
}

func (c *Client) drop(id string) {
	c.mu.Lock()
	delete(c.channels, id)
	c.mu.Unlock()
}

func (c *Client) current() *link {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.link
}

// request sends f and waits for the frame carrying the same request id.
func (c *Client) request(ctx context.Context, f Frame) (Frame, error) {
	l := c.current()
	if l == nil {
		return Frame{}, ErrNotConnected
	}
	f.RequestID = strconv.FormatUint(c.reqID.Add(1), 10)
	reply := l.await(f.RequestID)
	if err := l.write(f); err != nil {
		l.forget(f.RequestID)
		return Frame{}, fmt.Errorf("realtime: send %s: %w", f.Type, err)
	}
	select {
	case r := <-reply:
		if r.Type == FrameError {
			return r, fmt.Errorf("%w: %s", ErrRejected, r.Error)
		}
		return r, nil
	case <-l.done:
		return Frame{}, ErrNotConnected
	case <-ctx.Done():
		l.forget(f.RequestID)
		return Frame{}, ctx.Err()
	}
}

func (c *Client) send(f Frame) error {
	l := c.current()
	if l == nil {
		return ErrNotConnected
	}
	return l.write(f)
}

func (c *Client) readLoop(l *link) {
	defer func() {
		c.mu.Lock()
		lost := c.link == l
		if lost {
			c.link = nil
		}
		c.mu.Unlock()
		l.shutdown()
		if lost {
			c.logger.Warn("realtime connection lost")
			c.subs.emit(Event{Type: EventConnectionChanged, Connected: false})
		}
	}()
	for {
		_, data, err := l.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("realtime read failed", "err", err)
			}
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Debug("realtime frame ignored", "err", err)
			continue
		}
		if f.Type == FrameWatchOK {
			if ch := c.lookup(f.ChannelID); ch != nil {
				ch.load(f)
			}
		}
		if f.RequestID != "" && l.resolve(f) {
			continue
		}
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f Frame) {
	switch f.Type {
	case EventMessageNew, EventMemberAdded, EventMemberRemoved, EventChannelDeleted:
	default:
		if f.Type == FrameError {
			c.logger.Warn("realtime hub error", "channel_id", f.ChannelID, "error", f.Error)
		}
		return
	}
	if ch := c.lookup(f.ChannelID); ch != nil {
		ch.apply(f, c.UserID())
	}
	if f.Type == EventChannelDeleted {
		c.drop(f.ChannelID)
	}
	c.subs.emit(Event{Type: f.Type, ChannelID: f.ChannelID, Message: f.Message, Member: f.Member})
}
