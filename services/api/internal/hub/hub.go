// Package hub fans chat events out to websocket clients watching a channel.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"bookie/pkg/domain"
	"bookie/pkg/realtime"
	"bookie/services/api/internal/app"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024
	sendBuffer     = 256
)

// Backend performs the checked channel operations behind watch and send.
type Backend interface {
	WatchChannel(userID, channelID string) (app.ChannelSnapshot, error)
	PostMessage(userID, channelID, text string) (domain.ChannelMessage, error)
}

// Config tunes the hub. An empty AllowedOrigins (or "*") accepts any origin.
type Config struct {
	AllowedOrigins []string
	Logger         *slog.Logger
}

type watchOp struct {
	client    *client
	channelID string
	add       bool
	ack       chan struct{}
}

type delivery struct {
	channelID string
	frame     realtime.Frame
	// evictUser stops this user's clients from watching channelID after delivery.
	evictUser string
	// evictAll drops every watcher of channelID after delivery.
	evictAll  bool
}

// Hub owns connected clients. Client and watcher maps are only touched by Run.
type Hub struct {
	backend  Backend
	logger   *slog.Logger
	upgrader websocket.Upgrader

	register   chan *client
	unregister chan *client
	watch      chan watchOp
	publish    chan delivery
	stopped    chan struct{}

	clients  map[*client]bool
	watchers map[string]map[*client]bool
}

func New(backend Backend, cfg Config) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		backend: backend,
		logger:  logger.With("component", "hub"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		register:   make(chan *client),
		unregister: make(chan *client, 16),
		watch:      make(chan watchOp, 16),
		publish:    make(chan delivery, sendBuffer),
		stopped:    make(chan struct{}),
		clients:    make(map[*client]bool),
		watchers:   make(map[string]map[*client]bool),
	}
}

func originChecker(allowedOrigins []string) func(*http.Request) bool {
	allowed := make(map[string]bool, len(allowedOrigins))
	allowAll := len(allowedOrigins) == 0
	for _, o := range allowedOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return allowAll || origin == "" || allowed[origin]
	}
}

// Run processes hub events until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("hub started")
	defer func() {
		close(h.stopped)
		for c := range h.clients {
			c.close()
		}
		h.logger.Info("hub stopped", "clients", len(h.clients))
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-h.register:
			h.clients[c] = true
			h.logger.Debug("client registered", "user_id", c.userID, "clients", len(h.clients))
		case c := <-h.unregister:
			h.remove(c)
		case op := <-h.watch:
			h.applyWatch(op)
		case d := <-h.publish:
			h.deliver(d)
		}
	}
}

func (h *Hub) remove(c *client) {
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	for id, set := range h.watchers {
		delete(set, c)
		if len(set) == 0 {
			delete(h.watchers, id)
		}
	}
	c.close()
	h.logger.Debug("client unregistered", "user_id", c.userID, "clients", len(h.clients))
}

func (h *Hub) applyWatch(op watchOp) {
	defer close(op.ack)
	if !h.clients[op.client] {
		return
	}
	set := h.watchers[op.channelID]
	if op.add {
		if set == nil {
			set = make(map[*client]bool)
			h.watchers[op.channelID] = set
		}
		set[op.client] = true
		return
	}
	delete(set, op.client)
	if len(set) == 0 {
		delete(h.watchers, op.channelID)
	}
}

func (h *Hub) deliver(d delivery) {
	data, err := json.Marshal(d.frame)
	if err != nil {
		h.logger.Error("marshal frame failed", "type", d.frame.Type, "err", err)
		return
	}
	set := h.watchers[d.channelID]
	var stale []*client
	for c := range set {
		if !c.trySend(data) {
			stale = append(stale, c)
		}
	}
	for _, c := range stale {
		h.logger.Warn("client buffer full, closing", "user_id", c.userID)
		h.remove(c)
	}
	switch {
	case d.evictAll:
		delete(h.watchers, d.channelID)
	case d.evictUser != "":
		for c := range set {
			if c.userID == d.evictUser {
				delete(set, c)
			}
		}
		if len(set) == 0 {
			delete(h.watchers, d.channelID)
		}
	}
}

func (h *Hub) enqueue(d delivery) {
	select {
	case h.publish <- d:
	case <-h.stopped:
	}
}

// setWatch registers or removes a watch and waits until Run has applied it.
func (h *Hub) setWatch(c *client, channelID string, add bool) bool {
	op := watchOp{client: c, channelID: channelID, add: add, ack: make(chan struct{})}
	select {
	case h.watch <- op:
	case <-h.stopped:
		return false
	}
	select {
	case <-op.ack:
		return true
	case <-h.stopped:
		return false
	}
}

// MessagePosted sends message.new to everyone watching the channel.
func (h *Hub) MessagePosted(msg domain.ChannelMessage) {
	m := msg
	h.enqueue(delivery{
		channelID: msg.ChannelID,
		frame:     realtime.Frame{Type: realtime.EventMessageNew, ChannelID: msg.ChannelID, Message: &m},
	})
}

func (h *Hub) MemberAdded(member domain.ChannelMember) {
	m := member
	h.enqueue(delivery{
		channelID: member.ChannelID,
		frame:     realtime.Frame{Type: realtime.EventMemberAdded, ChannelID: member.ChannelID, Member: &m},
	})
}

// MemberRemoved notifies watchers and stops the departed user's watches.
func (h *Hub) MemberRemoved(member domain.ChannelMember) {
	m := member
	h.enqueue(delivery{
		channelID: member.ChannelID,
		frame:     realtime.Frame{Type: realtime.EventMemberRemoved, ChannelID: member.ChannelID, Member: &m},
		evictUser: member.User.ID,
	})
}

// ChannelDeleted notifies watchers and drops them all.
func (h *Hub) ChannelDeleted(channelID string) {
	h.enqueue(delivery{
		channelID: channelID,
		frame:     realtime.Frame{Type: realtime.EventChannelDeleted, ChannelID: channelID},
		evictAll:  true,
	})
}

// ServeWS upgrades an authenticated request and starts the client pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, user domain.User) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "user_id", user.ID, "err", err)
		return
	}
	c := newClient(h, conn, user.ID)
	select {
	case h.register <- c:
	case <-h.stopped:
		_ = conn.Close()
		return
	}
	go c.writePump()
	go c.readPump()
}
