package hub

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"bookie/pkg/realtime"
	"bookie/services/api/internal/app"
)

const internalError = "error interno"

type client struct {
	hub    *Hub
	conn   *websocket.Conn
	userID string

	// send is never closed; done signals shutdown to both pumps.
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(h *Hub, conn *websocket.Conn, userID string) *client {
	return &client{
		hub:    h,
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// trySend queues data without blocking. It reports false when the buffer is
// full or the client is closed.
func (c *client) trySend(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) reply(f realtime.Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		c.hub.logger.Error("marshal reply failed", "type", f.Type, "err", err)
		return
	}
	if !c.trySend(data) {
		c.hub.logger.Warn("reply dropped, closing client", "user_id", c.userID, "type", f.Type)
		c.close()
	}
}

func (c *client) replyError(req realtime.Frame, err error) {
	msg := err.Error()
	switch {
	case errors.Is(err, app.ErrNotChannelMember),
		errors.Is(err, app.ErrChannelNotFound),
		errors.Is(err, app.ErrMessageRequired),
		errors.Is(err, app.ErrMessageTooLong):
	default:
		c.hub.logger.Error("realtime request failed", "user_id", c.userID, "type", req.Type, "err", err)
		msg = internalError
	}
	c.reply(realtime.Frame{Type: realtime.FrameError, RequestID: req.RequestID, ChannelID: req.ChannelID, Error: msg})
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.stopped:
		}
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("websocket read failed", "user_id", c.userID, "err", err)
			}
			return
		}
		var f realtime.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.reply(realtime.Frame{Type: realtime.FrameError, Error: "frame inválido"})
			continue
		}
		c.handle(f)
	}
}

func (c *client) handle(f realtime.Frame) {
	f.ChannelID = strings.TrimSpace(f.ChannelID)
	if f.ChannelID == "" && f.Type != "" {
		c.reply(realtime.Frame{Type: realtime.FrameError, RequestID: f.RequestID, Error: "channel_id es obligatorio"})
		return
	}
	switch f.Type {
	case realtime.FrameWatch:
		if _, err := c.hub.backend.WatchChannel(c.userID, f.ChannelID); err != nil {
			c.replyError(f, err)
			return
		}
		if !c.hub.setWatch(c, f.ChannelID, true) {
			return
		}
		// Reload after registering so nothing posted in between is missed.
		snap, err := c.hub.backend.WatchChannel(c.userID, f.ChannelID)
		if err != nil {
			c.hub.setWatch(c, f.ChannelID, false)
			c.replyError(f, err)
			return
		}
		ch := snap.Channel
		c.reply(realtime.Frame{
			Type:      realtime.FrameWatchOK,
			RequestID: f.RequestID,
			ChannelID: f.ChannelID,
			Channel:   &ch,
			Members:   snap.Members,
			Messages:  snap.Messages,
		})
	case realtime.FrameUnwatch:
		c.hub.setWatch(c, f.ChannelID, false)
	case realtime.FrameSend:
		msg, err := c.hub.backend.PostMessage(c.userID, f.ChannelID, f.Text)
		if err != nil {
			c.replyError(f, err)
			return
		}
		c.reply(realtime.Frame{Type: realtime.FrameSendOK, RequestID: f.RequestID, ChannelID: f.ChannelID, Message: &msg})
		c.hub.MessagePosted(msg)
	default:
		c.reply(realtime.Frame{Type: realtime.FrameError, RequestID: f.RequestID, Error: "tipo de frame desconocido: " + f.Type})
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}
