package realtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"bookie/pkg/domain"
)

// ChannelState is the locally known view of a watched channel.
type ChannelState struct {
	Channel  domain.Channel
	Members  []domain.ChannelMember
	Messages []domain.ChannelMessage
	Watching bool
	Deleted  bool
}

// Channel is a handle on one hub channel.
type Channel struct {
	client *Client
	typ    domain.ChannelType
	id     string

	mu    sync.RWMutex
	state ChannelState
}

func (ch *Channel) ID() string               { return ch.id }
func (ch *Channel) Type() domain.ChannelType { return ch.typ }

// Watch subscribes to live events and loads members and recent messages.
func (ch *Channel) Watch(ctx context.Context) (ChannelState, error) {
	if _, err := ch.client.request(ctx, Frame{Type: FrameWatch, ChannelID: ch.id}); err != nil {
		return ChannelState{}, err
	}
	return ch.State(), nil
}

// load replaces the view with a watch.ok snapshot. It runs on the read
// goroutine so later events apply on top of it.
func (ch *Channel) load(f Frame) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if f.Channel != nil {
		ch.state.Channel = *f.Channel
	}
	ch.state.Members = append([]domain.ChannelMember(nil), f.Members...)
	ch.state.Messages = mergeLive(f.Messages, ch.state.Messages)
	ch.state.Watching = true
	ch.state.Deleted = false
}

// Unwatch stops live events for this channel.
func (ch *Channel) Unwatch() error {
	ch.mu.Lock()
	ch.state.Watching = false
	ch.mu.Unlock()
	return ch.client.send(Frame{Type: FrameUnwatch, ChannelID: ch.id})
}

// SendMessage posts text and returns the stored message.
func (ch *Channel) SendMessage(ctx context.Context, text string) (domain.ChannelMessage, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ChannelMessage{}, errors.New("realtime: message text is required")
	}
	reply, err := ch.client.request(ctx, Frame{Type: FrameSend, ChannelID: ch.id, Text: text})
	if err != nil {
		return domain.ChannelMessage{}, err
	}
	if reply.Message == nil {
		return domain.ChannelMessage{}, errors.New("realtime: empty message acknowledgement")
	}
	return *reply.Message, nil
}

// State returns a copy of the current channel view.
func (ch *Channel) State() ChannelState {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	s := ch.state
	s.Members = append([]domain.ChannelMember(nil), ch.state.Members...)
	s.Messages = append([]domain.ChannelMessage(nil), ch.state.Messages...)
	return s
}

// CreatedBy returns the creator id once the channel has been watched.
func (ch *Channel) CreatedBy() string {
	ch.mu.RLock()
	defer ch.mu.RUnlock()
	return ch.state.Channel.CreatedByID
}

// On registers fn for eventType on this channel only.
func (ch *Channel) On(eventType string, fn Handler) Subscription {
	return ch.client.subs.add(eventType, ch.id, fn)
}

func (ch *Channel) apply(f Frame, self string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	switch f.Type {
	case EventMessageNew:
		if f.Message == nil {
			return
		}
		if hasMessage(ch.state.Messages, f.Message.ID) {
			return
		}
		ch.state.Messages = append(ch.state.Messages, *f.Message)
		if n := len(ch.state.Messages); n > maxMessages {
			ch.state.Messages = append([]domain.ChannelMessage(nil), ch.state.Messages[n-maxMessages:]...)
		}
		at := f.Message.CreatedAt
		if at.IsZero() {
			at = time.Now().UTC()
		}
		ch.state.Channel.LastMessageAt = &at
	case EventMemberAdded:
		if f.Member == nil {
			return
		}
		for _, m := range ch.state.Members {
			if m.User.ID == f.Member.User.ID {
				return
			}
		}
		ch.state.Members = append(ch.state.Members, *f.Member)
		ch.state.Channel.MemberCount = len(ch.state.Members)
	case EventMemberRemoved:
		if f.Member == nil {
			return
		}
		kept := ch.state.Members[:0]
		for _, m := range ch.state.Members {
			if m.User.ID != f.Member.User.ID {
				kept = append(kept, m)
			}
		}
		ch.state.Members = kept
		ch.state.Channel.MemberCount = len(kept)
		if f.Member.User.ID == self {
			ch.state.Watching = false
		}
	case EventChannelDeleted:
		ch.state.Deleted = true
		ch.state.Watching = false
	}
}

// mergeLive appends to snapshot the messages that arrived live while the
// watch was pending and are newer than everything in snapshot.
func mergeLive(snapshot, live []domain.ChannelMessage) []domain.ChannelMessage {
	out := append([]domain.ChannelMessage(nil), snapshot...)
	var last time.Time
	if n := len(snapshot); n > 0 {
		last = snapshot[n-1].CreatedAt
	}
	for _, m := range live {
		if m.CreatedAt.Before(last) || hasMessage(out, m.ID) {
			continue
		}
		out = append(out, m)
	}
	if n := len(out); n > maxMessages {
		out = out[n-maxMessages:]
	}
	return out
}

func hasMessage(msgs []domain.ChannelMessage, id string) bool {
	if id == "" {
		return false
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].ID == id {
			return true
		}
	}
	return false
}
