package realtime

import "bookie/pkg/domain"

// Frame types sent by clients.
const (
	FrameWatch   = "watch"
	FrameUnwatch = "unwatch"
	FrameSend    = "message.send"
)

// Frame types sent by the hub in reply to a request.
const (
	FrameWatchOK = "watch.ok"
	FrameSendOK  = "message.ok"
	FrameError   = "error"
)

// Event types pushed by the hub, plus the local connection.changed event.
const (
	EventMessageNew        = "message.new"
	EventMemberAdded       = "member.added"
	EventMemberRemoved     = "member.removed"
	EventChannelDeleted    = "channel.deleted"
	EventConnectionChanged = "connection.changed"
)

// Frame is the JSON envelope exchanged over the realtime websocket.
// RequestID correlates a reply with the request that caused it.
type Frame struct {
	Type      string                  `json:"type"`
	RequestID string                  `json:"request_id,omitempty"`
	ChannelID string                  `json:"channel_id,omitempty"`
	Text      string                  `json:"text,omitempty"`
	Channel   *domain.Channel         `json:"channel,omitempty"`
	Members   []domain.ChannelMember  `json:"members,omitempty"`
	Messages  []domain.ChannelMessage `json:"messages,omitempty"`
	Message   *domain.ChannelMessage  `json:"message,omitempty"`
	Member    *domain.ChannelMember   `json:"member,omitempty"`
	Error     string                  `json:"error,omitempty"`
}
