package realtime

import (
	"sync"

	"bookie/pkg/domain"
)

// Subscription is a registered event handler. Unsubscribe may be called any
// number of times; only the first call has an effect.
type Subscription interface {
	Unsubscribe()
}

type subscription struct {
	once   sync.Once
	cancel func()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.cancel)
}

// Scope collects subscriptions so they can be released together, typically
// with a deferred Close.
type Scope struct {
	mu     sync.Mutex
	subs   []Subscription
	closed bool
}

// Add tracks sub. Adding to a closed scope releases sub immediately.
func (s *Scope) Add(sub Subscription) Subscription {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.Unsubscribe()
		return sub
	}
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
	return sub
}

// Close releases every tracked subscription in reverse order.
func (s *Scope) Close() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.closed = true
	s.mu.Unlock()
	for i := len(subs) - 1; i >= 0; i-- {
		subs[i].Unsubscribe()
	}
}

// Event is delivered to handlers registered with On.
type Event struct {
	Type      string
	ChannelID string
	Message   *domain.ChannelMessage
	Member    *domain.ChannelMember
	Connected bool
}

// Handler receives events on the connection's read goroutine. Handlers must
// not block.
type Handler func(Event)

type listener struct {
	eventType string
	channelID string
	fn        Handler
}

type listeners struct {
	mu    sync.RWMutex
	next  uint64
	items map[uint64]listener
	order []uint64
}

func (l *listeners) add(eventType, channelID string, fn Handler) Subscription {
	l.mu.Lock()
	if l.items == nil {
		l.items = make(map[uint64]listener)
	}
	l.next++
	id := l.next
	l.items[id] = listener{eventType: eventType, channelID: channelID, fn: fn}
	l.order = append(l.order, id)
	l.mu.Unlock()
	return &subscription{cancel: func() { l.remove(id) }}
}

func (l *listeners) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.items[id]; !ok {
		return
	}
	delete(l.items, id)
	for i, v := range l.order {
		if v == id {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

func (l *listeners) reset() {
	l.mu.Lock()
	l.items = nil
	l.order = nil
	l.mu.Unlock()
}

func (l *listeners) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// emit calls matching handlers in registration order, outside the lock.
func (l *listeners) emit(ev Event) {
	l.mu.RLock()
	matched := make([]Handler, 0, len(l.order))
	for _, id := range l.order {
		item := l.items[id]
		if item.eventType != "" && item.eventType != ev.Type {
			continue
		}
		if item.channelID != "" && item.channelID != ev.ChannelID {
			continue
		}
		matched = append(matched, item.fn)
	}
	l.mu.RUnlock()
	for _, fn := range matched {
		fn(ev)
	}
}
