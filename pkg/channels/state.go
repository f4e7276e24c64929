package channels

import "sync"

// Op names a mutating directory operation.
type Op string

const (
	OpCreateOrJoin Op = "create_or_join"
	OpJoin         Op = "join"
	OpLeave        Op = "leave"
	OpDelete       Op = "delete"
)

// OpState is one phase of a mutating operation: Pending, then Confirmed or
// Rejected.
type OpState interface {
	Operation() Op
	Channel() string
}

type Pending struct {
	Op        Op
	ChannelID string
}

type Confirmed struct {
	Op        Op
	ChannelID string
}

type Rejected struct {
	Op        Op
	ChannelID string
	Err       error
}

func (s Pending) Operation() Op     { return s.Op }
func (s Pending) Channel() string   { return s.ChannelID }
func (s Confirmed) Operation() Op   { return s.Op }
func (s Confirmed) Channel() string { return s.ChannelID }
func (s Rejected) Operation() Op    { return s.Op }
func (s Rejected) Channel() string  { return s.ChannelID }

// InFlight reports whether s is still waiting for the backend.
func InFlight(s OpState) bool {
	_, ok := s.(Pending)
	return ok
}

type stateObservers struct {
	mu    sync.Mutex
	last  OpState
	next  int
	funcs map[int]func(OpState)
	order []int
}

func (o *stateObservers) subscribe(fn func(OpState)) func() {
	o.mu.Lock()
	if o.funcs == nil {
		o.funcs = make(map[int]func(OpState))
	}
	o.next++
	id := o.next
	o.funcs[id] = fn
	o.order = append(o.order, id)
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			defer o.mu.Unlock()
			delete(o.funcs, id)
			for i, v := range o.order {
				if v == id {
					o.order = append(o.order[:i], o.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (o *stateObservers) publish(s OpState) {
	o.mu.Lock()
	o.last = s
	fns := make([]func(OpState), 0, len(o.order))
	for _, id := range o.order {
		fns = append(fns, o.funcs[id])
	}
	o.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

func (o *stateObservers) current() OpState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}
