package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Write once the assembler has been torn down.
var ErrClosed = errors.New("stream: assembler closed")

const readChunkSize = 4096

// Update is delivered to observers after every applied fragment and once
// more when the stream finishes.
type Update struct {
	Text  string
	Delta string
	Done  bool
}

// Observer receives updates in arrival order. It must not call Write.
type Observer func(Update)

// Payload is the JSON object carried by each data line.
type Payload struct {
	Content string          `json:"content,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

// Assembler accumulates the text of one streamed reply.
type Assembler struct {
	feedMu sync.Mutex // serializes Write/Finish so deltas apply in order
	dec    *Decoder

	mu       sync.Mutex
	text     strings.Builder
	ignored  int
	finished bool
	sawDone  bool
	nextID   int
	subs     map[int]Observer
	order    []int
	pending  []Update

	closed atomic.Bool
	logger *slog.Logger
}

// Option configures an Assembler.
type Option func(*Assembler)

// WithLogger sets the logger used for dropped fragments.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Assembler) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAssembler returns an empty assembler.
func NewAssembler(opts ...Option) *Assembler {
	a := &Assembler{
		subs:   make(map[int]Observer),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.dec = NewDecoder(a.apply)
	return a
}

// Subscribe registers fn and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (a *Assembler) Subscribe(fn Observer) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.subs[id] = fn
	a.order = append(a.order, id)
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.subs, id)
			for i, v := range a.order {
				if v == id {
					a.order = append(a.order[:i], a.order[i+1:]...)
					break
				}
			}
			a.mu.Unlock()
		})
	}
}

// Write processes one chunk of the response body.
func (a *Assembler) Write(chunk []byte) (int, error) {
	if a.closed.Load() {
		return 0, ErrClosed
	}
	a.feedMu.Lock()
	defer a.feedMu.Unlock()
	if a.isFinished() {
		return len(chunk), nil
	}
	n, _ := a.dec.Write(chunk)
	a.mu.Lock()
	a.sawDone = a.dec.Done()
	a.mu.Unlock()
	a.notify()
	return n, nil
}

// Finish flushes the unterminated tail and marks the reply complete.
// It is safe to call more than once.
func (a *Assembler) Finish() {
	if a.closed.Load() {
		return
	}
	a.feedMu.Lock()
	defer a.feedMu.Unlock()
	a.mu.Lock()
	if a.finished {
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()

	a.dec.Flush()
	a.mu.Lock()
	a.finished = true
	a.pending = append(a.pending, Update{Text: a.text.String(), Done: true})
	a.mu.Unlock()
	a.notify()
}

// ReadFrom pumps r into the assembler until EOF, then calls Finish.
// It stops early when ctx is cancelled or the assembler is closed.
func (a *Assembler) ReadFrom(ctx context.Context, r io.Reader) error {
	buf := make([]byte, readChunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := a.Write(buf[:n]); werr != nil {
				return werr
			}
		}
		if errors.Is(err, io.EOF) {
			a.Finish()
			return nil
		}
		if err != nil {
			return fmt.Errorf("read stream: %w", err)
		}
	}
}

// Close tears the assembler down. Observers receive nothing afterwards.
func (a *Assembler) Close() {
	if a.closed.Swap(true) {
		return
	}
	a.mu.Lock()
	a.subs = make(map[int]Observer)
	a.order = nil
	a.pending = nil
	a.mu.Unlock()
}

// Text returns the text accumulated so far.
func (a *Assembler) Text() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.text.String()
}

// Done reports whether the stream reached [DONE] or end of body.
func (a *Assembler) Done() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finished || a.sawDone
}

// Ignored returns how many fragments were dropped because they did not parse.
func (a *Assembler) Ignored() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ignored
}

func (a *Assembler) isFinished() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finished
}

// apply runs on the decoder callback with feedMu held.
func (a *Assembler) apply(raw string) {
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		a.mu.Lock()
		a.ignored++
		a.mu.Unlock()
		a.logger.Debug("stream fragment ignored", "err", err)
		return
	}
	delta := p.Content
	if delta == "" {
		if msg := errorMessage(p.Error); msg != "" {
			delta = "[error: " + msg + "]"
		}
	}
	if delta == "" {
		return
	}
	a.mu.Lock()
	a.text.WriteString(delta)
	a.pending = append(a.pending, Update{Text: a.text.String(), Delta: delta})
	a.mu.Unlock()
}

func (a *Assembler) notify() {
	a.mu.Lock()
	updates := a.pending
	a.pending = nil
	observers := make([]Observer, 0, len(a.order))
	for _, id := range a.order {
		observers = append(observers, a.subs[id])
	}
	a.mu.Unlock()

	for _, u := range updates {
		for _, fn := range observers {
			if a.closed.Load() {
				return
			}
			fn(u)
		}
	}
}

// errorMessage accepts either a JSON string or an object with a "message" field.
func errorMessage(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return strings.TrimSpace(obj.Message)
	}
	return strings.TrimSpace(string(raw))
}
