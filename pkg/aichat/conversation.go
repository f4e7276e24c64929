// Package aichat keeps an AI book-assistant conversation and streams replies
// into it.
package aichat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"bookie/pkg/bookieclient"
	"bookie/pkg/domain"
	"bookie/pkg/session"
	"bookie/pkg/stream"
)

const (
	// HistoryWindow is how many prior messages are sent with each question.
	HistoryWindow = 10
	// DescriptionLimit caps the description shown for a random pick.
	DescriptionLimit = 300

	Greeting = "¡Hola! Soy tu asistente de recomendaciones de libros. ¿En qué puedo ayudarte hoy? " +
		"Puedes preguntarme sobre libros, géneros, autores, o simplemente decirme qué tipo de lectura buscas. " +
		"También puedes usar el botón 'Sorpréndeme' para recibir una recomendación aleatoria."
)

var (
	ErrBusy   = errors.New("aichat: a reply is already streaming")
	ErrClosed = errors.New("aichat: conversation closed")
)

// API is the part of the REST client the conversation needs.
type API interface {
	AIChat(ctx context.Context, token string, req bookieclient.AIChatRequest) (io.ReadCloser, error)
	RandomBook(ctx context.Context, token string) (domain.BookRecommendation, error)
}

type Authorizer interface {
	WithAuthRetry(ctx context.Context, call session.Call) error
}

// Conversation is a transcript plus the reply currently streaming into it.
type Conversation struct {
	api    API
	auth   Authorizer
	logger *slog.Logger

	mu       sync.Mutex
	messages []domain.Message
	busy     bool
	current  *stream.Assembler

	closed    atomic.Bool
	observers sync.Map
	nextObs   atomic.Int64
}

type Option func(*Conversation)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Conversation) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New starts a conversation seeded with the assistant greeting.
func New(api API, auth Authorizer, opts ...Option) *Conversation {
	c := &Conversation{
		api:      api,
		auth:     auth,
		logger:   slog.Default(),
		messages: []domain.Message{{Role: domain.RoleAssistant, Content: Greeting}},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Messages returns a copy of the transcript.
func (c *Conversation) Messages() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Message(nil), c.messages...)
}

// Busy reports whether a reply is streaming.
func (c *Conversation) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// OnChange registers fn to receive the transcript after every change. The
// returned function removes it.
func (c *Conversation) OnChange(fn func([]domain.Message)) func() {
	id := c.nextObs.Add(1)
	c.observers.Store(id, fn)
	return func() { c.observers.Delete(id) }
}

func (c *Conversation) changed() {
	if c.closed.Load() {
		return
	}
	snapshot := c.Messages()
	c.observers.Range(func(_, v any) bool {
		v.(func([]domain.Message))(snapshot)
		return true
	})
}

func (c *Conversation) appendMessage(m domain.Message) int {
	c.mu.Lock()
	c.messages = append(c.messages, m)
	idx := len(c.messages) - 1
	c.mu.Unlock()
	c.changed()
	return idx
}

// Send asks text and streams the reply into a new assistant message. Blank
// text is ignored. Failures are also recorded in the transcript.
func (c *Conversation) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if c.closed.Load() {
		return ErrClosed
	}
	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return ErrBusy
	}
	c.busy = true
	start := max(0, len(c.messages)-HistoryWindow)
	history := append([]domain.Message(nil), c.messages[start:]...)
	c.messages = append(c.messages, domain.Message{Role: domain.RoleUser, Content: text})
	c.mu.Unlock()
	c.changed()

	defer func() {
		c.mu.Lock()
		c.busy = false
		c.current = nil
		c.mu.Unlock()
	}()

	var body io.ReadCloser
	err := c.auth.WithAuthRetry(ctx, func(ctx context.Context, token string) error {
		var err error
		body, err = c.api.AIChat(ctx, token, bookieclient.AIChatRequest{Message: text, History: history})
		return err
	})
	if err != nil {
		c.fail(err)
		return err
	}
	defer body.Close()

	idx := c.appendMessage(domain.Message{Role: domain.RoleAssistant})
	asm := stream.NewAssembler(stream.WithLogger(c.logger))
	asm.Subscribe(func(u stream.Update) {
		c.mu.Lock()
		if idx < len(c.messages) {
			c.messages[idx].Content = u.Text
		}
		c.mu.Unlock()
		c.changed()
	})
	c.mu.Lock()
	c.current = asm
	c.mu.Unlock()
	if c.closed.Load() {
		asm.Close()
		return ErrClosed
	}

	if err := asm.ReadFrom(ctx, body); err != nil {
		if c.closed.Load() || errors.Is(err, stream.ErrClosed) {
			return ErrClosed
		}
		c.fail(err)
		return err
	}
	if n := asm.Ignored(); n > 0 {
		c.logger.Debug("ai chat fragments ignored", "count", n)
	}
	return nil
}

func (c *Conversation) fail(err error) {
	c.logger.Warn("ai chat failed", "err", err)
	if c.closed.Load() {
		return
	}
	c.appendMessage(domain.Message{Role: domain.RoleAssistant, Content: "Lo siento, ocurrió un error: " + errorText(err)})
}

// SurpriseMe appends a random book recommendation.
func (c *Conversation) SurpriseMe(ctx context.Context) (domain.BookRecommendation, error) {
	if c.closed.Load() {
		return domain.BookRecommendation{}, ErrClosed
	}
	var book domain.BookRecommendation
	err := c.auth.WithAuthRetry(ctx, func(ctx context.Context, token string) error {
		var err error
		book, err = c.api.RandomBook(ctx, token)
		return err
	})
	if err != nil {
		c.fail(err)
		return book, err
	}
	if !c.closed.Load() {
		c.appendMessage(domain.Message{
			Role:    domain.RoleAssistant,
			Content: "¡Aquí tienes una recomendación sorpresa! 🎉\n\n" + FormatRecommendation(book),
		})
	}
	return book, nil
}

// Close stops the conversation. A streaming reply stops updating the
// transcript and observers are not called again.
func (c *Conversation) Close() {
	if c.closed.Swap(true) {
		return
	}
	c.mu.Lock()
	asm := c.current
	c.mu.Unlock()
	if asm != nil {
		asm.Close()
	}
	c.observers.Range(func(k, _ any) bool {
		c.observers.Delete(k)
		return true
	})
}

// FormatRecommendation renders a recommendation as chat text.
func FormatRecommendation(b domain.BookRecommendation) string {
	authors := "Autor desconocido"
	if len(b.Authors) > 0 {
		authors = strings.Join(b.Authors, ", ")
	}
	description := "Sin descripción disponible"
	if b.Description != "" {
		description = Truncate(b.Description, DescriptionLimit)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "📚 **%s**\n\n", b.Title)
	fmt.Fprintf(&sb, "👤 Autor(es): %s\n\n", authors)
	if b.PublishedDate != "" {
		fmt.Fprintf(&sb, "📅 Publicado: %s\n\n", b.PublishedDate)
	}
	if len(b.Categories) > 0 {
		fmt.Fprintf(&sb, "🏷️ Géneros: %s\n\n", strings.Join(b.Categories, ", "))
	}
	if b.PageCount > 0 {
		sb.WriteString("📖 Páginas: " + strconv.Itoa(b.PageCount) + "\n\n")
	}
	sb.WriteString("📝 Descripción: " + description)
	return sb.String()
}

// Truncate cuts s to limit runes and marks the cut with "...".
func Truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "..."
}

func errorText(err error) string {
	var apiErr *bookieclient.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	if errors.Is(err, bookieclient.ErrAuthenticationRequired) {
		return "No estás autenticado. Por favor, inicia sesión."
	}
	return err.Error()
}
