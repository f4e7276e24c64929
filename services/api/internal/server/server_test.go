package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"bookie/pkg/ai"
	"bookie/pkg/domain"
	"bookie/pkg/store"
	"bookie/pkg/stream"
	"bookie/services/api/internal/app"
	"bookie/services/api/internal/googlebooks"
	"bookie/services/api/internal/hub"
)

type stubCatalog struct {
	err error
}

func (c stubCatalog) SearchByTitle(_ context.Context, title string) (googlebooks.SearchResult, error) {
	if c.err != nil {
		return googlebooks.SearchResult{}, c.err
	}
	return googlebooks.SearchResult{TotalItems: 1, Items: []domain.BookSearchItem{{ID: "v1", Title: title, Authors: []string{"Autora"}}}}, nil
}

func (c stubCatalog) LookupISBN(context.Context, string) (domain.Book, error) {
	return domain.Book{}, googlebooks.ErrNotFound
}

func (c stubCatalog) RandomBook(context.Context) (domain.BookRecommendation, error) {
	if c.err != nil {
		return domain.BookRecommendation{}, c.err
	}
	return domain.BookRecommendation{Title: "Rayuela", Authors: []string{"Julio Cortázar"}}, nil
}

type stubGenerator struct {
	deltas []string
	err    error
}

func (g stubGenerator) StreamChat(_ context.Context, _ string, _ []ai.ChatMessage, onDelta ai.DeltaFunc) error {
	for _, d := range g.deltas {
		if err := onDelta(d); err != nil {
			return err
		}
	}
	return g.err
}

type testOptions struct {
	catalog   stubCatalog
	generator stubGenerator
	cfg       Config
}

func newTestServer(t *testing.T, opts testOptions) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(newTestAPI(t, opts).Router())
	t.Cleanup(ts.Close)
	return ts
}

func newTestAPI(t *testing.T, opts testOptions) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions, err := store.NewJWTSessionStore("server-test-secret-server-test-secret", time.Hour, store.NewMemoryTokenRevoker(), store.JWTOptions{})
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	if opts.generator.deltas == nil && opts.generator.err == nil {
		opts.generator.deltas = []string{"Te recomiendo ", "Rayuela."}
	}
	core, err := app.New(app.Config{
		Store:         store.NewMemoryStore(),
		Sessions:      sessions,
		RefreshTokens: store.NewMemoryRefreshTokenStore(time.Hour),
		Catalog:       opts.catalog,
		Generator:     opts.generator,
		Logger:        logger,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	h := hub.New(core, hub.Config{Logger: logger})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)

	cfg := opts.cfg
	cfg.App = core
	cfg.Hub = h
	cfg.Logger = logger
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return srv
}

func doJSON(t *testing.T, method, url, token string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, raw
}

func signup(t *testing.T, baseURL, username string) authResponse {
	t.Helper()
	resp, raw := doJSON(t, http.MethodPost, baseURL+"/api/auth/signup", "", map[string]string{
		"username": username,
		"email":    username + "@example.com",
		"password": "secreto123",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup %s: status %d body %s", username, resp.StatusCode, raw)
	}
	var out authResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode signup: %v", err)
	}
	if out.Token == "" || out.RefreshToken == "" || out.User.ID == "" {
		t.Fatalf("incomplete signup response: %s", raw)
	}
	return out
}

func errorMessage(t *testing.T, raw []byte) string {
	t.Helper()
	var body map[string]string
	if err := json.Unmarshal(raw, &body); err != nil {
		t.Fatalf("decode error body %q: %v", raw, err)
	}
	return body["error"]
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, testOptions{})
	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/healthz", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
}

func TestAuthFlow(t *testing.T) {
	ts := newTestServer(t, testOptions{})
	auth := signup(t, ts.URL, "lectora")

	resp, raw := doJSON(t, http.MethodGet, ts.URL+"/api/me", auth.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me: status %d body %s", resp.StatusCode, raw)
	}
	if strings.Contains(string(raw), "password") {
		t.Fatalf("password hash leaked: %s", raw)
	}

	resp, raw = doJSON(t, http.MethodPost, ts.URL+"/api/auth/refresh", "", map[string]string{"refresh_token": auth.RefreshToken})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh: status %d body %s", resp.StatusCode, raw)
	}
	var refreshed refreshResponse
	if err := json.Unmarshal(raw, &refreshed); err != nil || refreshed.AccessToken == "" || refreshed.RefreshToken == "" {
		t.Fatalf("bad refresh response %s: %v", raw, err)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/auth/refresh", "", map[string]string{"refresh_token": auth.RefreshToken})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("replayed refresh token: expected 401, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/auth/logout", refreshed.AccessToken, map[string]string{"refresh_token": refreshed.RefreshToken})
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout: expected 204, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/me", refreshed.AccessToken, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked token: expected 401, got %d", resp.StatusCode)
	}
}

func TestSignupValidation(t *testing.T) {
	ts := newTestServer(t, testOptions{})
	signup(t, ts.URL, "repetido")

	resp, raw := doJSON(t, http.MethodPost, ts.URL+"/api/auth/signup", "", map[string]string{
		"username": "otro", "email": "repetido@example.com", "password": "secreto123",
	})
	if resp.StatusCode != http.StatusConflict || errorMessage(t, raw) != app.ErrEmailAlreadyExists.Error() {
		t.Fatalf("duplicate email: status %d body %s", resp.StatusCode, raw)
	}

	resp, raw = doJSON(t, http.MethodPost, ts.URL+"/api/auth/signup", "", map[string]string{
		"username": "nuevo", "email": "no-es-email", "password": "secreto123",
	})
	if resp.StatusCode != http.StatusBadRequest || !strings.Contains(errorMessage(t, raw), "'email'") {
		t.Fatalf("invalid email: status %d body %s", resp.StatusCode, raw)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/auth/login", "", map[string]string{
		"email": "repetido@example.com", "password": "incorrecta9",
	})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password: expected 401, got %d", resp.StatusCode)
	}
}

func TestRequiresBearerToken(t *testing.T) {
	ts := newTestServer(t, testOptions{})
	for _, path := range []string{"/api/me", "/api/events", "/api/chat/my-channels"} {
		resp, _ := doJSON(t, http.MethodGet, ts.URL+path, "", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, resp.StatusCode)
		}
	}
	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/me", "not-a-jwt", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("invalid token: expected 401, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/realtime", "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("realtime without token: expected 401, got %d", resp.StatusCode)
	}
}

func TestChannelLifecycle(t *testing.T) {
	ts := newTestServer(t, testOptions{})
	owner := signup(t, ts.URL, "duena")
	guest := signup(t, ts.URL, "invitado")
	body := map[string]any{"isbn": "978-84-376-0494-7", "book_title": "Cien años de soledad", "authors": []string{"Gabriel García Márquez"}}

	resp, raw := doJSON(t, http.MethodPost, ts.URL+"/api/chat/create-or-join-channel-by-isbn", owner.Token, body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create channel: status %d body %s", resp.StatusCode, raw)
	}
	var created channelResponse
	if err := json.Unmarshal(raw, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ChannelID != "book-isbn-9788437604947" || !created.Created {
		t.Fatalf("unexpected create response %+v", created)
	}

	resp, raw = doJSON(t, http.MethodPost, ts.URL+"/api/chat/create-or-join-channel-by-isbn", guest.Token, body)
	var joined channelResponse
	if err := json.Unmarshal(raw, &joined); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.StatusCode != http.StatusOK || joined.Created || joined.ChannelID != created.ChannelID || joined.Status != "joined" {
		t.Fatalf("second create-or-join: status %d body %s", resp.StatusCode, raw)
	}

	resp, raw = doJSON(t, http.MethodPost, ts.URL+"/api/chat/join-channel/"+created.ChannelID, guest.Token, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(raw), `"already_member"`) {
		t.Fatalf("rejoin: status %d body %s", resp.StatusCode, raw)
	}

	resp, raw = doJSON(t, http.MethodGet, ts.URL+"/api/chat/public-channels", guest.Token, nil)
	var public struct {
		Channels []domain.ChannelSummary `json:"channels"`
	}
	if err := json.Unmarshal(raw, &public); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("public channels: status %d body %s", resp.StatusCode, raw)
	}
	if len(public.Channels) != 1 || public.Channels[0].MemberCount != 2 {
		t.Fatalf("unexpected directory %+v", public.Channels)
	}

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/chat/channels/"+created.ChannelID, guest.Token, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-creator delete: expected 403, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/chat/leave-channel/"+created.ChannelID, guest.Token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("leave: expected 200, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/chat/leave-channel/"+created.ChannelID, guest.Token, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("leave twice: expected 409, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/chat/join-channel/book-missing", guest.Token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("join unknown: expected 404, got %d", resp.StatusCode)
	}

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/chat/channels/"+created.ChannelID, owner.Token, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("creator delete: expected 204, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/chat/channels/"+created.ChannelID, owner.Token, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted channel: expected 404, got %d", resp.StatusCode)
	}
}

func TestEventSignup(t *testing.T) {
	ts := newTestServer(t, testOptions{})
	creator := signup(t, ts.URL, "organiza")
	reader := signup(t, ts.URL, "asiste")

	resp, raw := doJSON(t, http.MethodPost, ts.URL+"/api/events", creator.Token, map[string]string{
		"title": "Club de lectura", "date": "2026-11-05", "time": "19:30", "category": "club", "location": "Biblioteca",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create event: status %d body %s", resp.StatusCode, raw)
	}
	var ev domain.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/events", creator.Token, map[string]string{
		"title": "Mal", "date": "05/11/2026", "time": "19:30", "category": "club", "location": "Biblioteca",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad date: expected 400, got %d", resp.StatusCode)
	}

	signupURL := ts.URL + "/api/events/" + ev.ID + "/signup"
	if resp, _ = doJSON(t, http.MethodPost, signupURL, reader.Token, nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("signup: expected 204, got %d", resp.StatusCode)
	}
	if resp, _ = doJSON(t, http.MethodPost, signupURL, reader.Token, nil); resp.StatusCode != http.StatusConflict {
		t.Fatalf("signup twice: expected 409, got %d", resp.StatusCode)
	}
	if resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/events/missing/signup", reader.Token, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown event: expected 404, got %d", resp.StatusCode)
	}

	resp, raw = doJSON(t, http.MethodGet, ts.URL+"/api/users/"+reader.User.ID+"/events", reader.Token, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(raw), ev.ID) {
		t.Fatalf("user events: status %d body %s", resp.StatusCode, raw)
	}

	if resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/events/"+ev.ID, reader.Token, nil); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-creator delete: expected 403, got %d", resp.StatusCode)
	}
}

func TestLibraryEndpoints(t *testing.T) {
	ts := newTestServer(t, testOptions{})
	user := signup(t, ts.URL, "biblio")
	book := map[string]any{"isbn": "9780140449136", "title": "Crime and Punishment", "authors": []string{"Fyodor Dostoevsky"}}

	if resp, raw := doJSON(t, http.MethodPost, ts.URL+"/api/me/library", user.Token, book); resp.StatusCode != http.StatusCreated {
		t.Fatalf("add: status %d body %s", resp.StatusCode, raw)
	}
	if resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/me/library", user.Token, book); resp.StatusCode != http.StatusOK {
		t.Fatalf("add twice: expected 200, got %d", resp.StatusCode)
	}
	resp, raw := doJSON(t, http.MethodPut, ts.URL+"/api/me/top3", user.Token, map[string]any{
		"top3": []map[string]any{{"position": 1, "isbn": "9780140449136"}},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("top3: status %d body %s", resp.StatusCode, raw)
	}
	if resp, _ := doJSON(t, http.MethodDelete, ts.URL+"/api/me/library/9780140449136", user.Token, nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("remove: expected 204, got %d", resp.StatusCode)
	}
	if resp, _ := doJSON(t, http.MethodDelete, ts.URL+"/api/me/library/9780140449136", user.Token, nil); resp.StatusCode != http.StatusNotFound {
		t.Fatalf("remove twice: expected 404, got %d", resp.StatusCode)
	}
}

func TestBookSearch(t *testing.T) {
	ts := newTestServer(t, testOptions{})
	user := signup(t, ts.URL, "buscador")

	if resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/books/search", user.Token, nil); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing title: expected 400, got %d", resp.StatusCode)
	}
	resp, raw := doJSON(t, http.MethodGet, ts.URL+"/api/books/search?title=rayuela", user.Token, nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(raw), `"totalItems":1`) {
		t.Fatalf("search: status %d body %s", resp.StatusCode, raw)
	}

	failing := newTestServer(t, testOptions{catalog: stubCatalog{err: &googlebooks.UpstreamError{Status: 500}}})
	other := signup(t, failing.URL, "buscador")
	resp, raw = doJSON(t, http.MethodGet, failing.URL+"/api/books/search?title=rayuela", other.Token, nil)
	if resp.StatusCode != http.StatusBadGateway || errorMessage(t, raw) != app.ErrCatalogUnavailable.Error() {
		t.Fatalf("upstream failure: status %d body %s", resp.StatusCode, raw)
	}
}

func TestSignupRateLimit(t *testing.T) {
	ts := newTestServer(t, testOptions{cfg: Config{SignupRateLimitPerMinute: 1}})
	signup(t, ts.URL, "primera")

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/auth/signup", "", map[string]string{
		"username": "segunda", "email": "segunda@example.com", "password": "secreto123",
	})
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After header")
	}
}

func readSSE(t *testing.T, resp *http.Response) ([]map[string]string, bool) {
	t.Helper()
	var frames []map[string]string
	dec := stream.NewDecoder(func(payload string) {
		var frame map[string]string
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			t.Errorf("decode frame %q: %v", payload, err)
			return
		}
		frames = append(frames, frame)
	})
	if _, err := io.Copy(dec, resp.Body); err != nil {
		t.Fatalf("read stream: %v", err)
	}
	dec.Flush()
	return frames, dec.Done()
}

func postAIChat(t *testing.T, baseURL, token string, body any) *http.Response {
	t.Helper()
	data, _ := json.Marshal(body)
	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/ai-chat", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("ai chat: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestAIChatStreamsDeltas(t *testing.T) {
	ts := newTestServer(t, testOptions{})
	user := signup(t, ts.URL, "curiosa")

	resp := postAIChat(t, ts.URL, user.Token, map[string]any{
		"message": "¿Qué leo después de Pedro Páramo?",
		"history": []map[string]string{{"role": "user", "content": "hola"}, {"role": "assistant", "content": "¡Hola!"}},
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}
	frames, done := readSSE(t, resp)
	if !done {
		t.Fatalf("stream did not end with [DONE]")
	}
	var text strings.Builder
	for _, f := range frames {
		text.WriteString(f["content"])
	}
	if text.String() != "Te recomiendo Rayuela." {
		t.Fatalf("unexpected text %q", text.String())
	}
}

func TestAIChatReportsProviderFailure(t *testing.T) {
	ts := newTestServer(t, testOptions{generator: stubGenerator{err: ai.ErrEmptyReply}})
	user := signup(t, ts.URL, "curioso")

	frames, done := readSSE(t, postAIChat(t, ts.URL, user.Token, map[string]string{"message": "hola"}))
	if !done {
		t.Fatalf("stream did not end with [DONE]")
	}
	if len(frames) != 1 || frames[0]["error"] == "" {
		t.Fatalf("expected one error frame, got %+v", frames)
	}

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/ai-chat", user.Token, map[string]string{"message": ""})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty message: expected 400, got %d", resp.StatusCode)
	}
}

func TestLoginRateLimitSharedThroughRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ts := newTestServer(t, testOptions{cfg: Config{Redis: client, LoginRateLimitPerMinute: 1}})
	creds := map[string]string{"email": "nadie@example.com", "password": "secreto123"}

	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/api/auth/login", "", creds)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("first login: expected 401, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/auth/login", "", creds)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second login: expected 429, got %d", resp.StatusCode)
	}
	if len(mr.Keys()) == 0 {
		t.Fatalf("expected limiter keys in redis")
	}
}
