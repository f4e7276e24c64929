package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"bookie/pkg/bookieclient"
	"bookie/pkg/session"
)

func newTestEnv(t *testing.T, handler http.Handler, tokens session.Tokens) (*env, *bytes.Buffer) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	api := bookieclient.NewClient(ts.URL)
	sess, err := session.New(session.NewMemoryTokenStore(tokens), api)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	var out bytes.Buffer
	return &env{
		api:     api,
		session: sess,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		out:     &out,
		in:      strings.NewReader(""),
	}, &out
}

func TestLoginPersistsTokens(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token":         "access-1",
			"refresh_token": "refresh-1",
			"user":          map[string]any{"id": "u1", "username": "lectora"},
		})
	})
	e, out := newTestEnv(t, mux, session.Tokens{})

	if err := runLogin(context.Background(), e, []string{"-email", "a@example.com", "-password", "secreto123"}); err != nil {
		t.Fatalf("login: %v", err)
	}
	got := e.session.Tokens()
	if got.AccessToken != "access-1" || got.RefreshToken != "refresh-1" || got.UserID != "u1" {
		t.Fatalf("unexpected tokens %+v", got)
	}
	if !strings.Contains(out.String(), "lectora") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestSearchRefreshesExpiredToken(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/books/search", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"no autorizado"}`))
			return
		}
		_, _ = w.Write([]byte(`{"totalItems":1,"items":[{"id":"v1","title":"Rayuela","authors":["Julio Cortázar"],"isbn":"9788437604572"}]}`))
	})
	mux.HandleFunc("/api/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh","refresh_token":"refresh-2"}`))
	})
	e, out := newTestEnv(t, mux, session.Tokens{AccessToken: "stale", RefreshToken: "refresh-1", UserID: "u1"})

	if err := runSearch(context.Background(), e, []string{"rayuela"}); err != nil {
		t.Fatalf("search: %v", err)
	}
	if !strings.Contains(out.String(), "Rayuela (Julio Cortázar)") {
		t.Fatalf("unexpected output %q", out.String())
	}
	if e.session.Tokens().AccessToken != "fresh" {
		t.Fatalf("expected refreshed token to be kept")
	}
}

func TestOpenRequiresSignIn(t *testing.T) {
	e, _ := newTestEnv(t, http.NotFoundHandler(), session.Tokens{})
	err := runOpen(context.Background(), e, []string{"-isbn", "9788437604947"})
	if !errors.Is(err, bookieclient.ErrAuthenticationRequired) {
		t.Fatalf("expected authentication required, got %v", err)
	}
}

func TestDescribe(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{bookieclient.ErrAuthenticationRequired, "no has iniciado sesión (usa: bookie login)"},
		{&bookieclient.APIError{Status: 409, Message: "ya estás inscrito"}, "ya estás inscrito (HTTP 409)"},
		{errors.New("boom"), "boom"},
	}
	for _, tc := range cases {
		if got := describe(tc.err); got != tc.want {
			t.Fatalf("describe(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestLookup(t *testing.T) {
	if _, ok := lookup("open"); !ok {
		t.Fatalf("expected open command")
	}
	if _, ok := lookup("nope"); ok {
		t.Fatalf("unexpected command")
	}
}
