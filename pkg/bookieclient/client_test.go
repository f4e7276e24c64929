package bookieclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookie/pkg/domain"
)

func TestClientMapsErrorResponses(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/chat/public-channels":
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
		case "/api/chat/leave-channel/book-isbn-1":
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(map[string]string{"message": "not a member"})
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()
	c := NewClient(srv.URL)

	_, err := c.PublicChannels(context.Background(), "tok")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.True(t, errors.Is(err, ErrRemoteRequestFailed))
	assert.Equal(t, http.StatusUnauthorized, StatusOf(err))

	err = c.LeaveChannel(context.Background(), "tok", "book-isbn-1")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnauthorized))
	assert.Equal(t, "not a member", err.Error())

	err = c.DeleteChannel(context.Background(), "tok", "x")
	require.Error(t, err)
	assert.Equal(t, "502 Bad Gateway", err.Error())
}

func TestClientSendsBearerAndPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "/api/chat/create-or-join-channel-by-isbn", r.URL.Path)
		var req ChannelBookRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "9780134685991", req.ISBN)
		assert.Equal(t, []string{"Joshua Bloch"}, req.Authors)
		_ = json.NewEncoder(w).Encode(ChannelResponse{ChannelID: "book-isbn-9780134685991", Created: true})
	}))
	defer srv.Close()

	out, err := NewClient(srv.URL).CreateOrJoinChannelByISBN(context.Background(), "tok", ChannelBookRequest{
		ISBN:      "9780134685991",
		BookTitle: "Effective Java",
		Authors:   []string{"Joshua Bloch"},
	})
	require.NoError(t, err)
	assert.Equal(t, "book-isbn-9780134685991", out.ChannelID)
	assert.True(t, out.Created)
}

func TestClientRefreshRequiresAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Refresh(context.Background(), "r1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRemoteRequestFailed))
}

func TestClientAIChatReturnsStreamBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req AIChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hola", req.Message)
		assert.Len(t, req.History, 1)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "data: {\"content\":\"hi\"}\n\ndata: [DONE]\n\n")
	}))
	defer srv.Close()

	body, err := NewClient(srv.URL).AIChat(context.Background(), "tok", AIChatRequest{
		Message: "hola",
		History: []domain.Message{{Role: domain.RoleUser, Content: "antes"}},
	})
	require.NoError(t, err)
	defer body.Close()
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[DONE]")
}
