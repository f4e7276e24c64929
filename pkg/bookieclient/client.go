// Package bookieclient calls the Bookie REST API.
//
// Every authenticated method takes the bearer token explicitly so that callers
// can wrap calls with session.Session.WithAuthRetry.
package bookieclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bookie/pkg/domain"
)

// Client calls the Bookie API over HTTP.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	streamClient *http.Client
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the client used for regular JSON calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithStreamClient replaces the client used for streamed responses.
// It should not carry an overall timeout.
func WithStreamClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.streamClient = hc
		}
	}
}

// NewClient constructs an API client. baseURL is the server root, without /api.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:      strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		streamClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the server root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// auth

type SignupRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token        string      `json:"token"`
	RefreshToken string      `json:"refresh_token"`
	User         domain.User `json:"user"`
}

type RefreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

func (c *Client) Signup(ctx context.Context, req SignupRequest) (AuthResponse, error) {
	var out AuthResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/signup", "", req, &out)
	return out, err
}

func (c *Client) Login(ctx context.Context, email, password string) (AuthResponse, error) {
	var out AuthResponse
	payload := map[string]string{"email": email, "password": password}
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", "", payload, &out)
	return out, err
}

// Refresh exchanges a refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (RefreshResponse, error) {
	var out RefreshResponse
	payload := map[string]string{"refresh_token": refreshToken}
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/refresh", "", payload, &out); err != nil {
		return RefreshResponse{}, err
	}
	if out.AccessToken == "" {
		return RefreshResponse{}, &APIError{Status: http.StatusBadGateway, Message: "refresh response missing access_token"}
	}
	return out, nil
}

func (c *Client) Logout(ctx context.Context, token, refreshToken string) error {
	payload := map[string]string{"refresh_token": refreshToken}
	return c.doJSON(ctx, http.MethodPost, "/api/auth/logout", token, payload, nil)
}

func (c *Client) Me(ctx context.Context, token string) (domain.User, error) {
	var out domain.User
	err := c.doJSON(ctx, http.MethodGet, "/api/me", token, nil, &out)
	return out, err
}

// chat channels

// ChannelBookRequest carries the book a channel is created for.
type ChannelBookRequest struct {
	ISBN      string   `json:"isbn"`
	BookTitle string   `json:"book_title"`
	Thumbnail string   `json:"thumbnail,omitempty"`
	Authors   []string `json:"authors"`
}

type ChannelResponse struct {
	ChannelID string `json:"channel_id"`
	Created   bool   `json:"created,omitempty"`
	Status    string `json:"status,omitempty"`
}

func (c *Client) CreateOrJoinChannelByISBN(ctx context.Context, token string, req ChannelBookRequest) (ChannelResponse, error) {
	var out ChannelResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/chat/create-or-join-channel-by-isbn", token, req, &out)
	return out, err
}

func (c *Client) CreateOrJoinChannelByTitle(ctx context.Context, token, title string) (ChannelResponse, error) {
	var out ChannelResponse
	payload := map[string]string{"book_title": title}
	err := c.doJSON(ctx, http.MethodPost, "/api/chat/create-or-join-channel", token, payload, &out)
	return out, err
}

func (c *Client) JoinChannel(ctx context.Context, token, channelID string) (ChannelResponse, error) {
	var out ChannelResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/chat/join-channel/"+url.PathEscape(channelID), token, nil, &out)
	return out, err
}

func (c *Client) LeaveChannel(ctx context.Context, token, channelID string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/chat/leave-channel/"+url.PathEscape(channelID), token, nil, nil)
}

func (c *Client) DeleteChannel(ctx context.Context, token, channelID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/chat/channels/"+url.PathEscape(channelID), token, nil, nil)
}

func (c *Client) GetChannel(ctx context.Context, token, channelID string) (domain.ChannelDetail, error) {
	var out domain.ChannelDetail
	err := c.doJSON(ctx, http.MethodGet, "/api/chat/channels/"+url.PathEscape(channelID), token, nil, &out)
	return out, err
}

func (c *Client) PublicChannels(ctx context.Context, token string) ([]domain.ChannelSummary, error) {
	var out struct {
		Channels []domain.ChannelSummary `json:"channels"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/chat/public-channels", token, nil, &out); err != nil {
		return nil, err
	}
	return out.Channels, nil
}

func (c *Client) MyChannels(ctx context.Context, token string) ([]domain.Channel, error) {
	var out struct {
		Channels []domain.Channel `json:"channels"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/chat/my-channels", token, nil, &out); err != nil {
		return nil, err
	}
	return out.Channels, nil
}

// books, library, events

type BookSearchResult struct {
	TotalItems int                     `json:"totalItems"`
	Items      []domain.BookSearchItem `json:"items"`
}

func (c *Client) SearchBooks(ctx context.Context, token, title string) (BookSearchResult, error) {
	var out BookSearchResult
	path := "/api/books/search?" + url.Values{"title": {title}}.Encode()
	err := c.doJSON(ctx, http.MethodGet, path, token, nil, &out)
	return out, err
}

func (c *Client) Library(ctx context.Context, token string) ([]domain.LibraryEntry, error) {
	var out struct {
		Items []domain.LibraryEntry `json:"items"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/me/library", token, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

func (c *Client) AddToLibrary(ctx context.Context, token string, book domain.Book) (domain.LibraryEntry, error) {
	var out domain.LibraryEntry
	err := c.doJSON(ctx, http.MethodPost, "/api/me/library", token, book, &out)
	return out, err
}

func (c *Client) RemoveFromLibrary(ctx context.Context, token, isbn string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/me/library/"+url.PathEscape(isbn), token, nil, nil)
}

type EventRequest struct {
	Title    string `json:"title"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	Category string `json:"category"`
	Location string `json:"location"`
}

func (c *Client) Events(ctx context.Context, token string) ([]domain.Event, error) {
	var out struct {
		Events []domain.Event `json:"events"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/events", token, nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

func (c *Client) CreateEvent(ctx context.Context, token string, req EventRequest) (domain.Event, error) {
	var out domain.Event
	err := c.doJSON(ctx, http.MethodPost, "/api/events", token, req, &out)
	return out, err
}

func (c *Client) SignupEvent(ctx context.Context, token, eventID string) error {
	return c.doJSON(ctx, http.MethodPost, "/api/events/"+url.PathEscape(eventID)+"/signup", token, nil, nil)
}

func (c *Client) UnsignupEvent(ctx context.Context, token, eventID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/events/"+url.PathEscape(eventID)+"/signup", token, nil, nil)
}

// ai chat

type AIChatRequest struct {
	Message string           `json:"message"`
	History []domain.Message `json:"history"`
}

// AIChat starts a streamed AI reply. The caller must close the returned body.
func (c *Client) AIChat(ctx context.Context, token string, req AIChatRequest) (io.ReadCloser, error) {
	if req.History == nil {
		req.History = []domain.Message{}
	}
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/api/ai-chat", token, req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ai chat request: %w", err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, decodeAPIError(resp)
	}
	return resp.Body, nil
}

func (c *Client) RandomBook(ctx context.Context, token string) (domain.BookRecommendation, error) {
	var out domain.BookRecommendation
	err := c.doJSON(ctx, http.MethodGet, "/api/ai-chat/random-book", token, nil, &out)
	return out, err
}

func (c *Client) newRequest(ctx context.Context, method, path, token string, payload any) (*http.Request, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path, token string, payload any, out any) error {
	req, err := c.newRequest(ctx, method, path, token, payload)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&errResp)
	msg := errResp.Error
	if msg == "" {
		msg = errResp.Message
	}
	if msg == "" {
		msg = resp.Status
	}
	return &APIError{Status: resp.StatusCode, Message: msg}
}
