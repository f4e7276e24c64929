// Package googlebooks wraps the subset of the Google Books volumes API that
// Bookie uses: title search, ISBN lookup and random picks.
package googlebooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"bookie/pkg/channelkey"
	"bookie/pkg/domain"
)

const DefaultBaseURL = "https://www.googleapis.com/books/v1"

// ErrNotFound is returned when a lookup matches no volume.
var ErrNotFound = errors.New("googlebooks: no matching volume")

// UpstreamError is a non-200 answer from Google Books.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("googlebooks: upstream returned %d", e.Status)
}

// randomSubjects seeds "surprise me" picks.
var randomSubjects = []string{
	"ficción", "novela", "fantasía", "ciencia ficción", "misterio",
	"historia", "poesía", "aventura", "biografía", "clásicos",
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	// intn is swapped in tests.
	intn func(int) int
}

func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		intn:       rand.IntN,
	}
}

type volumesResponse struct {
	TotalItems int      `json:"totalItems"`
	Items      []volume `json:"items"`
}

type volume struct {
	ID         string     `json:"id"`
	VolumeInfo volumeInfo `json:"volumeInfo"`
}

type volumeInfo struct {
	Title               string   `json:"title"`
	Authors             []string `json:"authors"`
	Publisher           string   `json:"publisher"`
	PublishedDate       string   `json:"publishedDate"`
	Description         string   `json:"description"`
	Categories          []string `json:"categories"`
	PageCount           int      `json:"pageCount"`
	IndustryIdentifiers []struct {
		Type       string `json:"type"`
		Identifier string `json:"identifier"`
	} `json:"industryIdentifiers"`
	ImageLinks struct {
		SmallThumbnail string `json:"smallThumbnail"`
		Thumbnail      string `json:"thumbnail"`
	} `json:"imageLinks"`
}

func (v volumeInfo) thumbnail() string {
	if v.ImageLinks.Thumbnail != "" {
		return v.ImageLinks.Thumbnail
	}
	return v.ImageLinks.SmallThumbnail
}

// isbn prefers ISBN-13 and falls back to ISBN-10.
func (v volumeInfo) isbn() string {
	var isbn10 string
	for _, id := range v.IndustryIdentifiers {
		switch id.Type {
		case "ISBN_13":
			return channelkey.NormalizeKey(id.Identifier)
		case "ISBN_10":
			isbn10 = channelkey.NormalizeKey(id.Identifier)
		}
	}
	return isbn10
}

// SearchResult mirrors the /api/books/search payload.
type SearchResult struct {
	TotalItems int                     `json:"totalItems"`
	Items      []domain.BookSearchItem `json:"items"`
}

// SearchByTitle runs an intitle: query restricted to Spanish printed books.
func (c *Client) SearchByTitle(ctx context.Context, title string) (SearchResult, error) {
	q := url.Values{
		"q":            {"intitle:" + title},
		"maxResults":   {"10"},
		"langRestrict": {"es"},
		"printType":    {"books"},
	}
	resp, err := c.volumes(ctx, q)
	if err != nil {
		return SearchResult{}, err
	}
	out := SearchResult{TotalItems: resp.TotalItems, Items: make([]domain.BookSearchItem, 0, len(resp.Items))}
	for _, it := range resp.Items {
		vi := it.VolumeInfo
		authors := vi.Authors
		if authors == nil {
			authors = []string{}
		}
		out.Items = append(out.Items, domain.BookSearchItem{
			ID:            it.ID,
			Title:         vi.Title,
			Authors:       authors,
			PublishedDate: vi.PublishedDate,
			Thumbnail:     vi.thumbnail(),
			ISBN:          vi.isbn(),
		})
	}
	return out, nil
}

// LookupISBN returns catalog data for an ISBN.
func (c *Client) LookupISBN(ctx context.Context, isbn string) (domain.Book, error) {
	norm := channelkey.NormalizeKey(isbn)
	if norm == "" {
		return domain.Book{}, ErrNotFound
	}
	resp, err := c.volumes(ctx, url.Values{"q": {"isbn:" + norm}, "maxResults": {"1"}})
	if err != nil {
		return domain.Book{}, err
	}
	if len(resp.Items) == 0 {
		return domain.Book{}, ErrNotFound
	}
	vi := resp.Items[0].VolumeInfo
	return domain.Book{
		ISBN:      norm,
		Title:     vi.Title,
		Authors:   vi.Authors,
		Publisher: vi.Publisher,
		Thumbnail: vi.thumbnail(),
	}, nil
}

// RandomBook picks a titled Spanish volume from a random subject and page.
func (c *Client) RandomBook(ctx context.Context) (domain.BookRecommendation, error) {
	subject := randomSubjects[c.intn(len(randomSubjects))]
	q := url.Values{
		"q":            {"subject:" + subject},
		"startIndex":   {strconv.Itoa(c.intn(40))},
		"maxResults":   {"20"},
		"langRestrict": {"es"},
		"printType":    {"books"},
	}
	resp, err := c.volumes(ctx, q)
	if err != nil {
		return domain.BookRecommendation{}, err
	}
	var candidates []volumeInfo
	for _, it := range resp.Items {
		if strings.TrimSpace(it.VolumeInfo.Title) != "" {
			candidates = append(candidates, it.VolumeInfo)
		}
	}
	if len(candidates) == 0 {
		return domain.BookRecommendation{}, ErrNotFound
	}
	vi := candidates[c.intn(len(candidates))]
	authors := vi.Authors
	if len(authors) == 0 {
		authors = []string{"Autor desconocido"}
	}
	return domain.BookRecommendation{
		Title:         vi.Title,
		Authors:       authors,
		PublishedDate: vi.PublishedDate,
		Description:   HTMLToText(vi.Description),
		Categories:    vi.Categories,
		PageCount:     vi.PageCount,
		Thumbnail:     vi.thumbnail(),
		ISBN:          vi.isbn(),
	}, nil
}

func (c *Client) volumes(ctx context.Context, q url.Values) (volumesResponse, error) {
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/volumes?"+q.Encode(), nil)
	if err != nil {
		return volumesResponse{}, err
	}
	req.Header.Set("User-Agent", "bookie-api/1.0")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return volumesResponse{}, fmt.Errorf("googlebooks: request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 300))
		return volumesResponse{}, &UpstreamError{Status: resp.StatusCode, Body: string(body)}
	}
	var out volumesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return volumesResponse{}, fmt.Errorf("googlebooks: decode: %w", err)
	}
	return out, nil
}

// HTMLToText flattens the HTML that Google Books uses in descriptions.
func HTMLToText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.TrimSpace(s)
	}
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return strings.TrimSpace(s)
	}
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" {
				return
			}
			if node.Data == "br" {
				buf.WriteString(" ")
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if node.Type == html.ElementNode && (node.Data == "p" || node.Data == "div" || node.Data == "li") {
			buf.WriteString(" ")
		}
	}
	walk(doc)
	return strings.Join(strings.Fields(buf.String()), " ")
}
