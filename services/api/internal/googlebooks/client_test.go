package googlebooks

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

const volumesJSON = `{
  "totalItems": 2,
  "items": [
    {"id": "v1", "volumeInfo": {
      "title": "Cien años de soledad",
      "authors": ["Gabriel García Márquez"],
      "publisher": "Sudamericana",
      "publishedDate": "1967",
      "description": "<p>Una saga <b>familiar</b>.</p><p>Macondo.</p>",
      "categories": ["Fiction"],
      "pageCount": 471,
      "industryIdentifiers": [
        {"type": "ISBN_10", "identifier": "0307474720"},
        {"type": "ISBN_13", "identifier": "978-0307474728"}
      ],
      "imageLinks": {"smallThumbnail": "http://img/s.jpg", "thumbnail": "http://img/t.jpg"}
    }},
    {"id": "v2", "volumeInfo": {"title": "", "imageLinks": {"smallThumbnail": "http://img/s2.jpg"}}}
  ]
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(srv.URL, "")
	c.intn = func(int) int { return 0 }
	return c
}

func TestSearchByTitleBuildsQueryAndNormalizes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/volumes" || q.Get("q") != "intitle:cien años" || q.Get("maxResults") != "10" ||
			q.Get("langRestrict") != "es" || q.Get("printType") != "books" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		_, _ = w.Write([]byte(volumesJSON))
	})

	res, err := c.SearchByTitle(context.Background(), "cien años")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if res.TotalItems != 2 || len(res.Items) != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	first := res.Items[0]
	if first.ISBN != "9780307474728" || first.Thumbnail != "http://img/t.jpg" || first.Authors[0] != "Gabriel García Márquez" {
		t.Fatalf("unexpected first item %+v", first)
	}
	if second := res.Items[1]; second.Thumbnail != "http://img/s2.jpg" || second.Authors == nil {
		t.Fatalf("unexpected second item %+v", second)
	}
}

func TestSearchUpstreamFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	})
	_, err := c.SearchByTitle(context.Background(), "x")
	var upstream *UpstreamError
	if !errors.As(err, &upstream) || upstream.Status != http.StatusTooManyRequests {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestLookupISBN(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "isbn:9780307474728" {
			t.Errorf("q = %q", got)
		}
		_, _ = w.Write([]byte(volumesJSON))
	})
	book, err := c.LookupISBN(context.Background(), "978-0307474728")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if book.ISBN != "9780307474728" || book.Title != "Cien años de soledad" || book.Publisher != "Sudamericana" {
		t.Fatalf("unexpected book %+v", book)
	}
}

func TestLookupISBNNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"totalItems":0}`))
	})
	if _, err := c.LookupISBN(context.Background(), "123"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := c.LookupISBN(context.Background(), "  "); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for blank isbn, got %v", err)
	}
}

func TestRandomBookSkipsUntitledAndFlattensHTML(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("q") != "subject:ficción" || q.Get("startIndex") != "0" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		_, _ = w.Write([]byte(volumesJSON))
	})
	rec, err := c.RandomBook(context.Background())
	if err != nil {
		t.Fatalf("random book: %v", err)
	}
	if rec.Title != "Cien años de soledad" || rec.PageCount != 471 || rec.ISBN != "9780307474728" {
		t.Fatalf("unexpected recommendation %+v", rec)
	}
	if rec.Description != "Una saga familiar. Macondo." {
		t.Fatalf("description = %q", rec.Description)
	}
}

func TestHTMLToText(t *testing.T) {
	cases := map[string]string{
		"plain text ":                       "plain text",
		"a<br>b":                            "a b",
		"<script>x()</script><i>hola</i>":   "hola",
		"Tom &amp; Jerry":                   "Tom & Jerry",
		"<p>uno</p>\n\n<p>dos</p>":          "uno dos",
		"<ul><li>uno</li><li>dos</li></ul>": "uno dos",
	}
	for in, want := range cases {
		if got := HTMLToText(in); got != want {
			t.Fatalf("HTMLToText(%q) = %q, want %q", in, got, want)
		}
	}
}
