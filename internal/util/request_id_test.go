package util

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func serveWithRequestID(t *testing.T, incoming string) (ctxID, headerID string) {
	t.Helper()
	h := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctxID = RequestIDFromRequest(r)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/chat/public-channels", nil)
	if incoming != "" {
		req.Header.Set("X-Request-Id", incoming)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return ctxID, rec.Header().Get("X-Request-Id")
}

func TestWithRequestIDKeepsWellFormedIncomingID(t *testing.T) {
	ctxID, headerID := serveWithRequestID(t, "cli-7f3a.2")
	if ctxID != "cli-7f3a.2" || headerID != "cli-7f3a.2" {
		t.Fatalf("expected incoming id to be reused, got ctx=%q header=%q", ctxID, headerID)
	}
}

func TestWithRequestIDReplacesMissingOrUnsafeIDs(t *testing.T) {
	for _, incoming := range []string{"", "bad id\nforged=1", strings.Repeat("a", 65)} {
		ctxID, headerID := serveWithRequestID(t, incoming)
		if ctxID == "" || ctxID == incoming {
			t.Fatalf("incoming %q: expected a generated id, got %q", incoming, ctxID)
		}
		if headerID != ctxID {
			t.Fatalf("incoming %q: header %q does not match context %q", incoming, headerID, ctxID)
		}
	}
}

func TestRequestIDFromRequestWithoutMiddleware(t *testing.T) {
	if got := RequestIDFromRequest(nil); got != "" {
		t.Fatalf("expected empty id for nil request, got %q", got)
	}
	if got := RequestIDFromRequest(httptest.NewRequest(http.MethodGet, "/", nil)); got != "" {
		t.Fatalf("expected empty id, got %q", got)
	}
}
