package server

import (
	"net/http"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"bookie/services/api/internal/apidoc"
)

func TestOpenAPIDocumentsEveryRoute(t *testing.T) {
	doc, err := apidoc.Load("../../openapi.yaml")
	if err != nil {
		t.Fatalf("load openapi: %v", err)
	}
	if err := doc.Validate(); err != nil {
		t.Fatalf("openapi invalid: %v", err)
	}
	documented := make(map[string]bool)
	for _, op := range doc.Operations() {
		documented[op] = true
	}

	srv := newTestAPI(t, testOptions{})
	routed := make(map[string]bool)
	err = chi.Walk(srv.router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		op := method + " " + strings.TrimSuffix(route, "/")
		routed[op] = true
		if !documented[op] {
			t.Errorf("route %s is not documented", op)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("walk routes: %v", err)
	}
	for op := range documented {
		if !routed[op] {
			t.Errorf("documented operation %s has no route", op)
		}
	}
}
