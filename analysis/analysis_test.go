package analysis

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mdmahbub/amarkotha"
)

func TestAnalyzeParsesResponse(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"category":"Health","suggestion":"build clinics"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "key", "model-x")

	category, suggestion := c.Analyze(context.Background(), "hospital queues are long")
	if category != amarkotha.CategoryHealth || suggestion != "build clinics" {
		t.Fatalf("unexpected result %s / %s", category, suggestion)
	}

	// repeated input is served from cache
	c.Analyze(context.Background(), "hospital queues are long")
	if calls != 1 {
		t.Fatalf("expected 1 upstream call, got %d", calls)
	}
}

func TestAnalyzeFallsBackOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, "", "")

	category, suggestion := c.Analyze(context.Background(), "anything")
	if category != amarkotha.CategoryOther || suggestion != FallbackSuggestion {
		t.Fatalf("expected fallback, got %s / %s", category, suggestion)
	}
}

func TestAnalyzeFallsBackOnMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := New(srv.URL, "", "")

	category, suggestion := c.Analyze(context.Background(), "anything")
	if category != amarkotha.CategoryOther || suggestion != FallbackSuggestion {
		t.Fatalf("expected fallback, got %s / %s", category, suggestion)
	}
}

func TestAnalyzeDisabledWithoutEndpoint(t *testing.T) {
	c := New("", "", "")

	category, suggestion := c.Analyze(context.Background(), "anything")
	if category != amarkotha.CategoryOther || suggestion != FallbackSuggestion {
		t.Fatalf("expected fallback, got %s / %s", category, suggestion)
	}
}

func TestAnalyzeUnknownCategoryMapsToOther(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"category":"Galactic","suggestion":"s"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "", "")

	category, _ := c.Analyze(context.Background(), "anything")
	if category != amarkotha.CategoryOther {
		t.Fatalf("expected Other, got %s", category)
	}
}
