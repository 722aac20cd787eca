package serper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aioscope/aioscope/internal/source"
)

func TestFetch_ReturnsRawPayload(t *testing.T) {
	const response = `{"aiOverview":{"snippet":"s"},"organic":[]}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-KEY") != "test-key" {
			t.Errorf("missing API key header")
		}
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if req["q"] != "what is ai overview" || req["gl"] != "us" || req["hl"] != "en" {
			t.Errorf("unexpected request %v", req)
		}
		w.Write([]byte(response))
	}))
	defer srv.Close()

	c := New(Config{APIKey: "test-key", Endpoint: srv.URL, Timeout: 2 * time.Second})

	p, err := c.Fetch(context.Background(), "what is ai overview", source.Locale{Country: "us", Language: "en"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Provider != "serper" {
		t.Errorf("expected provider serper, got %q", p.Provider)
	}
	if string(p.Body) != response {
		t.Errorf("payload must be passed through untouched, got %q", p.Body)
	}
}

func TestFetch_ErrorTaxonomy(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusBadGateway, true},
		{http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))

		c := New(Config{APIKey: "k", Endpoint: srv.URL, Timeout: 2 * time.Second})
		_, err := c.Fetch(context.Background(), "q", source.Locale{})
		srv.Close()

		if err == nil {
			t.Fatalf("status %d: expected error", tt.status)
		}
		if source.IsTransient(err) != tt.transient {
			t.Errorf("status %d: expected transient=%v, got %v", tt.status, tt.transient, err)
		}
	}
}

func TestFetch_ContextTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := New(Config{APIKey: "k", Endpoint: srv.URL, Timeout: 5 * time.Second})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Fetch(ctx, "q", source.Locale{})
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !source.IsTransient(err) {
		t.Errorf("deadline expiry should classify transient, got %v", err)
	}
}
