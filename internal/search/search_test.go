package search

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSearchSendsExpectedRequest(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/search" {
			t.Errorf("request = %s %s, want POST /search", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("request body is not JSON: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"results":[{"title":"ราคาข้าว","url":"https://example.com/1"},{"title":"ฝนตกหนัก","url":"https://example.com/2"}]}`))
	}))
	defer srv.Close()

	t.Setenv("SEARCH_MAX_RESULTS", "")
	c, err := NewClient(WithAPIKey("tvly-test"), WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	results, err := c.Search(context.Background(), "ข่าววันนี้สำหรับชาวนาไทย")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}

	if got["api_key"] != "tvly-test" {
		t.Errorf("api_key = %v", got["api_key"])
	}
	if got["query"] != "ข่าววันนี้สำหรับชาวนาไทย" {
		t.Errorf("query = %v", got["query"])
	}
	if got["search_depth"] != "basic" {
		t.Errorf("search_depth = %v", got["search_depth"])
	}
	if got["max_results"] != float64(5) {
		t.Errorf("max_results = %v", got["max_results"])
	}

	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Title != "ราคาข้าว" || results[0].URL != "https://example.com/1" {
		t.Errorf("results[0] = %+v", results[0])
	}
}

func TestSearchMaxResultsConfigurable(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("request body is not JSON: %v", err)
		}
		w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	t.Run("option", func(t *testing.T) {
		c, err := NewClient(WithAPIKey("tvly-test"), WithBaseURL(srv.URL), WithMaxResults(2))
		if err != nil {
			t.Fatalf("NewClient: %v", err)
		}
		if _, err := c.Search(context.Background(), "anything"); err != nil {
			t.Fatalf("Search: %v", err)
		}
		if got["max_results"] != float64(2) {
			t.Errorf("max_results = %v, want 2", got["max_results"])
		}
	})

	t.Run("environment", func(t *testing.T) {
		t.Setenv("SEARCH_MAX_RESULTS", "3")
		c, err := NewClient(WithAPIKey("tvly-test"), WithBaseURL(srv.URL))
		if err != nil {
			t.Fatalf("NewClient: %v", err)
		}
		if _, err := c.Search(context.Background(), "anything"); err != nil {
			t.Fatalf("Search: %v", err)
		}
		if got["max_results"] != float64(3) {
			t.Errorf("max_results = %v, want 3", got["max_results"])
		}
	})
}

func TestSearchEmptyResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[]}`))
	}))
	defer srv.Close()

	c, err := NewClient(WithAPIKey("tvly-test"), WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	results, err := c.Search(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %d, want 0", len(results))
	}
}

func TestSearchUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"invalid api key"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, err := NewClient(WithAPIKey("bad-key"), WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := c.Search(context.Background(), "anything"); err == nil {
		t.Fatal("Search succeeded, want error on 401")
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	t.Setenv("TAVILY_API_KEY", "")
	if _, err := NewClient(); err == nil {
		t.Fatal("NewClient succeeded without an API key")
	}
}
