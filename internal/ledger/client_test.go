package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	t.Run("default values", func(t *testing.T) {
		c := NewClient("https://ledger.example.com", "test-key")

		if c.baseURL != "https://ledger.example.com" {
			t.Errorf("baseURL = %q, want %q", c.baseURL, "https://ledger.example.com")
		}
		if c.apiKey != "test-key" {
			t.Errorf("apiKey = %q, want %q", c.apiKey, "test-key")
		}
		if c.httpClient.Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want %v", c.httpClient.Timeout, 30*time.Second)
		}
		if c.maxRetries != 0 {
			t.Errorf("maxRetries = %d, want 0", c.maxRetries)
		}
		if c.limiter != nil {
			t.Error("limiter should be nil by default")
		}
	})

	t.Run("with options", func(t *testing.T) {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		c := NewClient("https://ledger.example.com", "",
			WithTimeout(5*time.Second),
			WithRetries(5, 2*time.Second),
			WithLogger(logger),
			WithRateLimit(20, 5),
		)
		if c.httpClient.Timeout != 5*time.Second {
			t.Errorf("Timeout = %v, want 5s", c.httpClient.Timeout)
		}
		if c.maxRetries != 5 || c.retryBackoff != 2*time.Second {
			t.Errorf("retries = %d/%v, want 5/2s", c.maxRetries, c.retryBackoff)
		}
		if c.logger != logger {
			t.Error("logger not set")
		}
		if c.limiter == nil || c.limiter.Burst() != 5 {
			t.Error("rate limiter not configured")
		}
	})

	t.Run("non-positive rate disables limiter", func(t *testing.T) {
		c := NewClient("https://ledger.example.com", "", WithRateLimit(0, 5))
		if c.limiter != nil {
			t.Error("limiter should be nil for rate 0")
		}
	})
}

func TestAPIError_IsRetryable(t *testing.T) {
	tests := []struct {
		status int
		want   bool
	}{
		{400, false},
		{404, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tt := range tests {
		e := &APIError{StatusCode: tt.status}
		if got := e.IsRetryable(); got != tt.want {
			t.Errorf("IsRetryable(%d) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestClient_Authorization(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(BranchesResponse{Branches: []string{"b1"}})
	}))
	defer server.Close()

	c := NewClient(server.URL, "secret")
	if _, err := c.ListBranches(context.Background()); err != nil {
		t.Fatalf("ListBranches failed: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer secret")
	}
}

func TestClient_ListMarketIDsPaginates(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/branches/b1/markets" {
			t.Errorf("path = %q", r.URL.Path)
		}
		switch r.URL.Query().Get("cursor") {
		case "":
			json.NewEncoder(w).Encode(MarketIDsResponse{MarketIDs: []string{"0x1", "0x2"}, Cursor: "page2"})
		case "page2":
			json.NewEncoder(w).Encode(MarketIDsResponse{MarketIDs: []string{"0x3"}})
		default:
			t.Errorf("unexpected cursor %q", r.URL.Query().Get("cursor"))
		}
	}))
	defer server.Close()

	c := NewClient(server.URL, "")
	ids, err := c.ListMarketIDs(context.Background(), "b1")
	if err != nil {
		t.Fatalf("ListMarketIDs failed: %v", err)
	}

	want := []string{"0x1", "0x2", "0x3"}
	if len(ids) != len(want) {
		t.Fatalf("got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestClient_GetMarket(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/markets/0xabc":
			w.Write([]byte(`{"market":{"id":"0xabc","branch_id":"b1","type":"binary","maker_fee":"0.01",
				"outcomes":[{"id":1,"outstanding_shares":"10","price":"0.4"},{"id":2,"outstanding_shares":"10","price":"0.6"}],
				"creation_block":1200}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c := NewClient(server.URL, "", WithRetries(0, 0))

	m, err := c.GetMarket(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("GetMarket failed: %v", err)
	}
	if m.BranchID != "b1" || m.MakerFee != "0.01" || len(m.Outcomes) != 2 || m.CreationBlock != 1200 {
		t.Errorf("unexpected market: %+v", m)
	}

	_, err = c.GetMarket(context.Background(), "0xmissing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetMarket(missing) error = %v, want ErrNotFound", err)
	}

	_, err = c.GetMarketTrades(context.Background(), "0xmissing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetMarketTrades(missing) error = %v, want ErrNotFound", err)
	}
}

func TestClient_NoRetriesByDefault(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewClient(server.URL, "")
	if _, err := c.GetMarketEvents(context.Background(), "0xabc"); err == nil {
		t.Fatal("expected error from failing server")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(EventsResponse{Events: []RawEvent{{ID: "e1", Expiration: 100}}})
	}))
	defer server.Close()

	c := NewClient(server.URL, "", WithRetries(3, time.Millisecond))
	events, err := c.GetMarketEvents(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("GetMarketEvents failed: %v", err)
	}
	if len(events) != 1 || events[0].ID != "e1" {
		t.Errorf("events = %+v", events)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestClient_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	c := NewClient(server.URL, "", WithRetries(3, time.Millisecond))
	_, err := c.ListBranches(context.Background())

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("error = %v, want APIError 400", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestClient_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewClient(server.URL, "", WithRetries(5, time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.ListBranches(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
}
