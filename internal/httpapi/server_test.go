package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rickgao/market-replica/internal/ledger"
	"github.com/rickgao/market-replica/internal/model"
	"github.com/rickgao/market-replica/internal/query"
	"github.com/rickgao/market-replica/internal/reconcile"
	"github.com/rickgao/market-replica/internal/store"
	"github.com/rickgao/market-replica/internal/writer"
)

type brokenStore struct{}

func (brokenStore) Ping(context.Context) error { return errors.New("disk gone") }

func seeded(t *testing.T) *store.LevelDB {
	t.Helper()
	ctx := context.Background()
	st := store.NewMemLevelDB()
	t.Cleanup(func() { st.Close() })

	w := writer.New(st, nil)
	tr := model.Trade{MarketID: "0xa", Outcome: 2, Type: "buy", Price: "0.5", Shares: "1", Cost: "0.5", BlockNumber: 100, Account: "alice"}
	tr.EnsureID()
	_, err := w.Upsert(ctx, &model.Market{
		ID:       "0xa",
		BranchID: "b1",
		Outcomes: []model.Outcome{{ID: 1, Price: "0.5"}, {ID: 2, Price: "0.5"}},
	}, tr)
	if err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	return st
}

func newTestServer(t *testing.T, st store.Store, status func() reconcile.Status) *httptest.Server {
	t.Helper()
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("replica_up 1\n"))
	})
	s := NewServer(Config{MetricsPath: "/metrics"}, query.New(st, nil), st, status, metrics, nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, srv *httptest.Server, path string, out any) int {
	t.Helper()
	resp, err := srv.Client().Get(srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	st := seeded(t)
	srv := newTestServer(t, st, func() reconcile.Status {
		return reconcile.Status{Watching: true, ActiveKinds: []ledger.Kind{ledger.KindCreation}}
	})

	var h HealthResponse
	if code := get(t, srv, "/health", &h); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if h.Status != "ok" || h.Store != "ok" || !h.Watching || len(h.ActiveSubscriptions) != 1 {
		t.Errorf("health = %+v", h)
	}
}

func TestHealth_Unhealthy(t *testing.T) {
	tests := []struct {
		name   string
		store  Pinger
		status func() reconcile.Status
		want   string
	}{
		{"store down", brokenStore{}, nil, "degraded"},
		{"session closed", store.NewMemLevelDB(), func() reconcile.Status { return reconcile.Status{Closed: true} }, "closed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(Config{}, nil, tt.store, tt.status, nil, nil)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

			if rec.Code != http.StatusServiceUnavailable {
				t.Errorf("status code = %d, want 503", rec.Code)
			}
			var h HealthResponse
			json.NewDecoder(rec.Body).Decode(&h)
			if h.Status != tt.want {
				t.Errorf("status = %q, want %q", h.Status, tt.want)
			}
		})
	}
}

func TestGetMarket(t *testing.T) {
	srv := newTestServer(t, seeded(t), nil)

	var m model.Market
	if code := get(t, srv, "/markets/0xa", &m); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if m.ID != "0xa" || m.BranchID != "b1" {
		t.Errorf("market = %+v", m)
	}

	if code := get(t, srv, "/markets/0xmissing", nil); code != http.StatusNotFound {
		t.Errorf("missing market code = %d, want 404", code)
	}
}

func TestGetMarketsInfo(t *testing.T) {
	srv := newTestServer(t, seeded(t), nil)

	var markets map[string]model.Market
	if code := get(t, srv, "/markets?ids=0xa,0xmissing", &markets); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if len(markets) != 1 || markets["0xa"].ID != "0xa" {
		t.Errorf("markets = %+v", markets)
	}

	if code := get(t, srv, "/markets", nil); code != http.StatusBadRequest {
		t.Errorf("no ids code = %d, want 400", code)
	}
}

func TestBranchMarkets(t *testing.T) {
	srv := newTestServer(t, seeded(t), nil)

	var markets []model.Market
	if code := get(t, srv, "/branches/b1/markets", &markets); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if len(markets) != 1 {
		t.Errorf("markets = %+v", markets)
	}
}

func TestPriceHistory(t *testing.T) {
	srv := newTestServer(t, seeded(t), nil)

	var history map[int][]model.Trade
	if code := get(t, srv, "/markets/0xa/price-history?from=50&to=150", &history); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if len(history[2]) != 1 || history[2][0].BlockNumber != 100 {
		t.Errorf("history = %+v", history)
	}

	for _, path := range []string{
		"/markets/0xa/price-history?from=abc",
		"/markets/0xa/price-history?from=200&to=100",
	} {
		if code := get(t, srv, path, nil); code != http.StatusBadRequest {
			t.Errorf("%s code = %d, want 400", path, code)
		}
	}
}

func TestAccountTrades(t *testing.T) {
	srv := newTestServer(t, seeded(t), nil)

	var trades map[string]map[int][]model.Trade
	if code := get(t, srv, "/accounts/alice/trades", &trades); code != http.StatusOK {
		t.Fatalf("status code = %d", code)
	}
	if len(trades["0xa"][2]) != 1 {
		t.Errorf("trades = %+v", trades)
	}

	var none map[string]map[int][]model.Trade
	get(t, srv, "/accounts/alice/trades?from=101", &none)
	if len(none) != 0 {
		t.Errorf("trades after block 101 = %+v", none)
	}
}

func TestMetricsRoute(t *testing.T) {
	srv := newTestServer(t, seeded(t), nil)
	resp, err := srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics code = %d", resp.StatusCode)
	}
}
