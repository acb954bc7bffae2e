package writer

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/market-replica/internal/model"
	"github.com/rickgao/market-replica/internal/store"
)

func testMarket(id, branch string) *model.Market {
	return &model.Market{
		ID:          id,
		BranchID:    branch,
		Description: "Will it rain?",
		Type:        "binary",
		Fees:        model.Fees{MakerFee: "0.01", TakerFee: "0.02", TradingFee: "0.03", CreationFee: "1"},
		Outcomes: []model.Outcome{
			{ID: 1, OutstandingShares: "100", Price: "0.4"},
			{ID: 2, OutstandingShares: "100", Price: "0.6"},
		},
		Events: []model.Event{{ID: "e1", Expiration: 1700000000}},
		Volume: "250",
	}
}

func testTrade(id string, outcome int, block uint64) model.Trade {
	t := model.Trade{
		MarketID:    id,
		Outcome:     outcome,
		Type:        "buy",
		Price:       "0.6",
		Shares:      "5",
		Cost:        "3",
		BlockNumber: block,
		Account:     "0xacct",
	}
	t.EnsureID()
	return t
}

func newTestWriter(t *testing.T) (*Writer, store.Store) {
	t.Helper()
	st := store.NewMemLevelDB()
	t.Cleanup(func() { st.Close() })
	w := New(st, nil)
	w.now = func() time.Time { return time.Unix(1700000000, 0) }
	return w, st
}

func snapshot(t *testing.T, st store.Store) map[string]string {
	t.Helper()
	kvs, err := st.ScanPrefix(context.Background(), "")
	if err != nil {
		t.Fatalf("ScanPrefix failed: %v", err)
	}
	out := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		out[kv.Key] = string(kv.Value)
	}
	return out
}

func loadMarket(t *testing.T, st store.Store, id string) *model.Market {
	t.Helper()
	data, err := st.Get(context.Background(), store.MarketKey(id))
	if err != nil {
		t.Fatalf("Get %s failed: %v", id, err)
	}
	var m model.Market
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("decode %s: %v", id, err)
	}
	return &m
}

func TestUpsert_Idempotent(t *testing.T) {
	ctx := context.Background()
	w, st := newTestWriter(t)

	m := testMarket("0xabc", "b1")
	trades := []model.Trade{testTrade("0xabc", 1, 1250), testTrade("0xabc", 2, 1260)}

	res, err := w.Upsert(ctx, m, trades...)
	if err != nil {
		t.Fatalf("first Upsert failed: %v", err)
	}
	if !res.Created || !res.Changed || res.TradesWritten != 2 {
		t.Errorf("first result = %+v", res)
	}
	first := snapshot(t, st)

	// Later clock must not leak into an identical rewrite.
	w.now = func() time.Time { return time.Unix(1800000000, 0) }

	res, err = w.Upsert(ctx, testMarket("0xabc", "b1"), trades...)
	if err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}
	if !res.Unchanged() {
		t.Errorf("second result = %+v, want unchanged", res)
	}

	second := snapshot(t, st)
	if len(first) != len(second) {
		t.Fatalf("key count changed: %d -> %d", len(first), len(second))
	}
	for k, v := range first {
		if second[k] != v {
			t.Errorf("key %s changed:\n  %s\n  %s", k, v, second[k])
		}
	}

	stats := w.Stats()
	if stats.Upserts != 1 || stats.Unchanged != 1 || stats.Trades != 2 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestUpsert_WritesIndexes(t *testing.T) {
	ctx := context.Background()
	w, st := newTestWriter(t)

	tr := testTrade("0xabc", 2, 1300)
	if _, err := w.Upsert(ctx, testMarket("0xabc", "b1"), tr); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	keys := snapshot(t, st)
	for _, k := range []string{
		store.MarketKey("0xabc"),
		store.BranchKey("b1", "0xabc"),
		store.PriceKey(&tr),
		store.AccountKey(&tr),
	} {
		if _, ok := keys[k]; !ok {
			t.Errorf("missing key %s", k)
		}
	}

	if got := loadMarket(t, st, "0xabc").UpdatedAt; got != 1700000000 {
		t.Errorf("UpdatedAt = %d, want 1700000000", got)
	}
}

func TestUpsert_MovesBranchIndex(t *testing.T) {
	ctx := context.Background()
	w, st := newTestWriter(t)

	if _, err := w.Upsert(ctx, testMarket("0xabc", "b1")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if _, err := w.Upsert(ctx, testMarket("0xabc", "b2")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if _, err := st.Get(ctx, store.BranchKey("b1", "0xabc")); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("old branch entry still present: %v", err)
	}
	if _, err := st.Get(ctx, store.BranchKey("b2", "0xabc")); err != nil {
		t.Errorf("new branch entry missing: %v", err)
	}
}

func TestUpsert_AppendsOnlyNewTrades(t *testing.T) {
	ctx := context.Background()
	w, _ := newTestWriter(t)

	m := testMarket("0xabc", "b1")
	if _, err := w.Upsert(ctx, m, testTrade("0xabc", 2, 1250)); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	res, err := w.Upsert(ctx, testMarket("0xabc", "b1"), testTrade("0xabc", 2, 1250), testTrade("0xabc", 2, 1300))
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if res.Changed || res.TradesWritten != 1 {
		t.Errorf("result = %+v, want only one new trade", res)
	}
}

func TestUpsert_RejectsForeignTrade(t *testing.T) {
	w, _ := newTestWriter(t)
	_, err := w.Upsert(context.Background(), testMarket("0xabc", "b1"), testTrade("0xother", 1, 1))
	if err == nil {
		t.Fatal("expected error for trade of another market")
	}
	if w.Stats().Errors != 1 {
		t.Errorf("Errors = %d, want 1", w.Stats().Errors)
	}
}

func TestUpsertFields_PartialMerge(t *testing.T) {
	ctx := context.Background()
	w, st := newTestWriter(t)

	orig := testMarket("0xabc", "b1")
	if _, err := w.Upsert(ctx, orig); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	maker, taker := "0.0050", "0.015"
	got, err := w.UpsertFields(ctx, "0xabc", model.MarketPatch{MakerFee: &maker, TakerFee: &taker})
	if err != nil {
		t.Fatalf("UpsertFields failed: %v", err)
	}
	if got.Fees.MakerFee != "0.005" || got.Fees.TakerFee != "0.015" {
		t.Errorf("returned fees = %+v", got.Fees)
	}

	stored := loadMarket(t, st, "0xabc")

	want := *orig
	want.Fees.MakerFee = "0.005"
	want.Fees.TakerFee = "0.015"
	want.UpdatedAt = stored.UpdatedAt

	a, _ := json.Marshal(&want)
	b, _ := json.Marshal(stored)
	if string(a) != string(b) {
		t.Errorf("stored document differs beyond fee fields:\n got  %s\n want %s", b, a)
	}

	if w.Stats().Patches != 1 {
		t.Errorf("Patches = %d, want 1", w.Stats().Patches)
	}
}

func TestUpsertFields_UnknownMarket(t *testing.T) {
	w, _ := newTestWriter(t)
	v := "1"
	_, err := w.UpsertFields(context.Background(), "0xmissing", model.MarketPatch{Volume: &v})
	if !errors.Is(err, ErrUnknownMarket) {
		t.Errorf("error = %v, want ErrUnknownMarket", err)
	}
}

func TestUpsertFields_InvalidDecimal(t *testing.T) {
	ctx := context.Background()
	w, _ := newTestWriter(t)
	if _, err := w.Upsert(ctx, testMarket("0xabc", "b1")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	bad := "lots"
	if _, err := w.UpsertFields(ctx, "0xabc", model.MarketPatch{Volume: &bad}); err == nil {
		t.Error("expected error for invalid volume")
	}
}

func TestUpsertCollected_KeepsNewerPatch(t *testing.T) {
	ctx := context.Background()
	w, st := newTestWriter(t)
	patchedAt := w.now()

	if _, err := w.Upsert(ctx, testMarket("0xabc", "b1")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	// A scan reads the market, then a fee notification lands before the
	// scan writes its snapshot.
	collectedAt := patchedAt.Add(-time.Second)
	snap := testMarket("0xabc", "b1")
	snap.Outcomes[0].Price = "0.45"

	maker := "0.05"
	if _, err := w.UpsertFields(ctx, "0xabc", model.MarketPatch{MakerFee: &maker}); err != nil {
		t.Fatalf("UpsertFields failed: %v", err)
	}

	res, err := w.UpsertCollected(ctx, snap, collectedAt)
	if err != nil {
		t.Fatalf("UpsertCollected failed: %v", err)
	}
	stored := loadMarket(t, st, "0xabc")
	if stored.Fees.MakerFee != "0.05" {
		t.Errorf("MakerFee = %q, want the patched 0.05", stored.Fees.MakerFee)
	}
	if stored.Outcomes[0].Price != "0.45" {
		t.Errorf("outcome price = %q, want the snapshot's 0.45", stored.Outcomes[0].Price)
	}
	if res.Market == nil || res.Market.Fees.MakerFee != "0.05" {
		t.Errorf("result market = %+v", res.Market)
	}
	if snap.Fees.MakerFee != "0.01" {
		t.Error("caller's snapshot was modified")
	}

	// A snapshot collected after the patch is authoritative.
	later := testMarket("0xabc", "b1")
	later.Fees.MakerFee = "0.07"
	if _, err := w.UpsertCollected(ctx, later, patchedAt.Add(time.Second)); err != nil {
		t.Fatalf("UpsertCollected failed: %v", err)
	}
	if got := loadMarket(t, st, "0xabc").Fees.MakerFee; got != "0.07" {
		t.Errorf("MakerFee = %q, want the later snapshot's 0.07", got)
	}
}

func TestUpsertCollected_DropsExpiredPatches(t *testing.T) {
	ctx := context.Background()
	w, _ := newTestWriter(t)
	patchedAt := w.now()

	if _, err := w.Upsert(ctx, testMarket("0xabc", "b1")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	v := "900"
	if _, err := w.UpsertFields(ctx, "0xabc", model.MarketPatch{Volume: &v}); err != nil {
		t.Fatalf("UpsertFields failed: %v", err)
	}

	if _, err := w.UpsertCollected(ctx, testMarket("0xabc", "b1"), patchedAt.Add(patchRetention+time.Second)); err != nil {
		t.Fatalf("UpsertCollected failed: %v", err)
	}
	if _, ok := w.patches["0xabc"]; ok {
		t.Error("expired patch record kept")
	}
}

func TestUpsert_ReturnsStoredDocument(t *testing.T) {
	ctx := context.Background()
	w, st := newTestWriter(t)

	res, err := w.Upsert(ctx, testMarket("0xabc", "b1"))
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if res.Market == nil || res.Market.UpdatedAt != w.now().Unix() {
		t.Fatalf("result market = %+v", res.Market)
	}

	res, err = w.Upsert(ctx, testMarket("0xabc", "b1"))
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	stored := loadMarket(t, st, "0xabc")
	a, _ := json.Marshal(res.Market)
	b, _ := json.Marshal(stored)
	if string(a) != string(b) {
		t.Errorf("unchanged upsert returned %s, stored %s", a, b)
	}
}

func TestUpsert_SerializesPerMarket(t *testing.T) {
	ctx := context.Background()
	w, st := newTestWriter(t)

	if _, err := w.Upsert(ctx, testMarket("0xabc", "b1")); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	// Full upserts and fee patches race. Every patch lands on a document
	// that already exists, so none may be lost to a concurrent full write.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			w.Upsert(ctx, testMarket("0xabc", "b1"))
		}()
		go func() {
			defer wg.Done()
			v := "500"
			w.UpsertFields(ctx, "0xabc", model.MarketPatch{Volume: &v})
		}()
	}
	wg.Wait()

	if w.locks.size() != 0 {
		t.Errorf("lock entries leaked: %d", w.locks.size())
	}
	m := loadMarket(t, st, "0xabc")
	if m.Volume != "250" && m.Volume != "500" {
		t.Errorf("Volume = %q, want a value from one of the writers", m.Volume)
	}
	if len(m.Outcomes) != 2 || len(m.Events) != 1 {
		t.Errorf("document corrupted: %+v", m)
	}
}

func TestKeyedMutex(t *testing.T) {
	k := newKeyedMutex()

	unlockA := k.Lock("a")
	acquired := make(chan struct{})
	go func() {
		unlock := k.Lock("a")
		close(acquired)
		unlock()
	}()

	// A different key is independent.
	unlockB := k.Lock("b")
	unlockB()

	select {
	case <-acquired:
		t.Fatal("second lock on a acquired while held")
	case <-time.After(20 * time.Millisecond):
	}

	unlockA()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock on a never acquired")
	}

	// Give the goroutine time to release.
	time.Sleep(10 * time.Millisecond)
	if k.size() != 0 {
		t.Errorf("size = %d, want 0", k.size())
	}
}
