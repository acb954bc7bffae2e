package writer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rickgao/market-replica/internal/model"
	"github.com/rickgao/market-replica/internal/store"
)

// ErrUnknownMarket is returned by UpsertFields when the market is not stored.
var ErrUnknownMarket = errors.New("unknown market")

// patchRetention bounds how long a field patch is replayed over snapshots
// collected before it.
const patchRetention = 10 * time.Minute

// Result describes what an Upsert changed.
type Result struct {
	Created       bool          // No document was stored before
	Changed       bool          // Document written
	TradesWritten int           // New history entries
	Market        *model.Market // Document as stored after the upsert
}

// Unchanged reports whether the upsert wrote nothing.
func (r Result) Unchanged() bool {
	return !r.Changed && r.TradesWritten == 0
}

// WriterMetrics tracks writer statistics.
type WriterMetrics struct {
	Upserts   int64 // Upserts that wrote something
	Unchanged int64 // Upserts that were no-ops
	Patches   int64 // Field patches applied
	Trades    int64 // History entries written
	Errors    int64
}

// Writer serializes all writes to the store.
type Writer struct {
	store  store.Store
	logger *slog.Logger
	locks  *keyedMutex
	now    func() time.Time

	mu      sync.Mutex
	metrics WriterMetrics
	patches map[string]patchRecord // Latest field patch per market
}

type patchRecord struct {
	at    time.Time
	patch model.MarketPatch
}

// New creates a Writer over st.
func New(st store.Store, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		store:   st,
		logger:  logger,
		locks:   newKeyedMutex(),
		now:     time.Now,
		patches: make(map[string]patchRecord),
	}
}

// Stats returns current metrics.
func (w *Writer) Stats() WriterMetrics {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.metrics
}

func (w *Writer) count(f func(*WriterMetrics)) {
	w.mu.Lock()
	f(&w.metrics)
	w.mu.Unlock()
}

// Upsert stores m and any trades not yet in its history. The branch index
// moves with the document when the branch changes.
func (w *Writer) Upsert(ctx context.Context, m *model.Market, trades ...model.Trade) (Result, error) {
	return w.UpsertCollected(ctx, m, time.Time{}, trades...)
}

// UpsertCollected is Upsert for a document read from the ledger starting at
// collectedAt. Field patches applied after collectedAt are kept over the
// snapshot's older values.
func (w *Writer) UpsertCollected(ctx context.Context, m *model.Market, collectedAt time.Time, trades ...model.Trade) (Result, error) {
	res, err := w.upsert(ctx, m, collectedAt, trades)
	if err != nil {
		w.count(func(s *WriterMetrics) { s.Errors++ })
		return Result{}, err
	}

	w.count(func(s *WriterMetrics) {
		if res.Unchanged() {
			s.Unchanged++
		} else {
			s.Upserts++
		}
		s.Trades += int64(res.TradesWritten)
	})
	return res, nil
}

func (w *Writer) upsert(ctx context.Context, m *model.Market, collectedAt time.Time, trades []model.Trade) (Result, error) {
	if m == nil || m.ID == "" {
		return Result{}, errors.New("upsert: market without id")
	}
	for i := range trades {
		if trades[i].MarketID != m.ID {
			return Result{}, fmt.Errorf("upsert %s: trade for market %q", m.ID, trades[i].MarketID)
		}
	}

	unlock := w.locks.Lock(m.ID)
	defer unlock()

	existing, err := w.load(ctx, m.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return Result{}, fmt.Errorf("upsert %s: %w", m.ID, err)
	}

	var res Result
	b := &store.Batch{}

	doc := *m
	if existing != nil {
		doc.UpdatedAt = existing.UpdatedAt
		if p, ok := w.patchSince(m.ID, collectedAt); ok {
			w.logger.Debug("keeping newer patch over snapshot", "market_id", m.ID)
			p.Apply(&doc)
		}
	}
	same, err := sameDocument(existing, &doc)
	if err != nil {
		return Result{}, fmt.Errorf("upsert %s: %w", m.ID, err)
	}
	if !same {
		doc.UpdatedAt = w.now().Unix()
		data, err := json.Marshal(&doc)
		if err != nil {
			return Result{}, fmt.Errorf("marshal market %s: %w", m.ID, err)
		}
		b.Put(store.MarketKey(m.ID), data)

		if existing != nil && existing.BranchID != doc.BranchID {
			w.logger.Info("market moved branch",
				"market_id", m.ID,
				"from", existing.BranchID,
				"to", doc.BranchID,
			)
			b.Delete(store.BranchKey(existing.BranchID, m.ID))
		}
		b.Put(store.BranchKey(doc.BranchID, m.ID), nil)

		res.Created = existing == nil
		res.Changed = true
	}

	n, err := w.queueTrades(ctx, b, m.ID, trades)
	if err != nil {
		return Result{}, err
	}
	res.TradesWritten = n
	res.Market = &doc

	if b.Len() == 0 {
		return res, nil
	}
	if err := w.store.Write(ctx, b); err != nil {
		return Result{}, fmt.Errorf("write market %s: %w", m.ID, err)
	}

	w.logger.Debug("market upserted",
		"market_id", m.ID,
		"created", res.Created,
		"changed", res.Changed,
		"trades", res.TradesWritten,
	)
	return res, nil
}

// UpsertFields merges patch into the stored document for id and returns the
// result. Fields absent from the patch keep their stored values.
func (w *Writer) UpsertFields(ctx context.Context, id string, patch model.MarketPatch) (*model.Market, error) {
	m, err := w.upsertFields(ctx, id, patch)
	if err != nil {
		if !errors.Is(err, ErrUnknownMarket) {
			w.count(func(s *WriterMetrics) { s.Errors++ })
		}
		return nil, err
	}
	return m, nil
}

func (w *Writer) upsertFields(ctx context.Context, id string, patch model.MarketPatch) (*model.Market, error) {
	patch, err := normalizePatch(patch)
	if err != nil {
		return nil, fmt.Errorf("patch %s: %w", id, err)
	}

	unlock := w.locks.Lock(id)
	defer unlock()

	m, err := w.load(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("patch %s: %w", id, ErrUnknownMarket)
	}
	if err != nil {
		return nil, fmt.Errorf("patch %s: %w", id, err)
	}

	if patch.IsEmpty() {
		return m, nil
	}

	before := *m
	patch.Apply(m)
	if m.Fees == before.Fees && m.Volume == before.Volume {
		w.recordPatch(id, patch)
		return m, nil
	}

	m.UpdatedAt = w.now().Unix()
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal market %s: %w", id, err)
	}
	if err := w.store.Put(ctx, store.MarketKey(id), data); err != nil {
		return nil, fmt.Errorf("write market %s: %w", id, err)
	}
	w.recordPatch(id, patch)

	w.count(func(s *WriterMetrics) { s.Patches++ })
	w.logger.Debug("market patched", "market_id", id)
	return m, nil
}

// recordPatch remembers patch as the latest field update of id. Fields left
// unset keep the values of earlier patches.
func (w *Writer) recordPatch(id string, patch model.MarketPatch) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if rec, ok := w.patches[id]; ok {
		patch = mergePatch(rec.patch, patch)
	}
	w.patches[id] = patchRecord{at: w.now(), patch: patch}
}

// patchSince returns the patch of id if it was applied after t. Records
// older than patchRetention before t are dropped.
func (w *Writer) patchSince(id string, t time.Time) (model.MarketPatch, bool) {
	if t.IsZero() {
		return model.MarketPatch{}, false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	rec, ok := w.patches[id]
	if !ok {
		return model.MarketPatch{}, false
	}
	if rec.at.After(t) {
		return rec.patch, true
	}
	if t.Sub(rec.at) > patchRetention {
		delete(w.patches, id)
	}
	return model.MarketPatch{}, false
}

// queueTrades adds the trades of market id that are not yet stored to b.
// The caller holds the lock for id.
func (w *Writer) queueTrades(ctx context.Context, b *store.Batch, id string, trades []model.Trade) (int, error) {
	if len(trades) == 0 {
		return 0, nil
	}

	existing, err := w.store.ScanPrefix(ctx, store.PricePrefix(id))
	if err != nil {
		return 0, fmt.Errorf("read history %s: %w", id, err)
	}
	seen := make(map[string]struct{}, len(existing)+len(trades))
	for _, kv := range existing {
		seen[kv.Key] = struct{}{}
	}

	n := 0
	for i := range trades {
		t := trades[i]
		t.EnsureID()

		key := store.PriceKey(&t)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}

		data, err := json.Marshal(&t)
		if err != nil {
			return 0, fmt.Errorf("marshal trade %s: %w", t.TradeID, err)
		}
		b.Put(key, data)
		if t.Account != "" {
			b.Put(store.AccountKey(&t), data)
		}
		n++
	}
	return n, nil
}

func (w *Writer) load(ctx context.Context, id string) (*model.Market, error) {
	data, err := w.store.Get(ctx, store.MarketKey(id))
	if err != nil {
		return nil, err
	}
	var m model.Market
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode market %s: %w", id, err)
	}
	return &m, nil
}

// sameDocument compares the JSON encodings of a and b.
func sameDocument(a, b *model.Market) (bool, error) {
	if a == nil || b == nil {
		return false, nil
	}
	ea, err := json.Marshal(a)
	if err != nil {
		return false, err
	}
	eb, err := json.Marshal(b)
	if err != nil {
		return false, err
	}
	return bytes.Equal(ea, eb), nil
}

// mergePatch overlays newer on older.
func mergePatch(older, newer model.MarketPatch) model.MarketPatch {
	out := older
	if newer.MakerFee != nil {
		out.MakerFee = newer.MakerFee
	}
	if newer.TakerFee != nil {
		out.TakerFee = newer.TakerFee
	}
	if newer.TradingFee != nil {
		out.TradingFee = newer.TradingFee
	}
	if newer.CreationFee != nil {
		out.CreationFee = newer.CreationFee
	}
	if newer.Volume != nil {
		out.Volume = newer.Volume
	}
	return out
}

// normalizePatch canonicalises every set decimal in p.
func normalizePatch(p model.MarketPatch) (model.MarketPatch, error) {
	for _, f := range []struct {
		name string
		v    **string
	}{
		{"maker_fee", &p.MakerFee},
		{"taker_fee", &p.TakerFee},
		{"trading_fee", &p.TradingFee},
		{"creation_fee", &p.CreationFee},
		{"volume", &p.Volume},
	} {
		if *f.v == nil {
			continue
		}
		n, err := model.NormalizeDecimal(**f.v)
		if err != nil {
			return p, fmt.Errorf("%s %q: %w", f.name, **f.v, err)
		}
		*f.v = &n
	}
	return p, nil
}
