package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// -----------------------------------------------------------------------------
// Documents
// -----------------------------------------------------------------------------

// Market is the denormalized document stored for every ledger market.
type Market struct {
	ID              string    `json:"id"`       // Primary key (ledger-assigned, immutable)
	BranchID        string    `json:"branchId"` // Partition the market lives in
	Description     string    `json:"description"`
	Type            string    `json:"type"` // "binary", "categorical", "scalar"
	Fees            Fees      `json:"fees"`
	Outcomes        []Outcome `json:"outcomes"`
	Events          []Event   `json:"events"`
	Volume          string    `json:"volume"`
	Tags            []string  `json:"tags,omitempty"`
	WinningOutcomes []string  `json:"winningOutcomes,omitempty"`

	// Creation metadata
	Creator       string `json:"creator"`
	CreationTime  int64  `json:"creationTime"`
	CreationBlock uint64 `json:"creationBlock"`

	UpdatedAt int64 `json:"updatedAt"` // Last local write (seconds)
}

// Fees holds the market fee parameters as decimal strings.
type Fees struct {
	MakerFee    string `json:"makerFee"`
	TakerFee    string `json:"takerFee"`
	TradingFee  string `json:"tradingFee"`
	CreationFee string `json:"creationFee"`
}

// Outcome is one tradeable outcome of a market.
type Outcome struct {
	ID                int    `json:"id"`
	OutstandingShares string `json:"outstandingShares"`
	Price             string `json:"price"`
}

// Event is a sub-record of a market that resolves it.
type Event struct {
	ID         string `json:"id"`
	Expiration int64  `json:"expiration"`
	Outcome    string `json:"outcome"`
}

// Outcome returns the outcome with the given id.
func (m *Market) Outcome(id int) (Outcome, bool) {
	for _, o := range m.Outcomes {
		if o.ID == id {
			return o, true
		}
	}
	return Outcome{}, false
}

// -----------------------------------------------------------------------------
// Key segments
// -----------------------------------------------------------------------------

// MaxOutcomeID is the largest outcome id that fits the fixed-width outcome
// field of history keys.
const MaxOutcomeID = 9999

// ErrInvalidSegment is returned for identifiers that cannot be embedded in a
// store key.
var ErrInvalidSegment = errors.New("invalid key segment")

// CheckSegment rejects identifiers containing the key separator.
func CheckSegment(name, s string) error {
	if strings.ContainsRune(s, '/') {
		return fmt.Errorf("%w: %s %q contains '/'", ErrInvalidSegment, name, s)
	}
	return nil
}

// CheckOutcomeID rejects outcome ids outside [0, MaxOutcomeID].
func CheckOutcomeID(id int) error {
	if id < 0 || id > MaxOutcomeID {
		return fmt.Errorf("%w: outcome %d out of range", ErrInvalidSegment, id)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Trades
// -----------------------------------------------------------------------------

// Trade is a single price-history entry for one outcome of a market.
type Trade struct {
	TradeID     string `json:"tradeId"`
	MarketID    string `json:"marketId"`
	Outcome     int    `json:"outcome"`
	Type        string `json:"type"` // "buy" or "sell"
	Price       string `json:"price"`
	Shares      string `json:"shares"`
	Cost        string `json:"cost"`
	BlockNumber uint64 `json:"blockNumber"`
	Timestamp   int64  `json:"timestamp"`
	Account     string `json:"account"`
}

// tradeNamespace scopes derived trade IDs.
var tradeNamespace = uuid.MustParse("9b1c4f0e-7d7a-4c3b-9a55-2f0c1e6d8a41")

// EnsureID fills TradeID with a deterministic UUID derived from the trade
// content when the ledger did not supply one. The same trade always gets the
// same ID, which makes history appends idempotent.
func (t *Trade) EnsureID() {
	if t.TradeID != "" {
		return
	}
	key := t.MarketID + "|" + strconv.Itoa(t.Outcome) + "|" + strconv.FormatUint(t.BlockNumber, 10) + "|" +
		t.Account + "|" + t.Type + "|" + t.Price + "|" + t.Shares
	t.TradeID = uuid.NewSHA1(tradeNamespace, []byte(key)).String()
}

// Normalize canonicalises the decimal fields and then fills TradeID, so a
// trade seen through a notification and through a scan gets the same ID.
func (t *Trade) Normalize() error {
	for _, f := range []struct {
		name string
		v    *string
	}{
		{"price", &t.Price},
		{"shares", &t.Shares},
		{"cost", &t.Cost},
	} {
		n, err := NormalizeDecimal(*f.v)
		if err != nil {
			return fmt.Errorf("%s %q: %w", f.name, *f.v, err)
		}
		*f.v = n
	}
	if err := CheckOutcomeID(t.Outcome); err != nil {
		return err
	}
	for _, f := range []struct{ name, v string }{
		{"market", t.MarketID},
		{"account", t.Account},
		{"trade", t.TradeID},
	} {
		if err := CheckSegment(f.name, f.v); err != nil {
			return err
		}
	}
	t.EnsureID()
	return nil
}

// -----------------------------------------------------------------------------
// Patches
// -----------------------------------------------------------------------------

// MarketPatch is a sparse update to a stored market. Nil fields are left as
// they are.
type MarketPatch struct {
	MakerFee    *string
	TakerFee    *string
	TradingFee  *string
	CreationFee *string
	Volume      *string
}

// IsEmpty reports whether the patch changes nothing.
func (p MarketPatch) IsEmpty() bool {
	return p.MakerFee == nil && p.TakerFee == nil && p.TradingFee == nil &&
		p.CreationFee == nil && p.Volume == nil
}

// Apply merges the patch into m. Only the patched fields change.
func (p MarketPatch) Apply(m *Market) {
	if p.MakerFee != nil {
		m.Fees.MakerFee = *p.MakerFee
	}
	if p.TakerFee != nil {
		m.Fees.TakerFee = *p.TakerFee
	}
	if p.TradingFee != nil {
		m.Fees.TradingFee = *p.TradingFee
	}
	if p.CreationFee != nil {
		m.Fees.CreationFee = *p.CreationFee
	}
	if p.Volume != nil {
		m.Volume = *p.Volume
	}
}

// -----------------------------------------------------------------------------
// Decimals
// -----------------------------------------------------------------------------

// NormalizeDecimal parses s and returns its canonical string form, so that
// "0.0100" and "0.01" are stored identically. Empty input maps to "0".
func NormalizeDecimal(s string) (string, error) {
	if s == "" {
		return "0", nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return "", err
	}
	return d.String(), nil
}
