package store

import (
	"fmt"
	"strings"

	"github.com/rickgao/market-replica/internal/model"
)

// Key prefixes
const (
	marketPrefix  = "market/"
	branchPrefix  = "branch/"
	pricePrefix   = "price/"
	accountPrefix = "account/"
)

// Trade keys embed the outcome and block zero-padded so that byte order
// equals numeric order. Outcome ids are bounded by model.MaxOutcomeID and
// ids never contain '/' (see model.CheckSegment).
const (
	outcomeFmt = "%04d"
	blockFmt   = "%020d"
)

// MarketKey is the key of a market document.
func MarketKey(id string) string {
	return marketPrefix + id
}

// BranchPrefix covers every index entry of a branch.
func BranchPrefix(branch string) string {
	return branchPrefix + branch + "/"
}

// BranchKey is the partition index entry for id in branch.
func BranchKey(branch, id string) string {
	return BranchPrefix(branch) + id
}

// MarketIDFromBranchKey extracts the market id from a BranchKey.
func MarketIDFromBranchKey(key string) string {
	return key[strings.LastIndexByte(key, '/')+1:]
}

// PricePrefix covers the whole price history of a market.
func PricePrefix(id string) string {
	return pricePrefix + id + "/"
}

// PriceKey is the history key of t.
func PriceKey(t *model.Trade) string {
	return PricePrefix(t.MarketID) + fmt.Sprintf(outcomeFmt+"/"+blockFmt+"/", t.Outcome, t.BlockNumber) + t.TradeID
}

// AccountPrefix covers every trade of an account.
func AccountPrefix(account string) string {
	return accountPrefix + account + "/"
}

// AccountKey is the account index key of t.
func AccountKey(t *model.Trade) string {
	return AccountPrefix(t.Account) + t.MarketID + "/" +
		fmt.Sprintf(outcomeFmt+"/"+blockFmt+"/", t.Outcome, t.BlockNumber) + t.TradeID
}
