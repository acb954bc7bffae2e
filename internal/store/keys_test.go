package store

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rickgao/market-replica/internal/model"
)

func TestKeys(t *testing.T) {
	tr := &model.Trade{TradeID: "t1", MarketID: "0xabc", Outcome: 2, BlockNumber: 1300, Account: "0xacct"}

	assert.Equal(t, "market/0xabc", MarketKey("0xabc"))
	assert.Equal(t, "branch/b1/0xabc", BranchKey("b1", "0xabc"))
	assert.Equal(t, "0xabc", MarketIDFromBranchKey(BranchKey("b1", "0xabc")))
	assert.Equal(t, "price/0xabc/0002/00000000000000001300/t1", PriceKey(tr))
	assert.Equal(t, "account/0xacct/0xabc/0002/00000000000000001300/t1", AccountKey(tr))
}

func TestPriceKey_OrdersByBlock(t *testing.T) {
	blocks := []uint64{1000, 9, 123456789, 10, 1300}
	keys := make([]string, len(blocks))
	for i, b := range blocks {
		keys[i] = PriceKey(&model.Trade{MarketID: "0xabc", Outcome: 1, BlockNumber: b, TradeID: "t"})
	}
	sort.Strings(keys)

	var got []uint64
	for _, k := range keys {
		for _, b := range blocks {
			if k == PriceKey(&model.Trade{MarketID: "0xabc", Outcome: 1, BlockNumber: b, TradeID: "t"}) {
				got = append(got, b)
			}
		}
	}
	assert.Equal(t, []uint64{9, 10, 1000, 1300, 123456789}, got)
}
