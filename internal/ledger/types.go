package ledger

import "encoding/json"

// BranchesResponse from GET /branches
type BranchesResponse struct {
	Branches []string `json:"branches"`
}

// MarketIDsResponse from GET /branches/{branch}/markets
type MarketIDsResponse struct {
	MarketIDs []string `json:"market_ids"`
	Cursor    string   `json:"cursor"`
}

// SingleMarketResponse from GET /markets/{id}
type SingleMarketResponse struct {
	Market RawMarket `json:"market"`
}

// EventsResponse from GET /markets/{id}/events
type EventsResponse struct {
	Events []RawEvent `json:"events"`
}

// TradesResponse from GET /markets/{id}/trades
type TradesResponse struct {
	Trades []RawTrade `json:"trades"`
	Cursor string     `json:"cursor"`
}

// RawMarket is a market as reported by the ledger.
type RawMarket struct {
	ID          string `json:"id"`
	BranchID    string `json:"branch_id"`
	Description string `json:"description"`
	Type        string `json:"type"`

	// Fees as decimal strings
	MakerFee    string `json:"maker_fee"`
	TakerFee    string `json:"taker_fee"`
	TradingFee  string `json:"trading_fee"`
	CreationFee string `json:"creation_fee"`

	Outcomes        []RawOutcome `json:"outcomes"`
	Volume          string       `json:"volume"`
	Tags            []string     `json:"tags"`
	WinningOutcomes []string     `json:"winning_outcomes"`

	Creator       string `json:"creator"`
	CreationTime  int64  `json:"creation_time"`
	CreationBlock uint64 `json:"creation_block"`
}

// RawOutcome is one outcome of a RawMarket.
type RawOutcome struct {
	ID                int    `json:"id"`
	OutstandingShares string `json:"outstanding_shares"`
	Price             string `json:"price"`
}

// RawEvent is an event attached to a market.
type RawEvent struct {
	ID         string `json:"id"`
	Expiration int64  `json:"expiration"`
	Outcome    string `json:"outcome"`
}

// RawTrade is a trade on one outcome of a market.
type RawTrade struct {
	TradeID     string `json:"trade_id"`
	Outcome     int    `json:"outcome"`
	Type        string `json:"type"`
	Price       string `json:"price"`
	Shares      string `json:"shares"`
	Cost        string `json:"cost"`
	BlockNumber uint64 `json:"block_number"`
	Timestamp   int64  `json:"timestamp"`
	Account     string `json:"account"`
}

// Command is a websocket command sent to the ledger.
type Command struct {
	ID     int64  `json:"id"`
	Cmd    string `json:"cmd"` // "subscribe" or "unsubscribe"
	Params any    `json:"params"`
}

// SubscribeParams are parameters for a subscribe command.
type SubscribeParams struct {
	Channels []string `json:"channels"`
}

// UnsubscribeParams are parameters for an unsubscribe command.
type UnsubscribeParams struct {
	SIDs []int64 `json:"sids"`
}

// Response is a command response from the ledger.
type Response struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"` // "subscribed", "unsubscribed", "ok", "error"
	Msg  json.RawMessage `json:"msg"`
}

// SubscribedMsg is the content of a "subscribed" response.
type SubscribedMsg struct {
	SID     int64  `json:"sid"`
	Channel string `json:"channel"`
}

// ErrorMsg is the content of an "error" response.
type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// envelope is the common shape of every inbound websocket frame.
type envelope struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	SID  int64           `json:"sid"`
	Msg  json.RawMessage `json:"msg"`
}
