// Package event defines the results reported to a watch observer.
//
// Every result is one Event variant. Code gives the discriminant for
// callers that switch on a plain value instead of a type.
package event

import (
	"github.com/rickgao/market-replica/internal/ledger"
	"github.com/rickgao/market-replica/internal/model"
)

// Code identifies the kind of result.
type Code int

const (
	CodeError Code = iota
	CodeScanCompletion
	CodeRecordCreated
	CodePriceUpdated
	CodeFeeUpdated
)

func (c Code) String() string {
	switch c {
	case CodeScanCompletion:
		return "scan_completion"
	case CodeRecordCreated:
		return "record_created"
	case CodePriceUpdated:
		return "price_updated"
	case CodeFeeUpdated:
		return "fee_updated"
	default:
		return "error"
	}
}

// Event is one observer result.
type Event interface {
	Code() Code
}

// Observer receives every event of a session. It is called from scan and
// notification goroutines concurrently and must be safe for that.
type Observer func(Event)

// Scanned reports a completed scan pass.
type Scanned struct {
	Count int
}

// Created reports a market discovered through a creation notification.
type Created struct {
	Notification ledger.Notification
	Market       *model.Market
}

// PriceChanged reports a market re-collected after a price notification.
type PriceChanged struct {
	Notification ledger.Notification
	Market       *model.Market
	Outcome      int
}

// FeeChanged reports a fee or volume patch.
type FeeChanged struct {
	Notification ledger.Notification
	Market       *model.Market
}

// Source names where a failure happened.
type Source string

const (
	SourceScan      Source = "scan"
	SourceInterval  Source = "interval"
	SourceSubscribe Source = "subscribe"
	SourceCreation  Source = "market_created"
	SourcePrice     Source = "price_changed"
	SourceFee       Source = "fee_changed"
)

// Failed reports an error. Notification is set for dispatch failures.
type Failed struct {
	Source       Source
	Notification *ledger.Notification
	Err          error
}

func (Scanned) Code() Code      { return CodeScanCompletion }
func (Created) Code() Code      { return CodeRecordCreated }
func (PriceChanged) Code() Code { return CodePriceUpdated }
func (FeeChanged) Code() Code   { return CodeFeeUpdated }
func (Failed) Code() Code       { return CodeError }

func (f Failed) Error() string {
	return string(f.Source) + ": " + f.Err.Error()
}

func (f Failed) Unwrap() error {
	return f.Err
}
