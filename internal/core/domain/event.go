package domain

import (
	"fmt"
	"time"
)

// EventKind tags the decoded contract events the indexer materializes.
type EventKind string

const (
	EventKindTrade         EventKind = "trade"
	EventKindMarketCreated EventKind = "market_created"
)

// Position is the on-chain ordering key of a log.
type Position struct {
	BlockNumber uint64 `json:"blockNumber"`
	LogIndex    uint   `json:"logIndex"`
}

// Less reports whether p comes strictly before o in chain order.
func (p Position) Less(o Position) bool {
	if p.BlockNumber != o.BlockNumber {
		return p.BlockNumber < o.BlockNumber
	}
	return p.LogIndex < o.LogIndex
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.BlockNumber, p.LogIndex)
}

// Trade is one SharesPurchased log. Append-only, keyed by (TxHash, LogIndex).
type Trade struct {
	MarketID       string    `json:"marketId"       db:"market_id"`
	Buyer          string    `json:"buyer"          db:"buyer"`
	IsYes          bool      `json:"isYes"          db:"is_yes"`
	USDCAmount     string    `json:"usdcAmount"     db:"usdc_amount"`
	SharesReceived string    `json:"sharesReceived" db:"shares_received"`
	NewPrice       string    `json:"newPrice"       db:"new_price"`
	TxHash         string    `json:"txHash"         db:"tx_hash"`
	BlockNumber    uint64    `json:"blockNumber"    db:"block_number"`
	LogIndex       uint      `json:"logIndex"       db:"log_index"`
	IndexedAt      time.Time `json:"indexedAt"      db:"indexed_at"`
}

func (t *Trade) Position() Position {
	return Position{BlockNumber: t.BlockNumber, LogIndex: t.LogIndex}
}

// MarketCreated is one MarketCreated log. MarketID is the business key.
type MarketCreated struct {
	MarketID    string    `json:"marketId"    db:"market_id"`
	TweetID     string    `json:"tweetId"     db:"tweet_id"`
	Metric      Metric    `json:"metric"      db:"metric"`
	TargetValue string    `json:"targetValue" db:"target_value"`
	Category    string    `json:"category"    db:"category"`
	Creator     string    `json:"creator"     db:"creator"`
	TxHash      string    `json:"txHash"      db:"tx_hash"`
	BlockNumber uint64    `json:"blockNumber" db:"block_number"`
	LogIndex    uint      `json:"logIndex"    db:"log_index"`
	IndexedAt   time.Time `json:"indexedAt"   db:"indexed_at"`
}

func (m *MarketCreated) Position() Position {
	return Position{BlockNumber: m.BlockNumber, LogIndex: m.LogIndex}
}

// Event is a decoded contract event. Exactly one of Trade or Market is set,
// matching Kind.
type Event struct {
	Kind   EventKind
	Trade  *Trade
	Market *MarketCreated
}

func (e Event) Position() Position {
	switch e.Kind {
	case EventKindTrade:
		return e.Trade.Position()
	case EventKindMarketCreated:
		return e.Market.Position()
	}
	return Position{}
}

// Activity is one entry of the global feed.
type Activity struct {
	Kind        EventKind      `json:"type"`
	TxHash      string         `json:"txHash"`
	BlockNumber uint64         `json:"blockNumber"`
	LogIndex    uint           `json:"logIndex"`
	Trade       *Trade         `json:"trade,omitempty"`
	Market      *MarketCreated `json:"market,omitempty"`
}

func (a *Activity) Position() Position {
	return Position{BlockNumber: a.BlockNumber, LogIndex: a.LogIndex}
}

// TradeActivity wraps a trade as a feed entry.
func TradeActivity(t *Trade) *Activity {
	return &Activity{
		Kind:        EventKindTrade,
		TxHash:      t.TxHash,
		BlockNumber: t.BlockNumber,
		LogIndex:    t.LogIndex,
		Trade:       t,
	}
}

// MarketActivity wraps a market creation as a feed entry.
func MarketActivity(m *MarketCreated) *Activity {
	return &Activity{
		Kind:        EventKindMarketCreated,
		TxHash:      m.TxHash,
		BlockNumber: m.BlockNumber,
		LogIndex:    m.LogIndex,
		Market:      m,
	}
}
