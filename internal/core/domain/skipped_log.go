package domain

import "time"

// SkippedLog records a log on a known topic that could not be decoded.
// Kept for manual replay.
type SkippedLog struct {
	TxHash      string    `json:"txHash"      db:"tx_hash"`
	LogIndex    uint      `json:"logIndex"    db:"log_index"`
	BlockNumber uint64    `json:"blockNumber" db:"block_number"`
	Topic       string    `json:"topic"       db:"topic"`
	Event       string    `json:"event"       db:"event"`
	Reason      string    `json:"reason"      db:"reason"`
	SkippedAt   time.Time `json:"skippedAt"   db:"skipped_at"`
}
