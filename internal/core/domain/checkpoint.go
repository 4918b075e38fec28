package domain

import "time"

// Checkpoint is the last fully indexed block.
type Checkpoint struct {
	LastIndexedBlock uint64    `json:"lastIndexedBlock" db:"last_indexed_block"`
	UpdatedAt        time.Time `json:"updatedAt"        db:"updated_at"`
}
