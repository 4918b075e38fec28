// Package checkpoint owns the durable "last fully indexed block" pointer.
//
// Writes of the pointer during ingestion happen inside storage.Writer.Commit
// so rows and checkpoint move together. This package adds the genesis default,
// the monotonic rule and the operator rewind.
package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/vietddude/marketindexer/internal/core/domain"
	"github.com/vietddude/marketindexer/internal/infra/storage"
)

// ErrRegression is returned when an advance would move the checkpoint
// backwards.
var ErrRegression = errors.New("checkpoint regression")

// Repository is the storage the manager needs.
type Repository interface {
	storage.CheckpointRepository
	SetCheckpoint(ctx context.Context, block uint64) error
}

// Manager reads and guards the checkpoint.
type Manager struct {
	repo    Repository
	genesis uint64
}

// NewManager creates a manager. genesis is returned by Read until the first
// commit; it is the block before the contract's deployment block so that the
// deployment block itself is scanned.
func NewManager(repo Repository, genesis uint64) *Manager {
	return &Manager{repo: repo, genesis: genesis}
}

// Genesis returns the configured genesis block.
func (m *Manager) Genesis() uint64 {
	return m.genesis
}

// Get returns the stored checkpoint, or nil if nothing was ever committed.
func (m *Manager) Get(ctx context.Context) (*domain.Checkpoint, error) {
	cp, err := m.repo.GetCheckpoint(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	return cp, nil
}

// Read returns the last indexed block, defaulting to genesis.
func (m *Manager) Read(ctx context.Context) (uint64, error) {
	cp, err := m.Get(ctx)
	if err != nil {
		return 0, err
	}
	if cp == nil {
		return m.genesis, nil
	}
	return cp.LastIndexedBlock, nil
}

// CheckAdvance validates that moving from current to next keeps the
// checkpoint monotonic.
func CheckAdvance(current, next uint64) error {
	if next < current {
		return fmt.Errorf("%w: %d -> %d", ErrRegression, current, next)
	}
	return nil
}

// GetLag returns blocks behind the chain head.
func (m *Manager) GetLag(ctx context.Context, head uint64) (int64, error) {
	current, err := m.Read(ctx)
	if err != nil {
		return 0, err
	}
	return int64(head) - int64(current), nil
}

// Rewind forces the checkpoint to block, also backwards. Rows above block stay
// in place; the next runs re-scan them and the idempotent inserts skip them.
func (m *Manager) Rewind(ctx context.Context, block uint64) error {
	if err := m.repo.SetCheckpoint(ctx, block); err != nil {
		return fmt.Errorf("failed to rewind checkpoint: %w", err)
	}
	return nil
}
