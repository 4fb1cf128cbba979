package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"DealScanner/internal/ports"
)

const maxSaveAttempts = 10

// Manager loads and saves the state document through a BlobStore with
// optimistic concurrency. Concurrent writers are resolved by reloading
// the document and replaying the mutation.
type Manager struct {
	store ports.BlobStore
	log   *slog.Logger
}

// NewManager builds a Manager over the given blob store.
func NewManager(store ports.BlobStore, log *slog.Logger) *Manager {
	return &Manager{store: store, log: log.With("component", "state")}
}

// Load fetches and decodes the current document together with its
// storage generation. A missing object yields a fresh document.
func (m *Manager) Load(ctx context.Context) (*Document, int64, error) {
	raw, gen, err := m.store.Load(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("load state: %w", err)
	}
	doc, err := Decode(raw, m.log)
	if err != nil {
		return nil, 0, err
	}
	return doc, gen, nil
}

// Save writes the document against the expected generation and returns
// the new generation. ports.ErrConflict passes through untranslated so
// callers can retry.
func (m *Manager) Save(ctx context.Context, doc *Document, generation int64) (int64, error) {
	raw, err := doc.Encode()
	if err != nil {
		return 0, err
	}
	newGen, err := m.store.Save(ctx, raw, generation)
	if err != nil {
		if errors.Is(err, ports.ErrConflict) {
			return 0, err
		}
		return 0, fmt.Errorf("save state: %w", err)
	}
	return newGen, nil
}

// Update applies mutate to a freshly loaded document and saves it,
// reloading and replaying on generation conflicts. After maxSaveAttempts
// conflicts the error is returned as fatal; silently dropping the
// mutation would lose pipeline progress.
func (m *Manager) Update(ctx context.Context, mutate func(*Document) error) (*Document, int64, error) {
	for attempt := 1; attempt <= maxSaveAttempts; attempt++ {
		doc, gen, err := m.Load(ctx)
		if err != nil {
			return nil, 0, err
		}
		if err := mutate(doc); err != nil {
			return nil, 0, err
		}
		newGen, err := m.Save(ctx, doc, gen)
		if err == nil {
			return doc, newGen, nil
		}
		if !errors.Is(err, ports.ErrConflict) {
			return nil, 0, err
		}
		m.log.Warn("state write conflict, retrying", "attempt", attempt)
	}
	return nil, 0, fmt.Errorf("state: %d consecutive write conflicts: %w", maxSaveAttempts, ports.ErrConflict)
}
