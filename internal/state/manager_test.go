package state

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DealScanner/internal/ports"
)

// memStore is an in-memory BlobStore with a configurable number of
// artificial generation conflicts before writes start succeeding.
type memStore struct {
	data      []byte
	gen       int64
	conflicts int
	saves     int
}

func (s *memStore) Load(_ context.Context) ([]byte, int64, error) {
	return s.data, s.gen, nil
}

func (s *memStore) Save(_ context.Context, data []byte, generation int64) (int64, error) {
	s.saves++
	if s.conflicts > 0 {
		s.conflicts--
		s.gen++ // someone else wrote first
		return 0, ports.ErrConflict
	}
	if generation != s.gen {
		return 0, ports.ErrConflict
	}
	s.data = data
	s.gen++
	return s.gen, nil
}

func TestManagerUpdateRetriesOnConflict(t *testing.T) {
	store := &memStore{conflicts: 2}
	mgr := NewManager(store, testLogger())

	doc, gen, err := mgr.Update(context.Background(), func(d *Document) error {
		d.SentLinks["k"] = "2026-08-30T00:00:00Z"
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, store.saves)
	assert.Equal(t, store.gen, gen)
	assert.False(t, doc.IsNew("k"))

	// The persisted bytes carry the mutation.
	back, err := Decode(store.data, testLogger())
	require.NoError(t, err)
	assert.False(t, back.IsNew("k"))
}

func TestManagerUpdateExhaustsConflicts(t *testing.T) {
	store := &memStore{conflicts: maxSaveAttempts + 1}
	mgr := NewManager(store, testLogger())

	_, _, err := mgr.Update(context.Background(), func(d *Document) error { return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrConflict)
	assert.Equal(t, maxSaveAttempts, store.saves)
}

func TestManagerLoadFreshStore(t *testing.T) {
	mgr := NewManager(&memStore{}, testLogger())
	doc, gen, err := mgr.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), gen)
	assert.True(t, doc.IsNew("anything"))
}
