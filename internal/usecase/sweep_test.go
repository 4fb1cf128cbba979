package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"DealScanner/internal/ports"
	"DealScanner/internal/state"
)

func seedDeleteQueue(t *testing.T, f *fixture, entries []state.DeleteEntry) {
	t.Helper()
	_, _, err := f.mgr.Update(context.Background(), func(d *state.Document) error {
		d.DeleteQueue = entries
		return nil
	})
	require.NoError(t, err)
}

func TestSweepDeletesPartitionsOutcomes(t *testing.T) {
	f := newFixture(t, morning)
	past := morning.Add(-time.Hour).Format(time.RFC3339)
	future := morning.Add(time.Hour).Format(time.RFC3339)
	seedDeleteQueue(t, f, []state.DeleteEntry{
		{ChatID: "-100", MessageID: 1, DeleteAt: past},
		{ChatID: "-100", MessageID: 2, DeleteAt: past},
		{ChatID: "-100", MessageID: 3, DeleteAt: past},
		{ChatID: "-100", MessageID: 4, DeleteAt: future},
	})
	f.messenger.outcomes[1] = ports.DeleteOK
	f.messenger.outcomes[2] = ports.DeleteGone
	f.messenger.outcomes[3] = ports.DeleteRetry

	processed, err := f.pipeline.SweepDeletes(context.Background(), morning)
	require.NoError(t, err)
	assert.Equal(t, 3, processed)

	assert.ElementsMatch(t, []int64{1, 2, 3}, f.messenger.deletes)
	doc := f.doc(t)
	require.Len(t, doc.DeleteQueue, 2)
	ids := []int64{doc.DeleteQueue[0].MessageID, doc.DeleteQueue[1].MessageID}
	// Transient failure stays queued, the not-yet-due entry is untouched.
	assert.ElementsMatch(t, []int64{3, 4}, ids)
}

func TestSweepDeletesNothingDue(t *testing.T) {
	f := newFixture(t, morning)
	future := morning.Add(time.Hour).Format(time.RFC3339)
	seedDeleteQueue(t, f, []state.DeleteEntry{{ChatID: "-100", MessageID: 9, DeleteAt: future}})

	processed, err := f.pipeline.SweepDeletes(context.Background(), morning)
	require.NoError(t, err)
	assert.Zero(t, processed)

	assert.Empty(t, f.messenger.deletes)
	assert.Len(t, f.doc(t).DeleteQueue, 1)
}

func TestSweepDeletesMalformedTimestampIsDue(t *testing.T) {
	f := newFixture(t, morning)
	seedDeleteQueue(t, f, []state.DeleteEntry{{ChatID: "-100", MessageID: 5, DeleteAt: "garbage"}})

	processed, err := f.pipeline.SweepDeletes(context.Background(), morning)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	assert.Equal(t, []int64{5}, f.messenger.deletes)
	assert.Empty(t, f.doc(t).DeleteQueue)
}
