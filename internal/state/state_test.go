package state

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

func TestDecodeEmptyYieldsFreshDocument(t *testing.T) {
	doc, err := Decode(nil, testLogger())
	require.NoError(t, err)
	assert.NotNil(t, doc.SentLinks)
	assert.Empty(t, doc.DeleteQueue)
	assert.Empty(t, doc.MorningDigestQueue)
	assert.Empty(t, doc.EveningDigestQueue)
	assert.NotNil(t, doc.AlertQuota.SlotsUsed)
}

func TestDecodeDropsUnknownKeysAndDefaultsMissing(t *testing.T) {
	raw := []byte(`{
		"sent_links": {"k1": "2026-08-01T00:00:00Z"},
		"legacy_counter": 42,
		"nested_junk": {"a": [1, 2]}
	}`)
	doc, err := Decode(raw, testLogger())
	require.NoError(t, err)
	assert.Len(t, doc.SentLinks, 1)
	assert.Empty(t, doc.DeleteQueue)
	assert.NotNil(t, doc.AlertQuota.SlotsUsed)
}

func TestDecodeLegacyLedgerEntries(t *testing.T) {
	raw := []byte(`{
		"sent_links": {
			"k1": {"timestamp": "2026-08-01T00:00:00Z"},
			"k2": "2026-08-02T00:00:00Z",
			"k3": 12345
		}
	}`)
	doc, err := Decode(raw, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "2026-08-01T00:00:00Z", doc.SentLinks["k1"])
	assert.Equal(t, "2026-08-02T00:00:00Z", doc.SentLinks["k2"])
	assert.NotContains(t, doc.SentLinks, "k3")
}

func TestDecodeNumericChatIDs(t *testing.T) {
	raw := []byte(`{
		"delete_queue": [
			{"chat_id": -1001234, "message_id": 7, "delete_at": "2026-08-22T12:00:00Z"},
			{"chat_id": "-100", "message_id": 8, "delete_at": "2026-08-23T12:00:00Z"},
			{"chat_id": [1], "message_id": 9, "delete_at": "2026-08-24T12:00:00Z"}
		]
	}`)
	doc, err := Decode(raw, testLogger())
	require.NoError(t, err)
	require.Len(t, doc.DeleteQueue, 2)
	assert.Equal(t, "-1001234", doc.DeleteQueue[0].ChatID)
	assert.Equal(t, "-100", doc.DeleteQueue[1].ChatID)
}

func TestDecodeMalformedJSONFails(t *testing.T) {
	_, err := Decode([]byte("{not json"), testLogger())
	assert.Error(t, err)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	doc := NewDocument()
	doc.MarkSeen("guid-1", time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC))
	doc.ScheduleDelete(DeleteEntry{ChatID: "-100123", MessageID: 7, DeleteAt: "2026-08-22T12:00:00Z"})
	raw, err := doc.Encode()
	require.NoError(t, err)

	back, err := Decode(raw, testLogger())
	require.NoError(t, err)
	assert.False(t, back.IsNew("guid-1"))
	require.Len(t, back.DeleteQueue, 1)
	assert.Equal(t, int64(7), back.DeleteQueue[0].MessageID)
}

func TestPruneLedgerDropsExpiredAndMalformed(t *testing.T) {
	now := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	doc := NewDocument()
	doc.SentLinks["fresh"] = now.Add(-time.Hour).Format(time.RFC3339)
	doc.SentLinks["expired"] = now.Add(-400 * time.Hour).Format(time.RFC3339)
	doc.SentLinks["garbage"] = "not-a-timestamp"

	removed := doc.PruneLedger(336*time.Hour, now)
	assert.Equal(t, 2, removed)
	assert.False(t, doc.IsNew("fresh"))
	assert.True(t, doc.IsNew("expired"))
	assert.True(t, doc.IsNew("garbage"))
}

func TestSplitDeleteQueue(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	doc := NewDocument()
	doc.ScheduleDelete(DeleteEntry{ChatID: "1", MessageID: 1, DeleteAt: now.Add(-time.Minute).Format(time.RFC3339)})
	doc.ScheduleDelete(DeleteEntry{ChatID: "1", MessageID: 2, DeleteAt: now.Add(time.Hour).Format(time.RFC3339)})
	doc.ScheduleDelete(DeleteEntry{ChatID: "1", MessageID: 3, DeleteAt: "broken"})

	due, pending := doc.SplitDeleteQueue(now)
	require.Len(t, due, 2)
	require.Len(t, pending, 1)
	assert.Equal(t, int64(2), pending[0].MessageID)
}

func TestQueueDigestTargetsNextFlush(t *testing.T) {
	doc := NewDocument()

	// Between the morning and evening flush the evening queue is next.
	midday := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	assert.True(t, doc.QueueDigest(DigestItem{Title: "A", Link: "a"}, midday, 10, 20))
	assert.Len(t, doc.EveningDigestQueue, 1)
	assert.Empty(t, doc.MorningDigestQueue)

	// After the evening flush the morning queue is next.
	night := time.Date(2026, 8, 30, 22, 0, 0, 0, time.UTC)
	assert.True(t, doc.QueueDigest(DigestItem{Title: "B", Link: "b"}, night, 10, 20))
	assert.Len(t, doc.MorningDigestQueue, 1)

	// Before the morning flush too.
	early := time.Date(2026, 8, 30, 7, 0, 0, 0, time.UTC)
	assert.True(t, doc.QueueDigest(DigestItem{Title: "C", Link: "c"}, early, 10, 20))
	assert.Len(t, doc.MorningDigestQueue, 2)
}

func TestQueueDigestSkipsDuplicateLinks(t *testing.T) {
	doc := NewDocument()
	now := time.Date(2026, 8, 30, 14, 0, 0, 0, time.UTC)
	assert.True(t, doc.QueueDigest(DigestItem{Title: "A", Link: "same"}, now, 10, 20))
	assert.False(t, doc.QueueDigest(DigestItem{Title: "A again", Link: "same"}, now, 10, 20))
	// Duplicate across queues is refused too.
	assert.False(t, doc.QueueDigest(DigestItem{Title: "A late", Link: "same"}, now.Add(9*time.Hour), 10, 20))
	assert.Len(t, doc.EveningDigestQueue, 1)
	assert.Empty(t, doc.MorningDigestQueue)
}

func TestRankedDigestOrdersByScoreThenTitle(t *testing.T) {
	items := []DigestItem{
		{Title: "B", Link: "b", Score: 8},
		{Title: "A", Link: "a", Score: 8},
		{Title: "C", Link: "c", Score: 10},
	}
	ranked := RankedDigest(items)
	require.Len(t, ranked, 3)
	assert.Equal(t, "C", ranked[0].Title)
	assert.Equal(t, "A", ranked[1].Title)
	assert.Equal(t, "B", ranked[2].Title)
	// Input order untouched.
	assert.Equal(t, "B", items[0].Title)
}

func TestAlertQuotaDateReset(t *testing.T) {
	doc := NewDocument()
	day1 := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)

	assert.True(t, doc.CanAlert("morning", day1))
	doc.UseAlertSlot("morning", day1)
	assert.False(t, doc.CanAlert("morning", day1))
	assert.True(t, doc.CanAlert("afternoon", day1))

	// A new day frees all slots.
	assert.True(t, doc.CanAlert("morning", day2))
	doc.UseAlertSlot("morning", day2)
	assert.Equal(t, "2026-08-30", doc.AlertQuota.Date)
	assert.False(t, doc.AlertQuota.SlotsUsed["afternoon"])
}

func TestCanAlertRefusesEmptySlot(t *testing.T) {
	doc := NewDocument()
	assert.False(t, doc.CanAlert("", time.Now()))
}

func TestSanitizeRepairsChatIDs(t *testing.T) {
	doc := NewDocument()
	doc.DeleteQueue = []DeleteEntry{
		{ChatID: "-1001234'); DROP", MessageID: 1, DeleteAt: "2026-08-30T00:00:00Z"},
		{ChatID: "-1005678", MessageID: 2, DeleteAt: "2026-08-30T00:00:00Z"},
		{ChatID: "garbage", MessageID: 3, DeleteAt: "2026-08-30T00:00:00Z"},
	}

	changed := doc.Sanitize(testLogger())
	assert.True(t, changed)
	require.Len(t, doc.DeleteQueue, 2)
	assert.Equal(t, "-1001234", doc.DeleteQueue[0].ChatID)
	assert.Equal(t, "-1005678", doc.DeleteQueue[1].ChatID)
}

func TestSanitizeCleanStateUnchanged(t *testing.T) {
	doc := NewDocument()
	doc.DeleteQueue = []DeleteEntry{{ChatID: "-100", MessageID: 1, DeleteAt: "2026-08-30T00:00:00Z"}}
	assert.False(t, doc.Sanitize(testLogger()))
	assert.Len(t, doc.DeleteQueue, 1)
}
