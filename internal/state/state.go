package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"time"
)

// Document is the single persistent state record shared by every run.
// It is stored as one JSON object so that a generation-matched write
// replaces the whole state atomically.
type Document struct {
	SentLinks          map[string]string `json:"sent_links"`
	DeleteQueue        []DeleteEntry     `json:"delete_queue"`
	MorningDigestQueue []DigestItem      `json:"morning_digest_queue"`
	EveningDigestQueue []DigestItem      `json:"evening_digest_queue"`
	AlertQuota         AlertQuota        `json:"alert_quota"`
}

// DeleteEntry schedules removal of one previously sent channel message.
type DeleteEntry struct {
	ChatID    string `json:"chat_id"`
	MessageID int64  `json:"message_id"`
	DeleteAt  string `json:"delete_at"`
	SourceURL string `json:"source_url,omitempty"`
}

// DigestItem is one accepted offer waiting for the next digest flush.
// Message carries the auditor's ready-to-publish text; Summary is the
// fallback body when the auditor produced none.
type DigestItem struct {
	DedupKey string `json:"dedup_key"`
	Title    string `json:"title"`
	Link     string `json:"link"`
	Score    int    `json:"score"`
	Source   string `json:"source,omitempty"`
	Verdict  string `json:"verdict,omitempty"`
	Subject  string `json:"subject,omitempty"`
	Price    string `json:"price,omitempty"`
	Message  string `json:"message,omitempty"`
	AddedAt  string `json:"added_at,omitempty"`
	Summary  string `json:"summary,omitempty"`
}

// AlertQuota tracks which intraday alert slots were consumed on a given date.
type AlertQuota struct {
	Date      string          `json:"date"`
	SlotsUsed map[string]bool `json:"slots_used"`
}

// NewDocument returns an empty state with every collection initialised.
func NewDocument() *Document {
	return &Document{
		SentLinks:          map[string]string{},
		DeleteQueue:        []DeleteEntry{},
		MorningDigestQueue: []DigestItem{},
		EveningDigestQueue: []DigestItem{},
		AlertQuota:         AlertQuota{SlotsUsed: map[string]bool{}},
	}
}

// Decode parses raw state bytes. Unknown top-level keys are dropped with a
// warning, missing keys are defaulted, and an empty or absent document yields
// a fresh one rather than an error. Individual entries written by older
// revisions in a different shape are migrated or dropped, never fatal; only
// a document that is not a JSON object at all fails the load.
func Decode(raw []byte, log *slog.Logger) (*Document, error) {
	doc := NewDocument()
	if len(raw) == 0 {
		return doc, nil
	}

	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("state: malformed document: %w", err)
	}
	for key, val := range generic {
		switch key {
		case "sent_links":
			decodeSentLinks(val, doc, log)
		case "delete_queue":
			decodeDeleteQueue(val, doc, log)
		case "morning_digest_queue":
			doc.MorningDigestQueue = decodeDigestQueue(val, key, log)
		case "evening_digest_queue":
			doc.EveningDigestQueue = decodeDigestQueue(val, key, log)
		case "alert_quota":
			if err := json.Unmarshal(val, &doc.AlertQuota); err != nil {
				log.Warn("state: resetting unreadable alert quota", "error", err)
				doc.AlertQuota = AlertQuota{}
			}
		default:
			log.Warn("state: dropping unknown key", "key", key)
		}
	}
	if doc.AlertQuota.SlotsUsed == nil {
		doc.AlertQuota.SlotsUsed = map[string]bool{}
	}
	return doc, nil
}

// decodeSentLinks reads the dedup ledger. Values are RFC 3339 strings today,
// but documents written before the ledger was flattened hold an object with
// a "timestamp" member; both forms load, anything else is dropped.
func decodeSentLinks(raw json.RawMessage, doc *Document, log *slog.Logger) {
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		log.Warn("state: resetting unreadable sent_links", "error", err)
		return
	}
	for key, val := range entries {
		var stamp string
		if err := json.Unmarshal(val, &stamp); err == nil {
			doc.SentLinks[key] = stamp
			continue
		}
		var legacy struct {
			Timestamp string `json:"timestamp"`
		}
		if err := json.Unmarshal(val, &legacy); err == nil && legacy.Timestamp != "" {
			doc.SentLinks[key] = legacy.Timestamp
			continue
		}
		log.Warn("state: dropping unreadable ledger entry", "key", key)
	}
}

// decodeDeleteQueue reads delete entries, accepting chat IDs stored either
// as strings or as raw Telegram numeric IDs.
func decodeDeleteQueue(raw json.RawMessage, doc *Document, log *slog.Logger) {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		log.Warn("state: resetting unreadable delete_queue", "error", err)
		return
	}
	for _, item := range entries {
		var entry struct {
			ChatID    json.RawMessage `json:"chat_id"`
			MessageID int64           `json:"message_id"`
			DeleteAt  string          `json:"delete_at"`
			SourceURL string          `json:"source_url"`
		}
		if err := json.Unmarshal(item, &entry); err != nil {
			log.Warn("state: dropping unreadable delete entry", "error", err)
			continue
		}
		chatID, ok := chatIDValue(entry.ChatID)
		if !ok {
			log.Warn("state: dropping delete entry without usable chat id", "message_id", entry.MessageID)
			continue
		}
		doc.DeleteQueue = append(doc.DeleteQueue, DeleteEntry{
			ChatID:    chatID,
			MessageID: entry.MessageID,
			DeleteAt:  entry.DeleteAt,
			SourceURL: entry.SourceURL,
		})
	}
}

func chatIDValue(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String(), true
	}
	return "", false
}

func decodeDigestQueue(raw json.RawMessage, queue string, log *slog.Logger) []DigestItem {
	out := []DigestItem{}
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		log.Warn("state: resetting unreadable digest queue", "queue", queue, "error", err)
		return out
	}
	for _, item := range entries {
		var d DigestItem
		if err := json.Unmarshal(item, &d); err != nil {
			log.Warn("state: dropping unreadable digest entry", "queue", queue, "error", err)
			continue
		}
		out = append(out, d)
	}
	return out
}

// Encode serialises the document for storage.
func (d *Document) Encode() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// IsNew reports whether the dedup key has not been recorded yet.
func (d *Document) IsNew(dedupKey string) bool {
	_, seen := d.SentLinks[dedupKey]
	return !seen
}

// MarkSeen records the dedup key at the given moment. Marking happens at
// classification time so that a crash mid-pipeline never re-alerts an offer.
func (d *Document) MarkSeen(dedupKey string, now time.Time) {
	d.SentLinks[dedupKey] = now.UTC().Format(time.RFC3339)
}

// PruneLedger drops ledger entries older than ttl. Entries whose timestamp
// cannot be parsed are treated as stale and dropped too.
func (d *Document) PruneLedger(ttl time.Duration, now time.Time) int {
	cutoff := now.Add(-ttl)
	removed := 0
	for key, stamp := range d.SentLinks {
		t, err := time.Parse(time.RFC3339, stamp)
		if err != nil || t.Before(cutoff) {
			delete(d.SentLinks, key)
			removed++
		}
	}
	return removed
}

// ScheduleDelete queues a sent message for later removal.
func (d *Document) ScheduleDelete(entry DeleteEntry) {
	d.DeleteQueue = append(d.DeleteQueue, entry)
}

// SplitDeleteQueue partitions the delete queue into entries due at now and
// entries still waiting. Entries with unparseable timestamps count as due so
// they cannot pin the queue forever.
func (d *Document) SplitDeleteQueue(now time.Time) (due, pending []DeleteEntry) {
	due = []DeleteEntry{}
	pending = []DeleteEntry{}
	for _, entry := range d.DeleteQueue {
		t, err := time.Parse(time.RFC3339, entry.DeleteAt)
		if err != nil || !t.After(now) {
			due = append(due, entry)
		} else {
			pending = append(pending, entry)
		}
	}
	return due, pending
}

// QueueDigest appends the item to whichever digest queue flushes next,
// given the flush hours in UTC. Items already queued under the same dedup
// key in either queue are skipped.
func (d *Document) QueueDigest(item DigestItem, now time.Time, morningHour, eveningHour int) bool {
	for _, existing := range d.MorningDigestQueue {
		if sameOffer(existing, item) {
			return false
		}
	}
	for _, existing := range d.EveningDigestQueue {
		if sameOffer(existing, item) {
			return false
		}
	}

	hour := now.UTC().Hour()
	if hour >= morningHour && hour < eveningHour {
		d.EveningDigestQueue = append(d.EveningDigestQueue, item)
	} else {
		d.MorningDigestQueue = append(d.MorningDigestQueue, item)
	}
	return true
}

func sameOffer(a, b DigestItem) bool {
	if a.DedupKey != "" && b.DedupKey != "" {
		return a.DedupKey == b.DedupKey
	}
	return a.Link == b.Link
}

// DedupeDigest drops repeated offers, keeping the first occurrence.
// Insertion already deduplicates; this is re-applied before a flush so a
// drifted queue can never publish the same deal twice.
func DedupeDigest(items []DigestItem) []DigestItem {
	out := make([]DigestItem, 0, len(items))
	for _, item := range items {
		dup := false
		for _, kept := range out {
			if sameOffer(kept, item) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, item)
		}
	}
	return out
}

// RankedDigest returns a copy of the queue ordered by score descending,
// ties broken by title.
func RankedDigest(items []DigestItem) []DigestItem {
	ranked := make([]DigestItem, len(items))
	copy(ranked, items)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Title < ranked[j].Title
	})
	return ranked
}

// CanAlert reports whether the slot is still free for the given date.
// A date change resets all slots.
func (d *Document) CanAlert(slot string, now time.Time) bool {
	if slot == "" {
		return false
	}
	today := now.UTC().Format("2006-01-02")
	if d.AlertQuota.Date != today {
		return true
	}
	return !d.AlertQuota.SlotsUsed[slot]
}

// UseAlertSlot consumes the slot for the given date, resetting stale quota
// from previous days first.
func (d *Document) UseAlertSlot(slot string, now time.Time) {
	today := now.UTC().Format("2006-01-02")
	if d.AlertQuota.Date != today {
		d.AlertQuota = AlertQuota{Date: today, SlotsUsed: map[string]bool{}}
	}
	d.AlertQuota.SlotsUsed[slot] = true
}

var chatIDPrefix = regexp.MustCompile(`^-?\d+`)

// Sanitize repairs recoverable damage in loaded state: chat IDs polluted
// with trailing garbage are trimmed back to their numeric prefix, and delete
// entries with no salvageable chat ID are dropped. It reports whether
// anything changed so the caller can checkpoint the repair.
func (d *Document) Sanitize(log *slog.Logger) bool {
	changed := false
	kept := d.DeleteQueue[:0]
	for _, entry := range d.DeleteQueue {
		m := chatIDPrefix.FindString(entry.ChatID)
		if m == "" {
			log.Warn("state: dropping delete entry with unusable chat id", "chat_id", entry.ChatID, "message_id", entry.MessageID)
			changed = true
			continue
		}
		if m != entry.ChatID {
			log.Warn("state: repaired chat id", "from", entry.ChatID, "to", m)
			entry.ChatID = m
			changed = true
		}
		kept = append(kept, entry)
	}
	d.DeleteQueue = kept
	return changed
}
