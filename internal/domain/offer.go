package domain

import "time"

// Candidate is a single feed entry considered for publication during one run.
// ID is only unique within the ingestion batch that produced it.
type Candidate struct {
	ID          int
	Title       string
	Link        string
	DedupKey    string
	SourceURL   string
	Host        string
	Description string
}

// Category is the tier-1 classifier's disposition for a candidate.
type Category string

const (
	CategoryHit     Category = "HIT"
	CategoryArchive Category = "ARCHIVE"
	CategoryIgnore  Category = "IGNORE"
)

// Classification is the tier-1 scoring result for one candidate,
// correlated back to the batch by ID.
type Classification struct {
	ID         int
	Score      int
	Conviction int
	Category   Category
	Continent  string
	Price      string
	Currency   string
}

// Verdict is the tier-2 auditor's final call on a high-scoring offer.
type Verdict string

const (
	VerdictAccept     Verdict = "ACCEPT"
	VerdictBorderline Verdict = "BORDERLINE"
	VerdictReject     Verdict = "REJECT"
)

// NoPublishSentinel in Audit.Message means the auditor produced no
// publishable text; such offers are treated as rejected.
const NoPublishSentinel = "NULL"

// Audit is the tier-2 verification result for one candidate.
type Audit struct {
	Verdict  Verdict
	Quality  int
	Message  string
	Subject  string
	Price    string
	Evidence string
}

// Rejected reports whether the audit rules the offer out of publication.
func (a Audit) Rejected() bool {
	return a.Verdict == VerdictReject || a.Message == NoPublishSentinel
}

// ScoredCandidate pairs a candidate with its classification for routing.
type ScoredCandidate struct {
	Candidate      Candidate
	Classification Classification
}

// VerifiedOffer is a candidate that survived both tiers and is ready to
// be alerted or queued for a digest.
type VerifiedOffer struct {
	Candidate      Candidate
	Classification Classification
	Audit          Audit
}

// Slot is a fixed time-of-day window limiting immediate alerts.
type Slot string

const (
	SlotMorning   Slot = "morning"
	SlotAfternoon Slot = "afternoon"
	SlotEvening   Slot = "evening"
	SlotNone      Slot = ""
)

// SlotFor maps an hour of day (UTC) to its alert slot. Night hours carry
// no slot: nothing is alerted between midnight and six.
func SlotFor(t time.Time) Slot {
	switch h := t.UTC().Hour(); {
	case h >= 6 && h < 12:
		return SlotMorning
	case h >= 12 && h < 18:
		return SlotAfternoon
	case h >= 18:
		return SlotEvening
	default:
		return SlotNone
	}
}
