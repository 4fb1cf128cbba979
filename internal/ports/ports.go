package ports

import (
	"context"
	"errors"
	"time"

	"DealScanner/internal/domain"
)

// ErrConflict is returned by BlobStore.Save when the stored object moved
// past the expected generation.
var ErrConflict = errors.New("state generation conflict")

// CandidateSource pulls fresh, not-yet-seen offer candidates from the
// configured feeds. The pipeline still checks each candidate against its
// own ledger; the source does not guarantee deduplication.
type CandidateSource interface {
	FetchCandidates(ctx context.Context, seen func(dedupKey string) bool) ([]domain.Candidate, error)
}

// Classifier scores a batch of candidates. The result list may be shorter
// than the input on partial failure; entries correlate by Candidate.ID.
type Classifier interface {
	ClassifyBatch(ctx context.Context, batch []domain.Candidate) ([]domain.Classification, error)
}

// Auditor re-verifies a single high-scoring candidate with web search.
// Implementations must map their own failures to a rejecting audit and
// never return an error for a single bad offer.
type Auditor interface {
	Audit(ctx context.Context, c domain.Candidate) domain.Audit
}

// DeleteOutcome classifies the result of a message delete call.
type DeleteOutcome int

const (
	// DeleteOK means the target confirmed the deletion.
	DeleteOK DeleteOutcome = iota
	// DeleteGone means the message no longer exists or can no longer be
	// deleted; the queue entry is finished either way.
	DeleteGone
	// DeleteRetry means a transient failure; try again on a later sweep.
	DeleteRetry
)

// Messenger is the outbound chat channel. Send returns the provider
// message id, or 0 when the message could not be delivered.
type Messenger interface {
	Send(ctx context.Context, chatID, text, link string) (int64, error)
	SendPhoto(ctx context.Context, chatID, photoURL, caption, buttonText, buttonURL string) (int64, error)
	Delete(ctx context.Context, chatID string, messageID int64) DeleteOutcome
}

// ArtifactPublisher turns rendered digest HTML into a shareable page.
type ArtifactPublisher interface {
	Publish(ctx context.Context, title, htmlContent string) (string, error)
}

// BlobStore persists the raw state document with optimistic concurrency.
// Save must report a conflict when generation no longer matches the
// stored object, so the caller can reload and retry.
type BlobStore interface {
	Load(ctx context.Context) (data []byte, generation int64, err error)
	Save(ctx context.Context, data []byte, generation int64) (int64, error)
}

// Scheduler controls when pipeline runs execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
