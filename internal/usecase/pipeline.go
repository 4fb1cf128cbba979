package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"DealScanner/internal/config"
	"DealScanner/internal/domain"
	"DealScanner/internal/ports"
	"DealScanner/internal/state"
)

// Deps wires the pipeline to its adapters.
type Deps struct {
	Source     ports.CandidateSource
	Classifier ports.Classifier
	Auditor    ports.Auditor
	Messenger  ports.Messenger
	Publisher  ports.ArtifactPublisher
	State      *state.Manager
	Cfg        config.Config
	Log        *slog.Logger
	Now        func() time.Time
}

// Pipeline runs the full scan cycle: repair state, sweep expired messages,
// ingest feeds, classify, audit and route offers, then persist the outcome.
type Pipeline struct {
	deps Deps
	log  *slog.Logger
}

// NewPipeline builds a Pipeline from its dependencies.
func NewPipeline(deps Deps) *Pipeline {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Pipeline{deps: deps, log: deps.Log.With("component", "pipeline")}
}

// RunSummary reports what one scan cycle did.
type RunSummary struct {
	Candidates   int `json:"candidates"`
	Classified   int `json:"classified"`
	Audited      int `json:"audited"`
	Alerted      int `json:"alerted"`
	DigestQueued int `json:"digest_queued"`
	SweptDeletes int `json:"swept_deletes"`
}

// Run executes one scan cycle. State persistence failures are fatal for the
// run; per-offer failures are contained and logged.
func (p *Pipeline) Run(ctx context.Context) (RunSummary, error) {
	now := p.deps.Now().UTC()
	p.log.Info("run started", "at", now.Format(time.RFC3339))

	var sum RunSummary
	if err := p.repairState(ctx); err != nil {
		return sum, err
	}
	swept, err := p.SweepDeletes(ctx, now)
	if err != nil {
		return sum, err
	}
	sum.SweptDeletes = swept

	candidates, err := p.ingest(ctx)
	if err != nil {
		return sum, err
	}
	sum.Candidates = len(candidates)
	if len(candidates) == 0 {
		p.log.Info("run finished, nothing new")
		return sum, nil
	}

	scored := p.classify(ctx, candidates)
	sum.Classified = len(scored)
	if err := p.commitClassified(ctx, scored, now); err != nil {
		return sum, err
	}

	hits := p.route(scored)
	sum.Audited = len(hits)
	verified := p.audit(ctx, hits)
	alerted, leftover, err := p.alert(ctx, verified, now)
	if err != nil {
		return sum, err
	}
	sum.Alerted = alerted
	sum.DigestQueued = len(leftover)

	if err := p.queueForDigest(ctx, leftover, now); err != nil {
		return sum, err
	}

	p.log.Info("run finished",
		"candidates", sum.Candidates,
		"classified", sum.Classified,
		"audited", sum.Audited,
		"alerted", sum.Alerted,
		"digest_queued", sum.DigestQueued)
	return sum, nil
}

// repairState sanitizes loaded state and, if anything was repaired,
// checkpoints the repair immediately so a later crash cannot lose it.
// Clean state is not rewritten.
func (p *Pipeline) repairState(ctx context.Context) error {
	doc, _, err := p.deps.State.Load(ctx)
	if err != nil {
		return err
	}
	if !doc.Sanitize(p.log) {
		return nil
	}
	_, _, err = p.deps.State.Update(ctx, func(d *state.Document) error {
		d.Sanitize(p.log)
		return nil
	})
	if err != nil {
		return fmt.Errorf("repair state: %w", err)
	}
	return nil
}

func (p *Pipeline) ingest(ctx context.Context) ([]domain.Candidate, error) {
	doc, _, err := p.deps.State.Load(ctx)
	if err != nil {
		return nil, err
	}
	candidates, err := p.deps.Source.FetchCandidates(ctx, func(key string) bool {
		return !doc.IsNew(key)
	})
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	if limit := p.deps.Cfg.Pipeline.MaxPostsPerRun; limit > 0 && len(candidates) > limit {
		p.log.Info("capping run", "candidates", len(candidates), "limit", limit)
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// classify scores candidates in batches. A failed batch is logged and its
// candidates stay unmarked, so the next run picks them up again.
func (p *Pipeline) classify(ctx context.Context, candidates []domain.Candidate) []domain.ScoredCandidate {
	batchSize := p.deps.Cfg.Gemini.BatchSize
	if batchSize <= 0 {
		batchSize = 5
	}
	pause := time.Duration(p.deps.Cfg.Gemini.BatchPauseSec) * time.Second

	byID := make(map[int]domain.Candidate, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
	}

	var scored []domain.ScoredCandidate
	for start := 0; start < len(candidates); start += batchSize {
		end := start + batchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		if start > 0 && pause > 0 {
			select {
			case <-time.After(pause):
			case <-ctx.Done():
				return scored
			}
		}

		results, err := p.deps.Classifier.ClassifyBatch(ctx, candidates[start:end])
		if err != nil {
			p.log.Warn("batch classification failed, candidates retried next run", "error", err)
			continue
		}
		for _, cls := range results {
			cand, ok := byID[cls.ID]
			if !ok {
				continue
			}
			scored = append(scored, domain.ScoredCandidate{Candidate: cand, Classification: cls})
		}
	}
	return scored
}

// commitClassified marks every classified candidate as seen and prunes the
// ledger. Marking happens before any alert is attempted so a crash after
// this point can at worst lose an alert, never duplicate one.
func (p *Pipeline) commitClassified(ctx context.Context, scored []domain.ScoredCandidate, now time.Time) error {
	ttl := time.Duration(p.deps.Cfg.Pipeline.DedupTTLHours) * time.Hour
	_, _, err := p.deps.State.Update(ctx, func(d *state.Document) error {
		for _, sc := range scored {
			d.MarkSeen(sc.Candidate.DedupKey, now)
		}
		if removed := d.PruneLedger(ttl, now); removed > 0 {
			p.log.Info("ledger pruned", "removed", removed)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit classified: %w", err)
	}
	return nil
}

// route selects the audit-bound hits. Everything below the score threshold,
// below the conviction floor, or tagged as noise is discarded outright; a
// discarded candidate never reaches the auditor, an alert or a digest.
// A high score with low conviction is unreliable speculation, not a deal.
func (p *Pipeline) route(scored []domain.ScoredCandidate) []domain.ScoredCandidate {
	high := p.deps.Cfg.Pipeline.HighThreshold
	floor := p.deps.Cfg.Pipeline.ConvictionFloor

	var hits []domain.ScoredCandidate
	for _, sc := range scored {
		if sc.Classification.Category == domain.CategoryIgnore ||
			sc.Classification.Score < high ||
			sc.Classification.Conviction < floor {
			p.log.Debug("discarded", "title", sc.Candidate.Title,
				"score", sc.Classification.Score,
				"conviction", sc.Classification.Conviction,
				"category", sc.Classification.Category)
			continue
		}
		hits = append(hits, sc)
	}
	// Highest score audits first; it also wins slot contention on ties.
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Classification.Score > hits[j].Classification.Score
	})
	return hits
}

// audit runs tier-2 verification over the hits. Rejected offers vanish;
// survivors carry their audit forward.
func (p *Pipeline) audit(ctx context.Context, hits []domain.ScoredCandidate) []domain.VerifiedOffer {
	var verified []domain.VerifiedOffer
	for _, hit := range hits {
		audit := p.deps.Auditor.Audit(ctx, hit.Candidate)
		if audit.Rejected() {
			p.log.Info("audit rejected", "title", hit.Candidate.Title, "verdict", audit.Verdict)
			continue
		}
		verified = append(verified, domain.VerifiedOffer{
			Candidate:      hit.Candidate,
			Classification: hit.Classification,
			Audit:          audit,
		})
	}
	return verified
}

// alert sends at most one immediate alert for the current slot, picking
// the highest score with audit quality as the tie-break. Everything not
// alerted is returned for digest queuing. A failed send does not consume
// the slot.
func (p *Pipeline) alert(ctx context.Context, verified []domain.VerifiedOffer, now time.Time) (int, []domain.VerifiedOffer, error) {
	if len(verified) == 0 {
		return 0, nil, nil
	}

	sort.SliceStable(verified, func(i, j int) bool {
		if verified[i].Classification.Score != verified[j].Classification.Score {
			return verified[i].Classification.Score > verified[j].Classification.Score
		}
		return verified[i].Audit.Quality > verified[j].Audit.Quality
	})

	doc, _, err := p.deps.State.Load(ctx)
	if err != nil {
		return 0, nil, err
	}
	slot := domain.SlotFor(now)

	var leftover []domain.VerifiedOffer
	alerted := 0
	alertedKeys := map[string]bool{}
	for _, offer := range verified {
		if alertedKeys[offer.Candidate.DedupKey] {
			p.log.Debug("dropping duplicate of alerted offer", "title", offer.Candidate.Title)
			continue
		}
		if alerted > 0 || !p.alertEligible(offer) || !doc.CanAlert(string(slot), now) {
			leftover = append(leftover, offer)
			continue
		}

		msgID, err := p.deps.Messenger.Send(ctx, p.deps.Cfg.Telegram.ChannelID, alertText(offer), offer.Candidate.Link)
		if err != nil {
			p.log.Warn("alert send failed, slot left open", "title", offer.Candidate.Title, "error", err)
			leftover = append(leftover, offer)
			continue
		}

		deleteAt := now.Add(time.Duration(p.deps.Cfg.Pipeline.DeleteAfterHours) * time.Hour).Truncate(time.Hour)
		_, _, err = p.deps.State.Update(ctx, func(d *state.Document) error {
			d.UseAlertSlot(string(slot), now)
			d.ScheduleDelete(state.DeleteEntry{
				ChatID:    p.deps.Cfg.Telegram.ChannelID,
				MessageID: msgID,
				DeleteAt:  deleteAt.UTC().Format(time.RFC3339),
				SourceURL: offer.Candidate.Link,
			})
			return nil
		})
		if err != nil {
			return alerted, nil, fmt.Errorf("record alert: %w", err)
		}
		p.log.Info("alert sent", "title", offer.Candidate.Title, "slot", slot, "message_id", msgID)
		alerted++
		alertedKeys[offer.Candidate.DedupKey] = true
	}
	return alerted, leftover, nil
}

// alertEligible restricts immediate alerts to accepted offers aimed at a
// priority continent; everything else waits for the digest.
func (p *Pipeline) alertEligible(offer domain.VerifiedOffer) bool {
	if offer.Audit.Verdict != domain.VerdictAccept {
		return false
	}
	for _, continent := range p.deps.Cfg.Alerts.PriorityContinents {
		if offer.Classification.Continent == continent {
			return true
		}
	}
	return false
}

func (p *Pipeline) queueForDigest(ctx context.Context, offers []domain.VerifiedOffer, now time.Time) error {
	if len(offers) == 0 {
		return nil
	}
	morning := p.deps.Cfg.Scheduler.MorningFlushHour
	evening := p.deps.Cfg.Scheduler.EveningFlushHour
	_, _, err := p.deps.State.Update(ctx, func(d *state.Document) error {
		for _, offer := range offers {
			d.QueueDigest(state.DigestItem{
				DedupKey: offer.Candidate.DedupKey,
				Title:    offer.Candidate.Title,
				Link:     offer.Candidate.Link,
				Score:    offer.Classification.Score,
				Source:   offer.Candidate.SourceURL,
				Verdict:  string(offer.Audit.Verdict),
				Subject:  offer.Audit.Subject,
				Price:    offer.Audit.Price,
				Message:  digestMessage(offer),
				AddedAt:  now.UTC().Format(time.RFC3339),
				Summary:  digestSummary(offer),
			}, now, morning, evening)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("queue digest: %w", err)
	}
	return nil
}

func alertText(offer domain.VerifiedOffer) string {
	if offer.Audit.Message != "" && offer.Audit.Message != domain.NoPublishSentinel {
		return offer.Audit.Message
	}
	text := "🔥 *" + offer.Candidate.Title + "*"
	if offer.Audit.Price != "" {
		text += "\n💰 " + offer.Audit.Price
	}
	return text
}

// digestMessage is the auditor's publish text, empty when the auditor
// declined to produce one.
func digestMessage(offer domain.VerifiedOffer) string {
	if offer.Audit.Message == domain.NoPublishSentinel {
		return ""
	}
	return offer.Audit.Message
}

func digestSummary(offer domain.VerifiedOffer) string {
	if offer.Audit.Quality > 0 && offer.Audit.Evidence != "" {
		return offer.Audit.Evidence
	}
	if offer.Audit.Subject != "" {
		return offer.Audit.Subject
	}
	return ""
}
