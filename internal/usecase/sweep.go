package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"DealScanner/internal/ports"
	"DealScanner/internal/state"
)

// SweepDeletes removes channel messages whose retention expired and
// reports how many due entries were processed. Due entries are deleted
// concurrently; entries that hit a transient failure stay queued for the
// next sweep, while confirmed and gone messages leave the queue for good.
func (p *Pipeline) SweepDeletes(ctx context.Context, now time.Time) (int, error) {
	doc, _, err := p.deps.State.Load(ctx)
	if err != nil {
		return 0, err
	}
	due, _ := doc.SplitDeleteQueue(now)
	if len(due) == 0 {
		return 0, nil
	}

	type key struct {
		chatID    string
		messageID int64
	}
	outcomes := make(map[key]ports.DeleteOutcome, len(due))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, entry := range due {
		wg.Add(1)
		go func(entry state.DeleteEntry) {
			defer wg.Done()
			outcome := p.deps.Messenger.Delete(ctx, entry.ChatID, entry.MessageID)
			mu.Lock()
			outcomes[key{entry.ChatID, entry.MessageID}] = outcome
			mu.Unlock()
		}(entry)
	}
	wg.Wait()

	deleted, gone, retained := 0, 0, 0
	_, _, err = p.deps.State.Update(ctx, func(d *state.Document) error {
		deleted, gone, retained = 0, 0, 0
		kept := d.DeleteQueue[:0]
		for _, entry := range d.DeleteQueue {
			outcome, sweptNow := outcomes[key{entry.ChatID, entry.MessageID}]
			if !sweptNow || outcome == ports.DeleteRetry {
				if sweptNow {
					retained++
				}
				kept = append(kept, entry)
				continue
			}
			if outcome == ports.DeleteOK {
				deleted++
			} else {
				gone++
			}
		}
		d.DeleteQueue = kept
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("sweep deletes: %w", err)
	}

	p.log.Info("delete sweep finished", "due", len(due), "deleted", deleted, "gone", gone, "retried", retained)
	return len(due), nil
}
