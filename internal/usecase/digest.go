package usecase

import (
	"context"
	"errors"
	"fmt"
	"html"
	"math/rand"
	"strings"
	"time"

	"DealScanner/internal/domain"
	"DealScanner/internal/state"
)

const topTierScore = 10

// ErrUnknownQueue marks a flush request naming a queue that does not exist.
var ErrUnknownQueue = errors.New("unknown digest queue")

// digestCovers is a small rotation of cover photos for the digest
// announcement post.
var digestCovers = []string{
	"https://images.unsplash.com/photo-1436491865332-7a61a109cc05?w=1200",
	"https://images.unsplash.com/photo-1488646953014-85cb44e25828?w=1200",
	"https://images.unsplash.com/photo-1503220317375-aaad61436b1b?w=1200",
	"https://images.unsplash.com/photo-1469854523086-cc02fe5d8800?w=1200",
}

// FlushDueDigest publishes whichever digest queue is due at now, if any,
// and returns the created page URL. Outside the two flush hours it does
// nothing.
func (p *Pipeline) FlushDueDigest(ctx context.Context, now time.Time) (string, error) {
	switch now.UTC().Hour() {
	case p.deps.Cfg.Scheduler.MorningFlushHour:
		return p.flushDigest(ctx, "morning", now)
	case p.deps.Cfg.Scheduler.EveningFlushHour:
		return p.flushDigest(ctx, "evening", now)
	default:
		return "", nil
	}
}

// FlushDigest force-publishes the named queue regardless of the hour.
func (p *Pipeline) FlushDigest(ctx context.Context, queue string, now time.Time) (string, error) {
	if queue != "morning" && queue != "evening" {
		return "", fmt.Errorf("digest: %w: %q", ErrUnknownQueue, queue)
	}
	return p.flushDigest(ctx, queue, now)
}

// flushDigest renders and publishes one queue. The queue is cleared only
// after the page exists and the channel message went out, so a failed
// publish keeps every item for the next attempt.
func (p *Pipeline) flushDigest(ctx context.Context, queue string, now time.Time) (string, error) {
	doc, _, err := p.deps.State.Load(ctx)
	if err != nil {
		return "", err
	}
	items := doc.MorningDigestQueue
	if queue == "evening" {
		items = doc.EveningDigestQueue
	}
	if len(items) == 0 {
		p.log.Info("digest queue empty, skipping flush", "queue", queue)
		return "", nil
	}

	ranked := state.RankedDigest(state.DedupeDigest(items))
	title := digestTitle(queue, now)
	pageURL, err := p.deps.Publisher.Publish(ctx, title, renderDigest(ranked))
	if err != nil {
		return "", fmt.Errorf("digest publish: %w", err)
	}

	caption := fmt.Sprintf("🗞 *%s*\n%d deals worth a look", title, len(ranked))
	cover := digestCovers[rand.Intn(len(digestCovers))]
	if _, err := p.deps.Messenger.SendPhoto(ctx, p.deps.Cfg.Telegram.ChannelID, cover, caption, "Read the digest", pageURL); err != nil {
		return "", fmt.Errorf("digest announce: %w", err)
	}

	_, _, err = p.deps.State.Update(ctx, func(d *state.Document) error {
		if queue == "evening" {
			d.EveningDigestQueue = []state.DigestItem{}
		} else {
			d.MorningDigestQueue = []state.DigestItem{}
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("digest clear: %w", err)
	}

	p.log.Info("digest flushed", "queue", queue, "items", len(ranked), "page", pageURL)
	return pageURL, nil
}

func digestTitle(queue string, now time.Time) string {
	label := "Morning"
	if queue == "evening" {
		label = "Evening"
	}
	return fmt.Sprintf("%s travel deals, %s", label, now.UTC().Format("2 January 2006"))
}

// renderDigest builds the Telegraph page body. Top-tier offers get their
// own section above the rest.
func renderDigest(ranked []state.DigestItem) string {
	var top, rest []state.DigestItem
	for _, item := range ranked {
		if item.Score >= topTierScore {
			top = append(top, item)
		} else {
			rest = append(rest, item)
		}
	}

	var b strings.Builder
	if len(top) > 0 {
		b.WriteString("<h3>🔥 Top tier</h3>")
		writeDigestItems(&b, top)
	}
	if len(rest) > 0 {
		if len(top) > 0 {
			b.WriteString("<h3>Also worth it</h3>")
		}
		writeDigestItems(&b, rest)
	}
	return b.String()
}

func writeDigestItems(b *strings.Builder, items []state.DigestItem) {
	for _, item := range items {
		fmt.Fprintf(b, `<p><a href="%s"><b>%s</b></a>`, html.EscapeString(item.Link), html.EscapeString(item.Title))
		if body := digestBody(item); body != "" {
			fmt.Fprintf(b, "<br>%s", strings.ReplaceAll(html.EscapeString(body), "\n", "<br>"))
		} else if item.Price != "" {
			fmt.Fprintf(b, "<br>💰 %s", html.EscapeString(item.Price))
		}
		b.WriteString("</p>")
	}
}

// digestBody picks the entry text: the auditor's verified message when one
// exists, the classifier-stage summary otherwise.
func digestBody(item state.DigestItem) string {
	if item.Message != "" && item.Message != domain.NoPublishSentinel {
		return item.Message
	}
	return item.Summary
}
