package feeds

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"DealScanner/internal/config"
	"DealScanner/internal/domain"
	"DealScanner/internal/ports"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// Source pulls candidates from the configured RSS feeds. Feeds are fetched
// concurrently, with a per-host semaphore and request jitter so that several
// feeds on one domain do not hammer it at once.
type Source struct {
	cfg     config.FeedsConfig
	client  *http.Client
	log     *slog.Logger
	scraper *scraper

	mu        sync.Mutex
	hostSlots map[string]chan struct{}
}

var _ ports.CandidateSource = (*Source)(nil)

// NewSource builds a Source from the feeds configuration.
func NewSource(cfg config.FeedsConfig, log *slog.Logger) *Source {
	client := &http.Client{Timeout: time.Duration(cfg.HTTPTimeoutSec * float64(time.Second))}
	return &Source{
		cfg:       cfg,
		client:    client,
		log:       log.With("component", "feeds"),
		scraper:   newScraper(client, cfg.NoScrapeHosts),
		hostSlots: map[string]chan struct{}{},
	}
}

// FetchCandidates reads every configured feed and returns fresh candidates.
// Items whose dedup key is already seen are skipped before any page scrape.
// A feed that fails to load is logged and skipped; one dead feed must not
// starve the rest.
func (s *Source) FetchCandidates(ctx context.Context, seen func(dedupKey string) bool) ([]domain.Candidate, error) {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []domain.Candidate
	)

	for _, feedURL := range s.cfg.Sources {
		wg.Add(1)
		go func(feedURL string) {
			defer wg.Done()
			items, err := s.fetchFeed(ctx, feedURL, seen)
			if err != nil {
				s.log.Warn("feed fetch failed", "feed", feedURL, "error", err)
				return
			}
			mu.Lock()
			results = append(results, items...)
			mu.Unlock()
		}(feedURL)
	}
	wg.Wait()

	// Goroutine completion order is not stable; keep output deterministic.
	sort.Slice(results, func(i, j int) bool {
		if results[i].SourceURL != results[j].SourceURL {
			return results[i].SourceURL < results[j].SourceURL
		}
		return results[i].DedupKey < results[j].DedupKey
	})
	for i := range results {
		results[i].ID = i + 1
	}
	return results, nil
}

func (s *Source) fetchFeed(ctx context.Context, feedURL string, seen func(string) bool) ([]domain.Candidate, error) {
	host := hostOf(feedURL)
	release := s.acquireHost(host)
	defer release()
	s.jitter(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, err
	}
	s.applyHeaders(req, host)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}

	var out []domain.Candidate
	for _, item := range feed.Items {
		if s.cfg.MaxPerDomain > 0 && len(out) >= s.cfg.MaxPerDomain {
			break
		}
		cand, ok := s.toCandidate(item, feedURL, host)
		if !ok {
			continue
		}
		if seen != nil && seen(cand.DedupKey) {
			continue
		}
		cand.Description = s.describe(ctx, item, cand)
		out = append(out, cand)
	}
	s.log.Info("feed fetched", "feed", feedURL, "items", len(feed.Items), "fresh", len(out))
	return out, nil
}

func (s *Source) toCandidate(item *gofeed.Item, feedURL, host string) (domain.Candidate, bool) {
	link := strings.TrimSpace(item.Link)
	if link == "" {
		return domain.Candidate{}, false
	}
	dedup := strings.TrimSpace(item.GUID)
	if dedup == "" {
		dedup = link
	}
	return domain.Candidate{
		Title:     strings.TrimSpace(item.Title),
		Link:      link,
		DedupKey:  dedup,
		SourceURL: feedURL,
		Host:      host,
	}, true
}

// describe prefers scraped article paragraphs and falls back to the feed's
// own description when scraping is disabled or yields nothing.
func (s *Source) describe(ctx context.Context, item *gofeed.Item, cand domain.Candidate) string {
	if text := s.scraper.articleText(ctx, cand.Link, hostOf(cand.Link), s.headersFor(hostOf(cand.Link))); text != "" {
		return text
	}
	return truncateWords(stripTags(item.Description), maxDescriptionLen)
}

func (s *Source) acquireHost(host string) func() {
	s.mu.Lock()
	slots, ok := s.hostSlots[host]
	if !ok {
		n := s.cfg.PerHostConcurrency
		if n <= 0 {
			n = 1
		}
		slots = make(chan struct{}, n)
		s.hostSlots[host] = slots
	}
	s.mu.Unlock()

	slots <- struct{}{}
	return func() { <-slots }
}

func (s *Source) jitter(ctx context.Context) {
	if s.cfg.JitterMaxMs <= 0 {
		return
	}
	span := s.cfg.JitterMaxMs - s.cfg.JitterMinMs
	if span < 0 {
		span = 0
	}
	delay := time.Duration(s.cfg.JitterMinMs+rand.Intn(span+1)) * time.Millisecond
	select {
	case <-time.After(delay):
	case <-ctx.Done():
	}
}

func (s *Source) applyHeaders(req *http.Request, host string) {
	req.Header.Set("User-Agent", defaultUserAgent)
	for k, v := range s.headersFor(host) {
		req.Header.Set(k, v)
	}
}

func (s *Source) headersFor(host string) map[string]string {
	for domainSuffix, headers := range s.cfg.DomainHeaders {
		if host == domainSuffix || strings.HasSuffix(host, "."+domainSuffix) {
			return headers
		}
	}
	return nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
