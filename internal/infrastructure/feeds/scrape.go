package feeds

import (
	"context"
	"net/http"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	minParagraphLen   = 40
	maxDescriptionLen = 500
)

var articleSelectors = []string{"article p", ".entry-content p", ".post-content p", "main p"}

// scraper pulls a short article summary from a deal page. Hosts that block
// or garble scrapers are listed in noScrape and always fall back to the
// feed description.
type scraper struct {
	client   *http.Client
	noScrape map[string]struct{}
}

func newScraper(client *http.Client, noScrapeHosts []string) *scraper {
	blocked := make(map[string]struct{}, len(noScrapeHosts))
	for _, h := range noScrapeHosts {
		blocked[strings.ToLower(h)] = struct{}{}
	}
	return &scraper{client: client, noScrape: blocked}
}

// articleText fetches the page and returns the first substantial paragraphs,
// truncated on a word boundary. Any failure returns the empty string; the
// caller falls back to the feed's own description.
func (s *scraper) articleText(ctx context.Context, pageURL, host string, headers map[string]string) string {
	if _, blocked := s.noScrape[host]; blocked {
		return ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return ""
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return ""
	}

	for _, selector := range articleSelectors {
		var parts []string
		doc.Find(selector).EachWithBreak(func(_ int, p *goquery.Selection) bool {
			text := strings.TrimSpace(p.Text())
			if len(text) >= minParagraphLen {
				parts = append(parts, text)
			}
			return len(strings.Join(parts, " ")) < maxDescriptionLen
		})
		if len(parts) > 0 {
			return truncateWords(strings.Join(parts, " "), maxDescriptionLen)
		}
	}
	return ""
}

// stripTags flattens an HTML fragment to plain text.
func stripTags(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	return strings.TrimSpace(doc.Text())
}

// truncateWords cuts text at limit without splitting the last word.
func truncateWords(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) <= limit {
		return text
	}
	cut := text[:limit]
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "…"
}
