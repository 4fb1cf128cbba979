package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"DealScanner/internal/config"
	"DealScanner/internal/domain"
	"DealScanner/internal/ports"
)

const auditSystemPrompt = `You are a skeptical travel-deal auditor with live web search.
Verify the offer below: is the price real and currently bookable, is the routing plausible,
and is it actually a standout deal compared to typical prices on the route right now?

Respond with ONLY a JSON object:
{"verdict": "ACCEPT" | "BORDERLINE" | "REJECT",
 "quality": 1-10 integer for how good the verified deal really is,
 "message": "ready-to-post alert text in Markdown, or NULL if nothing should be published",
 "subject": "destination or route",
 "price": "headline price with currency",
 "evidence": "what you found while verifying"}`

// PerplexityAuditor is the tier-2 verifier. It cross-checks a single
// high-scoring candidate against live web results before anything is
// published.
type PerplexityAuditor struct {
	cfg    config.PerplexityConfig
	client *http.Client
	log    *slog.Logger
}

var _ ports.Auditor = (*PerplexityAuditor)(nil)

// NewPerplexityAuditor creates an auditor using the given configuration.
func NewPerplexityAuditor(cfg config.PerplexityConfig, log *slog.Logger) *PerplexityAuditor {
	return &PerplexityAuditor{
		cfg:    cfg,
		client: &http.Client{Timeout: 90 * time.Second},
		log:    log.With("component", "perplexity"),
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type auditVerdict struct {
	Verdict  string `json:"verdict"`
	Quality  int    `json:"quality"`
	Message  string `json:"message"`
	Subject  string `json:"subject"`
	Price    string `json:"price"`
	Evidence string `json:"evidence"`
}

// Audit verifies a single candidate. It never returns an error: any
// transport, API or parse failure produces a rejecting audit so a flaky
// auditor quietly demotes offers instead of crashing the run.
func (p *PerplexityAuditor) Audit(ctx context.Context, c domain.Candidate) domain.Audit {
	userPrompt := fmt.Sprintf("Offer: %s\nLink: %s\n\n%s", c.Title, c.Link, c.Description)
	payload, err := json.Marshal(chatRequest{
		Model: p.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: auditSystemPrompt},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		return p.failedAudit(c, err)
	}

	body, err := doWithRetry(ctx, p.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
		return req, nil
	})
	if err != nil {
		return p.failedAudit(c, err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return p.failedAudit(c, err)
	}
	if len(parsed.Choices) == 0 {
		return p.failedAudit(c, fmt.Errorf("empty choices"))
	}

	text := extractJSON(stripCitations(parsed.Choices[0].Message.Content))
	var verdict auditVerdict
	if err := json.Unmarshal([]byte(text), &verdict); err != nil {
		return p.failedAudit(c, fmt.Errorf("malformed verdict: %w", err))
	}

	return domain.Audit{
		Verdict:  normalizeVerdict(verdict.Verdict),
		Quality:  verdict.Quality,
		Message:  stripCitations(strings.TrimSpace(verdict.Message)),
		Subject:  strings.TrimSpace(verdict.Subject),
		Price:    strings.TrimSpace(verdict.Price),
		Evidence: stripCitations(strings.TrimSpace(verdict.Evidence)),
	}
}

func (p *PerplexityAuditor) failedAudit(c domain.Candidate, err error) domain.Audit {
	p.log.Warn("audit failed, rejecting offer", "title", c.Title, "error", err)
	return domain.Audit{
		Verdict: domain.VerdictReject,
		Message: domain.NoPublishSentinel,
	}
}

func normalizeVerdict(raw string) domain.Verdict {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case string(domain.VerdictAccept):
		return domain.VerdictAccept
	case string(domain.VerdictBorderline):
		return domain.VerdictBorderline
	default:
		return domain.VerdictReject
	}
}

var citationMarker = regexp.MustCompile(`\[\d+\]`)

// stripCitations removes inline web-search citation markers like [1][3]
// that would otherwise leak into published text.
func stripCitations(text string) string {
	return citationMarker.ReplaceAllString(text, "")
}
