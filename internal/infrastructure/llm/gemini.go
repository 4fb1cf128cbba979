package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"DealScanner/internal/config"
	"DealScanner/internal/domain"
	"DealScanner/internal/ports"
)

const classifyPrompt = `You are a strict travel-deal analyst. For every numbered offer below,
judge whether it is a genuinely outstanding deal for a traveler based in Central Europe.

Score each offer 1-10 (10 = exceptional, near-error fare) and state your conviction 1-10
(how certain you are the offer is real and bookable). Assign a category:
"HIT" for deals worth alerting, "ARCHIVE" for decent deals worth a digest, "IGNORE" for noise,
ads, roundups and expired offers. Detect the destination continent and the headline price if present.

Respond with ONLY a JSON array, one object per offer, in the form:
[{"item": 1, "score": 7, "conviction": 8, "category": "ARCHIVE", "continent": "Asia", "price": 1450, "currency": "PLN"}]

Offers:
`

// GeminiClassifier is the tier-1 scorer. It sends candidate batches to the
// Gemini generateContent API and parses the structured verdicts back out.
type GeminiClassifier struct {
	cfg    config.GeminiConfig
	client *http.Client
	log    *slog.Logger
}

var _ ports.Classifier = (*GeminiClassifier)(nil)

// NewGeminiClassifier creates a classifier using the given configuration.
func NewGeminiClassifier(cfg config.GeminiConfig, log *slog.Logger) *GeminiClassifier {
	return &GeminiClassifier{
		cfg:    cfg,
		client: &http.Client{Timeout: 60 * time.Second},
		log:    log.With("component", "gemini"),
	}
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig geminiGenConfig `json:"generationConfig"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMimeType string  `json:"responseMimeType"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

type classifiedItem struct {
	Item       int         `json:"item"`
	Score      int         `json:"score"`
	Conviction *int        `json:"conviction"`
	Category   string      `json:"category"`
	Continent  string      `json:"continent"`
	Price      json.Number `json:"price"`
	Currency   string      `json:"currency"`
}

// conviction defaults to full confidence when the model omits the field.
func (c classifiedItem) conviction() int {
	if c.Conviction == nil {
		return 10
	}
	return *c.Conviction
}

// ClassifyBatch scores one batch of candidates. Items the model failed to
// echo back are absent from the result; the caller retries them on a later
// run because their dedup keys stay unmarked.
func (g *GeminiClassifier) ClassifyBatch(ctx context.Context, batch []domain.Candidate) ([]domain.Classification, error) {
	if len(batch) == 0 {
		return nil, nil
	}

	prompt := buildClassifyPrompt(batch)
	payload, err := json.Marshal(geminiRequest{
		Contents:         []geminiContent{{Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: geminiGenConfig{Temperature: 0.2, ResponseMimeType: "application/json"},
	})
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/%s:generateContent?key=%s", g.cfg.Endpoint, g.cfg.Model, g.cfg.APIKey)
	body, err := doWithRetry(ctx, g.client, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("gemini: decode response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("gemini: empty response")
	}

	text := extractJSON(parsed.Candidates[0].Content.Parts[0].Text)
	var items []classifiedItem
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		return nil, fmt.Errorf("gemini: malformed verdict payload: %w", err)
	}

	var out []domain.Classification
	for _, item := range items {
		idx := item.Item - 1
		if idx < 0 || idx >= len(batch) {
			g.log.Warn("verdict references unknown item", "item", item.Item)
			continue
		}
		out = append(out, domain.Classification{
			ID:         batch[idx].ID,
			Score:      item.Score,
			Conviction: item.conviction(),
			Category:   domain.Category(strings.ToUpper(strings.TrimSpace(item.Category))),
			Continent:  strings.TrimSpace(item.Continent),
			Price:      item.Price.String(),
			Currency:   strings.TrimSpace(item.Currency),
		})
	}
	return out, nil
}

func buildClassifyPrompt(batch []domain.Candidate) string {
	var b strings.Builder
	b.WriteString(classifyPrompt)
	for i, c := range batch {
		fmt.Fprintf(&b, "\n%d. %s\n%s\n", i+1, c.Title, c.Description)
	}
	return b.String()
}

// extractJSON strips markdown code fences the model sometimes wraps its
// JSON in, and trims anything before the first bracket.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)
	if idx := strings.IndexAny(text, "[{"); idx > 0 {
		text = text[idx:]
	}
	return text
}
