package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"DealScanner/internal/config"
	"DealScanner/internal/domain"
)

func geminiText(t *testing.T, text string) string {
	t.Helper()
	resp := map[string]any{
		"candidates": []any{
			map[string]any{"content": map[string]any{"parts": []any{map[string]any{"text": text}}}},
		},
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	return string(raw)
}

func TestGeminiClassifyBatch(t *testing.T) {
	verdicts := "```json\n" + `[
		{"item": 1, "score": 9, "conviction": 8, "category": "hit", "continent": "Europe", "price": 120, "currency": "EUR"},
		{"item": 2, "score": 3, "category": "IGNORE"},
		{"item": 7, "score": 10, "conviction": 10, "category": "HIT"}
	]` + "\n```"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.String(), "test-model:generateContent") {
			t.Errorf("unexpected path %s", r.URL)
		}
		fmt.Fprint(w, geminiText(t, verdicts))
	}))
	defer srv.Close()

	g := NewGeminiClassifier(config.GeminiConfig{Endpoint: srv.URL, Model: "test-model", APIKey: "k"}, slog.Default())
	batch := []domain.Candidate{
		{ID: 1, Title: "Rome for 120 EUR"},
		{ID: 2, Title: "Roundup post"},
	}
	got, err := g.ClassifyBatch(context.Background(), batch)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d classifications, want 2 (out-of-range item dropped)", len(got))
	}
	if got[0].ID != 1 || got[0].Score != 9 || got[0].Category != domain.CategoryHit {
		t.Errorf("first classification = %+v", got[0])
	}
	if got[0].Continent != "Europe" || got[0].Price != "120" {
		t.Errorf("continent/price lost: %+v", got[0])
	}
	if got[1].ID != 2 || got[1].Category != domain.CategoryIgnore {
		t.Errorf("second classification = %+v", got[1])
	}
	if got[1].Conviction != 10 {
		t.Errorf("absent conviction = %d, want max confidence", got[1].Conviction)
	}
}

func TestGeminiRetriesOnRateLimit(t *testing.T) {
	if testing.Short() {
		t.Skip("backoff sleep")
	}
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, geminiText(t, `[{"item":1,"score":5,"conviction":5,"category":"ARCHIVE"}]`))
	}))
	defer srv.Close()

	g := NewGeminiClassifier(config.GeminiConfig{Endpoint: srv.URL, Model: "m", APIKey: "k"}, slog.Default())
	got, err := g.ClassifyBatch(context.Background(), []domain.Candidate{{ID: 1, Title: "t"}})
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
	if len(got) != 1 || got[0].Score != 5 {
		t.Errorf("got %+v", got)
	}
}

func TestGeminiBadRequestDoesNotRetry(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	g := NewGeminiClassifier(config.GeminiConfig{Endpoint: srv.URL, Model: "m", APIKey: "k"}, slog.Default())
	_, err := g.ClassifyBatch(context.Background(), []domain.Candidate{{ID: 1}})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func perplexityReply(t *testing.T, content string) string {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": content}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return string(raw)
}

func TestPerplexityAuditAccept(t *testing.T) {
	content := `{"verdict": "accept", "quality": 9, "message": "Rome for 120 EUR [1][2], book now", "subject": "Rome", "price": "120 EUR", "evidence": "matches carrier site [3]"}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer key" {
			t.Errorf("auth header = %q", got)
		}
		fmt.Fprint(w, perplexityReply(t, content))
	}))
	defer srv.Close()

	p := NewPerplexityAuditor(config.PerplexityConfig{Endpoint: srv.URL, Model: "sonar", APIKey: "key"}, slog.Default())
	audit := p.Audit(context.Background(), domain.Candidate{Title: "Rome deal"})
	if audit.Verdict != domain.VerdictAccept {
		t.Fatalf("verdict = %s", audit.Verdict)
	}
	if strings.Contains(audit.Message, "[1]") || strings.Contains(audit.Evidence, "[3]") {
		t.Errorf("citations not stripped: %q / %q", audit.Message, audit.Evidence)
	}
	if audit.Rejected() {
		t.Error("accepted audit reported as rejected")
	}
}

func TestPerplexityAuditFailureRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewPerplexityAuditor(config.PerplexityConfig{Endpoint: srv.URL, Model: "sonar", APIKey: "key"}, slog.Default())
	audit := p.Audit(context.Background(), domain.Candidate{Title: "x"})
	if audit.Verdict != domain.VerdictReject {
		t.Fatalf("verdict = %s, want REJECT", audit.Verdict)
	}
	if !audit.Rejected() {
		t.Error("failed audit must report rejected")
	}
	if audit.Message != domain.NoPublishSentinel {
		t.Errorf("message = %q, want sentinel", audit.Message)
	}
}

func TestPerplexityUnknownVerdictRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, perplexityReply(t, `{"verdict": "MAYBE", "message": "NULL"}`))
	}))
	defer srv.Close()

	p := NewPerplexityAuditor(config.PerplexityConfig{Endpoint: srv.URL, Model: "sonar", APIKey: "key"}, slog.Default())
	audit := p.Audit(context.Background(), domain.Candidate{Title: "x"})
	if audit.Verdict != domain.VerdictReject {
		t.Fatalf("verdict = %s, want REJECT for unknown value", audit.Verdict)
	}
}

func TestExtractJSON(t *testing.T) {
	cases := []struct{ in, want string }{
		{"```json\n[1]\n```", "[1]"},
		{"Here you go: {\"a\":1}", "{\"a\":1}"},
		{"[2]", "[2]"},
	}
	for _, c := range cases {
		if got := extractJSON(c.in); got != c.want {
			t.Errorf("extractJSON(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
