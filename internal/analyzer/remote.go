package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/riskdesk/backend/internal/models"
)

const (
	defaultInferenceURL   = "https://api-inference.huggingface.co/models"
	defaultSummaryModel   = "facebook/bart-large-cnn"
	defaultSentimentModel = "cardiffnlp/twitter-xlm-roberta-base-sentiment"

	maxSummaryInput   = 1000
	maxSentimentInput = 500
)

// Remote summarizes and scores a document through a hosted inference API.
type Remote struct {
	httpClient     *http.Client
	baseURL        string
	token          string
	SummaryModel   string
	SentimentModel string
}

func NewRemote(httpClient *http.Client, baseURL, token string) *Remote {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if baseURL == "" {
		baseURL = defaultInferenceURL
	}
	return &Remote{
		httpClient:     httpClient,
		baseURL:        baseURL,
		token:          token,
		SummaryModel:   defaultSummaryModel,
		SentimentModel: defaultSentimentModel,
	}
}

func (r *Remote) Analyze(ctx context.Context, req Request) (*Result, error) {
	summary, err := r.summarize(ctx, req.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: summarize: %v", models.ErrBackend, err)
	}
	score, err := r.score(ctx, req.Text)
	if err != nil {
		return nil, fmt.Errorf("%w: sentiment: %v", models.ErrBackend, err)
	}

	return &Result{
		Summary:   remoteSummary(summary, req.Depth, score),
		RiskScore: score,
		Clauses:   ExtractClauses(req.Text, score),
	}, nil
}

func (r *Remote) summarize(ctx context.Context, text string) (string, error) {
	payload := map[string]interface{}{
		"inputs": clip(text, maxSummaryInput),
		"parameters": map[string]interface{}{
			"max_length": 100,
			"min_length": 30,
			"do_sample":  false,
		},
	}

	var parsed []struct {
		SummaryText string `json:"summary_text"`
	}
	if err := r.post(ctx, r.SummaryModel, payload, &parsed); err != nil {
		return "", err
	}
	if len(parsed) == 0 || strings.TrimSpace(parsed[0].SummaryText) == "" {
		return "", errors.New("empty summary")
	}
	return parsed[0].SummaryText, nil
}

type sentimentLabel struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

func (r *Remote) score(ctx context.Context, text string) (float64, error) {
	payload := map[string]interface{}{"inputs": clip(text, maxSentimentInput)}

	var raw json.RawMessage
	if err := r.post(ctx, r.SentimentModel, payload, &raw); err != nil {
		return 0, err
	}

	// the API returns either [[{label, score}, ...]] or [{label, score}, ...]
	var nested [][]sentimentLabel
	if err := json.Unmarshal(raw, &nested); err == nil && len(nested) > 0 && len(nested[0]) > 0 {
		return sentimentRisk(nested[0][0]), nil
	}
	var flat []sentimentLabel
	if err := json.Unmarshal(raw, &flat); err == nil && len(flat) > 0 {
		return sentimentRisk(flat[0]), nil
	}
	return 0, errors.New("unexpected sentiment response")
}

// sentimentRisk maps a sentiment label to a risk score: negative text is risky.
func sentimentRisk(l sentimentLabel) float64 {
	label := strings.ToUpper(l.Label)
	switch {
	case strings.Contains(label, "NEGATIVE"):
		return min(0.7+l.Score*0.3, 1.0)
	case strings.Contains(label, "POSITIVE"):
		return max(0.1, 0.4-l.Score*0.3)
	default:
		return 0.5
	}
}

func (r *Remote) post(ctx context.Context, model string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s", strings.TrimRight(r.baseURL, "/"), model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if r.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.token)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(data))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func remoteSummary(summary string, depth models.SummaryDepth, score float64) string {
	if depth == models.DepthDetailed {
		return fmt.Sprintf(`CONTRACT ANALYSIS

SUMMARY:
%s

RISK ASSESSMENT:
Overall risk score: %.2f of 1.0`, summary, score)
	}
	return fmt.Sprintf("• %s\n• Risk score: %.2f", summary, score)
}
