// Package analyzer holds the contract-risk analysis backends a worker can run.
package analyzer

import (
	"context"
	"fmt"
	"net/http"

	"github.com/riskdesk/backend/internal/config"
	"github.com/riskdesk/backend/internal/models"
)

// Request is the input of one analysis run.
type Request struct {
	Text      string
	Depth     models.SummaryDepth
	ModelName string
}

// Result is a successful analysis. RiskScore is within [0, 1].
type Result struct {
	Summary   string
	RiskScore float64
	Clauses   []models.RiskClause
}

// Outcome converts the result into what the job store persists.
func (r *Result) Outcome() models.AnalysisOutcome {
	return models.AnalysisOutcome{
		Summary:   r.Summary,
		RiskScore: r.RiskScore,
		Clauses:   r.Clauses,
	}
}

// Analyzer runs an analysis. Every failure wraps models.ErrBackend.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*Result, error)
}

// New builds the analyzer selected by cfg.Kind.
func New(cfg config.AnalyzerConfig) (Analyzer, error) {
	switch cfg.Kind {
	case "", "heuristic":
		return NewHeuristic(), nil
	case "remote":
		return NewRemote(&http.Client{Timeout: cfg.Timeout}, cfg.Endpoint, cfg.Token), nil
	case "fallback":
		return NewFallback(NewRemote(&http.Client{Timeout: cfg.Timeout}, cfg.Endpoint, cfg.Token), NewHeuristic()), nil
	default:
		return nil, fmt.Errorf("unknown analyzer kind %q", cfg.Kind)
	}
}
