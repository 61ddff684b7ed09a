package analyzer

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/riskdesk/backend/internal/models"
)

type riskKeyword struct {
	word  string
	level models.RiskLevel
}

// riskKeywords covers Russian and English contract vocabulary.
var riskKeywords = []riskKeyword{
	{"штраф", models.RiskHigh},
	{"пеня", models.RiskHigh},
	{"неустойка", models.RiskHigh},
	{"ответственность", models.RiskMedium},
	{"обязательство", models.RiskMedium},
	{"гарантия", models.RiskMedium},
	{"возмещение", models.RiskHigh},
	{"ущерб", models.RiskHigh},
	{"санкции", models.RiskHigh},
	{"нарушение", models.RiskMedium},
	{"просрочка", models.RiskMedium},
	{"penalty", models.RiskHigh},
	{"fine", models.RiskHigh},
	{"liability", models.RiskMedium},
	{"damages", models.RiskHigh},
	{"breach", models.RiskMedium},
	{"default", models.RiskHigh},
	{"forfeit", models.RiskHigh},
	{"sanction", models.RiskHigh},
}

var levelExplanations = map[models.RiskLevel]string{
	models.RiskHigh:   "Critical terms found that need close attention",
	models.RiskMedium: "Potential risks found, review recommended",
	models.RiskLow:    "Standard terms with minimal risk",
}

const (
	maxClauseSentences = 10
	minSentenceLength  = 20
	maxClauseLength    = 200
)

// Heuristic scores risk from keyword occurrences. It needs no network and
// never fails unless the context is done.
type Heuristic struct{}

func NewHeuristic() *Heuristic {
	return &Heuristic{}
}

func (h *Heuristic) Analyze(ctx context.Context, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrBackend, err)
	}

	score := KeywordScore(req.Text)
	return &Result{
		Summary:   heuristicSummary(req.Text, req.Depth, score),
		RiskScore: score,
		Clauses:   ExtractClauses(req.Text, score),
	}, nil
}

// KeywordScore is 0.2 plus 0.1 per distinct risk keyword, capped at 0.8.
func KeywordScore(text string) float64 {
	lower := strings.ToLower(text)
	count := 0
	for _, k := range riskKeywords {
		if strings.Contains(lower, k.word) {
			count++
		}
	}
	return 0.2 + min(float64(count)*0.1, 0.6)
}

// ExtractClauses grades the first sentences of the text by the strongest
// keyword they contain. When nothing matches but the overall score is
// notable, the opening of the text is returned as a single clause.
func ExtractClauses(text string, score float64) []models.RiskClause {
	clauses := []models.RiskClause{}

	sentences := strings.Split(text, ".")
	if len(sentences) > maxClauseSentences {
		sentences = sentences[:maxClauseSentences]
	}
	for _, sentence := range sentences {
		sentence = strings.TrimSpace(sentence)
		if utf8.RuneCountInString(sentence) < minSentenceLength {
			continue
		}
		level, ok := strongestLevel(sentence)
		if !ok {
			continue
		}
		clauses = append(clauses, models.RiskClause{
			Text:        truncate(sentence, maxClauseLength),
			RiskLevel:   level,
			Explanation: levelExplanations[level],
		})
	}

	if len(clauses) == 0 && score > 0.3 {
		level, explanation := models.RiskLow, "Minor risks found"
		switch {
		case score > 0.7:
			level, explanation = models.RiskHigh, "High overall document risk"
		case score > 0.4:
			level, explanation = models.RiskMedium, "Moderate overall document risk"
		}
		clauses = append(clauses, models.RiskClause{
			Text:        truncate(strings.TrimSpace(text), maxClauseLength),
			RiskLevel:   level,
			Explanation: explanation,
		})
	}
	return clauses
}

func strongestLevel(sentence string) (models.RiskLevel, bool) {
	lower := strings.ToLower(sentence)
	found := false
	level := models.RiskLow
	for _, k := range riskKeywords {
		if !strings.Contains(lower, k.word) {
			continue
		}
		found = true
		if k.level == models.RiskHigh {
			return models.RiskHigh, true
		}
		if k.level == models.RiskMedium {
			level = models.RiskMedium
		}
	}
	return level, found
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

func heuristicSummary(text string, depth models.SummaryDepth, score float64) string {
	words := len(strings.Fields(text))
	if depth == models.DepthDetailed {
		return fmt.Sprintf(`BASIC ANALYSIS

STATISTICS:
- Words: %d
- Characters: %d
- Risk score: %.2f

NOTE: keyword analysis only.`, words, utf8.RuneCountInString(text), score)
	}
	return fmt.Sprintf("• Words: %d\n• Risk score: %.2f\n• Keyword analysis", words, score)
}
