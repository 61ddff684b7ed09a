package analyzer

import (
	"context"

	"github.com/riskdesk/backend/pkg/logger"
)

// Fallback runs Secondary when Primary fails, unless the context is done.
type Fallback struct {
	Primary   Analyzer
	Secondary Analyzer
}

func NewFallback(primary, secondary Analyzer) *Fallback {
	return &Fallback{Primary: primary, Secondary: secondary}
}

func (f *Fallback) Analyze(ctx context.Context, req Request) (*Result, error) {
	result, err := f.Primary.Analyze(ctx, req)
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}
	logger.Warnf("primary analyzer failed, falling back: %v", err)
	return f.Secondary.Analyze(ctx, req)
}
