package llm

import (
	"context"

	"github.com/wolfman30/agenda-ai-platform/pkg/logging"
)

// Fallback wraps a primary oracle with a fallback provider.
type Fallback struct {
	primary  Oracle
	fallback Oracle
	logger   *logging.Logger
}

// NewFallback returns primary alone when fallback is nil.
func NewFallback(primary, fallback Oracle, logger *logging.Logger) Oracle {
	if primary == nil {
		panic("llm: primary oracle required")
	}
	if fallback == nil {
		return primary
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Fallback{primary: primary, fallback: fallback, logger: logger}
}

// Complete asks the primary and retries with the fallback on error.
func (f *Fallback) Complete(ctx context.Context, req Request) (Response, error) {
	resp, err := f.primary.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}
	f.logger.Warn("primary LLM failed, attempting fallback", "error", err.Error())

	fallbackResp, fallbackErr := f.fallback.Complete(ctx, req)
	if fallbackErr != nil {
		f.logger.Error("fallback LLM also failed",
			"primary_error", err.Error(),
			"fallback_error", fallbackErr.Error(),
		)
		return Response{}, fallbackErr
	}
	f.logger.Info("fallback LLM succeeded after primary failure")
	return fallbackResp, nil
}
