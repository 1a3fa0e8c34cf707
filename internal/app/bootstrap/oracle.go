package bootstrap

import (
	"context"
	"strings"

	appconfig "github.com/wolfman30/agenda-ai-platform/internal/config"
	"github.com/wolfman30/agenda-ai-platform/internal/llm"
	"github.com/wolfman30/agenda-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/agenda-ai-platform/pkg/logging"
)

// BuildOracle wires OpenAI as the primary model with Gemini as fallback.
// Either may be missing; with neither the dialog runs rule-based only and a
// nil oracle is returned. The returned func releases the Gemini client.
func BuildOracle(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, m *metrics.BookingMetrics) (llm.Oracle, func()) {
	if logger == nil {
		logger = logging.Default()
	}
	cleanup := func() {}

	var primary, fallback llm.Oracle
	if key := strings.TrimSpace(cfg.OpenAIAPIKey); key != "" {
		primary = llm.NewOpenAIFromKey(key, cfg.OpenAIModel, cfg.ExternalTimeout, logger, m)
		logger.Info("openai oracle enabled", "model", cfg.OpenAIModel)
	}
	if key := strings.TrimSpace(cfg.GeminiAPIKey); key != "" {
		g, err := llm.NewGemini(ctx, key, cfg.GeminiModel, cfg.ExternalTimeout, logger, m)
		if err != nil {
			logger.Warn("gemini oracle disabled", "error", err)
		} else {
			fallback = g
			cleanup = func() { _ = g.Close() }
			logger.Info("gemini oracle enabled", "model", cfg.GeminiModel)
		}
	}

	switch {
	case primary != nil:
		return llm.NewFallback(primary, fallback, logger), cleanup
	case fallback != nil:
		return fallback, cleanup
	default:
		logger.Warn("no LLM configured; free-text messages get the rule-based menu")
		return nil, cleanup
	}
}
