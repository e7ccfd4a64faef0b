package advisor

import (
	"context"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/btcagent/internal/clients"
	"github.com/vadiminshakov/btcagent/internal/domain"
	"go.uber.org/zap"
)

// LLMAdvisor asks a chat model for a JSON decision.
type LLMAdvisor struct {
	client clients.LLMClient
	model  string
	logger *zap.Logger
}

// NewLLMAdvisor creates an LLM-backed advisor.
func NewLLMAdvisor(logger *zap.Logger, client clients.LLMClient, model string) *LLMAdvisor {
	return &LLMAdvisor{client: client, model: model, logger: logger}
}

// Name implements Advisor.
func (a *LLMAdvisor) Name() string { return "llm:" + a.model }

// Ask implements Advisor.
func (a *LLMAdvisor) Ask(ctx context.Context, in Input) (domain.RawDecision, error) {
	prompt := BuildUserPrompt(in)

	answer, err := a.client.Complete(ctx, SystemPrompt, prompt)
	if err != nil {
		return nil, errors.Wrap(err, "LLM completion failed")
	}

	raw, err := domain.ParseRawDecision(answer)
	if err != nil {
		a.logger.Warn("LLM answer is not a JSON object",
			zap.String("model", a.model),
			zap.String("answer", truncate(answer, 300)),
			zap.Error(err))
		return nil, errors.Wrap(err, "failed to parse LLM decision")
	}

	a.logger.Debug("LLM decision received", zap.String("model", a.model), zap.Any("raw", raw))

	return raw, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
