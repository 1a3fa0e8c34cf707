package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/agenda-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/agenda-ai-platform/pkg/logging"
)

var llmTracer = otel.Tracer("agenda.internal.llm")

type chatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAI is the primary oracle, backed by the chat-completions API.
type OpenAI struct {
	client  chatClient
	model   string
	timeout time.Duration
	logger  *logging.Logger
	metrics *metrics.BookingMetrics
}

// NewOpenAIFromKey builds the oracle with the official client.
func NewOpenAIFromKey(apiKey, model string, timeout time.Duration, logger *logging.Logger, m *metrics.BookingMetrics) *OpenAI {
	return NewOpenAI(openai.NewClient(apiKey), model, timeout, logger, m)
}

// NewOpenAI wraps any chat-completions client.
func NewOpenAI(client chatClient, model string, timeout time.Duration, logger *logging.Logger, m *metrics.BookingMetrics) *OpenAI {
	if client == nil {
		panic("llm: chat client cannot be nil")
	}
	if model == "" {
		model = "gpt-4o-mini"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &OpenAI{client: client, model: model, timeout: timeout, logger: logger, metrics: m}
}

func (o *OpenAI) Complete(ctx context.Context, req Request) (Response, error) {
	req = withDefaults(req)
	ctx, span := llmTracer.Start(ctx, "llm.openai")
	defer span.End()

	chatReq := openai.ChatCompletionRequest{
		Model:       o.model,
		Messages:    openAIMessages(req),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, t := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.JSONSchema(),
			},
		})
	}

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	started := time.Now()
	resp, err := o.client.CreateChatCompletion(callCtx, chatReq)
	elapsed := time.Since(started).Seconds()
	if err != nil {
		span.RecordError(err)
		o.metrics.ObserveOracle("openai", "error", elapsed)
		return Response{}, fmt.Errorf("%w: openai completion failed: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		err := errors.New("openai returned no choices")
		span.RecordError(err)
		o.metrics.ObserveOracle("openai", "error", elapsed)
		return Response{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	msg := resp.Choices[0].Message
	out := Response{Provider: "openai", Text: strings.TrimSpace(msg.Content)}
	if len(msg.ToolCalls) > 0 {
		tc := msg.ToolCalls[0]
		args := strings.TrimSpace(tc.Function.Arguments)
		if args == "" {
			args = "{}"
		}
		out.ToolCall = &ToolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: json.RawMessage(args)}
	} else if msg.FunctionCall != nil {
		out.ToolCall = &ToolCall{Name: msg.FunctionCall.Name, Arguments: json.RawMessage(msg.FunctionCall.Arguments)}
	}

	outcome := "text"
	if out.ToolCall != nil {
		outcome = "tool_call"
		span.SetAttributes(attribute.String("agenda.llm.tool", out.ToolCall.Name))
	}
	o.metrics.ObserveOracle("openai", outcome, elapsed)
	return out, nil
}

func openAIMessages(req Request) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if strings.TrimSpace(req.System) != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		role := openai.ChatMessageRoleUser
		if m.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: content})
	}
	return msgs
}
