package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/wolfman30/agenda-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/agenda-ai-platform/pkg/logging"
)

type geminiSender func(ctx context.Context, req Request) (*genai.GenerateContentResponse, error)

// Gemini is the fallback oracle, backed by Google's Gemini API.
type Gemini struct {
	client  *genai.Client
	modelID string
	send    geminiSender
	timeout time.Duration
	logger  *logging.Logger
	metrics *metrics.BookingMetrics
}

// NewGemini creates a Gemini oracle.
func NewGemini(ctx context.Context, apiKey, modelID string, timeout time.Duration, logger *logging.Logger, m *metrics.BookingMetrics) (*Gemini, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("llm: gemini api key is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("llm: failed to create gemini client: %w", err)
	}
	g := newGemini(nil, timeout, logger, m)
	g.client = client
	g.modelID = modelID
	g.send = g.sendChat
	return g, nil
}

func newGemini(send geminiSender, timeout time.Duration, logger *logging.Logger, m *metrics.BookingMetrics) *Gemini {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Gemini{send: send, timeout: timeout, logger: logger, metrics: m}
}

func (g *Gemini) Complete(ctx context.Context, req Request) (Response, error) {
	req = withDefaults(req)
	ctx, span := llmTracer.Start(ctx, "llm.gemini")
	defer span.End()

	if len(req.Messages) == 0 {
		return Response{}, fmt.Errorf("%w: gemini requires at least one message", ErrUnavailable)
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	started := time.Now()
	resp, err := g.send(callCtx, req)
	elapsed := time.Since(started).Seconds()
	if err != nil {
		span.RecordError(err)
		g.metrics.ObserveOracle("gemini", "error", elapsed)
		return Response{}, fmt.Errorf("%w: gemini completion failed: %v", ErrUnavailable, err)
	}

	out, err := parseGeminiResponse(resp)
	if err != nil {
		span.RecordError(err)
		g.metrics.ObserveOracle("gemini", "error", elapsed)
		return Response{}, err
	}
	outcome := "text"
	if out.ToolCall != nil {
		outcome = "tool_call"
	}
	g.metrics.ObserveOracle("gemini", outcome, elapsed)
	return out, nil
}

func (g *Gemini) sendChat(ctx context.Context, req Request) (*genai.GenerateContentResponse, error) {
	model := g.client.GenerativeModel(g.modelID)
	model.SetTemperature(req.Temperature)
	model.SetMaxOutputTokens(int32(req.MaxTokens))
	if strings.TrimSpace(req.System) != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(req.System))
	}
	if len(req.Tools) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, geminiDeclaration(t))
		}
		model.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	cs := model.StartChat()
	for _, msg := range req.Messages[:len(req.Messages)-1] {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		role := "user"
		if msg.Role == RoleAssistant {
			role = "model"
		}
		cs.History = append(cs.History, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(content)}})
	}
	last := req.Messages[len(req.Messages)-1]
	return cs.SendMessage(ctx, genai.Text(last.Content))
}

// Close releases resources held by the Gemini client.
func (g *Gemini) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func geminiDeclaration(t Tool) *genai.FunctionDeclaration {
	schema := &genai.Schema{Type: genai.TypeObject, Properties: map[string]*genai.Schema{}}
	for _, p := range t.Params {
		prop := &genai.Schema{Type: genai.TypeString, Description: p.Description}
		if p.Type == paramTypeInteger {
			prop.Type = genai.TypeInteger
		}
		if len(p.Enum) > 0 {
			prop.Enum = p.Enum
		}
		schema.Properties[p.Name] = prop
		if p.Required {
			schema.Required = append(schema.Required, p.Name)
		}
	}
	return &genai.FunctionDeclaration{Name: t.Name, Description: t.Description, Parameters: schema}
}

func parseGeminiResponse(resp *genai.GenerateContentResponse) (Response, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return Response{}, fmt.Errorf("%w: gemini returned no candidates", ErrUnavailable)
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return Response{}, fmt.Errorf("%w: gemini returned empty content", ErrUnavailable)
	}

	out := Response{Provider: "gemini"}
	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			text.WriteString(string(p))
		case genai.FunctionCall:
			if out.ToolCall != nil {
				continue
			}
			args, err := json.Marshal(p.Args)
			if err != nil {
				return Response{}, fmt.Errorf("%w: %s: %v", ErrInvalidArguments, p.Name, err)
			}
			out.ToolCall = &ToolCall{Name: p.Name, Arguments: args}
		}
	}
	out.Text = strings.TrimSpace(text.String())
	return out, nil
}
