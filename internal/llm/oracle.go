// Package llm wraps remote chat-completion APIs behind a function-calling
// oracle used as the dialog's last-resort interpreter.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrUnavailable wraps every failure reaching a model provider.
	ErrUnavailable = errors.New("llm: unavailable")
	// ErrInvalidArguments is returned when a tool call's arguments do not validate.
	ErrInvalidArguments = errors.New("llm: invalid tool arguments")
)

const (
	DefaultTemperature float32 = 0.3
	DefaultMaxTokens           = 800
	DefaultTimeout             = 10 * time.Second
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of the conversation sent to the model.
type Message struct {
	Role    string
	Content string
}

// Request is a single completion call.
type Request struct {
	System      string
	Messages    []Message
	Tools       []Tool
	Temperature float32
	MaxTokens   int
}

// ToolCall is a function invocation chosen by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Response carries either text or a single tool call.
type Response struct {
	Text     string
	ToolCall *ToolCall
	Provider string
}

// Oracle is a chat-completion endpoint with function calling.
type Oracle interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

func withDefaults(req Request) Request {
	if req.Temperature <= 0 {
		req.Temperature = DefaultTemperature
	}
	if req.MaxTokens <= 0 {
		req.MaxTokens = DefaultMaxTokens
	}
	return req
}
