// Package llmprovider defines a narrow, vendor-neutral interface over a
// tool-calling LLM backend. Concrete wiring to a specific vendor's SDK
// (Anthropic, OpenAI, or otherwise) lives outside this package and is
// injected by the caller; this package only describes the shape of a
// request/response turn so the rest of the pipeline never branches on
// which vendor it's talking to.
package llmprovider

import (
	"context"
	"encoding/json"
)

// ContentBlock is one piece of a message: plain text, or a tool
// invocation/result. Exactly one of the tool-related fields is populated
// depending on Type.
type ContentBlock struct {
	Type string `json:"type"` // "text", "tool_use", or "tool_result"

	Text string `json:"text,omitempty"`

	// CacheEligible marks a text block as a candidate for the provider's
	// prompt-caching mechanism (large, stable context worth reusing across
	// turns). Providers without such a mechanism ignore it.
	CacheEligible bool `json:"-"`

	ToolUseID string          `json:"tool_use_id,omitempty"`
	ToolName  string          `json:"tool_name,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`

	ToolResultContent string `json:"tool_result_content,omitempty"`
	IsError           bool   `json:"is_error,omitempty"`
}

// Message is one turn of a conversation.
type Message struct {
	Role    string // "system", "user", or "assistant"
	Content []ContentBlock
}

// ToolDef describes a callable tool in JSON-schema form.
type ToolDef struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ToolCall is a single tool invocation requested by the model.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// TurnRequest is everything needed to run one turn of a tool-calling
// conversation.
type TurnRequest struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolDef
	MaxTokens int
}

// TurnResponse is the model's reply to one turn: any text produced, plus
// any tool calls it wants executed before continuing.
type TurnResponse struct {
	Text      string
	ToolCalls []ToolCall
}

// Provider is the minimum surface the rest of the pipeline needs from an
// LLM backend: a single-shot query (used for classification-tier prompts
// that don't need tools) and one turn of a multi-turn tool-calling loop
// (used by pkg/toolloop). A concrete adapter translates these calls into
// a specific vendor's wire format and back.
type Provider interface {
	// Query performs a single request/response exchange with no tool use.
	Query(ctx context.Context, model, systemPrompt, prompt string, maxTokens int) (string, error)

	// RunTurn performs one turn of a tool-calling conversation: it sends
	// req.Messages (with req.System and req.Tools) and returns the model's
	// text and any requested tool calls. The caller (pkg/toolloop) is
	// responsible for executing tool calls and appending the results as a
	// new message before calling RunTurn again.
	RunTurn(ctx context.Context, req TurnRequest) (TurnResponse, error)
}
