package llmprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrNoChoices is returned when a chat-completions response carries no
// choices to read a reply from.
var ErrNoChoices = errors.New("llmprovider: response carried no choices")

// HTTPProvider is a minimal, vendor-neutral Provider backed by an
// OpenAI-chat-completions-shaped HTTP endpoint. It exists so cmd/historian
// has something real to wire by default; any vendor whose API speaks this
// wire shape (or one proxied to it) works without a dedicated SDK. Swapping
// in a vendor-specific client is a matter of implementing Provider directly
// and passing it to the driver instead — this type never becomes load-bearing
// for that case.
type HTTPProvider struct {
	// BaseURL is the endpoint root, e.g. "https://api.openai.com/v1".
	BaseURL string
	// APIKey is sent as a Bearer token. Empty omits the header.
	APIKey string
	// HTTPClient is the client used for requests. Nil uses http.DefaultClient.
	HTTPClient *http.Client
}

func (p *HTTPProvider) client() *http.Client {
	if p.HTTPClient != nil {
		return p.HTTPClient
	}
	return http.DefaultClient
}

type chatMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content,omitempty"`
	ToolCalls []chatToolCall `json:"tool_calls,omitempty"`

	ToolCallID string `json:"tool_call_id,omitempty"`
}

type chatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function chatToolFunction `json:"function"`
}

type chatToolFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type chatTool struct {
	Type     string      `json:"type"`
	Function chatToolDef `json:"function"`
}

type chatToolDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	Tools     []chatTool    `json:"tools,omitempty"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Query performs a single request/response exchange with no tool use.
func (p *HTTPProvider) Query(ctx context.Context, model, systemPrompt, prompt string, maxTokens int) (string, error) {
	req := chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxTokens: maxTokens,
	}

	resp, err := p.do(ctx, req)
	if err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}

	return resp.Choices[0].Message.Content, nil
}

// RunTurn performs one turn of a tool-calling conversation.
func (p *HTTPProvider) RunTurn(ctx context.Context, turn TurnRequest) (TurnResponse, error) {
	req := chatRequest{
		Model:     turn.Model,
		MaxTokens: turn.MaxTokens,
		Messages:  toChatMessages(turn.System, turn.Messages),
		Tools:     toChatTools(turn.Tools),
	}

	resp, err := p.do(ctx, req)
	if err != nil {
		return TurnResponse{}, err
	}

	if len(resp.Choices) == 0 {
		return TurnResponse{}, ErrNoChoices
	}

	msg := resp.Choices[0].Message

	calls := make([]ToolCall, 0, len(msg.ToolCalls))
	for _, tc := range msg.ToolCalls {
		calls = append(calls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Input: tc.Function.Arguments})
	}

	return TurnResponse{Text: msg.Content, ToolCalls: calls}, nil
}

func toChatMessages(system string, messages []Message) []chatMessage {
	out := make([]chatMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, chatMessage{Role: "system", Content: system})
	}

	for _, m := range messages {
		var text bytes.Buffer

		for _, block := range m.Content {
			switch block.Type {
			case "text":
				text.WriteString(block.Text)
			case "tool_result":
				out = append(out, chatMessage{
					Role:       "tool",
					Content:    block.ToolResultContent,
					ToolCallID: block.ToolUseID,
				})
			case "tool_use":
				out = append(out, chatMessage{
					Role: m.Role,
					ToolCalls: []chatToolCall{{
						ID:   block.ToolUseID,
						Type: "function",
						Function: chatToolFunction{
							Name:      block.ToolName,
							Arguments: block.ToolInput,
						},
					}},
				})
			}
		}

		if text.Len() > 0 {
			out = append(out, chatMessage{Role: m.Role, Content: text.String()})
		}
	}

	return out
}

func toChatTools(tools []ToolDef) []chatTool {
	if len(tools) == 0 {
		return nil
	}

	out := make([]chatTool, 0, len(tools))
	for _, t := range tools {
		out = append(out, chatTool{
			Type: "function",
			Function: chatToolDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	return out
}

func (p *HTTPProvider) do(ctx context.Context, body chatRequest) (chatResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return chatResponse{}, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return chatResponse{}, fmt.Errorf("build request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if p.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.APIKey)
	}

	resp, err := p.client().Do(httpReq)
	if err != nil {
		return chatResponse{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return chatResponse{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return chatResponse{}, fmt.Errorf("llmprovider: unexpected status %d: %s", resp.StatusCode, string(data))
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return chatResponse{}, fmt.Errorf("decode response: %w", err)
	}

	return out, nil
}
