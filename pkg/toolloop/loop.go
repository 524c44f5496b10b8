// Package toolloop drives a multi-turn tool-calling conversation against a
// llmprovider.Provider: it feeds the model a system prompt, cached context
// blocks, and an initial query, then repeatedly executes any tool calls the
// model requests and feeds the results back until the model stops calling
// tools or a turn-count safety cap is hit.
package toolloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/Sumatoshi-tech/historian/pkg/llmprovider"
	"github.com/Sumatoshi-tech/historian/pkg/retry"
)

// maxCacheBlocks caps how many large context blocks are marked cache-eligible
// per conversation; providers that bill for cache writes only benefit up to a
// point, so only the first few large blocks are marked.
const maxCacheBlocks = 4

// cacheEligibleMinBytes is the size threshold above which a context block is
// considered worth marking cache-eligible.
const cacheEligibleMinBytes = 4500

// defaultMaxTurns is the safety cap on conversation rounds if none is given.
const defaultMaxTurns = 25

// Handler executes one tool call and returns its result, JSON-encoded
// automatically by the loop unless the handler already returns a plain string
// meant to be used verbatim.
type Handler func(input json.RawMessage) (any, error)

// Options configures Run.
type Options struct {
	MaxTurns  int
	MaxTokens int
	Backoff   retry.BackoffOptions
}

func (o Options) withDefaults() Options {
	if o.MaxTurns <= 0 {
		o.MaxTurns = defaultMaxTurns
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 8000
	}
	return o
}

// Run drives the conversation loop and returns the model's accumulated text
// response across all turns.
func Run(
	ctx context.Context,
	provider llmprovider.Provider,
	model, systemMessage string,
	cachedContext []string,
	initialQuery string,
	tools []llmprovider.ToolDef,
	handlers map[string]Handler,
	opts Options,
) (string, error) {
	opts = opts.withDefaults()
	schemas := compileSchemas(tools)

	firstContent := make([]llmprovider.ContentBlock, 0, len(cachedContext)+1)
	cacheBlocksUsed := 0
	for _, block := range cachedContext {
		b := llmprovider.ContentBlock{Type: "text", Text: block}
		if len(block) > cacheEligibleMinBytes && cacheBlocksUsed < maxCacheBlocks {
			b.CacheEligible = true
			cacheBlocksUsed++
		}
		firstContent = append(firstContent, b)
	}
	firstContent = append(firstContent, llmprovider.ContentBlock{Type: "text", Text: initialQuery})

	messages := []llmprovider.Message{{Role: "user", Content: firstContent}}
	var accumulated []string

	for turn := 0; turn < opts.MaxTurns; turn++ {
		req := llmprovider.TurnRequest{
			Model:     model,
			System:    systemMessage,
			Messages:  messages,
			Tools:     tools,
			MaxTokens: opts.MaxTokens,
		}

		resp, err := retry.Do(func() (llmprovider.TurnResponse, error) {
			return provider.RunTurn(ctx, req)
		}, opts.Backoff)
		if err != nil {
			return strings.Join(accumulated, "\n"), fmt.Errorf("turn %d: %w", turn+1, err)
		}

		if resp.Text != "" {
			accumulated = append(accumulated, resp.Text)
		}
		if len(resp.ToolCalls) == 0 {
			break
		}

		assistantContent := make([]llmprovider.ContentBlock, 0, len(resp.ToolCalls)+1)
		if resp.Text != "" {
			assistantContent = append(assistantContent, llmprovider.ContentBlock{Type: "text", Text: resp.Text})
		}
		for _, tc := range resp.ToolCalls {
			assistantContent = append(assistantContent, llmprovider.ContentBlock{
				Type: "tool_use", ToolUseID: tc.ID, ToolName: tc.Name, ToolInput: tc.Input,
			})
		}
		messages = append(messages, llmprovider.Message{Role: "assistant", Content: assistantContent})

		resultContent := executeTools(resp.ToolCalls, handlers, schemas)
		messages = append(messages, llmprovider.Message{Role: "user", Content: resultContent})
	}

	return strings.Join(accumulated, "\n"), nil
}

func compileSchemas(tools []llmprovider.ToolDef) map[string]*gojsonschema.Schema {
	schemas := make(map[string]*gojsonschema.Schema, len(tools))
	for _, t := range tools {
		if len(t.InputSchema) == 0 {
			continue
		}
		loader := gojsonschema.NewBytesLoader(t.InputSchema)
		schema, err := gojsonschema.NewSchema(loader)
		if err != nil {
			continue
		}
		schemas[t.Name] = schema
	}
	return schemas
}

func executeTools(calls []llmprovider.ToolCall, handlers map[string]Handler, schemas map[string]*gojsonschema.Schema) []llmprovider.ContentBlock {
	results := make([]llmprovider.ContentBlock, 0, len(calls))

	for _, tc := range calls {
		handler, ok := handlers[tc.Name]
		if !ok {
			results = append(results, llmprovider.ContentBlock{
				Type: "tool_result", ToolUseID: tc.ID,
				ToolResultContent: fmt.Sprintf("Unknown tool: %s", tc.Name),
				IsError:           true,
			})
			continue
		}

		if schema, ok := schemas[tc.Name]; ok {
			if verr := validateInput(schema, tc.Input); verr != nil {
				results = append(results, llmprovider.ContentBlock{
					Type: "tool_result", ToolUseID: tc.ID,
					ToolResultContent: fmt.Sprintf("Error: invalid arguments for %s: %v", tc.Name, verr),
					IsError:           true,
				})
				continue
			}
		}

		value, err := handler(tc.Input)
		if err != nil {
			results = append(results, llmprovider.ContentBlock{
				Type: "tool_result", ToolUseID: tc.ID,
				ToolResultContent: fmt.Sprintf("Error: %v", err),
				IsError:           true,
			})
			continue
		}

		results = append(results, llmprovider.ContentBlock{
			Type: "tool_result", ToolUseID: tc.ID,
			ToolResultContent: resultToString(value),
		})
	}

	return results
}

func resultToString(value any) string {
	if s, ok := value.(string); ok {
		return s
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("Error: failed to encode result: %v", err)
	}
	return string(raw)
}

func validateInput(schema *gojsonschema.Schema, input json.RawMessage) error {
	if len(input) == 0 {
		input = json.RawMessage("{}")
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(input))
	if err != nil {
		return err
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf(strings.Join(msgs, "; "))
	}
	return nil
}
