// Package analysis dispatches tier-specific LLM analysis over each planned
// change unit: a cheap single call for minor transitions, a fuller call for
// moderate ones, and a tool-assisted conversation for major ones, plus
// project-summary generation/refresh and final overview narration.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/historian/pkg/interactionlog"
	"github.com/Sumatoshi-tech/historian/pkg/llmprovider"
	"github.com/Sumatoshi-tech/historian/pkg/respcache"
	"github.com/Sumatoshi-tech/historian/pkg/retry"
)

// writingStyle is prepended as the first cached context block on every call
// so every prompt shares the same stable, cacheable prefix.
const writingStyle = `Writing style requirements for all output:

Keep tone neutral and factual; avoid promotional language and valorizing
adjectives about developer decisions ("disciplined," "elegant," "mature").
Describe what was done, not how impressive it was. State what happened
directly rather than building dramatic contrasts ("this wasn't merely X").
Attribute opinions to specific sources rather than vague authorities.

Vary sentence length and structure. Minimize transitional connectors
("moreover," "furthermore," "however"). Avoid the rule of three and
negative parallelisms ("not only...but"). Don't close sections with
"In conclusion" or "Overall" summaries.

Never address the reader directly or use collaborative language ("let's
explore," "would you like me to"). Don't reference prior sections or
include knowledge-cutoff disclaimers.

Use sentence case for headings. Apply bold/italic sparingly. Avoid
emojis and em-dashes. Prefer paragraphs over bullet lists.

Prioritize concrete, sourced information over generalization. Don't impose
a narrative of commercial or product maturation on the project; describe
its actual state and evolution.`

// SystemMessage is the system prompt shared by every analysis call.
const SystemMessage = "You are an expert software engineer analyzing the evolution of a coding project. " +
	"You examine code changes between snapshots to understand what was built, modified, " +
	"and why. You identify patterns like bug fixes, feature additions, refactoring, " +
	"architecture changes, and problem-solving approaches."

// Engine wires together the pieces a single LLM query needs: the provider,
// its response cache, the model (with optional fallback chain), and a logger
// for per-call diagnostics.
type Engine struct {
	Provider       llmprovider.Provider
	Cache          *respcache.Cache
	Model          string
	FallbackModels []string
	Logger         *slog.Logger
	Backoff        retry.BackoffOptions

	// InteractionLog records one entry per LLM call made through query, when
	// set. Nil disables interaction logging.
	InteractionLog *interactionlog.Log
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// query performs a cached, retried, fallback-aware single-shot LLM call.
// cacheParts form the stable (cacheable) prompt prefix; queryText is the
// variable portion. The writing-style block is always prepended as the
// first cache part so it is shared across every call in a run.
func (e *Engine) query(ctx context.Context, cacheParts []string, queryText string, maxTokens int) (string, error) {
	stablePrompt := strings.Join(append([]string{writingStyle}, cacheParts...), "\n\n")
	start := time.Now()

	if e.Cache != nil {
		if cached, ok, err := e.Cache.Get(stablePrompt, queryText, e.Model, maxTokens); err == nil && ok {
			e.logInteraction(queryText, maxTokens, true, time.Since(start), nil)
			return cached, nil
		}
	}

	call := func(model, cacheBust string) (string, error) {
		prompt := queryText
		if cacheBust != "" {
			prompt = cacheBust + queryText
		}
		return e.Provider.Query(ctx, model, SystemMessage, stablePrompt+"\n\n---QUERY---\n\n"+prompt, maxTokens)
	}

	result, err := retry.RunWithFallback(e.Model, call, retry.FallbackOptions[string]{
		FallbackModels: e.FallbackModels,
		IsProblematic:  isProblematicResponse,
		Backoff:        e.Backoff,
	})
	if err != nil {
		e.logInteraction(queryText, maxTokens, false, time.Since(start), err)
		return "", fmt.Errorf("query llm: %w", err)
	}

	if e.Cache != nil {
		if err := e.Cache.Set(stablePrompt, queryText, e.Model, maxTokens, result.Value); err != nil {
			e.logger().Warn("failed to cache llm response", "error", err)
		}
	}

	e.logInteraction(queryText, maxTokens, false, time.Since(start), nil)

	return result.Value, nil
}

// isProblematicResponse reports whether a successful LLM call nonetheless
// produced an unusable result: an empty (or whitespace-only) body. A
// problematic response is treated as a failure by RunWithFallback, which
// retries it with a cache-busting prefix instead of caching and returning it.
func isProblematicResponse(response string) bool {
	return strings.TrimSpace(response) == ""
}

func (e *Engine) logInteraction(queryText string, maxTokens int, cacheHit bool, latency time.Duration, callErr error) {
	if e.InteractionLog == nil {
		return
	}

	entry := interactionlog.Entry{
		Timestamp:  time.Now(),
		PromptHash: interactionlog.PromptDigest(queryText),
		Model:      e.Model,
		MaxTokens:  maxTokens,
		CacheHit:   cacheHit,
		Latency:    latency,
	}
	if callErr != nil {
		entry.Error = callErr.Error()
	}

	if err := e.InteractionLog.Append(entry); err != nil {
		e.logger().Warn("failed to append interaction log entry", "error", err)
	}
}
