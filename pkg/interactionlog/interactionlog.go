// Package interactionlog records one JSON line per LLM call made during a
// run: a prompt digest, the model used, token budget, cache hit/miss, and
// latency. Each run gets its own numbered file so repeated runs against the
// same output directory never clobber each other's log. The first unused
// number is found by probing and is not reserved, so two runs opening logs
// at the same moment can pick the same file.
package interactionlog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// logStem is the filename prefix; sequence numbers are zero-padded to 4
// digits (log0001.json, log0002.json, ...).
const logStem = "log"

// Entry is one recorded LLM call.
type Entry struct {
	Timestamp  time.Time     `json:"timestamp"`
	PromptHash string        `json:"prompt_hash"`
	Model      string        `json:"model"`
	MaxTokens  int           `json:"max_tokens"`
	CacheHit   bool          `json:"cache_hit"`
	Latency    time.Duration `json:"latency_ns"`
	Error      string        `json:"error,omitempty"`
}

// Log appends Entry records to a single run's log file.
type Log struct {
	mu   sync.Mutex
	path string
}

// Open finds the first unused logNNNN.json file in dir and returns a Log
// that appends to it. dir is created if it doesn't exist.
func Open(dir string) (*Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	for seq := 1; ; seq++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s%04d.json", logStem, seq))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return &Log{path: candidate}, nil
		}
	}
}

// Path returns the log file this Log appends to.
func (l *Log) Path() string {
	return l.path
}

// Append writes one Entry as a JSON line.
func (l *Log) Append(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode log entry: %w", err)
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write log entry: %w", err)
	}

	return nil
}

// PromptDigest returns a short, stable hash of a prompt for log entries that
// should not carry the full prompt text.
func PromptDigest(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return hex.EncodeToString(sum[:8])
}
