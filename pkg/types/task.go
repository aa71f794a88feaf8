// Package types defines the data model shared across the dispatch core:
// tasks, results, cache entries, backends, experiences, and system
// snapshots. Every exported type here is a tagged variant or plain value
// object — no component outside this package mutates another component's
// types behind its back.
package types

import (
	"fmt"
	"time"
)

// TaskKind identifies the shape of a Task's payload.
type TaskKind string

const (
	TaskGenerate TaskKind = "generate"
	TaskChat     TaskKind = "chat"
	TaskEmbed    TaskKind = "embed"
	TaskVision   TaskKind = "vision"
	TaskAudio    TaskKind = "audio"
)

// Role identifies the speaker of a chat Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Attachment is an opaque byte blob with a media-type hint, used by
// vision and audio tasks. Never logged or cached by value — only its
// SHA-256 digest is ever persisted.
type Attachment struct {
	MediaType string `json:"media_type"`
	Bytes     []byte `json:"-"`
}

// Params holds generation parameters with documented valid ranges.
// Zero values are replaced by DefaultParams() defaults.
type Params struct {
	Temperature       float64 `json:"temperature"`
	MaxTokens         int     `json:"max_tokens"`
	TopP              float64 `json:"top_p"`
	TopK              int     `json:"top_k"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
}

// DefaultParams returns the documented per-field defaults.
func DefaultParams() Params {
	return Params{
		Temperature:       0.7,
		MaxTokens:         512,
		TopP:              1.0,
		TopK:              40,
		RepetitionPenalty: 1.0,
	}
}

// WithDefaults fills zero-valued fields of p with DefaultParams().
func (p Params) WithDefaults() Params {
	d := DefaultParams()
	if p.Temperature == 0 {
		p.Temperature = d.Temperature
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = d.MaxTokens
	}
	if p.TopP == 0 {
		p.TopP = d.TopP
	}
	if p.TopK == 0 {
		p.TopK = d.TopK
	}
	if p.RepetitionPenalty == 0 {
		p.RepetitionPenalty = d.RepetitionPenalty
	}
	return p
}

// Validate checks Params against documented ranges.
func (p Params) Validate() error {
	if p.Temperature < 0 || p.Temperature > 2 {
		return fmt.Errorf("temperature %.2f out of range [0,2]", p.Temperature)
	}
	if p.MaxTokens < 1 || p.MaxTokens > 32768 {
		return fmt.Errorf("max_tokens %d out of range [1,32768]", p.MaxTokens)
	}
	if p.TopP <= 0 || p.TopP > 1 {
		return fmt.Errorf("top_p %.2f out of range (0,1]", p.TopP)
	}
	if p.TopK < 0 {
		return fmt.Errorf("top_k %d must be >= 0", p.TopK)
	}
	if p.RepetitionPenalty < 0 {
		return fmt.Errorf("repetition_penalty %.2f must be >= 0", p.RepetitionPenalty)
	}
	return nil
}

// Priority is a caller hint used by strategies that consult it (currently
// informational; reserved for future admission-ordering use).
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Hints carries optional per-task caller preferences.
type Hints struct {
	AllowCache *bool         `json:"allow_cache,omitempty"`
	Priority   Priority      `json:"priority,omitempty"`
	Timeout    time.Duration `json:"timeout,omitempty"`
	ClientIP   string        `json:"client_ip,omitempty"`
}

// CacheAllowed reports whether caching is permitted for this task
// (default true; only explicit false disables it).
func (h Hints) CacheAllowed() bool {
	return h.AllowCache == nil || *h.AllowCache
}

// Task is the unit of work accepted by Dispatch. Only the fields valid
// for Kind are populated by a well-formed caller; Validate enforces this.
type Task struct {
	Kind       TaskKind    `json:"kind"`
	Prompt     string      `json:"prompt,omitempty"`
	Messages   []Message   `json:"messages,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Params     Params      `json:"params"`
	Hints      Hints       `json:"hints,omitempty"`
}

// Validate enforces the required fields for the task's Kind.
func (t Task) Validate() error {
	switch t.Kind {
	case TaskGenerate:
		if t.Prompt == "" {
			return fmt.Errorf("generate task requires a non-empty prompt")
		}
	case TaskChat:
		if len(t.Messages) == 0 {
			return fmt.Errorf("chat task requires non-empty messages")
		}
	case TaskVision, TaskAudio:
		if t.Attachment == nil || len(t.Attachment.Bytes) == 0 {
			return fmt.Errorf("%s task requires an attachment", t.Kind)
		}
	case TaskEmbed:
		if t.Prompt == "" {
			return fmt.Errorf("embed task requires a non-empty prompt")
		}
	default:
		return fmt.Errorf("unknown task kind %q", t.Kind)
	}
	return t.Params.WithDefaults().Validate()
}

// TokenUsage tracks prompt/completion token accounting for a Result.
type TokenUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// Result is the outcome of a dispatched Task. Exactly one of Text,
// Message, or Embedding is set, unless Error is non-empty in which case
// none are.
type Result struct {
	Text      string    `json:"text,omitempty"`
	Message   *Message  `json:"message,omitempty"`
	Embedding []float32 `json:"embedding,omitempty"`
	Error     string    `json:"error,omitempty"`

	Usage     TokenUsage `json:"usage"`
	LatencyMs int64      `json:"latency_ms"`

	// CacheStatus is "hit" or "miss".
	CacheStatus string `json:"x-cache,omitempty"`
}
