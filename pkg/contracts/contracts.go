// Package contracts defines the external interfaces the dispatch core
// consumes. These are the boundary between the core (this module) and
// its collaborators: a local model runtime, a distributed KV store, a
// symmetric-encryption box, and a host resource probe.
//
// Nothing in this package implements these interfaces — internal/runtime,
// internal/kvstore, internal/secretbox, and internal/probe each provide
// one or more concrete adapters. Swapping an adapter (e.g. RedisStore for
// PostgresStore) is a one-line change in cmd/dispatchd's wiring.
package contracts

import (
	"context"
	"time"

	"github.com/agentcore/dispatchcore/pkg/types"
)

// ── Model Runtime ────────────────────────────────────────────

// TransientError marks a ModelRuntime failure as retriable (connection
// reset, timeout, rate limit). ModelError (below) marks it as terminal.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Op + ": " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// ModelError marks a ModelRuntime failure as non-retriable (bad prompt,
// content policy rejection, unsupported operation).
type ModelError struct {
	Op  string
	Err error
}

func (e *ModelError) Error() string { return "model: " + e.Op + ": " + e.Err.Error() }
func (e *ModelError) Unwrap() error { return e.Err }

// GenerateResult is the outcome of ModelRuntime.Generate.
type GenerateResult struct {
	Text  string
	Usage types.TokenUsage
}

// ChatResult is the outcome of ModelRuntime.Chat or ModelRuntime.Vision.
type ChatResult struct {
	Message types.Message
	Usage   types.TokenUsage
}

// EmbedResult is the outcome of ModelRuntime.Embed.
type EmbedResult struct {
	Embedding []float32
}

// ModelRuntime is the polymorphic local-inference backend the Dispatcher
// calls once a Backend and ModelVariant have been selected. Every
// operation may fail with *TransientError (retriable) or *ModelError
// (terminal); any other error is treated as *TransientError by callers.
type ModelRuntime interface {
	Generate(ctx context.Context, prompt, system string, params types.Params) (GenerateResult, error)
	Chat(ctx context.Context, messages []types.Message, system string, params types.Params) (ChatResult, error)
	Embed(ctx context.Context, text string) (EmbedResult, error)
	Vision(ctx context.Context, image []byte, mediaType, prompt, system string, params types.Params) (ChatResult, error)
	ListModels(ctx context.Context) ([]string, error)
	// Pull fetches/loads a named model. Idempotent: pulling an already
	// resident model is a no-op that returns nil.
	Pull(ctx context.Context, name string) error
}

// ── KV Store ──────────────────────────────────────────────────

// KVStore is the distributed key/value backend fronted by Cache's
// in-process LRU tier. TTL is enforced server-side when the backend
// supports it (Redis does; the Postgres adapter emulates it with a
// deadline column swept on read).
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// ── Secret Box ────────────────────────────────────────────────

// SecretBox symmetrically encrypts and decrypts cache values marked
// sensitive. Implementations derive their key from a caller-provided
// secret via a password-based KDF run for at least 100,000 iterations.
type SecretBox interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// ── System Probe ──────────────────────────────────────────────

// SystemProbe exposes the latest cached SystemSnapshot. Snapshot must be
// cheap (<=10ms) and non-blocking; a background sampler refreshes the
// cached value on its own schedule.
type SystemProbe interface {
	Snapshot() types.SystemSnapshot
}
