// Package dispatcher implements Dispatch: the single public entry point
// that validates a task, checks admission, builds few-shot context,
// calls a backend's ModelRuntime, caches the result, and records the
// experience for future recall.
package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/agentcore/dispatchcore/internal/backendpool"
	"github.com/agentcore/dispatchcore/internal/balancer"
	"github.com/agentcore/dispatchcore/internal/cache"
	"github.com/agentcore/dispatchcore/internal/memory"
	"github.com/agentcore/dispatchcore/internal/router"
	"github.com/agentcore/dispatchcore/internal/telemetry"
	"github.com/agentcore/dispatchcore/internal/vectorrecall"
	"github.com/agentcore/dispatchcore/pkg/contracts"
	"github.com/agentcore/dispatchcore/pkg/types"
)

// Default tuning values, overridable via Options.
const (
	DefaultTimeout       = 30 * time.Second
	DefaultMaxRetries    = 2
	DefaultBackoffBaseMs = 100
	DefaultFewShotK      = 3
	DefaultVectorK       = 3
	DefaultResultTTL     = 10 * time.Minute
	DefaultRAMFloorBytes = 512 << 20
)

// Options configures a Dispatcher's tunable thresholds.
type Options struct {
	DefaultTimeout time.Duration
	MaxRetries     int
	BackoffBaseMs  int64
	FewShotK       int
	VectorK        int
	ResultTTL      time.Duration
	RAMFloorBytes  uint64
}

func (o Options) withDefaults() Options {
	if o.DefaultTimeout <= 0 {
		o.DefaultTimeout = DefaultTimeout
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.BackoffBaseMs <= 0 {
		o.BackoffBaseMs = DefaultBackoffBaseMs
	}
	if o.FewShotK <= 0 {
		o.FewShotK = DefaultFewShotK
	}
	if o.VectorK <= 0 {
		o.VectorK = DefaultVectorK
	}
	if o.ResultTTL <= 0 {
		o.ResultTTL = DefaultResultTTL
	}
	if o.RAMFloorBytes == 0 {
		o.RAMFloorBytes = DefaultRAMFloorBytes
	}
	return o
}

// Dispatcher wires together every collaborator of a single dispatch.
// It holds no state of its own beyond its collaborators and config.
type Dispatcher struct {
	probe    contracts.SystemProbe
	modelRtr *router.ModelRouter
	cache    *cache.Cache
	pool     *backendpool.Pool
	lb       *balancer.Balancer
	mem      *memory.AdaptiveMemory
	vectors  *vectorrecall.Index
	runtime  contracts.ModelRuntime

	opts Options
	sf   singleflight.Group
}

// New constructs a Dispatcher from its collaborators.
func New(
	probe contracts.SystemProbe,
	modelRtr *router.ModelRouter,
	c *cache.Cache,
	pool *backendpool.Pool,
	lb *balancer.Balancer,
	mem *memory.AdaptiveMemory,
	vectors *vectorrecall.Index,
	rt contracts.ModelRuntime,
	opts Options,
) *Dispatcher {
	return &Dispatcher{
		probe: probe, modelRtr: modelRtr, cache: c, pool: pool, lb: lb,
		mem: mem, vectors: vectors, runtime: rt, opts: opts.withDefaults(),
	}
}

// Dispatch routes task through admission control, caching, few-shot
// context building, backend reservation, and the model call, returning
// the Result or a *types.DispatchError.
func (d *Dispatcher) Dispatch(ctx context.Context, task types.Task) (types.Result, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "dispatch")
	span.SetAttributes(attribute.String("task.kind", string(task.Kind)))
	defer span.End()

	start := time.Now()

	if err := task.Validate(); err != nil {
		span.SetStatus(codes.Error, "bad_request")
		return types.Result{}, types.NewError(types.ErrBadRequest, "invalid task", err)
	}

	snapshot := d.probe.Snapshot()
	if err := admit(snapshot, d.opts.RAMFloorBytes); err != nil {
		return types.Result{}, err
	}
	if class := snapshot.Classify(); class == types.ClassDegraded {
		log.Warn().Str("class", string(class)).Float64("cpu_pct", snapshot.CPUPct).Msg("dispatch proceeding under degraded resource pressure")
	}

	variant, err := d.modelRtr.Choose(snapshot)
	if err != nil {
		return types.Result{}, types.NewError(types.ErrInternal, "no model variant available", err)
	}

	fingerprint, err := cache.Fingerprint(fingerprintInput(task, variant.Name))
	if err != nil {
		return types.Result{}, types.NewError(types.ErrInternal, "failed to compute cache fingerprint", err)
	}

	allowCache := task.Hints.CacheAllowed()
	if allowCache {
		if entry, hit, err := d.cache.Get(ctx, fingerprint); err != nil {
			log.Warn().Err(err).Str("fingerprint", fingerprint).Msg("cache lookup failed, proceeding to runtime call")
		} else if hit {
			var result types.Result
			if err := decodeResult(entry.Value, &result); err == nil {
				result.LatencyMs = 0
				result.CacheStatus = "hit"
				span.SetAttributes(attribute.Bool("cache.hit", true))
				return result, nil
			}
		}
	}

	span.SetAttributes(attribute.Bool("cache.hit", false), attribute.String("backend.variant", variant.Name))

	res, err, _ := d.sf.Do(fingerprint, func() (any, error) {
		return d.execute(ctx, task, variant, start)
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return types.Result{}, err
	}
	result := res.(types.Result)

	if allowCache {
		raw, encErr := encodeResult(result)
		if encErr == nil {
			if err := d.cache.Set(ctx, fingerprint, raw, d.opts.ResultTTL, false); err != nil {
				log.Warn().Err(err).Str("fingerprint", fingerprint).Msg("failed to populate cache after dispatch")
			}
		}
	}

	go d.recordExperience(task, result)

	result.CacheStatus = "miss"
	return result, nil
}

// execute performs the uncached path: building few-shot context,
// picking and reserving a backend, and calling the runtime with retry.
func (d *Dispatcher) execute(ctx context.Context, task types.Task, variant types.ModelVariant, start time.Time) (types.Result, error) {
	system := d.buildFewShotContext(ctx, task)

	timeout := d.opts.DefaultTimeout
	if task.Hints.Timeout > 0 && task.Hints.Timeout < timeout {
		timeout = task.Hints.Timeout
	}

	var lastErr error
	excluded := map[string]bool{}

	for attempt := 0; attempt <= d.opts.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return types.Result{}, types.NewError(types.ErrTimeout, "dispatch cancelled before backend call", ctx.Err())
		}

		backendID, pickErr := d.pickExcluding(excluded, task.Hints.ClientIP)
		if pickErr != nil {
			return types.Result{}, types.NewError(types.ErrUnavailable, "no backend available", pickErr)
		}

		if err := d.pool.Reserve(backendID); err != nil {
			excluded[backendID] = true
			if len(excluded) >= 2 {
				return types.Result{}, types.NewError(types.ErrUnavailable, "backend reservation failed twice", err)
			}
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		callStart := time.Now()
		result, callErr := d.callRuntime(callCtx, task, variant, system)
		latencyMs := time.Since(callStart).Milliseconds()
		cancel()

		success := callErr == nil
		_ = d.pool.Release(backendID, success, latencyMs)

		if callErr == nil {
			result.LatencyMs = time.Since(start).Milliseconds()
			result.Usage.TotalTokens = result.Usage.PromptTokens + result.Usage.CompletionTokens
			return result, nil
		}

		lastErr = callErr
		if !isRetriable(callErr) {
			return types.Result{}, toDispatchError(callErr)
		}

		if attempt < d.opts.MaxRetries {
			backoff := time.Duration(d.opts.BackoffBaseMs*(1<<uint(attempt))) * time.Millisecond
			backoff += time.Duration(rand.Int63n(int64(d.opts.BackoffBaseMs) + 1)) * time.Millisecond
			select {
			case <-ctx.Done():
				return types.Result{}, types.NewError(types.ErrTimeout, "dispatch cancelled during retry backoff", ctx.Err())
			case <-time.After(backoff):
			}
		}
	}

	return types.Result{}, toDispatchError(lastErr)
}

func (d *Dispatcher) pickExcluding(excluded map[string]bool, clientIP string) (string, error) {
	for i := 0; i < 4; i++ {
		id, err := d.lb.Pick(clientIP)
		if err != nil {
			return "", err
		}
		if !excluded[id] {
			return id, nil
		}
	}
	return "", balancer.ErrNoBackend
}

func (d *Dispatcher) callRuntime(ctx context.Context, task types.Task, _ types.ModelVariant, system string) (types.Result, error) {
	params := task.Params.WithDefaults()

	switch task.Kind {
	case types.TaskGenerate:
		out, err := d.runtime.Generate(ctx, task.Prompt, system, params)
		if err != nil {
			return types.Result{}, err
		}
		return types.Result{Text: out.Text, Usage: out.Usage}, nil

	case types.TaskChat:
		out, err := d.runtime.Chat(ctx, task.Messages, system, params)
		if err != nil {
			return types.Result{}, err
		}
		return types.Result{Message: &out.Message, Usage: out.Usage}, nil

	case types.TaskEmbed:
		out, err := d.runtime.Embed(ctx, task.Prompt)
		if err != nil {
			return types.Result{}, err
		}
		return types.Result{Embedding: out.Embedding}, nil

	case types.TaskVision, types.TaskAudio:
		out, err := d.runtime.Vision(ctx, task.Attachment.Bytes, task.Attachment.MediaType, task.Prompt, system, params)
		if err != nil {
			return types.Result{}, err
		}
		return types.Result{Message: &out.Message, Usage: out.Usage}, nil

	default:
		return types.Result{}, fmt.Errorf("dispatcher: unhandled task kind %q", task.Kind)
	}
}

// buildFewShotContext assembles a system prompt from AdaptiveMemory's
// most recent same-kind entries and VectorRecall's nearest neighbors.
func (d *Dispatcher) buildFewShotContext(ctx context.Context, task types.Task) string {
	if d.mem == nil && d.vectors == nil {
		return ""
	}

	prompt := "Use the following prior experiences as guidance where relevant:\n"
	has := false

	if d.mem != nil {
		for _, e := range d.mem.TopK(task.Kind, d.opts.FewShotK) {
			prompt += fmt.Sprintf("- input digest %s -> output digest %s\n", e.InputDigest, e.OutputDigest)
			has = true
		}
	}

	if d.vectors != nil && d.runtime != nil && queryText(task) != "" {
		embedResult, err := d.runtime.Embed(ctx, queryText(task))
		var queryVec []float32
		if err != nil {
			queryVec = vectorrecall.FallbackEmbed(queryText(task), d.vectors.Dimension())
		} else {
			queryVec = embedResult.Embedding
		}
		if matches, err := d.vectors.Search(queryVec, d.opts.VectorK); err == nil {
			for _, m := range matches {
				prompt += fmt.Sprintf("- related experience %s (distance %.4f)\n", m.ID, m.Distance)
				has = true
			}
		}
	}

	if !has {
		return ""
	}
	return prompt
}

func queryText(task types.Task) string {
	if task.Prompt != "" {
		return task.Prompt
	}
	if len(task.Messages) > 0 {
		return task.Messages[len(task.Messages)-1].Content
	}
	return ""
}

func (d *Dispatcher) recordExperience(task types.Task, result types.Result) {
	if d.mem == nil {
		return
	}
	entry := types.Experience{
		ID:           uuid.NewString(),
		Kind:         task.Kind,
		InputDigest:  digestOf(fingerprintInput(task, "")),
		OutputDigest: digestOf(result),
		Input:        map[string]string{"kind": string(task.Kind)},
		CreatedAt:    time.Now(),
	}

	if d.vectors != nil {
		text := queryText(task)
		if text == "" {
			text = entry.InputDigest
		}
		embedding, fallback := d.embed(text)
		entry.Embedding = embedding
		entry.EmbeddingFallback = fallback
		if err := d.vectors.Upsert(entry.ID, entry.Embedding); err != nil {
			log.Warn().Err(err).Str("experience", entry.ID).Msg("failed to upsert experience embedding into vector index")
		}
	}

	d.mem.Add(entry, 0.6)
}

// embed resolves an embedding for text via the configured ModelRuntime,
// falling back to the deterministic hash embedding (and flagging it) if
// the runtime call fails or no runtime is configured.
func (d *Dispatcher) embed(text string) ([]float32, bool) {
	if d.runtime != nil {
		if out, err := d.runtime.Embed(context.Background(), text); err == nil {
			return out.Embedding, false
		}
	}
	return vectorrecall.FallbackEmbed(text, d.vectors.Dimension()), true
}

func admit(snapshot types.SystemSnapshot, ramFloor uint64) *types.DispatchError {
	if snapshot.Classify() == types.ClassCritical {
		return types.NewError(types.ErrOverloaded, "host resources at critical levels", nil)
	}
	if snapshot.RAMFreeBytes < ramFloor {
		return types.NewError(types.ErrOverloaded, "free ram below configured floor", nil)
	}
	return nil
}

// encodeResult/decodeResult serialize a Result for storage as a cache
// entry's opaque byte value.
func encodeResult(r types.Result) ([]byte, error) {
	return json.Marshal(r)
}

func decodeResult(raw []byte, out *types.Result) error {
	return json.Unmarshal(raw, out)
}

// digestOf returns the hex SHA-256 digest of v's canonical JSON
// encoding, used to fingerprint experiences without retaining raw
// prompts or completions.
func digestOf(v any) string {
	canon, err := cache.Fingerprint(v)
	if err != nil {
		return ""
	}
	return canon
}

func isRetriable(err error) bool {
	switch err.(type) {
	case *contracts.TransientError:
		return true
	case *contracts.ModelError:
		return false
	default:
		return true
	}
}

func toDispatchError(err error) *types.DispatchError {
	if err == nil {
		return types.NewError(types.ErrInternal, "unknown failure", nil)
	}
	switch err.(type) {
	case *contracts.ModelError:
		return types.NewError(types.ErrModelError, "model runtime returned a terminal error", err)
	default:
		return types.NewError(types.ErrTimeout, "backend call failed or timed out", err)
	}
}

func fingerprintInput(task types.Task, variant string) map[string]any {
	normalized := map[string]any{
		"kind":    task.Kind,
		"params":  task.Params.WithDefaults(),
		"variant": variant,
	}
	switch task.Kind {
	case types.TaskGenerate, types.TaskEmbed:
		normalized["input"] = task.Prompt
	case types.TaskChat:
		normalized["input"] = task.Messages
	case types.TaskVision, types.TaskAudio:
		normalized["input"] = digestOf(task.Attachment.Bytes)
		normalized["prompt"] = task.Prompt
	}
	return normalized
}
