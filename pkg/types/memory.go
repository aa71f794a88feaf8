package types

import "time"

// Experience is a retained task/result pair used to build future
// few-shot context.
type Experience struct {
	ID           string    `json:"id"`
	Kind         TaskKind  `json:"kind"`
	InputDigest  string    `json:"input_digest"`
	OutputDigest string    `json:"output_digest"`
	Embedding    []float32 `json:"embedding"`
	// EmbeddingFallback marks an embedding produced by the deterministic
	// hash fallback rather than the configured ModelRuntime.
	EmbeddingFallback bool `json:"embedding_fallback"`

	// Input is the structured key-value view of the task used for
	// Jaccard relevance scoring; it is not the raw prompt.
	Input map[string]string `json:"input"`

	Importance  float64   `json:"importance"`
	Score       float64   `json:"score"`
	CreatedAt   time.Time `json:"created_at"`
	TokenCost   int       `json:"token_cost"`
	AccessCount int64     `json:"access_count"`
}

// Age returns the experience's age as of now.
func (e Experience) Age(now time.Time) time.Duration {
	return now.Sub(e.CreatedAt)
}

// ModelVariant is a named model configuration with a minimum free-RAM
// requirement. Variants are held heaviest-first by ModelRouter.
type ModelVariant struct {
	Name         string  `json:"name"`
	MinRAMBytes  uint64  `json:"min_ram_bytes"`
	QualityScore float64 `json:"quality_score"`
}
