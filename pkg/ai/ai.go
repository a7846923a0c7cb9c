package ai

import "context"

// GenerateOptions holds configuration for oracle generation requests.
type GenerateOptions struct {
	Model         string   // Model identifier to use for generation
	SystemPrompts []string // System prompts prepended to the request
	Temperature   float64  // Sampling temperature (0.0-2.0)
}

// GenerateOption is a functional option for configuring generation requests.
type GenerateOption func(*GenerateOptions)

// WithModel returns a GenerateOption that sets the model to use for generation.
func WithModel(model string) GenerateOption {
	return func(o *GenerateOptions) {
		o.Model = model
	}
}

// WithSystemPrompts returns a GenerateOption that sets the system prompts
// to prepend to the generation request.
func WithSystemPrompts(prompts ...string) GenerateOption {
	return func(o *GenerateOptions) {
		o.SystemPrompts = prompts
	}
}

// WithTemperature returns a GenerateOption that sets the sampling temperature.
func WithTemperature(temp float64) GenerateOption {
	return func(o *GenerateOptions) {
		o.Temperature = temp
	}
}

// ModelMetrics contains accumulated usage metrics from oracle operations.
type ModelMetrics struct {
	Calls        int   `json:"calls"`
	InputTokens  int   `json:"input_tokens"`
	OutputTokens int   `json:"output_tokens"`
	TotalTokens  int   `json:"total_tokens"`
	DurationMs   int64 `json:"duration_ms"`
}

// Add accumulates another sample into the metrics.
func (m *ModelMetrics) Add(other ModelMetrics) {
	m.Calls += other.Calls
	m.InputTokens += other.InputTokens
	m.OutputTokens += other.OutputTokens
	m.TotalTokens += other.TotalTokens
	m.DurationMs += other.DurationMs
}

// LanguageOracle is the contract with the language model used for knowledge
// extraction. Implementations are expected to be safe for concurrent use;
// rate limiting is the oracle's responsibility.
type LanguageOracle interface {
	// GenerateCompletion sends a single-turn prompt and returns assistant
	// text.
	GenerateCompletion(
		ctx context.Context,
		prompt string,
		opts ...GenerateOption,
	) (string, error)

	// GenerateCompletionWithFormat sends a prompt and unmarshals the
	// response into out, constrained by a JSON schema derived from out's
	// type. name and description label the schema for the model.
	GenerateCompletionWithFormat(
		ctx context.Context,
		name string,
		description string,
		prompt string,
		out any,
		opts ...GenerateOption,
	) error

	ResetMetrics()
	GetMetrics() ModelMetrics
}

// EmbeddingOracle maps text to a fixed-dimension vector. The dimension is a
// deployment constant; the core never hard-codes it.
type EmbeddingOracle interface {
	GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error)
}

// GraphOracle is the combined oracle surface the pipeline wires against.
type GraphOracle interface {
	LanguageOracle
	EmbeddingOracle
}
