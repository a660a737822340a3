package valueobject

// ModelConfig is an immutable value object describing model parameters.
type ModelConfig struct {
	provider    string
	model       string
	maxTokens   int
	temperature float64
	topP        float64
	stream      bool // whether streaming responses are enabled
}

// NewModelConfig creates a ModelConfig.
func NewModelConfig(provider, model string, maxTokens int, temperature, topP float64, stream bool) ModelConfig {
	return ModelConfig{
		provider:    provider,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		topP:        topP,
		stream:      stream,
	}
}

// DefaultModelConfig returns the default model configuration.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		provider:    "bailian",
		model:       "qwen3-max-2026-01-23",
		maxTokens:   8192,
		temperature: 0.7,
		topP:        0.95,
		stream:      true, // streaming enabled by default
	}
}

// Provider returns the provider name.
func (mc ModelConfig) Provider() string {
	return mc.provider
}

// Model returns the model name.
func (mc ModelConfig) Model() string {
	return mc.model
}

// MaxTokens returns the maximum token count.
func (mc ModelConfig) MaxTokens() int {
	return mc.maxTokens
}

// Temperature returns the temperature parameter.
func (mc ModelConfig) Temperature() float64 {
	return mc.temperature
}

// TopP returns the Top-P parameter.
func (mc ModelConfig) TopP() float64 {
	return mc.topP
}

// FullModelName returns the "<provider>/<model>" name.
func (mc ModelConfig) FullModelName() string {
	return mc.provider + "/" + mc.model
}

// Stream reports whether streaming responses are enabled.
func (mc ModelConfig) Stream() bool {
	return mc.stream
}

// WithTemperature returns a copy of the config with a new temperature.
func (mc ModelConfig) WithTemperature(temp float64) ModelConfig {
	return ModelConfig{
		provider:    mc.provider,
		model:       mc.model,
		maxTokens:   mc.maxTokens,
		temperature: temp,
		topP:        mc.topP,
		stream:      mc.stream,
	}
}

// WithMaxTokens returns a copy of the config with a new max-tokens value.
func (mc ModelConfig) WithMaxTokens(tokens int) ModelConfig {
	return ModelConfig{
		provider:    mc.provider,
		model:       mc.model,
		maxTokens:   tokens,
		temperature: mc.temperature,
		topP:        mc.topP,
		stream:      mc.stream,
	}
}

// Equals reports whether two ModelConfig values are equal.
func (mc ModelConfig) Equals(other ModelConfig) bool {
	return mc.provider == other.provider &&
		mc.model == other.model &&
		mc.maxTokens == other.maxTokens &&
		mc.temperature == other.temperature &&
		mc.topP == other.topP &&
		mc.stream == other.stream
}
