package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/rsclarke/firmcheck/internal/extract"
	"github.com/rsclarke/firmcheck/internal/logging"
)

// Supported providers.
const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// GeminiBaseURL is Gemini's OpenAI compatible endpoint.
const GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"

// DefaultTimeout bounds a single model call.
const DefaultTimeout = 60 * time.Second

var defaultModels = map[string]string{
	ProviderGemini:    "gemini-2.0-flash",
	ProviderOpenAI:    "gpt-4o-mini",
	ProviderAnthropic: "claude-3-5-haiku-latest",
	ProviderOllama:    "llama3.1",
}

// Config selects and configures the model provider.
type Config struct {
	Provider string        `yaml:"provider"`
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"-"`
	BaseURL  string        `yaml:"base_url"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Client is an Oracle backed by a langchaingo model.
type Client struct {
	llm      llms.Model
	provider string
	model    string
	timeout  time.Duration
	logger   *zap.Logger
}

// New creates a Client for the configured provider.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = ProviderGemini
	}
	model := cfg.Model
	if model == "" {
		model = defaultModels[provider]
	}

	var llm llms.Model
	var err error

	switch provider {
	case ProviderGemini:
		if cfg.APIKey == "" {
			return nil, errors.New("gemini API key required (GEMINI_API_KEY)")
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = GeminiBaseURL
		}
		llm, err = openai.New(
			openai.WithToken(cfg.APIKey),
			openai.WithModel(model),
			openai.WithBaseURL(baseURL),
		)

	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, errors.New("openai API key required (OPENAI_API_KEY)")
		}
		opts := []openai.Option{openai.WithToken(cfg.APIKey), openai.WithModel(model)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err = openai.New(opts...)

	case ProviderAnthropic:
		if cfg.APIKey == "" {
			return nil, errors.New("anthropic API key required (ANTHROPIC_API_KEY)")
		}
		llm, err = anthropic.New(
			anthropic.WithToken(cfg.APIKey),
			anthropic.WithModel(model),
		)

	case ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		llm, err = ollama.New(opts...)

	default:
		return nil, fmt.Errorf("unsupported oracle provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s model: %w", provider, err)
	}

	return NewWithModel(llm, provider, model, cfg.Timeout, logger), nil
}

// NewWithModel wraps an already constructed langchaingo model.
func NewWithModel(llm llms.Model, provider, model string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		llm:      llm,
		provider: provider,
		model:    model,
		timeout:  timeout,
		logger:   logger.With(logging.Provider(provider), logging.Model(model)),
	}
}

// Provider returns the provider name.
func (c *Client) Provider() string { return c.provider }

// Model returns the model name.
func (c *Client) Model() string { return c.model }

// Generate sends prompt to the model and extracts a record from the reply.
func (c *Client) Generate(ctx context.Context, prompt string) extract.Result {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	text, err := llms.GenerateFromSinglePrompt(ctx, c.llm, prompt, llms.WithTemperature(0.1))
	if err != nil {
		c.logger.Warn("oracle call failed", zap.Error(err), logging.Duration(time.Since(start)))
		return extract.Failed(fmt.Sprintf("oracle call failed: %v", err), "")
	}

	res := extract.Extract(text)
	switch res.Status {
	case extract.StatusDegraded:
		c.logger.Warn("oracle response recovered by field fallback", logging.Duration(time.Since(start)))
	case extract.StatusFailed:
		c.logger.Warn("oracle response could not be parsed",
			zap.String("reason", res.Failure.Reason),
			zap.String("error_position", res.Failure.ErrorPosition),
		)
	default:
		c.logger.Debug("oracle call complete", logging.Duration(time.Since(start)))
	}
	return res
}
