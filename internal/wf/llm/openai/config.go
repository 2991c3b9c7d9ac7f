package openai

import (
	"fmt"
	"os"
	"strconv"
)

// Config configures a Client, ported from the teacher's internal/llm/openai.Config.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature *float32
	MaxTokens   int
	MaxRetries  int
	HTTPTimeout int // seconds
}

func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	return nil
}

// NewConfigFromEnv reads OMEGA_LLM_* variables, falling back to OPENAI_*.
func NewConfigFromEnv() (*Config, error) {
	apiKey := firstNonEmpty(os.Getenv("OMEGA_LLM_API_KEY"), os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("OMEGA_LLM_API_KEY or OPENAI_API_KEY must be set")
	}
	model := firstNonEmpty(os.Getenv("OMEGA_LLM_MODEL"), os.Getenv("OPENAI_MODEL"), "gpt-4o-mini")

	cfg := &Config{
		APIKey:      apiKey,
		BaseURL:     firstNonEmpty(os.Getenv("OMEGA_LLM_BASE_URL"), os.Getenv("OPENAI_BASE_URL")),
		Model:       model,
		MaxRetries:  3,
		HTTPTimeout: 300,
	}
	if v := os.Getenv("OMEGA_LLM_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxRetries = n
		}
	}
	if v := os.Getenv("OMEGA_LLM_HTTP_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HTTPTimeout = n
		}
	}
	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
