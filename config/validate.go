package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dyike/tradecouncil/consts"
)

const (
	ProviderDeepSeek = "deepseek"
	ProviderOpenAI   = "openai"
)

var ErrInvalid = errors.New("invalid config")

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.LLMProvider) {
	case ProviderDeepSeek, ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("llm_provider %q not supported", c.LLMProvider))
	}
	if c.DeepThinkLLM == "" || c.QuickThinkLLM == "" {
		errs = append(errs, errors.New("deep_think_llm and quick_think_llm are required"))
	}
	if c.MaxDebateRounds < 1 {
		errs = append(errs, fmt.Errorf("max_debate_rounds must be >= 1, got %d", c.MaxDebateRounds))
	}
	if len(c.SelectedAnalysts) == 0 {
		errs = append(errs, errors.New("selected_analysts must not be empty"))
	} else if _, err := consts.ParseAnalysts(c.SelectedAnalysts); err != nil {
		errs = append(errs, fmt.Errorf("selected_analysts: %w", err))
	}
	if c.MemoryMatches < 0 {
		errs = append(errs, fmt.Errorf("memory_matches must be >= 0, got %d", c.MemoryMatches))
	}
	if c.LLMTimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("llm_timeout_sec must be positive, got %d", c.LLMTimeoutSec))
	}
	if c.MemoryTimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("memory_timeout_sec must be positive, got %d", c.MemoryTimeoutSec))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries))
	}
	if c.RetryBackoffMs < 0 {
		errs = append(errs, fmt.Errorf("retry_backoff_ms must be >= 0, got %d", c.RetryBackoffMs))
	}
	if c.MaxToolSteps < 0 {
		errs = append(errs, fmt.Errorf("max_tool_steps must be >= 0, got %d", c.MaxToolSteps))
	}
	if c.SessionRetentionMin < 0 {
		errs = append(errs, fmt.Errorf("session_retention_min must be >= 0, got %d", c.SessionRetentionMin))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
