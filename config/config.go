package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ProjectDir string `json:"project_dir" yaml:"project_dir"`
	ResultsDir string `json:"results_dir" yaml:"results_dir"`
	DataDir    string `json:"data_dir" yaml:"data_dir"`
	DBPath     string `json:"db_path" yaml:"db_path"`

	LLMProvider   string `json:"llm_provider" yaml:"llm_provider"`
	BackendURL    string `json:"backend_url" yaml:"backend_url"`
	DeepThinkLLM  string `json:"deep_think_llm" yaml:"deep_think_llm"`
	QuickThinkLLM string `json:"quick_think_llm" yaml:"quick_think_llm"`
	MaxTokens     int    `json:"max_tokens" yaml:"max_tokens"`

	// Deliberation
	MaxDebateRounds  int      `json:"max_debate_rounds" yaml:"max_debate_rounds"`
	SelectedAnalysts []string `json:"selected_analysts" yaml:"selected_analysts"`
	MemoryMatches    int      `json:"memory_matches" yaml:"memory_matches"`

	// Call policy
	LLMTimeoutSec    int `json:"llm_timeout_sec" yaml:"llm_timeout_sec"`
	MemoryTimeoutSec int `json:"memory_timeout_sec" yaml:"memory_timeout_sec"`
	MaxRetries       int `json:"max_retries" yaml:"max_retries"`
	RetryBackoffMs   int `json:"retry_backoff_ms" yaml:"retry_backoff_ms"`
	MaxToolSteps     int `json:"max_tool_steps" yaml:"max_tool_steps"`

	HTTPAddr            string `json:"http_addr" yaml:"http_addr"`
	SessionRetentionMin int    `json:"session_retention_min" yaml:"session_retention_min"`

	OnlineTools bool   `json:"online_tools" yaml:"online_tools"`
	Debug       bool   `json:"debug" yaml:"debug"`
	LogLevel    string `json:"log_level" yaml:"log_level"`

	// Eino Debug configuration
	EinoDebugEnabled bool `json:"eino_debug_enabled" yaml:"eino_debug_enabled"`
	EinoDebugPort    int  `json:"eino_debug_port" yaml:"eino_debug_port"`

	// Longport API Configuration
	LongportAppKey      string `json:"longport_app_key" yaml:"longport_app_key"`
	LongportAppSecret   string `json:"longport_app_secret" yaml:"longport_app_secret"`
	LongportAccessToken string `json:"longport_access_token" yaml:"longport_access_token"`

	// AI Model API Keys
	DeepSeekAPIKey string `json:"deepseek_api_key" yaml:"deepseek_api_key"`
	OpenAIAPIKey   string `json:"openai_api_key" yaml:"openai_api_key"`

	FinnhubAPIKey string `json:"finnhub_api_key" yaml:"finnhub_api_key"`
}

func DefaultConfig() *Config {
	currentDir, _ := os.Getwd()
	cfg := DefaultConfigWithRoot(currentDir)

	// Load environment variables from .env file
	_ = godotenv.Load()

	cfg.loadFromEnv()
	return cfg
}

// DefaultConfigWithRoot returns defaults with every directory placed under root.
func DefaultConfigWithRoot(root string) *Config {
	return &Config{
		ProjectDir: root,
		ResultsDir: filepath.Join(root, "results"),
		DataDir:    filepath.Join(root, "data"),
		DBPath:     filepath.Join(root, "data", "council.db"),

		LLMProvider:   ProviderDeepSeek,
		DeepThinkLLM:  "deepseek-chat",
		QuickThinkLLM: "deepseek-chat",
		MaxTokens:     4096,

		MaxDebateRounds:  1,
		SelectedAnalysts: []string{"market", "social", "news", "fundamentals"},
		MemoryMatches:    2,

		LLMTimeoutSec:    120,
		MemoryTimeoutSec: 5,
		MaxRetries:       2,
		RetryBackoffMs:   500,
		MaxToolSteps:     6,

		HTTPAddr:            ":8080",
		SessionRetentionMin: 60,

		OnlineTools: true,
		LogLevel:    "info",

		EinoDebugPort: 52538,
	}
}

// ApplyEnv overlays .env and process environment values, so credentials can
// stay out of the config file.
func (c *Config) ApplyEnv() {
	_ = godotenv.Load()
	c.loadFromEnv()
}

func (c *Config) loadFromEnv() {
	setString := func(key string, dst *string) {
		if val := os.Getenv(key); val != "" {
			*dst = val
		}
	}
	setInt := func(key string, dst *int) {
		if val := os.Getenv(key); val != "" {
			if v, err := strconv.Atoi(val); err == nil {
				*dst = v
			}
		}
	}
	setBool := func(key string, dst *bool) {
		if val := os.Getenv(key); val != "" {
			if v, err := strconv.ParseBool(val); err == nil {
				*dst = v
			}
		}
	}

	setString("COUNCIL_PROJECT_DIR", &c.ProjectDir)
	setString("COUNCIL_RESULTS_DIR", &c.ResultsDir)
	setString("COUNCIL_DATA_DIR", &c.DataDir)
	setString("COUNCIL_DB_PATH", &c.DBPath)

	setString("COUNCIL_LLM_PROVIDER", &c.LLMProvider)
	setString("COUNCIL_BACKEND_URL", &c.BackendURL)
	setString("COUNCIL_DEEP_THINK_LLM", &c.DeepThinkLLM)
	setString("COUNCIL_QUICK_THINK_LLM", &c.QuickThinkLLM)
	setInt("COUNCIL_MAX_TOKENS", &c.MaxTokens)

	setInt("COUNCIL_MAX_DEBATE_ROUNDS", &c.MaxDebateRounds)
	if val := os.Getenv("COUNCIL_ANALYSTS"); val != "" {
		c.SelectedAnalysts = splitList(val)
	}
	setInt("COUNCIL_MEMORY_MATCHES", &c.MemoryMatches)

	setInt("COUNCIL_LLM_TIMEOUT_SEC", &c.LLMTimeoutSec)
	setInt("COUNCIL_MEMORY_TIMEOUT_SEC", &c.MemoryTimeoutSec)
	setInt("COUNCIL_MAX_RETRIES", &c.MaxRetries)
	setInt("COUNCIL_RETRY_BACKOFF_MS", &c.RetryBackoffMs)
	setInt("COUNCIL_MAX_TOOL_STEPS", &c.MaxToolSteps)

	setString("COUNCIL_HTTP_ADDR", &c.HTTPAddr)
	setInt("COUNCIL_SESSION_RETENTION_MIN", &c.SessionRetentionMin)

	setBool("COUNCIL_ONLINE_TOOLS", &c.OnlineTools)
	setBool("COUNCIL_DEBUG", &c.Debug)
	setString("COUNCIL_LOG_LEVEL", &c.LogLevel)

	setBool("EINO_DEBUG_ENABLED", &c.EinoDebugEnabled)
	setInt("EINO_DEBUG_PORT", &c.EinoDebugPort)

	setString("LONGPORT_APP_KEY", &c.LongportAppKey)
	setString("LONGPORT_APP_SECRET", &c.LongportAppSecret)
	setString("LONGPORT_ACCESS_TOKEN", &c.LongportAccessToken)

	setString("DEEPSEEK_API_KEY", &c.DeepSeekAPIKey)
	setString("OPENAI_API_KEY", &c.OpenAIAPIKey)
	setString("FINNHUB_API_KEY", &c.FinnhubAPIKey)
}

func (c *Config) EnsureDirectories() error {
	dirs := []string{c.ProjectDir, c.ResultsDir, c.DataDir}
	if c.DBPath != "" {
		dirs = append(dirs, filepath.Dir(c.DBPath))
	}
	for _, dir := range dirs {
		path := strings.TrimSpace(dir)
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", path, err)
		}
	}
	return nil
}

// APIKey returns the credential matching the configured provider.
func (c *Config) APIKey() string {
	if c.LLMProvider == ProviderOpenAI {
		return c.OpenAIAPIKey
	}
	return c.DeepSeekAPIKey
}

func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutSec) * time.Second
}

func (c *Config) MemoryTimeout() time.Duration {
	return time.Duration(c.MemoryTimeoutSec) * time.Second
}

func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffMs) * time.Millisecond
}

func (c *Config) SessionRetention() time.Duration {
	return time.Duration(c.SessionRetentionMin) * time.Minute
}

func (c *Config) HasLongport() bool {
	return c.LongportAppKey != "" && c.LongportAppSecret != "" && c.LongportAccessToken != ""
}

func splitList(val string) []string {
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
