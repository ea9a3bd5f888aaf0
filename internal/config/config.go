package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the sitesmith server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	AI        AIConfig
	GitHub    GitHubConfig
	Hosting   HostingConfig
	Provision ProvisionConfig
	Workflow  WorkflowConfig
}

type ServerConfig struct {
	Port    int
	Env     string
	BaseURL string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

type AIConfig struct {
	Provider         string
	InferenceTimeout time.Duration
	Ollama           OllamaConfig
	VLLM             VLLMConfig
	OpenAI           OpenAIConfig
	Anthropic        AnthropicConfig
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

type VLLMConfig struct {
	BaseURL string
	Model   string
}

type OpenAIConfig struct {
	APIKey string
	Model  string
}

type AnthropicConfig struct {
	APIKey string
	Model  string
}

type GitHubConfig struct {
	Token         string
	Owner         string
	TemplateOwner string
}

type HostingConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

type ProvisionConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// WorkflowConfig tunes the phase executor and the deployment recovery loop.
type WorkflowConfig struct {
	MaxFixRetries      int
	DeployPollInterval time.Duration
	DeployPollTimeout  time.Duration
}

var validProviders = map[string]bool{
	"ollama":    true,
	"vllm":      true,
	"openai":    true,
	"anthropic": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:    envInt("SITESMITH_PORT", 8080),
			Env:     envString("SITESMITH_ENV", "development"),
			BaseURL: envString("SITESMITH_BASE_URL", "http://localhost:8080"),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		AI: AIConfig{
			Provider:         os.Getenv("AI_PROVIDER"),
			InferenceTimeout: envDurationSecs("AI_INFERENCE_TIMEOUT_SECS", 60*time.Second),
			Ollama: OllamaConfig{
				BaseURL: envString("OLLAMA_BASE_URL", "http://localhost:11434"),
				Model:   envString("OLLAMA_MODEL", "llama3"),
			},
			VLLM: VLLMConfig{
				BaseURL: envString("VLLM_BASE_URL", "http://localhost:8000"),
				Model:   envString("VLLM_MODEL", ""),
			},
			OpenAI: OpenAIConfig{
				APIKey: os.Getenv("OPENAI_API_KEY"),
				Model:  envString("OPENAI_MODEL", "gpt-4"),
			},
			Anthropic: AnthropicConfig{
				APIKey: os.Getenv("ANTHROPIC_API_KEY"),
				Model:  envString("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
			},
		},
		GitHub: GitHubConfig{
			Token:         os.Getenv("GITHUB_TOKEN"),
			Owner:         os.Getenv("GITHUB_OWNER"),
			TemplateOwner: envString("GITHUB_TEMPLATE_OWNER", os.Getenv("GITHUB_OWNER")),
		},
		Hosting: HostingConfig{
			BaseURL: os.Getenv("HOSTING_BASE_URL"),
			Token:   os.Getenv("HOSTING_TOKEN"),
			Timeout: envDuration("HOSTING_TIMEOUT", 30*time.Second),
		},
		Provision: ProvisionConfig{
			BaseURL: os.Getenv("PROVISIONER_BASE_URL"),
			Token:   os.Getenv("PROVISIONER_TOKEN"),
			Timeout: envDuration("PROVISIONER_TIMEOUT", 30*time.Second),
		},
		Workflow: WorkflowConfig{
			MaxFixRetries:      envInt("WORKFLOW_MAX_FIX_RETRIES", 3),
			DeployPollInterval: envDuration("WORKFLOW_DEPLOY_POLL_INTERVAL", 5*time.Second),
			DeployPollTimeout:  envDuration("WORKFLOW_DEPLOY_POLL_TIMEOUT", 5*time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.AI.Provider == "" {
		return fmt.Errorf("AI_PROVIDER is required")
	}
	if !validProviders[c.AI.Provider] {
		return fmt.Errorf("AI_PROVIDER must be one of ollama, vllm, openai, anthropic; got %q", c.AI.Provider)
	}

	if c.AI.Provider == "openai" && c.AI.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when AI_PROVIDER is openai")
	}
	if c.AI.Provider == "anthropic" && c.AI.Anthropic.APIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required when AI_PROVIDER is anthropic")
	}

	if c.GitHub.Token == "" {
		return fmt.Errorf("GITHUB_TOKEN is required")
	}
	if c.GitHub.Owner == "" {
		return fmt.Errorf("GITHUB_OWNER is required")
	}

	if c.Hosting.BaseURL == "" {
		return fmt.Errorf("HOSTING_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Hosting.BaseURL, "http://") && !strings.HasPrefix(c.Hosting.BaseURL, "https://") {
		return fmt.Errorf("HOSTING_BASE_URL must start with http:// or https://, got %q", c.Hosting.BaseURL)
	}

	if c.Provision.BaseURL == "" {
		return fmt.Errorf("PROVISIONER_BASE_URL is required")
	}

	if c.Workflow.MaxFixRetries < 0 {
		return fmt.Errorf("WORKFLOW_MAX_FIX_RETRIES must not be negative")
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
