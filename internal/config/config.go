package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
)

// ErrMissingCredential is returned when a flow starts without the key it needs.
var ErrMissingCredential = errors.New("missing credential")

type Config struct {
	OpenAIKey     string  `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string  `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	LLMModel      string  `env:"LLM_MODEL" envDefault:"gpt-3.5-turbo" validate:"required"`
	Temperature   float64 `env:"LLM_TEMPERATURE" envDefault:"0.5" validate:"gte=0,lte=2"`
	SystemPrompt  string  `env:"SYSTEM_PROMPT" envDefault:"You are a specialized AI trained in the usage of LlamaIndex."`
	EmbedModel    string  `env:"EMBED_MODEL" envDefault:"text-embedding-ada-002" validate:"required"`
	EmbedBatch    int     `env:"EMBED_BATCH_SIZE" envDefault:"64" validate:"gte=1"`

	StorageDir string `env:"STORAGE_DIR" envDefault:"./storage" validate:"required"`

	GitHubToken      string   `env:"GITHUB_TOKEN"`
	GitHubOwner      string   `env:"GITHUB_OWNER" envDefault:"jerryjliu" validate:"required"`
	GitHubRepo       string   `env:"GITHUB_REPO" envDefault:"llama_index" validate:"required"`
	GitHubBranch     string   `env:"GITHUB_BRANCH" envDefault:"main" validate:"required"`
	GitHubDirs       []string `env:"GITHUB_DIRS" envDefault:"docs" envSeparator:","`
	GitHubExts       []string `env:"GITHUB_EXTS" envDefault:".md" envSeparator:","`
	FetchConcurrency int      `env:"FETCH_CONCURRENCY" envDefault:"10" validate:"gte=1"`
	DocAuthor        string   `env:"DOC_AUTHOR" envDefault:"LlamaIndex"`

	ChunkSize    int    `env:"CHUNK_SIZE" envDefault:"1024" validate:"gt=0"`
	ChunkOverlap int    `env:"CHUNK_OVERLAP" envDefault:"32" validate:"gte=0,ltfield=ChunkSize"`
	Tokenizer    string `env:"TOKENIZER" envDefault:"tiktoken" validate:"oneof=tiktoken runes"`

	TopK             int     `env:"TOP_K" envDefault:"2" validate:"gte=1"`
	CacheSize        int     `env:"CACHE_SIZE" envDefault:"1024" validate:"gte=1"`
	WithCache        bool    `env:"WITH_CACHE" envDefault:"true"`
	WithSources      bool    `env:"WITH_SOURCES" envDefault:"true"`
	WithStreaming    bool    `env:"WITH_STREAMING" envDefault:"false"`
	CountCachedUsage bool    `env:"COUNT_CACHED_USAGE" envDefault:"false"`
	SourceBaseURL    string  `env:"SOURCE_BASE_URL" envDefault:"https://github.com/jerryjliu/llama_index/tree/main/"`
	PromptPrice      float64 `env:"PROMPT_PRICE" envDefault:"0.0015" validate:"gte=0"`
	CompletionPrice  float64 `env:"COMPLETION_PRICE" envDefault:"0.002" validate:"gte=0"`

	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	LogJSON  bool   `env:"LOG_JSON" envDefault:"false"`
}

func Init(cfg interface{}) error {
	return env.Parse(cfg)
}

// Load parses the environment into a fresh Config and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := Init(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges. Credentials are checked per flow.
func (c *Config) Validate() error {
	c.OpenAIKey = strings.TrimSpace(c.OpenAIKey)
	c.GitHubToken = strings.TrimSpace(c.GitHubToken)
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) RequireOpenAI() error {
	if c.OpenAIKey == "" {
		return fmt.Errorf("%w: OPENAI_API_KEY environment variable not set", ErrMissingCredential)
	}
	return nil
}

func (c *Config) RequireGitHub() error {
	if c.GitHubToken == "" {
		return fmt.Errorf("%w: GITHUB_TOKEN environment variable not set", ErrMissingCredential)
	}
	return nil
}
