package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for easysql-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, API keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Engine database (sessions, checkpoints, schema metadata)
	Database DatabaseConfig `yaml:"database"`

	// Optional Redis for checkpoint caching
	Redis RedisConfig `yaml:"redis"`

	// Vector store (Qdrant)
	Qdrant QdrantConfig `yaml:"qdrant"`

	// LLM providers; selection priority: Google > Anthropic > OpenAI-compatible > Ollama
	LLM LLMConfig `yaml:"llm"`

	// Embedding provider (OpenAI-compatible endpoint)
	Embeddings EmbeddingsConfig `yaml:"embeddings"`

	// Retrieval pipeline tuning
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Agent runtime tuning
	Agent AgentConfig `yaml:"agent"`

	// Multi-turn conversation tuning
	Conversation ConversationConfig `yaml:"conversation"`

	// SQL executor targets and limits
	Executor ExecutorConfig `yaml:"executor"`

	// Session store
	Session SessionConfig `yaml:"session"`
}

// DatabaseConfig holds PostgreSQL configuration for the engine's own storage.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"easysql"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"easysql_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds optional Redis configuration. Empty host disables Redis.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// QdrantConfig holds vector store connection settings.
type QdrantConfig struct {
	Host   string `yaml:"host" env:"QDRANT_HOST" env-default:"localhost"`
	Port   int    `yaml:"port" env:"QDRANT_PORT" env-default:"6334"`
	APIKey string `yaml:"-" env:"QDRANT_API_KEY"`
	UseTLS bool   `yaml:"use_tls" env:"QDRANT_USE_TLS" env-default:"false"`
	// VectorDim is the embedding dimension for all collections.
	VectorDim uint64 `yaml:"vector_dim" env:"QDRANT_VECTOR_DIM" env-default:"1024"`
}

// GoogleConfig holds Gemini provider settings.
type GoogleConfig struct {
	APIKey string `yaml:"-" env:"GOOGLE_API_KEY"` // Secret - not in YAML
	Model  string `yaml:"model" env:"GOOGLE_MODEL" env-default:""`
}

// IsAvailable returns true if the Google provider is configured.
func (c *GoogleConfig) IsAvailable() bool {
	return c.APIKey != "" && c.Model != ""
}

// AnthropicConfig holds Anthropic provider settings.
type AnthropicConfig struct {
	APIKey  string `yaml:"-" env:"ANTHROPIC_API_KEY"` // Secret - not in YAML
	BaseURL string `yaml:"base_url" env:"ANTHROPIC_BASE_URL" env-default:""`
	Model   string `yaml:"model" env:"ANTHROPIC_MODEL" env-default:""`
}

// IsAvailable returns true if the Anthropic provider is configured.
func (c *AnthropicConfig) IsAvailable() bool {
	return c.APIKey != "" && c.Model != ""
}

// OpenAIConfig holds settings for OpenAI or any compatible endpoint.
type OpenAIConfig struct {
	APIKey  string `yaml:"-" env:"OPENAI_API_KEY"` // Secret - not in YAML
	BaseURL string `yaml:"base_url" env:"OPENAI_BASE_URL" env-default:""`
	Model   string `yaml:"model" env:"OPENAI_MODEL" env-default:""`
}

// IsAvailable returns true if the OpenAI-compatible provider is configured.
// Self-hosted endpoints often run without an API key, so a base URL alone
// counts.
func (c *OpenAIConfig) IsAvailable() bool {
	return c.Model != "" && (c.APIKey != "" || c.BaseURL != "")
}

// OllamaConfig holds settings for a local Ollama endpoint.
type OllamaConfig struct {
	APIKey  string `yaml:"-" env:"OLLAMA_API_KEY"`
	BaseURL string `yaml:"base_url" env:"OLLAMA_BASE_URL" env-default:""`
	Model   string `yaml:"model" env:"OLLAMA_MODEL" env-default:""`
}

// IsAvailable returns true if the Ollama provider is configured.
func (c *OllamaConfig) IsAvailable() bool {
	return c.BaseURL != "" && c.Model != ""
}

// LLMConfig holds the provider endpoints and per-purpose models.
type LLMConfig struct {
	Google    GoogleConfig    `yaml:"google"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Ollama    OllamaConfig    `yaml:"ollama"`

	// PlanningModel overrides the generation model for purpose=planning.
	// Empty means planning uses the generation model.
	PlanningModel string `yaml:"planning_model" env:"LLM_PLANNING_MODEL" env-default:""`

	// Temperature for SQL generation. Zero keeps generation deterministic.
	Temperature float64 `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0"`

	GenerationTimeout time.Duration `yaml:"generation_timeout" env:"LLM_GENERATION_TIMEOUT" env-default:"180s"`
	PlanningTimeout   time.Duration `yaml:"planning_timeout" env:"LLM_PLANNING_TIMEOUT" env-default:"120s"`
}

// EmbeddingsConfig holds the embedding endpoint settings.
type EmbeddingsConfig struct {
	BaseURL string `yaml:"base_url" env:"EMBEDDING_BASE_URL" env-default:""`
	Model   string `yaml:"model" env:"EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	APIKey  string `yaml:"-" env:"EMBEDDING_API_KEY"`
}

// RetrievalConfig tunes the schema retrieval pipeline.
type RetrievalConfig struct {
	TopK                  int      `yaml:"top_k" env:"RETRIEVAL_TOP_K" env-default:"5"`
	ExpandFK              bool     `yaml:"expand_fk" env:"RETRIEVAL_EXPAND_FK" env-default:"true"`
	ExpandMaxDepth        int      `yaml:"expand_max_depth" env:"RETRIEVAL_EXPAND_MAX_DEPTH" env-default:"1"`
	SemanticFilterEnabled bool     `yaml:"semantic_filter_enabled" env:"RETRIEVAL_SEMANTIC_FILTER" env-default:"true"`
	SemanticThreshold     float64  `yaml:"semantic_threshold" env:"RETRIEVAL_SEMANTIC_THRESHOLD" env-default:"0.45"`
	SemanticMinTables     int      `yaml:"semantic_min_tables" env:"RETRIEVAL_SEMANTIC_MIN_TABLES" env-default:"3"`
	CoreTables            []string `yaml:"core_tables" env:"RETRIEVAL_CORE_TABLES"`
	BridgeProtection      bool     `yaml:"bridge_protection" env:"RETRIEVAL_BRIDGE_PROTECTION" env-default:"true"`
	BridgeMaxHops         int      `yaml:"bridge_max_hops" env:"RETRIEVAL_BRIDGE_MAX_HOPS" env-default:"3"`
	LLMFilterEnabled      bool     `yaml:"llm_filter_enabled" env:"RETRIEVAL_LLM_FILTER" env-default:"false"`
	LLMFilterMaxTables    int      `yaml:"llm_filter_max_tables" env:"RETRIEVAL_LLM_FILTER_MAX_TABLES" env-default:"8"`
	ColumnTopK            int      `yaml:"column_top_k" env:"RETRIEVAL_COLUMN_TOP_K" env-default:"10"`
	FewShotTopK           int      `yaml:"few_shot_top_k" env:"RETRIEVAL_FEW_SHOT_TOP_K" env-default:"3"`
	FewShotMinScore       float64  `yaml:"few_shot_min_score" env:"RETRIEVAL_FEW_SHOT_MIN_SCORE" env-default:"0.6"`
	CacheSize             int      `yaml:"cache_size" env:"RETRIEVAL_CACHE_SIZE" env-default:"64"`
}

// AgentConfig tunes the agent graph runtime.
type AgentConfig struct {
	UseAgentMode     bool `yaml:"use_agent_mode" env:"AGENT_MODE" env-default:"true"`
	MaxIterations    int  `yaml:"max_iterations" env:"AGENT_MAX_ITERATIONS" env-default:"10"`
	MaxRepairRetries int  `yaml:"max_repair_retries" env:"AGENT_MAX_REPAIR_RETRIES" env-default:"2"`
}

// ConversationConfig tunes multi-turn history management.
type ConversationConfig struct {
	MaxContextTokens       int `yaml:"max_context_tokens" env:"CONV_MAX_CONTEXT_TOKENS" env-default:"12000"`
	ReservedResponseTokens int `yaml:"reserved_response_tokens" env:"CONV_RESERVED_RESPONSE_TOKENS" env-default:"2000"`
	MaxHistoryTurns        int `yaml:"max_history_turns" env:"CONV_MAX_HISTORY_TURNS" env-default:"10"`
}

// TargetConfig describes one queryable target database.
type TargetConfig struct {
	Name    string `yaml:"name"`
	Dialect string `yaml:"dialect"` // postgresql | mysql | oracle | sqlserver
	DSN     string `yaml:"dsn"`
}

// ExecutorConfig holds SQL execution limits and target databases.
type ExecutorConfig struct {
	Targets        []TargetConfig `yaml:"targets"`
	DefaultTimeout time.Duration  `yaml:"default_timeout" env:"EXEC_DEFAULT_TIMEOUT" env-default:"30s"`
	MaxTimeout     time.Duration  `yaml:"max_timeout" env:"EXEC_MAX_TIMEOUT" env-default:"300s"`
	DefaultLimit   int            `yaml:"default_limit" env:"EXEC_DEFAULT_LIMIT" env-default:"100"`
}

// SessionConfig holds session store settings.
type SessionConfig struct {
	// Backend selects "memory" or "postgres".
	Backend string `yaml:"backend" env:"SESSION_BACKEND" env-default:"memory"`
	// MaxSessions caps the in-memory backend; least-recently-updated evicted.
	MaxSessions int `yaml:"max_sessions" env:"SESSION_MAX_SESSIONS" env-default:"1000"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{Version: version}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		// Allow running without a config file; env vars and defaults apply.
		if err2 := cleanenv.ReadEnv(cfg); err2 != nil {
			return nil, fmt.Errorf("failed to read configuration: %w", err2)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Agent.MaxIterations < 1 {
		return fmt.Errorf("agent.max_iterations must be >= 1")
	}
	if c.Conversation.MaxContextTokens <= c.Conversation.ReservedResponseTokens {
		return fmt.Errorf("conversation.max_context_tokens must exceed reserved_response_tokens")
	}
	if c.Executor.MaxTimeout < c.Executor.DefaultTimeout {
		return fmt.Errorf("executor.max_timeout must be >= default_timeout")
	}
	for _, t := range c.Executor.Targets {
		switch t.Dialect {
		case "postgresql", "mysql", "oracle", "sqlserver":
		default:
			return fmt.Errorf("executor target %q has unknown dialect %q", t.Name, t.Dialect)
		}
	}
	switch c.Session.Backend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("session.backend must be memory or postgres")
	}
	return nil
}
