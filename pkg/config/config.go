package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for leadgate-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys, tokens) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration (pending auth-flow state)
	Redis RedisConfig `yaml:"redis"`

	// AI provider configuration
	AI AIConfig `yaml:"ai"`

	// Direct bot channel configuration
	Bot BotConfig `yaml:"bot"`

	// Human-like channel session gateway
	Channel ChannelConfig `yaml:"channel"`

	// Speech-to-text provider
	Transcribe TranscribeConfig `yaml:"transcribe"`

	// Conversation pipeline tunables
	Conversation ConversationConfig `yaml:"conversation"`

	// Knowledge base tunables
	Knowledge KnowledgeConfig `yaml:"knowledge"`

	// Follow-up scheduler tunables
	FollowUp FollowUpConfig `yaml:"followup"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"leadgate"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"leadgate_engine"`
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

// RedisConfig holds Redis connection configuration.
// Redis stores the transient multi-step auth flow state for the
// human-like channel so any worker process can continue a login.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// AIConfig holds the OpenRouter-compatible LLM endpoint configuration.
// Per-tenant PromptConfig rows may override the model identifiers.
type AIConfig struct {
	BaseURL        string `yaml:"base_url" env:"AI_BASE_URL" env-default:"https://openrouter.ai/api/v1"`
	APIKey         string `yaml:"-" env:"AI_API_KEY"` // Secret - not in YAML
	Model          string `yaml:"model" env:"AI_MODEL" env-default:"openai/gpt-4o-mini"`
	EmbeddingModel string `yaml:"embedding_model" env:"AI_EMBEDDING_MODEL" env-default:"openai/text-embedding-3-small"`
	// EmbeddingDimension is the fixed dimension stored vectors are
	// padded/truncated to. Must match the vector column width.
	EmbeddingDimension int `yaml:"embedding_dimension" env:"AI_EMBEDDING_DIMENSION" env-default:"1536"`
}

// BotConfig holds the direct (bot credential) channel configuration.
type BotConfig struct {
	Token string `yaml:"-" env:"BOT_TOKEN"` // Secret - not in YAML
	// OperatorChatID receives hot-lead hand-off notifications. Zero disables them.
	OperatorChatID int64 `yaml:"operator_chat_id" env:"BOT_OPERATOR_CHAT_ID" env-default:"0"`
	// WebhookPath is the HTTP path the bot provider pushes updates to.
	WebhookPath string `yaml:"webhook_path" env:"BOT_WEBHOOK_PATH" env-default:"/webhook/bot"`
	// TenantID owns the direct bot channel's inbound traffic.
	TenantID string `yaml:"tenant_id" env:"BOT_TENANT_ID" env-default:""`
}

// ChannelConfig holds the human-like channel session gateway configuration.
type ChannelConfig struct {
	GatewayURL     string        `yaml:"gateway_url" env:"CHANNEL_GATEWAY_URL" env-default:""`
	GatewayToken   string        `yaml:"-" env:"CHANNEL_GATEWAY_TOKEN"` // Secret - not in YAML
	ReconcileEvery time.Duration `yaml:"reconcile_every" env:"CHANNEL_RECONCILE_EVERY" env-default:"15s"`
	// AuthStateTTL bounds how long a started login flow stays resumable.
	AuthStateTTL time.Duration `yaml:"auth_state_ttl" env:"CHANNEL_AUTH_STATE_TTL" env-default:"10m"`
	// DeliveryPollEvery is the queued-delivery worker scan interval.
	DeliveryPollEvery time.Duration `yaml:"delivery_poll_every" env:"CHANNEL_DELIVERY_POLL_EVERY" env-default:"2s"`
}

// TranscribeConfig holds the speech-to-text provider configuration.
type TranscribeConfig struct {
	APIKey string `yaml:"-" env:"ASSEMBLYAI_API_KEY"` // Secret - not in YAML
	// Language hints the expected speech language of voice notes.
	Language string `yaml:"language" env:"TRANSCRIBE_LANGUAGE" env-default:"en"`
}

// ConversationConfig holds conversation engine tunables.
type ConversationConfig struct {
	// DebounceWindow merges rapid consecutive inbound messages from the
	// same sender into one turn.
	DebounceWindow time.Duration `yaml:"debounce_window" env:"CONVERSATION_DEBOUNCE_WINDOW" env-default:"5s"`
	// HistoryLimit bounds how many recent messages feed the model.
	HistoryLimit int `yaml:"history_limit" env:"CONVERSATION_HISTORY_LIMIT" env-default:"20"`
	// HandoffHotConfidence is the confidence threshold for hot leads.
	HandoffHotConfidence int `yaml:"handoff_hot_confidence" env:"CONVERSATION_HANDOFF_HOT_CONFIDENCE" env-default:"70"`
	// HandoffPhoneConfidence is the confidence threshold when a phone was captured.
	HandoffPhoneConfidence int `yaml:"handoff_phone_confidence" env:"CONVERSATION_HANDOFF_PHONE_CONFIDENCE" env-default:"85"`
	// Human-like-channel reply pause bounds, to mimic reading and typing.
	ReplyDelayMin time.Duration `yaml:"reply_delay_min" env:"CONVERSATION_REPLY_DELAY_MIN" env-default:"5s"`
	ReplyDelayMax time.Duration `yaml:"reply_delay_max" env:"CONVERSATION_REPLY_DELAY_MAX" env-default:"15s"`
}

// KnowledgeConfig holds chunking and retrieval tunables.
type KnowledgeConfig struct {
	ChunkSize    int `yaml:"chunk_size" env:"KNOWLEDGE_CHUNK_SIZE" env-default:"1200"`
	ChunkOverlap int `yaml:"chunk_overlap" env:"KNOWLEDGE_CHUNK_OVERLAP" env-default:"200"`
	// SearchLimit is the number of fused results given to the prompt assembler.
	SearchLimit int `yaml:"search_limit" env:"KNOWLEDGE_SEARCH_LIMIT" env-default:"3"`
}

// FollowUpConfig holds follow-up scheduler tunables.
type FollowUpConfig struct {
	CheckEvery   time.Duration `yaml:"check_every" env:"FOLLOWUP_CHECK_EVERY" env-default:"30m"`
	StartupDelay time.Duration `yaml:"startup_delay" env:"FOLLOWUP_STARTUP_DELAY" env-default:"30s"`
	MaxAttempts  int           `yaml:"max_attempts" env:"FOLLOWUP_MAX_ATTEMPTS" env-default:"3"`
	// Attempt thresholds: time since the reference point before each attempt fires.
	FirstAfter  time.Duration `yaml:"first_after" env:"FOLLOWUP_FIRST_AFTER" env-default:"4h"`
	SecondAfter time.Duration `yaml:"second_after" env:"FOLLOWUP_SECOND_AFTER" env-default:"24h"`
	ThirdAfter  time.Duration `yaml:"third_after" env:"FOLLOWUP_THIRD_AFTER" env-default:"72h"`
	// SendPacing spaces successive sends to respect channel rate limits.
	SendPacing time.Duration `yaml:"send_pacing" env:"FOLLOWUP_SEND_PACING" env-default:"2s"`
}

// AttemptThreshold returns the waiting period before the given follow-up
// attempt (0-based) may fire, or false when the attempt is out of range.
func (c *FollowUpConfig) AttemptThreshold(attempt int) (time.Duration, bool) {
	switch attempt {
	case 0:
		return c.FirstAfter, true
	case 1:
		return c.SecondAfter, true
	case 2:
		return c.ThirdAfter, true
	default:
		return 0, false
	}
}

// Load reads configuration from config.yaml with environment variable
// overrides. When config.yaml is absent, configuration comes from the
// environment alone. The version parameter is injected at build time.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment config: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.AI.EmbeddingDimension <= 0 {
		return fmt.Errorf("ai.embedding_dimension must be positive")
	}
	if c.Knowledge.ChunkOverlap >= c.Knowledge.ChunkSize {
		return fmt.Errorf("knowledge.chunk_overlap must be smaller than knowledge.chunk_size")
	}
	if c.Conversation.ReplyDelayMax < c.Conversation.ReplyDelayMin {
		return fmt.Errorf("conversation.reply_delay_max must be >= reply_delay_min")
	}
	return nil
}
