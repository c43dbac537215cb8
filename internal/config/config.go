package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Provider    ProviderConfig    `mapstructure:"provider"`
	Transcript  TranscriptConfig  `mapstructure:"transcript"`
	STT         STTConfig         `mapstructure:"stt"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Reconciler  ReconcilerConfig  `mapstructure:"reconciler"`
	Realtime    RealtimeConfig    `mapstructure:"realtime"`
	Security    SecurityConfig    `mapstructure:"security"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
}

type ServerConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	MiddlewareTimeout time.Duration `mapstructure:"middleware_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// Supported meeting store drivers
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
	DriverMongo    = "mongo"
	DriverNone     = "none"
)

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`

	// Path is the database file for the sqlite driver
	Path string `mapstructure:"path"`
	// URI overrides the generated connection string (mongo, mysql)
	URI            string `mapstructure:"uri"`
	MigrationsPath string `mapstructure:"migrations_path"`
}

func (c DatabaseConfig) DSN() string {
	switch c.Driver {
	case DriverMySQL:
		if c.URI != "" {
			return c.URI
		}
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&clientFoundRows=true", c.User, c.Password, c.Host, c.Port, c.Database)
	case DriverSQLite:
		return fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", c.Path)
	case DriverMongo:
		if c.URI != "" {
			return c.URI
		}
		if c.User != "" {
			return fmt.Sprintf("mongodb://%s:%s@%s:%d", c.User, c.Password, c.Host, c.Port)
		}
		return fmt.Sprintf("mongodb://%s:%d", c.Host, c.Port)
	default:
		return fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s?sslmode=%s",
			c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
		)
	}
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type AuthConfig struct {
	// JWTSecret enables bearer token authentication. When empty the caller's
	// user id is taken from the X-User-ID header.
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// ProviderConfig configures the meeting-bot provider
type ProviderConfig struct {
	Name                  string        `mapstructure:"name"`
	BaseURL               string        `mapstructure:"base_url"`
	APIKey                string        `mapstructure:"api_key"`
	StreamURL             string        `mapstructure:"stream_url"`
	TranscriptionProvider string        `mapstructure:"transcription_provider"`
	WaitingRoomTimeout    int           `mapstructure:"waiting_room_timeout"`
	NooneJoinedTimeout    int           `mapstructure:"noone_joined_timeout"`
	RequestTimeout        time.Duration `mapstructure:"request_timeout"`
}

// Transcript delivery modes
const (
	DeliveryAuto    = "auto"
	DeliveryWebhook = "webhook"
	DeliverySocket  = "socket"
)

type TranscriptConfig struct {
	Delivery          string        `mapstructure:"delivery"`
	PublicBaseURL     string        `mapstructure:"public_base_url"`
	WebhookSecret     string        `mapstructure:"webhook_secret"`
	DedupTTL          time.Duration `mapstructure:"dedup_ttl"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectBackoff  time.Duration `mapstructure:"reconnect_backoff"`
}

// WebhookURL returns the callback address the provider should post to
func (c TranscriptConfig) WebhookURL(provider string) string {
	if c.PublicBaseURL == "" {
		return ""
	}
	return strings.TrimRight(c.PublicBaseURL, "/") + "/webhooks/" + provider
}

// PublicBaseIsLoopback reports whether the public base URL points at this machine
func (c TranscriptConfig) PublicBaseIsLoopback() bool {
	u, err := url.Parse(c.PublicBaseURL)
	if err != nil || u.Hostname() == "" {
		return true
	}
	host := u.Hostname()
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && (ip.IsLoopback() || ip.IsUnspecified())
}

// STTConfig configures the live speech-to-text stream used for browser audio
type STTConfig struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

type LLMConfig struct {
	Gemini GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type PersistenceConfig struct {
	Workers      int           `mapstructure:"workers"`
	QueueSize    int           `mapstructure:"queue_size"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type ReconcilerConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

type RealtimeConfig struct {
	SendBuffer     int           `mapstructure:"send_buffer"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

type SecurityConfig struct {
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	Burst             int `mapstructure:"burst"`
}

type LoggingConfig struct {
	Level        string        `mapstructure:"level"`
	Format       string        `mapstructure:"format"`
	File         string        `mapstructure:"file"`
	RotationTime time.Duration `mapstructure:"rotation_time"`
	MaxAge       time.Duration `mapstructure:"max_age"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	// Set config file path
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./configs/config.yaml"
	}

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and env vars
	}

	// Override with environment variables
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints that defaults cannot express
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverMySQL, DriverSQLite, DriverMongo, DriverNone:
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	if c.Database.Driver == DriverSQLite && c.Database.Path == "" {
		return fmt.Errorf("database.path is required for the sqlite driver")
	}

	switch c.Transcript.Delivery {
	case DeliveryAuto, DeliverySocket:
	case DeliveryWebhook:
		if c.Transcript.PublicBaseURL == "" {
			return fmt.Errorf("transcript.public_base_url is required when transcript.delivery=webhook")
		}
	default:
		return fmt.Errorf("transcript.delivery %q is not supported", c.Transcript.Delivery)
	}

	if c.Provider.APIKey == "" {
		return fmt.Errorf("provider.api_key is required")
	}
	if c.Provider.BaseURL == "" {
		return fmt.Errorf("provider.base_url is required")
	}
	if c.Persistence.Workers <= 0 {
		return fmt.Errorf("persistence.workers must be positive, got %d", c.Persistence.Workers)
	}
	return nil
}

// UseWebhookDelivery resolves the configured delivery mode to a concrete one.
// Auto selects webhooks only when a non-loopback public base URL is set.
func (c *Config) UseWebhookDelivery() bool {
	switch c.Transcript.Delivery {
	case DeliveryWebhook:
		return true
	case DeliverySocket:
		return false
	default:
		return c.Transcript.PublicBaseURL != "" && !c.Transcript.PublicBaseIsLoopback()
	}
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.middleware_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "15s")

	// Database
	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "meeting")
	v.SetDefault("database.database", "meeting_assistant")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.migrations_path", "file://migrations")

	// Redis
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	// Auth
	v.SetDefault("auth.issuer", "meeting-assistant")

	// Provider
	v.SetDefault("provider.name", "recall")
	v.SetDefault("provider.base_url", "https://us-west-2.recall.ai/api/v1")
	v.SetDefault("provider.transcription_provider", "meeting_captions")
	v.SetDefault("provider.waiting_room_timeout", 600)
	v.SetDefault("provider.noone_joined_timeout", 600)
	v.SetDefault("provider.request_timeout", "30s")

	// Transcript delivery
	v.SetDefault("transcript.delivery", DeliveryAuto)
	v.SetDefault("transcript.dedup_ttl", "10m")
	v.SetDefault("transcript.reconnect_attempts", 3)
	v.SetDefault("transcript.reconnect_backoff", "1s")

	// LLM
	v.SetDefault("llm.gemini.model", "gemini-2.5-flash")

	// Persistence
	v.SetDefault("persistence.workers", 4)
	v.SetDefault("persistence.queue_size", 1024)
	v.SetDefault("persistence.write_timeout", "5s")

	// Reconciler
	v.SetDefault("reconciler.enabled", true)
	v.SetDefault("reconciler.schedule", "@every 30s")

	// Realtime
	v.SetDefault("realtime.send_buffer", 256)
	v.SetDefault("realtime.write_wait", "10s")
	v.SetDefault("realtime.pong_wait", "60s")
	v.SetDefault("realtime.max_message_size", 1<<20)
	v.SetDefault("realtime.allowed_origins", []string{"*"})

	// Security
	v.SetDefault("security.rate_limit.requests_per_minute", 10)
	v.SetDefault("security.rate_limit.burst", 5)

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.rotation_time", "24h")
	v.SetDefault("logging.max_age", "168h")

	// Metrics
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}

func bindEnvVars(v *viper.Viper) {
	// Database
	v.BindEnv("database.password", "POSTGRES_PASSWORD")
	v.BindEnv("database.uri", "DATABASE_URI")

	// Redis
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Auth
	v.BindEnv("auth.jwt_secret", "JWT_SECRET")

	// Provider
	v.BindEnv("provider.api_key", "RECALL_API_KEY")
	v.BindEnv("provider.base_url", "RECALL_BASE_URL")
	v.BindEnv("transcript.public_base_url", "PUBLIC_BASE_URL")
	v.BindEnv("transcript.webhook_secret", "WEBHOOK_SECRET")

	// STT and LLM keys
	v.BindEnv("stt.url", "STT_URL")
	v.BindEnv("stt.api_key", "STT_API_KEY")
	v.BindEnv("llm.gemini.api_key", "GEMINI_API_KEY")
}
