package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the triage service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Dialogue  DialogueConfig  `mapstructure:"dialogue"`
	Triage    TriageConfig    `mapstructure:"triage"`
	Sessions  SessionsConfig  `mapstructure:"sessions"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug             bool          `mapstructure:"debug"`
	LogLevel          string        `mapstructure:"log_level"`
	DefaultTimeout    time.Duration `mapstructure:"default_timeout"`
	CanonicalLanguage string        `mapstructure:"canonical_language"`
}

func (g GeneralConfig) Normalize() GeneralConfig {
	if g.DefaultTimeout <= 0 {
		g.DefaultTimeout = 60 * time.Second
	}
	g.CanonicalLanguage = strings.TrimSpace(g.CanonicalLanguage)
	if g.CanonicalLanguage == "" {
		g.CanonicalLanguage = "English"
	}
	if strings.TrimSpace(g.LogLevel) == "" {
		g.LogLevel = "info"
	}
	return g
}

// ServerConfig contains HTTP server and auth settings
type ServerConfig struct {
	Address     string   `mapstructure:"address"`
	JWTSecret   string   `mapstructure:"jwt_secret"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

func (s ServerConfig) Normalize() ServerConfig {
	if strings.TrimSpace(s.Address) == "" {
		s.Address = ":8080"
	}
	if len(s.CORSOrigins) == 0 {
		s.CORSOrigins = []string{"*"}
	}
	return s
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single OpenAI-compatible endpoint.
type LLMProvider struct {
	Type       string              `mapstructure:"type"` // openai, groq
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Models     map[string]LLMModel `mapstructure:"models"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Timeout    time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name        string  `mapstructure:"name"`
	APIName     string  `mapstructure:"api_name"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// LLMRoutingConfig names the model used per pipeline task, as
// "<provider>/<model>" or a bare model key of the only provider.
type LLMRoutingConfig struct {
	Classification string `mapstructure:"classification"` // emergency rules check
	Extraction     string `mapstructure:"extraction"`     // fact delta
	Analysis       string `mapstructure:"analysis"`       // gap checklist
	Generation     string `mapstructure:"generation"`     // grounded answer
	Translation    string `mapstructure:"translation"`
	Summary        string `mapstructure:"summary"`
	Embedding      string `mapstructure:"embedding"`
	Fallback       string `mapstructure:"fallback"`
}

// Validate reports configuration that can never serve a turn. A missing API
// key is a startup error, not a per-turn fallback.
func (l LLMConfig) Validate() error {
	if len(l.Providers) == 0 {
		return fmt.Errorf("llm.providers requires at least one provider")
	}
	for name, p := range l.Providers {
		if strings.TrimSpace(p.APIKey) == "" {
			return fmt.Errorf("llm.providers.%s.api_key is required", name)
		}
		if len(p.Models) == 0 {
			return fmt.Errorf("llm.providers.%s.models is empty", name)
		}
	}
	if strings.TrimSpace(l.Routing.Generation) == "" && strings.TrimSpace(l.Routing.Fallback) == "" {
		return fmt.Errorf("llm.routing.generation or llm.routing.fallback is required")
	}
	return nil
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	ServiceName  string `mapstructure:"service_name"`
}

func (t TelemetryConfig) Normalize() TelemetryConfig {
	if strings.TrimSpace(t.ServiceName) == "" {
		t.ServiceName = "medtriage"
	}
	return t
}

func (t TelemetryConfig) Validate() error {
	if t.Enabled && t.MetricsPort <= 0 {
		return fmt.Errorf("telemetry.metrics_port must be > 0 when telemetry is enabled")
	}
	return nil
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Addr returns host:port.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Host) != ""
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DSN returns the connection string, preferring an explicit URL.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	sslMode := p.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, p.Port, p.DBName, sslMode)
}

func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.URL) != "" || strings.TrimSpace(p.Host) != ""
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// RetrievalConfig controls the passage index and the two-hop retriever.
type RetrievalConfig struct {
	Backend             string  `mapstructure:"backend"` // memory | postgres
	ReferenceCollection string  `mapstructure:"reference_collection"`
	GoldenCollection    string  `mapstructure:"golden_collection"`
	DiagnosticTopK      int     `mapstructure:"diagnostic_top_k"`
	GuidelineTopK       int     `mapstructure:"guideline_top_k"`
	GoldenThreshold     float64 `mapstructure:"golden_threshold"`
	EmbeddingDimensions int     `mapstructure:"embedding_dimensions"`
	SeedFile            string  `mapstructure:"seed_file"`
}

func (r RetrievalConfig) Normalize() RetrievalConfig {
	r.Backend = strings.ToLower(strings.TrimSpace(r.Backend))
	if r.Backend == "" {
		r.Backend = "memory"
	}
	if r.ReferenceCollection == "" {
		r.ReferenceCollection = "medical_reference"
	}
	if r.GoldenCollection == "" {
		r.GoldenCollection = "golden_rules"
	}
	if r.DiagnosticTopK <= 0 {
		r.DiagnosticTopK = 2
	}
	if r.GuidelineTopK <= 0 {
		r.GuidelineTopK = 3
	}
	if r.GoldenThreshold <= 0 {
		r.GoldenThreshold = 0.4
	}
	if r.EmbeddingDimensions <= 0 {
		r.EmbeddingDimensions = 1536
	}
	return r
}

func (r RetrievalConfig) Validate() error {
	switch r.Backend {
	case "memory", "postgres":
	default:
		return fmt.Errorf("retrieval.backend must be memory or postgres, got %q", r.Backend)
	}
	if r.GoldenThreshold > 2 {
		return fmt.Errorf("retrieval.golden_threshold must be a cosine distance in [0,2]")
	}
	return nil
}

// DialogueConfig controls the per-turn orchestrator.
type DialogueConfig struct {
	HistoryWindow  int           `mapstructure:"history_window"`
	NudgeTurn      int           `mapstructure:"nudge_turn"`
	CallTimeout    time.Duration `mapstructure:"call_timeout"`
	HopTimeout     time.Duration `mapstructure:"hop_timeout"`
	TurnQueueLimit int           `mapstructure:"turn_queue_limit"`
}

func (d DialogueConfig) Normalize() DialogueConfig {
	if d.HistoryWindow <= 0 {
		d.HistoryWindow = 6
	}
	if d.NudgeTurn <= 0 {
		d.NudgeTurn = 6
	}
	if d.CallTimeout <= 0 {
		d.CallTimeout = 30 * time.Second
	}
	if d.HopTimeout <= 0 {
		d.HopTimeout = 10 * time.Second
	}
	return d
}

// TriageConfig controls the emergency interceptor and its alert stream.
type TriageConfig struct {
	RulesFile      string `mapstructure:"rules_file"`
	AlertStream    string `mapstructure:"alert_stream"`
	AlertMaxLen    int64  `mapstructure:"alert_max_len"`
	PublishAlerts  bool   `mapstructure:"publish_alerts"`
	CorrelationTop int    `mapstructure:"correlation_top"`
}

func (t TriageConfig) Normalize() TriageConfig {
	if strings.TrimSpace(t.AlertStream) == "" {
		t.AlertStream = "triage.alerts"
	}
	if t.AlertMaxLen <= 0 {
		t.AlertMaxLen = 10000
	}
	if t.CorrelationTop <= 0 {
		t.CorrelationTop = 3
	}
	return t
}

// Validate requires the rules table; the interceptor cannot run without it.
func (t TriageConfig) Validate() error {
	if strings.TrimSpace(t.RulesFile) == "" {
		return fmt.Errorf("triage.rules_file is required")
	}
	return nil
}

// SessionsConfig controls where patient state lives.
type SessionsConfig struct {
	Backend    string        `mapstructure:"backend"` // memory | redis
	TTL        time.Duration `mapstructure:"ttl"`
	PruneCron  string        `mapstructure:"prune_cron"`
	KeyPrefix  string        `mapstructure:"key_prefix"`
	MaxRetries int           `mapstructure:"max_retries"`
}

func (s SessionsConfig) Normalize() SessionsConfig {
	s.Backend = strings.ToLower(strings.TrimSpace(s.Backend))
	if s.Backend == "" {
		s.Backend = "memory"
	}
	if s.TTL <= 0 {
		s.TTL = 24 * time.Hour
	}
	if strings.TrimSpace(s.PruneCron) == "" {
		s.PruneCron = "*/15 * * * *"
	}
	if s.KeyPrefix == "" {
		s.KeyPrefix = "medtriage:session:"
	}
	if s.MaxRetries <= 0 {
		s.MaxRetries = 5
	}
	return s
}

func (s SessionsConfig) Validate() error {
	switch s.Backend {
	case "memory", "redis":
		return nil
	default:
		return fmt.Errorf("sessions.backend must be memory or redis, got %q", s.Backend)
	}
}

// Load reads and validates the configuration.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("json")
	v.SetDefault("retrieval.golden_threshold", 0.4)
	v.SetDefault("dialogue.nudge_turn", 6)
	v.SetDefault("triage.alert_stream", "triage.alerts")
	v.SetDefault("sessions.backend", "memory")

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)                                // bin/
		v.AddConfigPath(filepath.Join(exeDir, ".."))           // repo root
		v.AddConfigPath(filepath.Join(exeDir, "..", "config")) // repo root/config
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("MEDTRIAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // MEDTRIAGE_*

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfig loads config from file and panics on any error.
func LoadConfig(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	return cfg
}

func (c *Config) normalize() {
	c.General = c.General.Normalize()
	c.Server = c.Server.Normalize()
	c.Telemetry = c.Telemetry.Normalize()
	c.Retrieval = c.Retrieval.Normalize()
	c.Dialogue = c.Dialogue.Normalize()
	c.Triage = c.Triage.Normalize()
	c.Sessions = c.Sessions.Normalize()
}

// Validate checks every section that the selected backends depend on.
func (c *Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if err := c.Telemetry.Validate(); err != nil {
		return err
	}
	if err := c.Retrieval.Validate(); err != nil {
		return err
	}
	if err := c.Triage.Validate(); err != nil {
		return err
	}
	if err := c.Sessions.Validate(); err != nil {
		return err
	}
	if c.Sessions.Backend == "redis" || c.Triage.PublishAlerts {
		if err := c.Storage.Redis.Validate(); err != nil {
			return err
		}
	}
	if c.Retrieval.Backend == "postgres" {
		if err := c.Storage.Postgres.Validate(); err != nil {
			return err
		}
	}
	return nil
}
