package domain

import "time"

// Config holds the complete Heron configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`

	// Engine settings
	Risk  RiskConfig  `json:"risk"`
	Rules RulesConfig `json:"rules"`
	Auth  AuthConfig  `json:"auth"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	ReadTimeout    int      `json:"readTimeout"`  // seconds
	WriteTimeout   int      `json:"writeTimeout"` // seconds
	AllowedOrigins []string `json:"allowedOrigins"`
}

// RiskConfig tunes the transaction monitor.
type RiskConfig struct {
	// AlertThreshold is the final score at which a monitored transaction is flagged.
	AlertThreshold float64 `json:"alertThreshold"`

	// VelocityWindow is how far back transaction statistics look.
	VelocityWindow time.Duration `json:"velocityWindow"`

	// MonitorTransactions enables the bus-driven transaction monitor.
	MonitorTransactions bool `json:"monitorTransactions"`

	// LargeAmount is the transaction amount that scores 100 on the amount factor.
	LargeAmount float64 `json:"largeAmount"`

	// VelocityLimit is the window transaction count that scores 100 on the velocity factor.
	VelocityLimit int `json:"velocityLimit"`

	// HighRiskCountries are ISO country codes that score 100 on the jurisdiction factor.
	HighRiskCountries []string `json:"highRiskCountries"`
}

// RulesConfig controls where the rule catalog is seeded from.
type RulesConfig struct {
	// SeedFile is a YAML rule catalog loaded into the store at startup.
	SeedFile string `json:"seedFile"`
}

// AuthConfig controls how actors are identified.
type AuthConfig struct {
	// JWTSecret enables HS256 bearer tokens. When empty, actors are read
	// from the X-Actor-ID and X-Actor-Role headers.
	JWTSecret string `json:"-"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    30,
			WriteTimeout:   30,
			AllowedOrigins: []string{"*"},
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./heron.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
			ViewTTL:      time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
			MonitorGroup:      DefaultMonitorGroup,
		},
		Risk: RiskConfig{
			AlertThreshold:      75,
			VelocityWindow:      24 * time.Hour,
			MonitorTransactions: true,
			LargeAmount:         10000,
			VelocityLimit:       10,
			HighRiskCountries:   []string{"IR", "KP", "MM"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "heron",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "heron",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       30 * time.Second,
		ViewTTL:        5 * time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		MonitorGroup:      DefaultMonitorGroup,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
