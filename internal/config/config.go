package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "INSIGHTPASS"

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"

	TracingProtocolHTTP = "http"
	TracingProtocolGRPC = "grpc"
)

type Config struct {
	AppName       string          `mapstructure:"app_name"`
	Environment   string          `mapstructure:"env"`
	SnowflakeNode int64           `mapstructure:"snowflake_node"`
	HTTP          HTTPConfig      `mapstructure:"http"`
	Database      DatabaseConfig  `mapstructure:"database"`
	Stripe        StripeConfig    `mapstructure:"stripe"`
	Server        ServerConfig    `mapstructure:"server"`
	RateLimit     RateLimitConfig `mapstructure:"ratelimit"`
	Redis         RedisConfig     `mapstructure:"redis"`
	Payments      PaymentsConfig  `mapstructure:"payments"`
	Scheduler     SchedulerConfig `mapstructure:"scheduler"`
	Tracing       TracingConfig   `mapstructure:"tracing"`
}

type HTTPConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	URL          string `mapstructure:"url"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	Metrics      bool   `mapstructure:"metrics"`
}

type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	// APIVersion is pinned on ephemeral keys; empty means the SDK's version.
	APIVersion string `mapstructure:"api_version"`
}

type ServerConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	Backend         string        `mapstructure:"backend"`
	Window          time.Duration `mapstructure:"window"`
	MaxRequests     int           `mapstructure:"max_requests"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type PaymentsConfig struct {
	Currencies []string `mapstructure:"currencies"`
	MinAmount  int64    `mapstructure:"min_amount"`
	MaxAmount  int64    `mapstructure:"max_amount"`
	// WebhookAssignChat lets webhook-created one-time entitlements carry the
	// chat id from the intent metadata. Off until the product decides.
	WebhookAssignChat bool `mapstructure:"webhook_assign_chat"`
}

// SchedulerConfig drives background jobs. A zero interval disables a job.
type SchedulerConfig struct {
	ExpiryInterval time.Duration `mapstructure:"expiry_interval"`
}

// TracingConfig selects the OTLP trace exporter. Disabled leaves the global
// no-op provider in place.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

func (c Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, EnvDevelopment)
}

// Source keeps the viper instance around so the config file can be watched.
type Source struct {
	v    *viper.Viper
	file string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_name", "insightpass")
	v.SetDefault("env", EnvProduction)
	v.SetDefault("snowflake_node", 1)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 10*time.Second)

	v.SetDefault("database.driver", DriverPostgres)
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.metrics", true)

	v.SetDefault("stripe.secret_key", "")
	v.SetDefault("stripe.webhook_secret", "")
	v.SetDefault("stripe.api_version", "")

	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("ratelimit.backend", RateLimitBackendMemory)
	v.SetDefault("ratelimit.window", 60*time.Second)
	v.SetDefault("ratelimit.max_requests", 5)
	v.SetDefault("ratelimit.cleanup_interval", 5*time.Minute)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("payments.currencies", []string{"usd", "eur", "gbp"})
	v.SetDefault("payments.min_amount", 50)
	v.SetDefault("payments.max_amount", 100000)
	v.SetDefault("payments.webhook_assign_chat", false)

	v.SetDefault("scheduler.expiry_interval", time.Minute)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.protocol", TracingProtocolHTTP)
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.sample_ratio", 1.0)
}

// Load reads .env (if present), the optional config file named by
// INSIGHTPASS_CONFIG_FILE and INSIGHTPASS_* environment variables.
func Load() (Config, *Source, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	file := strings.TrimSpace(os.Getenv(envPrefix + "_CONFIG_FILE"))
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, &Source{v: v, file: file}, nil
}

func decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.Payments.Currencies = normalizeCurrencies(cfg.Payments.Currencies)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	switch c.RateLimit.Backend {
	case RateLimitBackendMemory, RateLimitBackendRedis:
	default:
		return fmt.Errorf("unsupported rate limit backend %q", c.RateLimit.Backend)
	}
	if c.RateLimit.Window <= 0 || c.RateLimit.MaxRequests <= 0 {
		return errors.New("rate limit window and max_requests must be positive")
	}
	if c.Payments.MinAmount <= 0 || c.Payments.MaxAmount < c.Payments.MinAmount {
		return errors.New("payments amount bounds are invalid")
	}
	if c.Tracing.Enabled {
		switch c.Tracing.Protocol {
		case TracingProtocolHTTP, TracingProtocolGRPC:
		default:
			return fmt.Errorf("unsupported tracing protocol %q", c.Tracing.Protocol)
		}
		if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
			return errors.New("tracing.sample_ratio must be between 0 and 1")
		}
	}
	if c.Scheduler.ExpiryInterval < 0 {
		return errors.New("scheduler.expiry_interval must not be negative")
	}
	if len(c.Payments.Currencies) == 0 {
		return errors.New("payments.currencies must not be empty")
	}
	return nil
}

func normalizeCurrencies(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, raw := range in {
		for _, part := range strings.Split(raw, ",") {
			code := strings.ToLower(strings.TrimSpace(part))
			if code == "" {
				continue
			}
			if _, ok := seen[code]; ok {
				continue
			}
			seen[code] = struct{}{}
			out = append(out, code)
		}
	}
	return out
}
