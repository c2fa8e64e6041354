package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

type Config struct {
	Env      string `mapstructure:"KONG_ENV"`
	HTTPAddr string `mapstructure:"KONG_HTTP_ADDR"`

	Log        LogConfig        `mapstructure:",squash"`
	Store      StoreConfig      `mapstructure:",squash"`
	Settlement SettlementConfig `mapstructure:",squash"`
	Ledger     LedgerConfig     `mapstructure:",squash"`
	Archive    ArchiveConfig    `mapstructure:",squash"`
	Claims     ClaimsConfig     `mapstructure:",squash"`
	Security   SecurityConfig   `mapstructure:",squash"`
}

type LogConfig struct {
	File       string `mapstructure:"KONG_LOG_FILE"`
	MaxSizeMB  int    `mapstructure:"KONG_LOG_MAX_SIZE_MB"`
	MaxBackups int    `mapstructure:"KONG_LOG_MAX_BACKUPS"`
	MaxAgeDays int    `mapstructure:"KONG_LOG_MAX_AGE_DAYS"`
}

type StoreConfig struct {
	KVBackend string `mapstructure:"KONG_KV_BACKEND"` // "memory", "redis"
	RedisURL  string `mapstructure:"KONG_REDIS_URL"`
	SeedFile  string `mapstructure:"KONG_SEED_FILE"`
}

type SettlementConfig struct {
	// BridgeTokens are the intermediate tokens for multi-hop routes, primary first.
	BridgeTokens          []string `mapstructure:"KONG_BRIDGE_TOKENS"`
	DefaultMaxSlippageBps uint32   `mapstructure:"KONG_DEFAULT_MAX_SLIPPAGE_BPS"`
	MaintenanceMode       bool     `mapstructure:"KONG_MAINTENANCE_MODE"`
	AsyncWorkers          int      `mapstructure:"KONG_ASYNC_WORKERS"`
}

type LedgerConfig struct {
	Backend string  `mapstructure:"KONG_LEDGER_BACKEND"` // "memory", "rpc"
	RPCURL  string  `mapstructure:"KONG_LEDGER_RPC_URL"`
	RPCRPS  float64 `mapstructure:"KONG_LEDGER_RPC_RPS"`
	// Exchange is the account the simulated ledger treats as the exchange.
	Exchange string `mapstructure:"KONG_EXCHANGE_PRINCIPAL"`
}

type ArchiveConfig struct {
	Enabled     bool   `mapstructure:"KONG_ARCHIVE_ENABLED"`
	NATSURL     string `mapstructure:"KONG_NATS_URL"`
	NATSSubject string `mapstructure:"KONG_NATS_SUBJECT"`
	NATSStream  string `mapstructure:"KONG_NATS_STREAM"`
	PostgresDSN string `mapstructure:"KONG_POSTGRES_DSN"`
	KVMirror    bool   `mapstructure:"KONG_ARCHIVE_KV_MIRROR"`
}

type ClaimsConfig struct {
	Interval    time.Duration `mapstructure:"KONG_CLAIMS_INTERVAL"`
	MaxAttempts int           `mapstructure:"KONG_CLAIMS_MAX_ATTEMPTS"`
}

type SecurityConfig struct {
	JWTSecret          string   `mapstructure:"KONG_JWT_SECRET"`
	AdminPrincipals    []string `mapstructure:"KONG_ADMIN_PRINCIPALS"`
	RateLimitRPM       int      `mapstructure:"KONG_RATE_LIMIT_RPM"`
	CORSAllowedOrigins []string `mapstructure:"KONG_CORS_ALLOWED_ORIGINS"`
}

var listKeys = []string{
	"KONG_BRIDGE_TOKENS",
	"KONG_ADMIN_PRINCIPALS",
	"KONG_CORS_ALLOWED_ORIGINS",
}

func loadDotEnvFiles() {
	candidates := []string{
		".env",
		filepath.Join("..", ".env"),
	}

	seen := make(map[string]struct{})
	for _, path := range candidates {
		abs := path
		if resolved, err := filepath.Abs(path); err == nil {
			abs = resolved
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}

		if _, err := os.Stat(path); err == nil {
			_ = gotenv.Load(path) // env vars already set take precedence
		}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("KONG_ENV", "dev")
	v.SetDefault("KONG_HTTP_ADDR", ":8080")
	v.SetDefault("KONG_LOG_FILE", "")
	v.SetDefault("KONG_LOG_MAX_SIZE_MB", 100)
	v.SetDefault("KONG_LOG_MAX_BACKUPS", 5)
	v.SetDefault("KONG_LOG_MAX_AGE_DAYS", 28)
	v.SetDefault("KONG_KV_BACKEND", "memory")
	v.SetDefault("KONG_REDIS_URL", "redis://127.0.0.1:6379/0")
	v.SetDefault("KONG_SEED_FILE", "")
	v.SetDefault("KONG_BRIDGE_TOKENS", "ckUSDT,ICP")
	v.SetDefault("KONG_DEFAULT_MAX_SLIPPAGE_BPS", 200)
	v.SetDefault("KONG_MAINTENANCE_MODE", false)
	v.SetDefault("KONG_ASYNC_WORKERS", 4)
	v.SetDefault("KONG_LEDGER_BACKEND", "memory")
	v.SetDefault("KONG_LEDGER_RPC_URL", "")
	v.SetDefault("KONG_LEDGER_RPC_RPS", 20)
	v.SetDefault("KONG_EXCHANGE_PRINCIPAL", "kong-exchange")
	v.SetDefault("KONG_ARCHIVE_ENABLED", false)
	v.SetDefault("KONG_NATS_URL", "")
	v.SetDefault("KONG_NATS_SUBJECT", "kong.archive")
	v.SetDefault("KONG_NATS_STREAM", "")
	v.SetDefault("KONG_POSTGRES_DSN", "")
	v.SetDefault("KONG_ARCHIVE_KV_MIRROR", true)
	v.SetDefault("KONG_CLAIMS_INTERVAL", "1m")
	v.SetDefault("KONG_CLAIMS_MAX_ATTEMPTS", 10)
	v.SetDefault("KONG_JWT_SECRET", "")
	v.SetDefault("KONG_ADMIN_PRINCIPALS", "")
	v.SetDefault("KONG_RATE_LIMIT_RPM", 120)
	v.SetDefault("KONG_CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
}

func Load() (*Config, error) {
	loadDotEnvFiles()
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	v.SetConfigType("env")
	v.AutomaticEnv()
	setDefaults(v)

	// comma-separated lists
	for _, key := range listKeys {
		v.Set(key, splitList(v.GetString(key)))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func splitList(s string) []string {
	out := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (c *Config) validate() error {
	switch c.Store.KVBackend {
	case "memory":
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("KONG_REDIS_URL is required when KONG_KV_BACKEND=redis")
		}
	default:
		return fmt.Errorf("invalid KONG_KV_BACKEND %q (must be memory or redis)", c.Store.KVBackend)
	}

	if n := len(c.Settlement.BridgeTokens); n != 2 {
		return fmt.Errorf("KONG_BRIDGE_TOKENS must name exactly two tokens, got %d", n)
	}
	if c.Settlement.BridgeTokens[0] == c.Settlement.BridgeTokens[1] {
		return fmt.Errorf("KONG_BRIDGE_TOKENS must name two different tokens")
	}
	if c.Settlement.DefaultMaxSlippageBps > 10_000 {
		return fmt.Errorf("KONG_DEFAULT_MAX_SLIPPAGE_BPS must be at most 10000")
	}

	switch c.Ledger.Backend {
	case "memory":
		if c.IsProd() {
			return fmt.Errorf("KONG_LEDGER_BACKEND=memory is not allowed in prod")
		}
	case "rpc":
		if c.Ledger.RPCURL == "" {
			return fmt.Errorf("KONG_LEDGER_RPC_URL is required when KONG_LEDGER_BACKEND=rpc")
		}
	default:
		return fmt.Errorf("invalid KONG_LEDGER_BACKEND %q (must be memory or rpc)", c.Ledger.Backend)
	}

	if c.Claims.MaxAttempts <= 0 {
		return fmt.Errorf("KONG_CLAIMS_MAX_ATTEMPTS must be positive")
	}
	if c.IsProd() && c.Security.JWTSecret == "" {
		return fmt.Errorf("KONG_JWT_SECRET is required in prod")
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.Env == "dev"
}

func (c *Config) IsProd() bool {
	return c.Env == "prod"
}
