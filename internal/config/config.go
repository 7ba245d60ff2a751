package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env      string
	Log      LogConfig
	Server   ServerConfig
	Redis    RedisConfig
	Terminal TerminalConfig
}

type LogConfig struct {
	Level string
}

type ServerConfig struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	CatalogTTLSeconds     int
	SeedDemoData          bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// TerminalConfig is read by the terminal agent. BackendToken is the bearer
// token it presents to the server.
type TerminalConfig struct {
	Port                 string
	BackendURL           string
	BackendToken         string
	TenantID             string
	BranchID             string
	WarehouseID          string
	CashierID            string
	DataPath             string
	CallTimeoutSeconds   int
	ProbeIntervalSeconds int
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("read .env: %w", err)
		}
	}

	cfg := Config{
		Env: v.GetString("APP_ENV"),
		Log: LogConfig{
			Level: v.GetString("LOG_LEVEL"),
		},
		Server: ServerConfig{
			Port:                  v.GetString("PORT"),
			AllowedOrigin:         v.GetString("ALLOWED_ORIGIN"),
			DatabaseURL:           v.GetString("DATABASE_URL"),
			AuthSecret:            strings.TrimSpace(v.GetString("AUTH_SECRET")),
			AccessTokenTTLMinutes: positive(v.GetInt("ACCESS_TOKEN_TTL_MINUTES"), 480),
			ManagerPIN:            strings.TrimSpace(v.GetString("MANAGER_PIN")),
			CatalogTTLSeconds:     positive(v.GetInt("CATALOG_TTL_SECONDS"), 20),
			SeedDemoData:          v.GetBool("SEED_DEMO_DATA"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Terminal: TerminalConfig{
			Port:                 v.GetString("TERMINAL_PORT"),
			BackendURL:           strings.TrimRight(v.GetString("TERMINAL_BACKEND_URL"), "/"),
			BackendToken:         strings.TrimSpace(v.GetString("TERMINAL_BACKEND_TOKEN")),
			TenantID:             v.GetString("TERMINAL_TENANT_ID"),
			BranchID:             v.GetString("TERMINAL_BRANCH_ID"),
			WarehouseID:          v.GetString("TERMINAL_WAREHOUSE_ID"),
			CashierID:            v.GetString("TERMINAL_CASHIER_ID"),
			DataPath:             v.GetString("TERMINAL_DATA_PATH"),
			CallTimeoutSeconds:   positive(v.GetInt("TERMINAL_CALL_TIMEOUT_SECONDS"), 10),
			ProbeIntervalSeconds: positive(v.GetInt("TERMINAL_PROBE_INTERVAL_SECONDS"), 5),
		},
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("AUTH_SECRET", "")
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("MANAGER_PIN", "")
	v.SetDefault("CATALOG_TTL_SECONDS", 20)
	v.SetDefault("SEED_DEMO_DATA", false)
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("TERMINAL_PORT", "8090")
	v.SetDefault("TERMINAL_BACKEND_URL", "http://127.0.0.1:8080")
	v.SetDefault("TERMINAL_BACKEND_TOKEN", "")
	v.SetDefault("TERMINAL_TENANT_ID", "default")
	v.SetDefault("TERMINAL_BRANCH_ID", "main-branch")
	v.SetDefault("TERMINAL_WAREHOUSE_ID", "WH-MAIN")
	v.SetDefault("TERMINAL_CASHIER_ID", "kasir-1")
	v.SetDefault("TERMINAL_DATA_PATH", "tokoledger-terminal.db")
	v.SetDefault("TERMINAL_CALL_TIMEOUT_SECONDS", 10)
	v.SetDefault("TERMINAL_PROBE_INTERVAL_SECONDS", 5)
}

func (c ServerConfig) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c ServerConfig) CatalogTTL() time.Duration {
	return time.Duration(c.CatalogTTLSeconds) * time.Second
}

func (c TerminalConfig) Address() string {
	return fmt.Sprintf("127.0.0.1:%s", c.Port)
}

func (c TerminalConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

func (c TerminalConfig) ProbeInterval() time.Duration {
	return time.Duration(c.ProbeIntervalSeconds) * time.Second
}

func positive(val int, fallback int) int {
	if val < 1 {
		return fallback
	}
	return val
}
