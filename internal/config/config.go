package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration. Values come from an optional
// yaml file and are overridden by environment variables.
type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Duel struct {
		CountdownStart  int           `yaml:"countdown_start"`
		CountdownTick   time.Duration `yaml:"countdown_tick"`
		ActiveWindow    time.Duration `yaml:"active_window"`
		FinishRetention time.Duration `yaml:"finish_retention"`
	} `yaml:"duel"`

	Settlement struct {
		BaseURL      string `yaml:"base_url"`
		WalletID     string `yaml:"wallet_id"`
		APIKey       string `yaml:"api_key"`
		HouseWallet  string `yaml:"house_wallet"`
		StakeCeiling uint64 `yaml:"stake_ceiling"`
	} `yaml:"settlement"`

	Postgres struct {
		Enabled bool   `yaml:"enabled"`
		DSN     string `yaml:"dsn"`
	} `yaml:"postgres"`

	NATS struct {
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url"`
	} `yaml:"nats"`
}

// Load reads the yaml file at path (missing file is fine, defaults apply)
// and layers environment overrides on top.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg.Server.Addr = getEnv("SERVER_ADDR", cfg.Server.Addr)
	cfg.Duel.CountdownStart = getEnvAsInt("DUEL_COUNTDOWN_START", cfg.Duel.CountdownStart)
	cfg.Duel.CountdownTick = getEnvAsDuration("DUEL_COUNTDOWN_TICK", cfg.Duel.CountdownTick)
	cfg.Duel.ActiveWindow = getEnvAsDuration("DUEL_ACTIVE_WINDOW", cfg.Duel.ActiveWindow)
	cfg.Duel.FinishRetention = getEnvAsDuration("DUEL_FINISH_RETENTION", cfg.Duel.FinishRetention)
	cfg.Settlement.BaseURL = getEnv("SETTLEMENT_BASE_URL", cfg.Settlement.BaseURL)
	cfg.Settlement.WalletID = getEnv("SETTLEMENT_WALLET_ID", cfg.Settlement.WalletID)
	cfg.Settlement.APIKey = getEnv("SETTLEMENT_API_KEY", cfg.Settlement.APIKey)
	cfg.Settlement.HouseWallet = getEnv("SETTLEMENT_HOUSE_WALLET", cfg.Settlement.HouseWallet)
	cfg.Settlement.StakeCeiling = getEnvAsUint64("SETTLEMENT_STAKE_CEILING", cfg.Settlement.StakeCeiling)
	cfg.Postgres.DSN = getEnv("POSTGRES_DSN", cfg.Postgres.DSN)
	if os.Getenv("POSTGRES_DSN") != "" {
		cfg.Postgres.Enabled = true
	}
	cfg.NATS.URL = getEnv("NATS_URL", cfg.NATS.URL)
	if os.Getenv("NATS_URL") != "" {
		cfg.NATS.Enabled = true
	}

	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.Server.Addr = ":8080"
	cfg.Duel.CountdownStart = 3
	cfg.Duel.CountdownTick = time.Second
	cfg.Duel.ActiveWindow = 5 * time.Second
	cfg.Duel.FinishRetention = 30 * time.Second
	// 1000 base units expressed in the network's smallest unit.
	cfg.Settlement.StakeCeiling = 1000 * 1_000_000_000
	cfg.NATS.URL = "nats://127.0.0.1:4222"
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if u, err := strconv.ParseUint(value, 10, 64); err == nil {
			return u
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
