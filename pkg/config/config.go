package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the execution core.
type Config struct {
	Port string

	// Binance
	BinanceTestnet   bool
	BinanceAPIKey    string
	BinanceAPISecret string
	Symbols          []string

	// Shared gateway throttle
	GatewayCallsPerSec float64
	GatewayBurst       int
	GatewayWeightLimit int

	// Symbol rules
	RulesRefreshInterval time.Duration

	// Journal database
	DBPath string

	// Strategy presets loaded at boot
	StrategyPresetPath string

	// Auth
	JWTSecret string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	return &Config{
		Port:                 getEnv("PORT", "8080"),
		BinanceTestnet:       getEnv("BINANCE_TESTNET", "true") == "true",
		BinanceAPIKey:        os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret:     os.Getenv("BINANCE_API_SECRET"),
		Symbols:              splitAndTrim(getEnv("BINANCE_SYMBOLS", "BTCUSDT,ETHUSDT")),
		GatewayCallsPerSec:   getEnvFloat("GATEWAY_CALLS_PER_SEC", 8),
		GatewayBurst:         getEnvInt("GATEWAY_BURST", 16),
		GatewayWeightLimit:   getEnvInt("GATEWAY_WEIGHT_LIMIT", 2400),
		RulesRefreshInterval: getEnvDuration("RULES_REFRESH_INTERVAL", time.Hour),
		DBPath:               getEnv("DB_PATH", "./data/execution.db"),
		StrategyPresetPath:   getEnv("STRATEGY_PRESET_PATH", "strategies.yaml"),
		JWTSecret:            getEnv("JWT_SECRET", "dev-secret"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndTrim(val string) []string {
	parts := strings.Split(val, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
