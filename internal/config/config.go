package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port                   string
	AllowedOrigin          string
	DatabaseURL            string
	AutoMigrate            bool
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	OutletID               string
	AuthSecret             string
	AccessTokenTTLMinutes  int
	ManagerPIN             string
	ApprovalThresholdCents int64
	StatsCacheTTLSeconds   int
	ShiftLockTTLSeconds    int
	ShiftLockWaitMillis    int
	LogLevel               string
	LogFormat              string
	LogOutput              string
}

// Load reads configuration from the environment. Variables are looked up at
// call time, so tests may use t.Setenv before calling Load.
func Load() Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("AUTO_MIGRATE", false)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("DEFAULT_OUTLET_ID", "main-outlet")
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("APPROVAL_THRESHOLD_CENTS", 10000)
	v.SetDefault("STATS_CACHE_TTL_SECONDS", 30)
	v.SetDefault("SHIFT_LOCK_TTL_SECONDS", 10)
	v.SetDefault("SHIFT_LOCK_WAIT_MS", 3000)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOG_OUTPUT", "stdout")

	cfg := Config{
		Port:                   nonEmpty(v.GetString("PORT"), "8080"),
		AllowedOrigin:          nonEmpty(v.GetString("ALLOWED_ORIGIN"), "http://127.0.0.1:3000"),
		DatabaseURL:            strings.TrimSpace(v.GetString("DATABASE_URL")),
		AutoMigrate:            v.GetBool("AUTO_MIGRATE"),
		RedisAddr:              strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:          v.GetString("REDIS_PASSWORD"),
		RedisDB:                v.GetInt("REDIS_DB"),
		OutletID:               nonEmpty(v.GetString("DEFAULT_OUTLET_ID"), "main-outlet"),
		AuthSecret:             strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes:  positive(v.GetInt("ACCESS_TOKEN_TTL_MINUTES"), 480),
		ManagerPIN:             strings.TrimSpace(v.GetString("MANAGER_PIN")),
		ApprovalThresholdCents: v.GetInt64("APPROVAL_THRESHOLD_CENTS"),
		StatsCacheTTLSeconds:   positive(v.GetInt("STATS_CACHE_TTL_SECONDS"), 30),
		ShiftLockTTLSeconds:    positive(v.GetInt("SHIFT_LOCK_TTL_SECONDS"), 10),
		ShiftLockWaitMillis:    positive(v.GetInt("SHIFT_LOCK_WAIT_MS"), 3000),
		LogLevel:               v.GetString("LOG_LEVEL"),
		LogFormat:              v.GetString("LOG_FORMAT"),
		LogOutput:              v.GetString("LOG_OUTPUT"),
	}
	if cfg.ApprovalThresholdCents < 0 {
		cfg.ApprovalThresholdCents = 10000
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func nonEmpty(val string, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}

func positive(val int, fallback int) int {
	if val < 1 {
		return fallback
	}
	return val
}
