package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// defaultCORSOrigins are always allowed in addition to CORS_ORIGINS.
var defaultCORSOrigins = []string{
	"http://localhost:3000",
	"https://web-diabetes-production.up.railway.app",
}

type Config struct {
	AppName                  string   `mapstructure:"APP_NAME"`
	Port                     string   `mapstructure:"PORT"`
	Env                      string   `mapstructure:"ENV"`
	DatabaseURL              string   `mapstructure:"DATABASE_URL"`
	DBMaxConns               int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns               int32    `mapstructure:"DB_MIN_CONNS"`
	SecretKey                string   `mapstructure:"SECRET_KEY"`
	AccessTokenExpireMinutes int      `mapstructure:"ACCESS_TOKEN_EXPIRE_MINUTES"`
	AdminUsername            string   `mapstructure:"ADMIN_USERNAME"`
	AdminPassword            string   `mapstructure:"ADMIN_PASSWORD"`
	AdminPasswordHash        string   `mapstructure:"ADMIN_PASSWORD_HASH"`
	CORSOrigins              []string `mapstructure:"-"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("APP_NAME", "WEB DIABETES API")
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("ACCESS_TOKEN_EXPIRE_MINUTES", 60)

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"APP_NAME", "PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"SECRET_KEY", "ACCESS_TOKEN_EXPIRE_MINUTES",
		"ADMIN_USERNAME", "ADMIN_PASSWORD", "ADMIN_PASSWORD_HASH", "CORS_ORIGINS",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CORSOrigins = mergeOrigins(v.GetString("CORS_ORIGINS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.SecretKey == "" {
		return nil, fmt.Errorf("SECRET_KEY is required")
	}

	return cfg, nil
}

// mergeOrigins combines the built-in origins with a comma separated list,
// dropping blanks and duplicates. The result is sorted.
func mergeOrigins(extra string) []string {
	set := make(map[string]struct{}, len(defaultCORSOrigins))
	for _, o := range defaultCORSOrigins {
		set[o] = struct{}{}
	}
	for _, o := range strings.Split(extra, ",") {
		if o = strings.TrimSpace(o); o != "" {
			set[o] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for o := range set {
		out = append(out, o)
	}
	sort.Strings(out)
	return out
}

func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Env, "development")
}

// TokenTTL is the lifetime of issued access tokens.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.AccessTokenExpireMinutes) * time.Minute
}

// Validate checks settings that Load cannot reject on its own.
func (c *Config) Validate() error {
	if c.AccessTokenExpireMinutes <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_EXPIRE_MINUTES must be positive, got %d", c.AccessTokenExpireMinutes)
	}
	if c.SecretKey == "" {
		return fmt.Errorf("SECRET_KEY is required")
	}
	if c.AdminPassword != "" && c.AdminPasswordHash != "" {
		return fmt.Errorf("set only one of ADMIN_PASSWORD or ADMIN_PASSWORD_HASH")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}
