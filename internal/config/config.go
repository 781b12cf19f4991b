package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "CACAMITES"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultDatabaseDriver     = "sqlite"
	defaultDatabaseDSN        = "cacamites.db"
	defaultRedisAddress       = "127.0.0.1:6379"
	defaultLeaderboardPrefix  = "cacamites:leaderboard"
	defaultAdminIssuer        = "cacamites-admin"
	defaultReconcileInterval  = 15 * time.Minute
	defaultReconcileWindow    = 10 * time.Minute
	defaultRealtimeBufferSize = 16
	defaultLogLevel           = "info"
	defaultLogFormat          = "json"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress             string
	AllowedOrigins          []string
	DatabaseDriver          string
	DatabaseDSN             string
	RedisAddress            string
	RedisPassword           string
	RedisDB                 int
	LeaderboardKeyPrefix    string
	SubmissionSigningSecret string
	AdminSigningSecret      string
	AdminIssuer             string
	ReconcileInterval       time.Duration
	ReconcileWindow         time.Duration
	RealtimeBufferSize      int
	LogLevel                string
	LogFormat               string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{"*"})
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.dsn", defaultDatabaseDSN)
	configViper.SetDefault("redis.address", defaultRedisAddress)
	configViper.SetDefault("redis.password", "")
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("leaderboard.key_prefix", defaultLeaderboardPrefix)
	configViper.SetDefault("admin.signing_secret", "")
	configViper.SetDefault("admin.issuer", defaultAdminIssuer)
	configViper.SetDefault("reconcile.interval", defaultReconcileInterval)
	configViper.SetDefault("reconcile.window", defaultReconcileWindow)
	configViper.SetDefault("realtime.buffer_size", defaultRealtimeBufferSize)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
}

// Load parses runtime configuration for the API server from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := fromViper(configViper)
	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	if strings.TrimSpace(cfg.SubmissionSigningSecret) == "" {
		return AppConfig{}, fmt.Errorf("submission.signing_secret is required")
	}
	return cfg, nil
}

// LoadMaintenance parses configuration for the offline commands, which never
// verify submissions and so do not need the submission secret.
func LoadMaintenance(configViper *viper.Viper) (AppConfig, error) {
	cfg := fromViper(configViper)
	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func fromViper(configViper *viper.Viper) AppConfig {
	return AppConfig{
		HTTPAddress:             configViper.GetString("http.address"),
		AllowedOrigins:          configViper.GetStringSlice("http.allowed_origins"),
		DatabaseDriver:          strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:             configViper.GetString("database.dsn"),
		RedisAddress:            configViper.GetString("redis.address"),
		RedisPassword:           configViper.GetString("redis.password"),
		RedisDB:                 configViper.GetInt("redis.db"),
		LeaderboardKeyPrefix:    configViper.GetString("leaderboard.key_prefix"),
		SubmissionSigningSecret: configViper.GetString("submission.signing_secret"),
		AdminSigningSecret:      configViper.GetString("admin.signing_secret"),
		AdminIssuer:             configViper.GetString("admin.issuer"),
		ReconcileInterval:       configViper.GetDuration("reconcile.interval"),
		ReconcileWindow:         configViper.GetDuration("reconcile.window"),
		RealtimeBufferSize:      configViper.GetInt("realtime.buffer_size"),
		LogLevel:                configViper.GetString("log.level"),
		LogFormat:               configViper.GetString("log.format"),
	}
}

// AdminEnabled reports whether admin endpoints and tokens are configured.
func (c AppConfig) AdminEnabled() bool {
	return strings.TrimSpace(c.AdminSigningSecret) != ""
}

func (c AppConfig) validate() error {
	if c.DatabaseDriver != "sqlite" && c.DatabaseDriver != "postgres" {
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.DatabaseDriver)
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if strings.TrimSpace(c.RedisAddress) == "" {
		return fmt.Errorf("redis.address is required")
	}
	if c.AdminEnabled() && strings.TrimSpace(c.AdminIssuer) == "" {
		return fmt.Errorf("admin.issuer is required when admin.signing_secret is set")
	}
	if c.ReconcileInterval < 0 {
		return fmt.Errorf("reconcile.interval must not be negative")
	}
	if c.ReconcileWindow <= 0 {
		return fmt.Errorf("reconcile.window must be positive")
	}
	if c.RealtimeBufferSize <= 0 {
		return fmt.Errorf("realtime.buffer_size must be positive")
	}
	return nil
}
