package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML file at configPath and returns a normalized AppConfig.
func Load(configPath string) (*AppConfig, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		path = DefaultConfigPath
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}

	cfg, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("config file %q: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes raw YAML content. Unknown keys are rejected.
func Parse(content []byte) (*AppConfig, error) {
	cfg := defaultAppConfig()
	raw := rawAppConfig{}
	if len(bytes.TrimSpace(content)) > 0 {
		decoder := yaml.NewDecoder(bytes.NewReader(content))
		decoder.KnownFields(true)
		if err := decoder.Decode(&raw); err != nil {
			return nil, fmt.Errorf("parse: %w", err)
		}
	}

	applyRawAppConfig(&cfg, raw)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *AppConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("invalid port %d, expected 1-65535", cfg.Port)
	}
	if !strings.HasPrefix(cfg.PortalAPI.BaseURL, "http://") && !strings.HasPrefix(cfg.PortalAPI.BaseURL, "https://") {
		return fmt.Errorf("invalid portal_api.base_url %q, expected http(s) URL", cfg.PortalAPI.BaseURL)
	}
	if cfg.Sessions.IdleTTLSeconds < cfg.Sessions.SweepIntervalSeconds {
		return fmt.Errorf("sessions.idle_ttl_seconds (%d) must not be shorter than sessions.sweep_interval_seconds (%d)",
			cfg.Sessions.IdleTTLSeconds, cfg.Sessions.SweepIntervalSeconds)
	}
	if cfg.Database.Enable {
		if cfg.Database.Port < 1 || cfg.Database.Port > 65535 {
			return fmt.Errorf("invalid database.port %d, expected 1-65535", cfg.Database.Port)
		}
		if _, err := mysql.ParseDSN(cfg.DSN); err != nil {
			return fmt.Errorf("invalid database dsn: %w", err)
		}
	}
	if cfg.Redis.Enable {
		if cfg.Redis.Port < 1 || cfg.Redis.Port > 65535 {
			return fmt.Errorf("invalid redis.port %d, expected 1-65535", cfg.Redis.Port)
		}
		if _, err := redis.ParseURL(cfg.RedisURL); err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
	}
	return nil
}

func defaultAppConfig() AppConfig {
	cfg := AppConfig{
		Port:        defaultPort,
		Env:         defaultEnv,
		EditorRoles: append([]string(nil), DefaultEditorRoles...),
		Database: DatabaseRuntimeConfig{
			Port:      defaultDBPort,
			ParseTime: true,
		},
		Redis: RedisRuntimeConfig{
			Port: defaultRedisPort,
			DB:   defaultRedisDB,
		},
		Uploads: UploadsConfig{
			DeleteConcurrency:  defaultDeleteConcurrency,
			RateLimitPerSecond: defaultUploadRateLimit,
		},
		Editor: EditorConfig{
			Placeholders:  append([]string(nil), DefaultEditorPlaceholders...),
			SettleDelayMS: defaultSettleDelayMS,
		},
		Sessions: SessionsConfig{
			IdleTTLSeconds:          defaultSessionIdleTTL,
			SweepIntervalSeconds:    defaultSessionSweepEvery,
			StaleUploadAfterMinutes: defaultStaleUploadMinutes,
			StaleSweepEveryMinutes:  defaultStaleSweepMinutes,
		},
	}
	cfg.Database = normalizeDatabaseConfig(cfg.Database)
	cfg.Redis = normalizeRedisConfig(cfg.Redis)
	cfg.PortalAPI = normalizePortalAPIConfig(cfg.PortalAPI)
	cfg.DSN = cfg.Database.DSNValue()
	cfg.RedisURL = cfg.Redis.URLValue()
	return cfg
}

func applyRawAppConfig(cfg *AppConfig, raw rawAppConfig) {
	if raw.Port != 0 {
		cfg.Port = raw.Port
	}
	cfg.Database = applyRawDatabaseConfig(cfg.Database, raw.Database)
	cfg.Redis = applyRawRedisConfig(cfg.Redis, raw.Redis)
	if v := strings.TrimSpace(raw.Env); v != "" {
		cfg.Env = v
	}
	if v := strings.TrimSpace(raw.Paths.Logs); v != "" {
		cfg.Paths.Logs = v
	}
	if raw.AllowedOrigins != nil {
		cfg.AllowedOrigins = normalizeList(raw.AllowedOrigins)
	}
	if roles := normalizeList(raw.EditorRoles); len(roles) > 0 {
		cfg.EditorRoles = roles
	}
	if v := strings.TrimSpace(raw.JWTSecret); v != "" {
		cfg.JWTSecret = v
	}
	if v := strings.TrimSpace(raw.Timezone); v != "" {
		cfg.Timezone = v
	}

	api := cfg.PortalAPI
	if v := strings.TrimSpace(raw.PortalAPI.BaseURL); v != "" {
		api.BaseURL = v
		// the public base follows the API unless set explicitly
		api.PublicBaseURL = ""
	}
	if v := strings.TrimSpace(raw.PortalAPI.PublicBaseURL); v != "" {
		api.PublicBaseURL = v
	}
	if raw.PortalAPI.TimeoutSeconds > 0 {
		api.TimeoutSeconds = raw.PortalAPI.TimeoutSeconds
	}
	cfg.PortalAPI = normalizePortalAPIConfig(api)

	if raw.Uploads.DeleteConcurrency > 0 {
		cfg.Uploads.DeleteConcurrency = raw.Uploads.DeleteConcurrency
	}
	if raw.Uploads.RateLimitPerSecond > 0 {
		cfg.Uploads.RateLimitPerSecond = raw.Uploads.RateLimitPerSecond
	}
	if raw.Editor.Placeholders != nil {
		cfg.Editor.Placeholders = normalizePlaceholders(raw.Editor.Placeholders)
	}
	if raw.Editor.SettleDelayMS != nil && *raw.Editor.SettleDelayMS >= 0 {
		cfg.Editor.SettleDelayMS = *raw.Editor.SettleDelayMS
	}

	if raw.Sessions.IdleTTLSeconds > 0 {
		cfg.Sessions.IdleTTLSeconds = raw.Sessions.IdleTTLSeconds
	}
	if raw.Sessions.SweepIntervalSeconds > 0 {
		cfg.Sessions.SweepIntervalSeconds = raw.Sessions.SweepIntervalSeconds
	}
	if raw.Sessions.StaleUploadAfterMinutes > 0 {
		cfg.Sessions.StaleUploadAfterMinutes = raw.Sessions.StaleUploadAfterMinutes
	}
	if raw.Sessions.StaleSweepEveryMinutes > 0 {
		cfg.Sessions.StaleSweepEveryMinutes = raw.Sessions.StaleSweepEveryMinutes
	}

	cfg.DSN = cfg.Database.DSNValue()
	cfg.RedisURL = cfg.Redis.URLValue()
	cfg.Paths.Logs = strings.TrimSpace(cfg.Paths.Logs)
	cfg.Env = normalizeEnv(cfg.Env)
}

func applyRawDatabaseConfig(cfg DatabaseRuntimeConfig, db rawDatabaseConfig) DatabaseRuntimeConfig {
	if db.Enable != nil {
		cfg.Enable = *db.Enable
	}
	if v := strings.TrimSpace(db.DSN); v != "" {
		cfg.DSN = v
	}
	if v := strings.TrimSpace(db.Host); v != "" {
		cfg.Host = v
	}
	if db.Port != 0 {
		cfg.Port = db.Port
	}
	if v := strings.TrimSpace(db.User); v != "" {
		cfg.User = v
	}
	if v := strings.TrimSpace(db.Password); v != "" {
		cfg.Password = v
	}
	if v := strings.TrimSpace(db.Name); v != "" {
		cfg.Name = v
	}
	if v := strings.TrimSpace(db.Charset); v != "" {
		cfg.Charset = v
	}
	if db.ParseTime != nil {
		cfg.ParseTime = *db.ParseTime
	}
	if v := strings.TrimSpace(db.Loc); v != "" {
		cfg.Loc = v
	}
	if db.Params != nil {
		cfg.Params = db.Params
	}
	if db.Enable == nil && cfg.DSN != "" {
		cfg.Enable = true
	}
	return normalizeDatabaseConfig(cfg)
}

func applyRawRedisConfig(cfg RedisRuntimeConfig, rc rawRedisConfig) RedisRuntimeConfig {
	if rc.Enable != nil {
		cfg.Enable = *rc.Enable
	}
	if v := strings.TrimSpace(rc.URL); v != "" {
		cfg.URL = v
	}
	if v := strings.TrimSpace(rc.Host); v != "" {
		cfg.Host = v
	}
	if rc.Port != 0 {
		cfg.Port = rc.Port
	}
	if v := strings.TrimSpace(rc.Username); v != "" {
		cfg.Username = v
	}
	if v := strings.TrimSpace(rc.Password); v != "" {
		cfg.Password = v
	}
	if rc.DB != nil {
		cfg.DB = *rc.DB
	}
	if rc.TLS != nil {
		cfg.TLS = *rc.TLS
	}
	if rc.Enable == nil && strings.TrimSpace(cfg.URL) != "" {
		cfg.Enable = true
	}
	return normalizeRedisConfig(cfg)
}

// IsDev reports whether the service runs in development mode.
func (c *AppConfig) IsDev() bool {
	return c.Env == "development" || c.Env == "dev"
}

// LogDir returns the resolved log directory.
func (c *AppConfig) LogDir() string {
	return resolveRuntimePath(c.Paths.Logs, "logs")
}
