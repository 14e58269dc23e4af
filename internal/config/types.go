package config

import "time"

// AppConfig holds runtime startup configuration loaded from YAML.
type AppConfig struct {
	Port           int                   `yaml:"port"`
	DSN            string                `yaml:"-"` // derived from Database
	RedisURL       string                `yaml:"-"` // derived from Redis
	Database       DatabaseRuntimeConfig `yaml:"database"`
	Redis          RedisRuntimeConfig    `yaml:"redis"`
	Env            string                `yaml:"env"` // "development" | "production"
	Paths          RuntimePathsConfig    `yaml:"paths"`
	AllowedOrigins []string              `yaml:"allowed_origins"`
	JWTSecret      string                `yaml:"jwt_secret"`
	EditorRoles    []string              `yaml:"editor_roles"`
	Timezone       string                `yaml:"timezone"`
	PortalAPI      PortalAPIConfig       `yaml:"portal_api"`
	Uploads        UploadsConfig         `yaml:"uploads"`
	Editor         EditorConfig          `yaml:"editor"`
	Sessions       SessionsConfig        `yaml:"sessions"`
}

type DatabaseRuntimeConfig struct {
	Enable    bool              `yaml:"enable"`
	DSN       string            `yaml:"dsn"`
	Host      string            `yaml:"host"`
	Port      int               `yaml:"port"`
	User      string            `yaml:"user"`
	Password  string            `yaml:"password"`
	Name      string            `yaml:"name"`
	Charset   string            `yaml:"charset"`
	ParseTime bool              `yaml:"parse_time"`
	Loc       string            `yaml:"loc"`
	Params    map[string]string `yaml:"params"`
}

// RedisRuntimeConfig backs form-session leases, the idempotence guard and
// upload rate limiting. URL wins over the discrete fields.
type RedisRuntimeConfig struct {
	Enable   bool   `yaml:"enable"`
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TLS      bool   `yaml:"tls"`
}

type RuntimePathsConfig struct {
	Logs string `yaml:"logs"`
}

// PortalAPIConfig points at the remote portal API that stores assets and entities.
type PortalAPIConfig struct {
	BaseURL        string `yaml:"base_url"`
	PublicBaseURL  string `yaml:"public_base_url"` // host prefix used to re-absolutize stored relative URLs
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type UploadsConfig struct {
	DeleteConcurrency  int `yaml:"delete_concurrency"`
	RateLimitPerSecond int `yaml:"rate_limit_per_second"` // per user, 0 disables
}

type EditorConfig struct {
	Placeholders  []string `yaml:"placeholders"`
	SettleDelayMS int      `yaml:"settle_delay_ms"`
}

type SessionsConfig struct {
	IdleTTLSeconds          int `yaml:"idle_ttl_seconds"`
	SweepIntervalSeconds    int `yaml:"sweep_interval_seconds"`
	StaleUploadAfterMinutes int `yaml:"stale_upload_after_minutes"`
	StaleSweepEveryMinutes  int `yaml:"stale_sweep_every_minutes"`
}

type rawAppConfig struct {
	Port           int                `yaml:"port"`
	Database       rawDatabaseConfig  `yaml:"database"`
	Redis          rawRedisConfig     `yaml:"redis"`
	Env            string             `yaml:"env"`
	Paths          rawPathsConfig     `yaml:"paths"`
	AllowedOrigins []string           `yaml:"allowed_origins"`
	JWTSecret      string             `yaml:"jwt_secret"`
	EditorRoles    []string           `yaml:"editor_roles"`
	Timezone       string             `yaml:"timezone"`
	PortalAPI      rawPortalAPIConfig `yaml:"portal_api"`
	Uploads        UploadsConfig      `yaml:"uploads"`
	Editor         rawEditorConfig    `yaml:"editor"`
	Sessions       SessionsConfig     `yaml:"sessions"`
}

type rawDatabaseConfig struct {
	Enable    *bool             `yaml:"enable"`
	DSN       string            `yaml:"dsn"`
	Host      string            `yaml:"host"`
	Port      int               `yaml:"port"`
	User      string            `yaml:"user"`
	Password  string            `yaml:"password"`
	Name      string            `yaml:"name"`
	Charset   string            `yaml:"charset"`
	ParseTime *bool             `yaml:"parse_time"`
	Loc       string            `yaml:"loc"`
	Params    map[string]string `yaml:"params"`
}

type rawRedisConfig struct {
	Enable   *bool  `yaml:"enable"`
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       *int   `yaml:"db"`
	TLS      *bool  `yaml:"tls"`
}

type rawPathsConfig struct {
	Logs string `yaml:"logs"`
}

type rawPortalAPIConfig struct {
	BaseURL        string `yaml:"base_url"`
	PublicBaseURL  string `yaml:"public_base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type rawEditorConfig struct {
	Placeholders  []string `yaml:"placeholders"`
	SettleDelayMS *int     `yaml:"settle_delay_ms"`
}

// Timeout returns the HTTP timeout for portal API calls.
func (c PortalAPIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SettleDelay returns how long the editor waits before stripping placeholders.
func (c EditorConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMS) * time.Millisecond
}

func (c SessionsConfig) IdleTTL() time.Duration {
	return time.Duration(c.IdleTTLSeconds) * time.Second
}

func (c SessionsConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c SessionsConfig) StaleUploadAfter() time.Duration {
	return time.Duration(c.StaleUploadAfterMinutes) * time.Minute
}

func (c SessionsConfig) StaleSweepInterval() time.Duration {
	return time.Duration(c.StaleSweepEveryMinutes) * time.Minute
}
