package config

import "strings"

func normalizeDatabaseConfig(cfg DatabaseRuntimeConfig) DatabaseRuntimeConfig {
	cfg.DSN = strings.TrimSpace(cfg.DSN)
	cfg.Host = orDefault(cfg.Host, defaultDBHost)
	cfg.User = orDefault(cfg.User, defaultDBUser)
	cfg.Password = strings.TrimSpace(cfg.Password)
	cfg.Name = orDefault(cfg.Name, defaultDBName)
	cfg.Charset = orDefault(cfg.Charset, defaultDBCharset)
	cfg.Loc = orDefault(cfg.Loc, defaultDBLoc)
	if cfg.Port == 0 {
		cfg.Port = defaultDBPort
	}
	cfg.Params = copyStringMap(cfg.Params)
	return cfg
}

func normalizeRedisConfig(cfg RedisRuntimeConfig) RedisRuntimeConfig {
	cfg.URL = normalizeRedisRawURL(cfg.URL)
	cfg.Host = orDefault(cfg.Host, defaultRedisHost)
	cfg.Username = strings.TrimSpace(cfg.Username)
	cfg.Password = strings.TrimSpace(cfg.Password)
	if cfg.Port == 0 {
		cfg.Port = defaultRedisPort
	}
	if cfg.DB < 0 {
		cfg.DB = defaultRedisDB
	}
	return cfg
}

func normalizePortalAPIConfig(cfg PortalAPIConfig) PortalAPIConfig {
	cfg.BaseURL = strings.TrimRight(orDefault(cfg.BaseURL, defaultPortalAPIBaseURL), "/")
	cfg.PublicBaseURL = strings.TrimRight(orDefault(cfg.PublicBaseURL, cfg.BaseURL), "/")
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = defaultPortalAPITimeout
	}
	return cfg
}

func normalizeEnv(env string) string {
	return strings.ToLower(orDefault(env, defaultEnv))
}

func orDefault(v, fallback string) string {
	if trimmed := strings.TrimSpace(v); trimmed != "" {
		return trimmed
	}
	return fallback
}

func copyStringMap(input map[string]string) map[string]string {
	if input == nil {
		return nil
	}
	out := make(map[string]string, len(input))
	for key, value := range input {
		k := strings.TrimSpace(key)
		v := strings.TrimSpace(value)
		if k != "" && v != "" {
			out[k] = v
		}
	}
	return out
}

// normalizeList trims, drops empties and dedupes while keeping order.
func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	return out
}

// normalizePlaceholders keeps fragments verbatim apart from surrounding
// whitespace; an explicitly empty list disables stripping.
func normalizePlaceholders(fragments []string) []string {
	out := make([]string, 0, len(fragments))
	for _, fragment := range fragments {
		if trimmed := strings.TrimSpace(fragment); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
