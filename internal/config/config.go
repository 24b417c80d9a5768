package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// AppConfig is the process configuration, loaded once at startup.
type AppConfig struct {
	DatabaseURL string // empty = in-memory store (development only)
	RedisURL    string

	ServemeBaseURL string
	RGLBaseURL     string
	RGLSiteURL     string

	// PreferredServerPrefixes orders reservation candidates; servers whose
	// hostname starts with one of these win.
	PreferredServerPrefixes []string

	ResultCacheTTL    time.Duration
	ProfileCacheTTL   time.Duration
	ConfigMaxAttempts int
	SweepInterval     time.Duration
	// ScrimExpiryGrace is how long an unmatched scrim may outlive its
	// timestamp before the sweep removes it.
	ScrimExpiryGrace time.Duration

	MapCatalogPath string // empty = embedded catalog
	// MessageOverrideDir holds per-deployment YAML overrides for the
	// user-facing message templates; empty = embedded defaults only.
	MessageOverrideDir string
}

// Load reads configuration from the environment, applying defaults and
// validating required settings.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ServemeBaseURL:          "https://na.serveme.tf",
		RGLBaseURL:              "https://api.rgl.gg",
		RGLSiteURL:              "https://rgl.gg",
		PreferredServerPrefixes: []string{"chi", "ks"},
		ResultCacheTTL:          10 * time.Minute,
		ProfileCacheTTL:         24 * time.Hour,
		ConfigMaxAttempts:       5,
		SweepInterval:           time.Minute,
		ScrimExpiryGrace:        time.Hour,
	}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))

	if v := strings.TrimSpace(os.Getenv("SERVEME_BASE_URL")); v != "" {
		cfg.ServemeBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("RGL_BASE_URL")); v != "" {
		cfg.RGLBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("RGL_SITE_URL")); v != "" {
		cfg.RGLSiteURL = v
	}
	if v := strings.TrimSpace(os.Getenv("PREFERRED_SERVER_PREFIXES")); v != "" {
		cfg.PreferredServerPrefixes = nil
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				cfg.PreferredServerPrefixes = append(cfg.PreferredServerPrefixes, s)
			}
		}
	}

	if d, ok := envDuration("RESULT_CACHE_TTL"); ok {
		cfg.ResultCacheTTL = d
	}
	if d, ok := envDuration("PROFILE_CACHE_TTL"); ok {
		cfg.ProfileCacheTTL = d
	}
	if v := strings.TrimSpace(os.Getenv("CONFIG_MAX_ATTEMPTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ConfigMaxAttempts = n
		}
	}
	if d, ok := envDuration("SWEEP_INTERVAL"); ok {
		cfg.SweepInterval = d
	}
	if d, ok := envDuration("SCRIM_EXPIRY_GRACE"); ok {
		cfg.ScrimExpiryGrace = d
	}
	cfg.MapCatalogPath = strings.TrimSpace(os.Getenv("MAP_CATALOG_PATH"))
	cfg.MessageOverrideDir = strings.TrimSpace(os.Getenv("MESSAGE_OVERRIDE_DIR"))

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}

	return cfg, nil
}

func envDuration(key string) (time.Duration, bool) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
