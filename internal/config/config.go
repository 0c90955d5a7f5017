package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"praxis/internal/bookable"
	"praxis/internal/preload"
	"praxis/internal/search"
	"praxis/internal/slotsource"
)

type Config struct {
	Server struct {
		Port int `yaml:"port"`
		// PaintSupported is false for clients that cannot report first paint.
		PaintSupported *bool `yaml:"paint_supported"`
	} `yaml:"server"`

	SlotSource struct {
		BaseURL           string  `yaml:"base_url"`
		APIKey            string  `yaml:"api_key"`
		TimeoutSeconds    int     `yaml:"timeout_seconds"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"slot_source"`

	Redis struct {
		Address         string `yaml:"address"`
		Password        string `yaml:"password"`
		DB              int    `yaml:"db"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	} `yaml:"redis"`

	BusinessHours struct {
		Timezone    string `yaml:"timezone"`
		StartHour   int    `yaml:"start_hour"`
		EndHour     int    `yaml:"end_hour"`
		BufferHours int    `yaml:"buffer_hours"`
	} `yaml:"business_hours"`

	Cache struct {
		TTLSeconds int `yaml:"ttl_seconds"`
	} `yaml:"cache"`

	Preload struct {
		DurationMinutes     int  `yaml:"duration_minutes"`
		PhaseOneWeeks       int  `yaml:"phase_one_weeks"`
		HorizonWeeks        int  `yaml:"horizon_weeks"`
		PhaseOneDelayMillis int  `yaml:"phase_one_delay_ms"`
		PhaseTwoDelayMillis int  `yaml:"phase_two_delay_ms"`
		PaintTimeoutMillis  int  `yaml:"paint_timeout_ms"`
		IdleTimeoutMillis   int  `yaml:"idle_timeout_ms"`
		IdleFallbackMillis  int  `yaml:"idle_fallback_ms"`
		StartOnBoot         bool `yaml:"start_on_boot"`
	} `yaml:"preload"`

	Search struct {
		CapWeeks              int `yaml:"cap_weeks"`
		RefreshSeconds        int `yaml:"refresh_seconds"`
		CachedDurationMinutes int `yaml:"cached_duration_minutes"`
	} `yaml:"search"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// The preloader fills the same week cache the search engine reads.
	if p, s := cfg.Preload.DurationMinutes, cfg.Search.CachedDurationMinutes; p > 0 && s > 0 && p != s {
		return nil, fmt.Errorf("preload.duration_minutes (%d) must match search.cached_duration_minutes (%d)", p, s)
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Monitoring.HealthCheckPort == 0 {
		cfg.Monitoring.HealthCheckPort = 8090
	}
	if cfg.Monitoring.PrometheusPort == 0 {
		cfg.Monitoring.PrometheusPort = 9090
	}

	return &cfg, nil
}

func (c *Config) PaintSupported() bool {
	return c.Server.PaintSupported == nil || *c.Server.PaintSupported
}

// BusinessRules fills unset fields from bookable.DefaultRules.
func (c *Config) BusinessRules() bookable.Rules {
	rules := bookable.DefaultRules()
	bh := c.BusinessHours
	if bh.Timezone != "" {
		rules.Timezone = bh.Timezone
	}
	if bh.StartHour > 0 || bh.EndHour > 0 {
		rules.StartHour = bh.StartHour
		rules.EndHour = bh.EndHour
	}
	if bh.BufferHours > 0 {
		rules.Buffer = time.Duration(bh.BufferHours) * time.Hour
	}
	return rules
}

func (c *Config) CacheTTL() time.Duration {
	if c.Cache.TTLSeconds <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}

func (c *Config) RedisCacheTTL() time.Duration {
	if c.Redis.CacheTTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.Redis.CacheTTLSeconds) * time.Second
}

func (c *Config) SlotSourceConfig() slotsource.ClientConfig {
	timeout := 10 * time.Second
	if c.SlotSource.TimeoutSeconds > 0 {
		timeout = time.Duration(c.SlotSource.TimeoutSeconds) * time.Second
	}
	return slotsource.ClientConfig{
		BaseURL:           c.SlotSource.BaseURL,
		APIKey:            c.SlotSource.APIKey,
		Timeout:           timeout,
		RequestsPerSecond: c.SlotSource.RequestsPerSecond,
		Burst:             c.SlotSource.Burst,
	}
}

// PreloadConfig overrides preload.DefaultConfig with whatever is set. The
// session length always equals SearchConfig().CachedDurationMinutes.
func (c *Config) PreloadConfig() preload.Config {
	cfg := preload.DefaultConfig()
	p := c.Preload
	cfg.DurationMinutes = c.SearchConfig().CachedDurationMinutes
	if p.PhaseOneWeeks > 0 {
		cfg.PhaseOneWeeks = p.PhaseOneWeeks
	}
	if p.HorizonWeeks > 0 {
		cfg.HorizonWeeks = p.HorizonWeeks
	}
	setMillis(&cfg.PhaseOneDelay, p.PhaseOneDelayMillis)
	setMillis(&cfg.PhaseTwoDelay, p.PhaseTwoDelayMillis)
	setMillis(&cfg.PaintTimeout, p.PaintTimeoutMillis)
	setMillis(&cfg.IdleTimeout, p.IdleTimeoutMillis)
	setMillis(&cfg.IdleFallback, p.IdleFallbackMillis)
	return cfg
}

func (c *Config) SearchConfig() search.Config {
	cfg := search.DefaultConfig()
	if c.Search.CapWeeks > 0 {
		cfg.CapWeeks = c.Search.CapWeeks
	}
	if c.Search.RefreshSeconds > 0 {
		cfg.RefreshInterval = time.Duration(c.Search.RefreshSeconds) * time.Second
	}
	if c.Search.CachedDurationMinutes > 0 {
		cfg.CachedDurationMinutes = c.Search.CachedDurationMinutes
	} else if c.Preload.DurationMinutes > 0 {
		cfg.CachedDurationMinutes = c.Preload.DurationMinutes
	}
	return cfg
}

func setMillis(dst *time.Duration, ms int) {
	if ms > 0 {
		*dst = time.Duration(ms) * time.Millisecond
	}
}
