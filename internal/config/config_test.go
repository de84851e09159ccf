package config

import (
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := testConfigPath(t, "valid.toml")
	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}

	if cfg.Global.InitialBackoff.DurationValue() != 5*time.Second {
		t.Fatalf("纯数字秒值应解析为 5s，得到 %s", cfg.Global.InitialBackoff.DurationValue())
	}
	if cfg.Global.InvalidationInterval.DurationValue() == 0 {
		t.Fatalf("InvalidationInterval 应该自动填充默认值")
	}
	if cfg.Global.DatabasePath == "" {
		t.Fatalf("DatabasePath 应默认落在 StoragePath 下")
	}
	if cfg.Global.Source != "steam" {
		t.Fatalf("Source 默认应为 steam，得到 %s", cfg.Global.Source)
	}
	if cfg.Telemetry.TracingEnabled() {
		t.Fatalf("未配置 Endpoint 时不应启用追踪")
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cfgPath := testConfigPath(t, "missing.toml")
	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("不合法的配置应返回错误")
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestValidatePolitenessPolicy(t *testing.T) {
	testCases := []struct {
		name      string
		mutate    func(*Config)
		shouldErr bool
	}{
		{"defaults ok", func(*Config) {}, false},
		{"cap equals workers", func(c *Config) { c.Global.MaxConcurrentUpstream = c.Global.Workers }, false},
		{"cap above workers", func(c *Config) { c.Global.MaxConcurrentUpstream = c.Global.Workers + 1 }, true},
		{"zero cap", func(c *Config) { c.Global.MaxConcurrentUpstream = 0 }, true},
		{"negative spacing", func(c *Config) { c.Global.MinUpstreamSpacing = Duration(-time.Second) }, true},
		{"zero spacing", func(c *Config) { c.Global.MinUpstreamSpacing = 0 }, false},
		{"negative retries", func(c *Config) { c.Global.MaxRetries = -1 }, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.shouldErr && err == nil {
				t.Fatalf("expected error")
			}
			if !tc.shouldErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestValidateRejectsNonHTTPUpstream(t *testing.T) {
	cfg := validConfig()
	cfg.Upstream.SteamCommunity = "ftp://steamcommunity.com"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("非 http/https 上游应报错")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
LogLevel = "info"
StoragePath = "./data"
MinUpstreamSpacing = "boom"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadAppliesEnvOverride(t *testing.T) {
	t.Setenv("WORKSHOP_CACHE_WORKERS", "8")
	path := writeTempConfig(t, `
StoragePath = "./data"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.Workers != 8 {
		t.Fatalf("环境变量应覆盖 Workers，得到 %d", cfg.Global.Workers)
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:            7070,
			StoragePath:           "./data",
			Source:                "steam",
			Workers:               4,
			MaxConcurrentUpstream: 1,
			MinUpstreamSpacing:    Duration(time.Second),
			MaxRetries:            3,
			InitialBackoff:        Duration(time.Second),
			UpstreamTimeout:       Duration(time.Second),
			InvalidationInterval:  Duration(time.Hour),
			StatusPollInterval:    Duration(5 * time.Second),
			StatsFlushInterval:    Duration(10 * time.Second),
			MaxHourRange:          Duration(168 * time.Hour),
		},
		Upstream: UpstreamConfig{
			SteamAPI:       "https://api.steampowered.com",
			SteamStore:     "https://store.steampowered.com",
			SteamCommunity: "https://steamcommunity.com",
		},
	}
}
