package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix 是环境变量覆盖配置时使用的前缀，例如 WORKSHOP_CACHE_LISTENPORT。
const EnvPrefix = "WORKSHOP_CACHE"

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyUpstreamDefaults(&cfg.Upstream)
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "workshop-cache"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absStorage, err := filepath.Abs(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("无法解析缓存目录: %w", err)
	}
	cfg.Global.StoragePath = absStorage

	if cfg.Global.DatabasePath == "" {
		cfg.Global.DatabasePath = filepath.Join(absStorage, "workshop.db")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 7070)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("DatabasePath", "")
	v.SetDefault("Source", "steam")
	v.SetDefault("Workers", 4)
	v.SetDefault("MaxConcurrentUpstream", 1)
	v.SetDefault("MinUpstreamSpacing", "2s")
	v.SetDefault("MaxRetries", 3)
	v.SetDefault("InitialBackoff", "5s")
	v.SetDefault("UpstreamTimeout", "30s")
	v.SetDefault("InvalidationInterval", "1h")
	v.SetDefault("StatusPollInterval", "5s")
	v.SetDefault("StatsFlushInterval", "10s")
	v.SetDefault("MaxHourRange", "168h")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 7070
	}
	if strings.TrimSpace(g.Source) == "" {
		g.Source = "steam"
	}
	g.Source = strings.ToLower(strings.TrimSpace(g.Source))
	if g.Workers == 0 {
		g.Workers = 4
	}
	if g.MaxConcurrentUpstream == 0 {
		g.MaxConcurrentUpstream = 1
	}
	if g.InitialBackoff.DurationValue() == 0 {
		g.InitialBackoff = Duration(5 * time.Second)
	}
	if g.UpstreamTimeout.DurationValue() == 0 {
		g.UpstreamTimeout = Duration(30 * time.Second)
	}
	if g.InvalidationInterval.DurationValue() == 0 {
		g.InvalidationInterval = Duration(time.Hour)
	}
	if g.StatusPollInterval.DurationValue() == 0 {
		g.StatusPollInterval = Duration(5 * time.Second)
	}
	if g.StatsFlushInterval.DurationValue() == 0 {
		g.StatsFlushInterval = Duration(10 * time.Second)
	}
	if g.MaxHourRange.DurationValue() == 0 {
		g.MaxHourRange = Duration(7 * 24 * time.Hour)
	}
}

func applyUpstreamDefaults(u *UpstreamConfig) {
	if u.SteamAPI == "" {
		u.SteamAPI = "https://api.steampowered.com"
	}
	if u.SteamStore == "" {
		u.SteamStore = "https://store.steampowered.com"
	}
	if u.SteamCommunity == "" {
		u.SteamCommunity = "https://steamcommunity.com"
	}
	if u.MaxPayloadSize == 0 {
		u.MaxPayloadSize = 1 << 30
	}
	if u.UserAgent == "" {
		u.UserAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
