package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if seconds, err := time.ParseDuration(raw); err == nil {
		*d = Duration(seconds)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述全局运行时行为：监听端口、日志、存储以及抓取管线参数。
type GlobalConfig struct {
	ListenPort    int    `mapstructure:"ListenPort"`
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSize    int    `mapstructure:"LogMaxSize"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`

	StoragePath  string `mapstructure:"StoragePath"`
	DatabasePath string `mapstructure:"DatabasePath"`
	Source       string `mapstructure:"Source"`

	Workers               int      `mapstructure:"Workers"`
	MaxConcurrentUpstream int      `mapstructure:"MaxConcurrentUpstream"`
	MinUpstreamSpacing    Duration `mapstructure:"MinUpstreamSpacing"`
	MaxRetries            int      `mapstructure:"MaxRetries"`
	InitialBackoff        Duration `mapstructure:"InitialBackoff"`
	UpstreamTimeout       Duration `mapstructure:"UpstreamTimeout"`

	InvalidationInterval Duration `mapstructure:"InvalidationInterval"`
	StatusPollInterval   Duration `mapstructure:"StatusPollInterval"`
	StatsFlushInterval   Duration `mapstructure:"StatsFlushInterval"`
	MaxHourRange         Duration `mapstructure:"MaxHourRange"`
}

// UpstreamConfig 描述 Steam 上游的各个入口地址。
type UpstreamConfig struct {
	SteamAPI       string `mapstructure:"SteamAPI"`
	SteamStore     string `mapstructure:"SteamStore"`
	SteamCommunity string `mapstructure:"SteamCommunity"`
	UserAgent      string `mapstructure:"UserAgent"`
	Proxy          string `mapstructure:"Proxy"`
	MaxPayloadSize int64  `mapstructure:"MaxPayloadSize"`
}

// TelemetryConfig 控制 OTLP 链路追踪，Endpoint 为空时关闭。
type TelemetryConfig struct {
	Endpoint    string `mapstructure:"Endpoint"`
	ServiceName string `mapstructure:"ServiceName"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global    GlobalConfig    `mapstructure:",squash"`
	Upstream  UpstreamConfig  `mapstructure:"Upstream"`
	Telemetry TelemetryConfig `mapstructure:"Telemetry"`
}

// Politeness 汇总访问上游时的礼貌策略，供日志字段使用。
func (g GlobalConfig) Politeness() string {
	return fmt.Sprintf("concurrency=%d spacing=%s", g.MaxConcurrentUpstream, g.MinUpstreamSpacing.DurationValue())
}

// TracingEnabled 表示是否配置了链路追踪出口。
func (t TelemetryConfig) TracingEnabled() bool {
	return strings.TrimSpace(t.Endpoint) != ""
}
