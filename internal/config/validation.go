package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.Source == "" {
		return newFieldError("Global.Source", "不能为空")
	}
	if g.Workers <= 0 {
		return newFieldError("Global.Workers", "必须大于 0")
	}
	if g.MaxConcurrentUpstream <= 0 {
		return newFieldError("Global.MaxConcurrentUpstream", "必须大于 0")
	}
	if g.MaxConcurrentUpstream > g.Workers {
		return newFieldError("Global.MaxConcurrentUpstream", "不能超过 Workers")
	}
	if g.MinUpstreamSpacing.DurationValue() < 0 {
		return newFieldError("Global.MinUpstreamSpacing", "不能为负数")
	}
	if g.MaxRetries < 0 {
		return newFieldError("Global.MaxRetries", "不能为负数")
	}
	if g.InitialBackoff.DurationValue() <= 0 {
		return newFieldError("Global.InitialBackoff", "必须大于 0")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.InvalidationInterval.DurationValue() <= 0 {
		return newFieldError("Global.InvalidationInterval", "必须大于 0")
	}
	if g.StatusPollInterval.DurationValue() <= 0 {
		return newFieldError("Global.StatusPollInterval", "必须大于 0")
	}
	if g.StatsFlushInterval.DurationValue() <= 0 {
		return newFieldError("Global.StatsFlushInterval", "必须大于 0")
	}
	if g.MaxHourRange.DurationValue() <= 0 {
		return newFieldError("Global.MaxHourRange", "必须大于 0")
	}

	u := c.Upstream
	if err := validateUpstream(u.SteamAPI); err != nil {
		return fmt.Errorf("Upstream.SteamAPI: %w", err)
	}
	if err := validateUpstream(u.SteamStore); err != nil {
		return fmt.Errorf("Upstream.SteamStore: %w", err)
	}
	if err := validateUpstream(u.SteamCommunity); err != nil {
		return fmt.Errorf("Upstream.SteamCommunity: %w", err)
	}
	if u.MaxPayloadSize < 0 {
		return newFieldError("Upstream.MaxPayloadSize", "不能为负数")
	}
	if u.Proxy != "" {
		if err := validateUpstream(u.Proxy); err != nil {
			return fmt.Errorf("Upstream.Proxy: %w", err)
		}
	}

	if endpoint := strings.TrimSpace(c.Telemetry.Endpoint); endpoint != "" {
		if err := validateUpstream(endpoint); err != nil {
			return fmt.Errorf("Telemetry.Endpoint: %w", err)
		}
	}

	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
