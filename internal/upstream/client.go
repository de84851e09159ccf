package upstream

import (
	"net"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/open-workshop/workshop-cache/internal/config"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          32,
	MaxIdleConnsPerHost:   8,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewHTTPClient 返回共享 http.Client，用于所有上游请求。单次调用的超时由
// worker 通过 context 控制，这里的 Timeout 只是兜底。每次上游调用产生一个
// client span，使用全局 TracerProvider。
func NewHTTPClient(cfg *config.Config) *http.Client {
	return newHTTPClient(cfg, otel.GetTracerProvider())
}

func newHTTPClient(cfg *config.Config, tp trace.TracerProvider) *http.Client {
	timeout := 30 * time.Second
	if cfg != nil && cfg.Global.UpstreamTimeout.DurationValue() > 0 {
		timeout = cfg.Global.UpstreamTimeout.DurationValue()
	}

	return &http.Client{
		Timeout: timeout,
		Transport: otelhttp.NewTransport(newTransport(cfg),
			otelhttp.WithTracerProvider(tp),
			otelhttp.WithSpanNameFormatter(upstreamSpanName),
		),
	}
}

func newTransport(cfg *config.Config) *http.Transport {
	transport := defaultTransport.Clone()
	if cfg != nil && cfg.Upstream.Proxy != "" {
		if proxyURL, err := url.Parse(cfg.Upstream.Proxy); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	return transport
}

// upstreamSpanName 只用方法和主机命名，避免把条目 id 写进 span 名。
func upstreamSpanName(_ string, r *http.Request) string {
	return "upstream " + r.Method + " " + r.URL.Host
}

// OptionsFromConfig 把配置中的上游段落转换为来源构造参数。
func OptionsFromConfig(cfg *config.Config, client *http.Client) Options {
	return Options{
		Client:         client,
		APIBase:        cfg.Upstream.SteamAPI,
		StoreBase:      cfg.Upstream.SteamStore,
		CommunityBase:  cfg.Upstream.SteamCommunity,
		UserAgent:      cfg.Upstream.UserAgent,
		MaxPayloadSize: cfg.Upstream.MaxPayloadSize,
	}
}
