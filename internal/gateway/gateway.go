package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/telemetry-agent/internal/telemetry"
)

const (
	registerPath = "/api/agent/register"
	metricsPath  = "/api/metrics"
)

// ErrUnexpectedStatus 采集端返回非 2xx
var ErrUnexpectedStatus = errors.New("gateway: unexpected status")

// Client 入库接口客户端（注册 + 周期快照），失败不重试
type Client struct {
	http *resty.Client
}

// HTTPBaseURL wss -> https，其余 -> http，保留 host:port，丢弃路径
func HTTPBaseURL(streamURL string) (string, error) {
	u, err := url.Parse(streamURL)
	if err != nil {
		return "", fmt.Errorf("parse stream url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("stream url %q has no host", streamURL)
	}
	scheme := "http"
	if strings.EqualFold(u.Scheme, "wss") {
		scheme = "https"
	}
	return scheme + "://" + u.Host, nil
}

func New(baseURL string, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &Client{http: c}
}

func (c *Client) BaseURL() string { return c.http.BaseURL }

// RegisterAgent POST /api/agent/register
func (c *Client) RegisterAgent(ctx context.Context, reg telemetry.AgentRegistration) error {
	return c.post(ctx, registerPath, reg)
}

// PostMetrics POST /api/metrics
func (c *Client) PostMetrics(ctx context.Context, snap telemetry.MetricsSnapshot) error {
	return c.post(ctx, metricsPath, snap)
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	resp, err := c.http.R().SetContext(ctx).SetBody(body).Post(path)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	if resp.IsError() || resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return fmt.Errorf("post %s: %w: %d %s", path, ErrUnexpectedStatus, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return nil
}
