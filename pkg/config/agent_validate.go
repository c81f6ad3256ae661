package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate HTTP服务配置校验
func (h *ServerConfig) Validate() error {
	if err := valid.Struct(h); err != nil {
		return err
	}
	// 	校验Addr格式(必须是 ":port" 或 "ip:port")
	if h.Addr == "" {
		return errors.New("[ERROR] server.addr cannot be empty")
	}
	// 	用net包解析地址，验证格式合法性
	if _, err := net.ResolveTCPAddr("tcp", h.Addr); err != nil {
		return fmt.Errorf("[ERROR] server.addr format invalid (expected: :port or ip:port), got %s: %w", h.Addr, err)
	}
	return nil
}

// Validate 会话与调度配置校验
// endpoint 允许为空（等待控制端点下发），非空时必须是 ws:// 或 wss://
// 心跳间隔不能比实时指标间隔更短，否则心跳失去“独立于指标量”的意义
func (a *AgentConfig) Validate() error {
	if err := valid.Struct(a); err != nil {
		return err
	}
	if ep := strings.TrimSpace(a.Endpoint); ep != "" {
		if err := ValidateEndpoint(ep); err != nil {
			return fmt.Errorf("agent.endpoint: %w", err)
		}
	}
	if a.HeartbeatInterval < a.MetricsInterval {
		return fmt.Errorf("agent.heartbeat_interval (%s) must not be shorter than agent.metrics_interval (%s)",
			a.HeartbeatInterval, a.MetricsInterval)
	}
	return nil
}

// ValidateEndpoint 校验流式连接地址：scheme 为 ws/wss 且 host 非空
func ValidateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("parse %q: %w", endpoint, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("scheme must be ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", endpoint)
	}
	return nil
}
