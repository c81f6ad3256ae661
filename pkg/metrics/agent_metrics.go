package metrics

import "github.com/prometheus/client_golang/prometheus"

// AgentMetrics 代理自身运行指标（会话、消息、周期任务、入库请求）
type AgentMetrics struct {
	MessagesSent    *prometheus.CounterVec   // 已发送的流式消息数，label: type
	SendErrors      *prometheus.CounterVec   // 流式消息发送失败数，label: type
	TickErrors      *prometheus.CounterVec   // 周期任务采集/发送失败数，label: task
	TickDuration    *prometheus.HistogramVec // 周期任务单次耗时，label: task
	PersistRequests *prometheus.CounterVec   // 入库HTTP请求数，label: endpoint, result
	SessionsOpened  prometheus.Counter       // 成功打开的会话数
	Reconnects      prometheus.Counter       // 已安排的重连次数
	Connected       prometheus.Gauge         // 当前连接是否打开（0/1）
}

// NewAgentMetrics 创建并注册代理自身指标
// 标签说明：
//
//	type: REGISTER / HEARTBEAT / SYSTEM_STATS
//	task: metrics / heartbeat / persist
//	endpoint: register / metrics, result: ok / error
func (m *MetricFactory) NewAgentMetrics() *AgentMetrics {
	a := &AgentMetrics{
		MessagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_messages_sent_total",
			Help: "Total stream messages sent to the collector",
		}, []string{"type"}),
		SendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_send_errors_total",
			Help: "Total stream messages that failed to send",
		}, []string{"type"}),
		TickErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_tick_errors_total",
			Help: "Total periodic task ticks that failed to gather or send",
		}, []string{"task"}),
		TickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agent_tick_duration_seconds",
			Help:    "Duration of one periodic task tick",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 0.01s ~ 5.12s
		}, []string{"task"}),
		PersistRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agent_persist_requests_total",
			Help: "Total persistence HTTP requests by endpoint and result",
		}, []string{"endpoint", "result"}),
		SessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_sessions_opened_total",
			Help: "Total sessions that reached the open state",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "agent_reconnects_scheduled_total",
			Help: "Total reconnect attempts scheduled after a close",
		}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "agent_connected",
			Help: "Whether the stream connection is currently open (0/1)",
		}),
	}
	m.reg.MustRegister(
		a.MessagesSent, a.SendErrors, a.TickErrors, a.TickDuration,
		a.PersistRequests, a.SessionsOpened, a.Reconnects, a.Connected,
	)
	return a
}
