package metrics

// MetricFactory 指标工厂，用于统一创建并注册指标（counter/gauge/histogram）
type MetricFactory struct {
	reg Registers
}

// NewMetricFactory 创建指标工厂
func NewMetricFactory(reg Registers) *MetricFactory {
	return &MetricFactory{reg: reg}
}

// Set 代理全部自监控指标
type Set struct {
	Agent *AgentMetrics
	Host  *HostMetrics
}

// NewSet 一次性创建代理自身指标与主机快照指标
func (m *MetricFactory) NewSet() *Set {
	return &Set{
		Agent: m.NewAgentMetrics(),
		Host:  m.NewHostMetrics(),
	}
}
