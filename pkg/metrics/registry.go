package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registers 接口隔离 Prometheus 的默认实现，业务只依赖注册能力，便于单测替换
type Registers interface {
	prometheus.Registerer                          // 嵌入 Prometheus 官方注册器接口
	Register(collector prometheus.Collector) error //自定义扩展方法
}

// promRegistry Prometheus 实现，内部包裹了官方的 *prometheus.Registry
type promRegistry struct {
	registry *prometheus.Registry
}

// NewPromRegistry 创建 Prometheus 指标注册器
func NewPromRegistry(registry *prometheus.Registry) Registers {
	return &promRegistry{registry: registry}
}

// MustRegister 实现 prometheus.Registerer，重复注册直接 panic（启动期暴露问题）
func (p *promRegistry) MustRegister(cs ...prometheus.Collector) {
	for _, c := range cs {
		if err := p.registry.Register(c); err != nil {
			panic(err)
		}
	}
}

// Unregister 实现 prometheus.Registerer
func (p *promRegistry) Unregister(c prometheus.Collector) bool {
	return p.registry.Unregister(c)
}

// Register 实现自定义 Registry 接口
func (p *promRegistry) Register(c prometheus.Collector) error {
	return p.registry.Register(c)
}

// InitPromRegistry 初始化 Prometheus 注册器（不注册 Go 运行时指标，进程指标可选）
// 返回的 *prometheus.Registry 用于 /metrics 暴露，Set 注入给会话管理器
func InitPromRegistry(enableProcess bool) (*prometheus.Registry, *Set) {
	promReg := prometheus.NewRegistry()
	if enableProcess {
		promReg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	factory := NewMetricFactory(NewPromRegistry(promReg))
	return promReg, factory.NewSet()
}

// NewUnregisteredSet 在私有注册器上创建一组指标（测试与未启用 /metrics 时使用）
func NewUnregisteredSet() *Set {
	return NewMetricFactory(NewPromRegistry(prometheus.NewRegistry())).NewSet()
}
