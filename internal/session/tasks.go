package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/telemetry-agent/internal/telemetry"
	"github.com/telemetry-agent/pkg/collector"
	"github.com/telemetry-agent/pkg/scheduler"
)

const (
	taskMetrics   = "metrics"
	taskHeartbeat = "heartbeat"
	taskPersist   = "persist"
)

var errNotOpen = errors.New("connection not open")

// newScheduler 每个会话独立的三个周期任务，persist_interval 为 0 时不入库
func (m *Manager) newScheduler(s *session) (*scheduler.Scheduler, error) {
	sched := scheduler.New(m.clock, scheduler.WithLogger(s.log))
	tasks := []scheduler.Task{
		scheduler.TaskFunc{TaskName: taskHeartbeat, TaskInterval: m.cfg.HeartbeatInterval, Fn: func(context.Context) { m.sendHeartbeat(s) }},
		scheduler.TaskFunc{TaskName: taskMetrics, TaskInterval: m.cfg.MetricsInterval, Fn: func(ctx context.Context) { m.metricsTick(ctx, s) }},
	}
	if m.cfg.PersistInterval > 0 {
		tasks = append(tasks, scheduler.TaskFunc{TaskName: taskPersist, TaskInterval: m.cfg.PersistInterval, Fn: func(ctx context.Context) { m.persistTick(ctx, s) }})
	}
	for _, t := range tasks {
		if err := sched.Register(t); err != nil {
			return nil, err
		}
	}
	return sched, nil
}

// send 连接未打开或会话已作废时直接跳过（返回 errNotOpen，不计错误）
func (m *Manager) send(s *session, env telemetry.Envelope) error {
	if s.ctx.Err() != nil || !s.open.Load() {
		return errNotOpen
	}
	conn := m.connFor(s)
	if conn == nil {
		return errNotOpen
	}
	if err := conn.WriteJSON(env); err != nil {
		m.metrics.Agent.SendErrors.WithLabelValues(env.Type).Inc()
		s.log.Warn("send failed", zap.String("type", env.Type), zap.Error(err))
		return err
	}
	m.metrics.Agent.MessagesSent.WithLabelValues(env.Type).Inc()
	return nil
}

func (m *Manager) sendHeartbeat(s *session) {
	_ = m.send(s, telemetry.Envelope{Type: telemetry.TypeHeartbeat, PCID: s.pcID})
}

// metricsTick 并发采集后推送 SYSTEM_STATS，失败只记录，下个 tick 照常
func (m *Manager) metricsTick(ctx context.Context, s *session) {
	if ctx.Err() != nil || !s.open.Load() {
		return
	}
	start := m.clock.Now()
	defer func() {
		m.metrics.Agent.TickDuration.WithLabelValues(taskMetrics).Observe(m.clock.Since(start).Seconds())
	}()

	sample, err := m.gatherSample(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.metrics.Agent.TickErrors.WithLabelValues(taskMetrics).Inc()
			s.log.Warn("metric error", zap.Error(err))
		}
		return
	}
	m.updateHostGauges(sample)

	stats := telemetry.NewSystemStats(m.clock.Now(), sample)
	err = m.send(s, telemetry.Envelope{Type: telemetry.TypeSystemStats, PCID: s.pcID, Payload: stats})
	if err != nil && !errors.Is(err, errNotOpen) {
		m.metrics.Agent.TickErrors.WithLabelValues(taskMetrics).Inc()
	}
}

func (m *Manager) gatherSample(ctx context.Context) (telemetry.Sample, error) {
	var sample telemetry.Sample
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { sample.Load, err = m.provider.CurrentLoad(gctx); return })
	g.Go(func() (err error) { sample.Memory, err = m.provider.Memory(gctx); return })
	g.Go(func() (err error) { sample.Uptime, err = m.provider.Uptime(gctx); return })
	g.Go(func() (err error) { sample.FileSystems, err = m.provider.FileSystems(gctx); return })
	g.Go(func() (err error) { sample.Interfaces, err = m.provider.NetworkInterfaces(gctx); return })
	g.Go(func() (err error) { sample.Stats, err = m.provider.NetworkStats(gctx); return })
	if err := g.Wait(); err != nil {
		return telemetry.Sample{}, err
	}
	return sample, nil
}

func (m *Manager) updateHostGauges(sample telemetry.Sample) {
	h := m.metrics.Host
	h.CPULoad.Set(sample.Load.CurrentLoad)
	h.MemoryUsedBytes.Set(float64(sample.Memory.Used))
	h.MemoryTotalBytes.Set(float64(sample.Memory.Total))
	if len(sample.Stats) > 0 {
		h.UploadKBps.Set(sample.Stats[0].TxSec / 1024)
		h.DownloadKBps.Set(sample.Stats[0].RxSec / 1024)
	}
	// 先清空，已卸载的挂载点不再保留旧序列
	h.DiskUsageRatio.Reset()
	for _, fs := range sample.FileSystems {
		h.DiskUsageRatio.WithLabelValues(fs.Mount).Set(fs.Use / 100)
	}
}

// persistTick 入库快照；不受连接打开状态约束，但随会话一起停止
func (m *Manager) persistTick(ctx context.Context, s *session) {
	if ctx.Err() != nil {
		return
	}
	start := m.clock.Now()
	defer func() {
		m.metrics.Agent.TickDuration.WithLabelValues(taskPersist).Observe(m.clock.Since(start).Seconds())
	}()

	var (
		load   collector.Load
		mem    collector.Memory
		uptime uint64
		fss    []collector.FileSystem
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) { load, err = m.provider.CurrentLoad(gctx); return })
	g.Go(func() (err error) { mem, err = m.provider.Memory(gctx); return })
	g.Go(func() (err error) { uptime, err = m.provider.Uptime(gctx); return })
	g.Go(func() (err error) { fss, err = m.provider.FileSystems(gctx); return })
	if err := g.Wait(); err != nil {
		if ctx.Err() == nil {
			m.metrics.Agent.TickErrors.WithLabelValues(taskPersist).Inc()
			s.log.Warn("dynamic db error", zap.Error(err))
		}
		return
	}

	snap := telemetry.NewMetricsSnapshot(s.pcID, load, mem, uptime, fss, m.disks.Next())
	if ctx.Err() != nil {
		return
	}
	if err := s.gw.PostMetrics(ctx, snap); err != nil {
		m.metrics.Agent.PersistRequests.WithLabelValues("metrics", "error").Inc()
		s.log.Warn("dynamic db error", zap.Error(err))
		return
	}
	m.metrics.Agent.PersistRequests.WithLabelValues("metrics", "ok").Inc()
}

// registerAgent 每个会话最多成功一次；失败只记录，不影响连接与周期任务
func (m *Manager) registerAgent(s *session, profile telemetry.Profile) {
	if s.persisted.Load() || s.ctx.Err() != nil {
		return
	}
	err := s.gw.RegisterAgent(s.ctx, telemetry.NewAgentRegistration(s.pcID, profile))
	if err != nil {
		m.metrics.Agent.PersistRequests.WithLabelValues("register", "error").Inc()
		s.log.Warn("static db error", zap.Error(fmt.Errorf("register agent: %w", err)))
		return
	}
	s.persisted.Store(true)
	m.metrics.Agent.PersistRequests.WithLabelValues("register", "ok").Inc()
	s.log.Info("static info stored in db")
}
