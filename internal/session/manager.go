package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/telemetry-agent/internal/gateway"
	"github.com/telemetry-agent/internal/telemetry"
	"github.com/telemetry-agent/internal/transport"
	"github.com/telemetry-agent/pkg/collector"
	"github.com/telemetry-agent/pkg/config"
	"github.com/telemetry-agent/pkg/metrics"
	"github.com/telemetry-agent/pkg/scheduler"
)

// ErrInvalidEndpoint 地址不是 ws:// 或 wss://，或缺少 host
var ErrInvalidEndpoint = errors.New("session: invalid endpoint")

// Gateway 入库接口，由 internal/gateway.Client 实现
type Gateway interface {
	RegisterAgent(ctx context.Context, reg telemetry.AgentRegistration) error
	PostMetrics(ctx context.Context, snap telemetry.MetricsSnapshot) error
}

// GatewayFactory 按会话的 HTTP base 创建入库客户端
type GatewayFactory func(baseURL string) Gateway

// IdentitySource 本机标识来源
type IdentitySource interface {
	Resolve() string
}

// Options Manager 依赖，nil 字段使用默认实现
type Options struct {
	Config     config.AgentConfig
	Dialer     transport.Dialer
	Provider   collector.Provider
	Identity   IdentitySource
	NewGateway GatewayFactory
	Clock      clockwork.Clock
	Metrics    *metrics.Set
	Logger     *zap.Logger
}

// Manager 持有唯一的会话，所有会话状态由 mu 保护
// 回调（读循环、重连定时器、拨号结果）拿锁后先确认自己仍是当前会话
type Manager struct {
	cfg        config.AgentConfig
	dialer     transport.Dialer
	provider   collector.Provider
	identity   IdentitySource
	newGateway GatewayFactory
	clock      clockwork.Clock
	metrics    *metrics.Set
	log        *zap.Logger
	disks      *telemetry.DiskSampler

	mu        sync.Mutex
	state     State
	endpoint  string
	pcID      string
	sess      *session
	reconnect clockwork.Timer

	profileMu sync.Mutex
	profile   *telemetry.Profile
}

// session 一次连接的生命周期，ctx 取消即代表该会话作废
type session struct {
	id       string
	pcID     string
	endpoint string
	baseURL  string
	ctx      context.Context
	cancel   context.CancelFunc
	log      *zap.Logger
	gw       Gateway

	conn      transport.Conn // 打开后赋值，受 Manager.mu 保护
	sched     *scheduler.Scheduler
	open      atomic.Bool
	persisted atomic.Bool
}

func NewManager(opts Options) *Manager {
	m := &Manager{
		cfg:        opts.Config,
		dialer:     opts.Dialer,
		provider:   opts.Provider,
		identity:   opts.Identity,
		newGateway: opts.NewGateway,
		clock:      opts.Clock,
		metrics:    opts.Metrics,
		log:        opts.Logger,
		disks:      telemetry.NewDiskSampler(opts.Config.DiskSampleEvery),
		state:      StateStopped,
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	if m.metrics == nil {
		m.metrics = metrics.NewUnregisteredSet()
	}
	if m.dialer == nil {
		m.dialer = transport.NewWSDialer(m.cfg.DialTimeout, m.cfg.WriteTimeout)
	}
	if m.provider == nil {
		m.provider = collector.NewSystemProvider(m.clock, m.log)
	}
	if m.newGateway == nil {
		timeout := m.cfg.HTTPTimeout
		m.newGateway = func(baseURL string) Gateway { return gateway.New(baseURL, timeout) }
	}
	return m
}

// Start 校验地址后停止已有会话（无论地址是否相同），再异步建立新会话
func (m *Manager) Start(endpoint string) error {
	endpoint = strings.TrimSpace(endpoint)
	if err := config.ValidateEndpoint(endpoint); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	baseURL, err := gateway.HTTPBaseURL(endpoint)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}

	pcID := m.Identity()

	// 拆除旧会话与建立新会话在同一临界区内，并发 Start 不会遗留旧会话
	m.mu.Lock()
	old, conn, prev := m.stopLocked()
	m.pcID = pcID
	m.endpoint = endpoint
	m.log.Info("agent starting", zap.String("pc_id", pcID), zap.String("endpoint", endpoint), zap.String("db_url", baseURL))
	m.connectLocked(endpoint, baseURL)
	m.mu.Unlock()

	m.closeStopped(old, conn, prev, false)
	return nil
}

// Stop 同步取消所有周期任务与重连定时器，关闭连接，可重复调用
func (m *Manager) Stop() {
	m.mu.Lock()
	old, conn, prev := m.stopLocked()
	m.mu.Unlock()
	m.closeStopped(old, conn, prev, true)
}

// stopLocked 拆除当前会话并返回待关闭的连接，调用方持有 mu
func (m *Manager) stopLocked() (*session, transport.Conn, State) {
	m.endpoint = ""
	m.stopReconnectLocked()
	s := m.sess
	m.sess = nil
	prev := m.state
	m.state = StateStopped
	var conn transport.Conn
	if s != nil {
		conn = m.teardownLocked(s)
	}
	return s, conn, prev
}

func (m *Manager) closeStopped(s *session, conn transport.Conn, prev State, logStop bool) {
	if conn != nil {
		if err := conn.Close(); err != nil {
			s.log.Warn("socket close error", zap.Error(err))
		}
	}
	if logStop && prev != StateStopped {
		m.log.Info("agent stopped")
	}
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Endpoint() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endpoint
}

// Identity 首次调用时解析本机标识
func (m *Manager) Identity() string {
	if m.identity == nil {
		return ""
	}
	return m.identity.Resolve()
}

func (m *Manager) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{PCID: m.pcID, State: m.state.String(), Endpoint: m.endpoint}
	if m.sess != nil {
		st.SessionID = m.sess.id
	}
	return st
}

// connectLocked 创建新会话并异步拨号，调用方持有 mu
func (m *Manager) connectLocked(endpoint, baseURL string) {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	s := &session{
		id:       id,
		pcID:     m.pcID,
		endpoint: endpoint,
		baseURL:  baseURL,
		ctx:      ctx,
		cancel:   cancel,
		log:      m.log.With(zap.String("session_id", id)),
		gw:       m.newGateway(baseURL),
	}
	m.sess = s
	m.state = StateConnecting
	s.log.Info("agent connecting", zap.String("endpoint", endpoint), zap.String("db_url", baseURL))
	go m.run(s)
}

func (m *Manager) run(s *session) {
	dialCtx, cancel := context.WithTimeout(s.ctx, m.cfg.DialTimeout)
	conn, err := m.dialer.Dial(dialCtx, s.endpoint)
	cancel()
	if err != nil {
		s.log.Warn("websocket error", zap.Error(err))
		m.handleClose(s, err)
		return
	}

	m.mu.Lock()
	if m.sess != s {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.conn = conn
	m.mu.Unlock()

	go func() {
		m.handleClose(s, conn.ReadMessage())
	}()
	m.onOpen(s, conn)
}

// onOpen 静态画像 -> REGISTER -> 入库注册（异步）-> 启动周期任务 -> 立即心跳
func (m *Manager) onOpen(s *session, conn transport.Conn) {
	profile, err := m.staticProfile(s.ctx)
	if err != nil {
		if s.ctx.Err() == nil {
			s.log.Error("static info unavailable, dropping connection", zap.Error(err))
			_ = conn.Close()
		}
		return
	}

	m.mu.Lock()
	if m.sess != s {
		m.mu.Unlock()
		return
	}
	m.state = StateOpen
	s.open.Store(true)
	m.mu.Unlock()

	m.metrics.Agent.Connected.Set(1)
	m.metrics.Agent.SessionsOpened.Inc()
	s.log.Info("agent connected", zap.String("pc_id", s.pcID))

	_ = m.send(s, telemetry.Envelope{Type: telemetry.TypeRegister, PCID: s.pcID, Payload: profile})

	if !s.persisted.Load() {
		go m.registerAgent(s, profile)
	}

	sched, err := m.newScheduler(s)
	if err != nil {
		s.log.Error("build scheduler failed", zap.Error(err))
		_ = conn.Close()
		return
	}
	m.mu.Lock()
	if m.sess != s {
		m.mu.Unlock()
		return
	}
	s.sched = sched
	err = sched.Start(s.ctx)
	m.mu.Unlock()
	if err != nil {
		s.log.Error("start scheduler failed", zap.Error(err))
		return
	}

	m.sendHeartbeat(s)
}

// staticProfile 进程内只采集一次，之后的重连直接复用
func (m *Manager) staticProfile(ctx context.Context) (telemetry.Profile, error) {
	m.profileMu.Lock()
	defer m.profileMu.Unlock()
	if m.profile != nil {
		return *m.profile, nil
	}
	info, err := m.provider.StaticInfo(ctx)
	if err != nil {
		return telemetry.Profile{}, fmt.Errorf("collect static info: %w", err)
	}
	p := telemetry.NewProfile(info)
	m.profile = &p
	return p, nil
}

// handleClose 连接关闭（正常、出错或拨号失败）：拆除当前会话并安排一次重连
// 已非当前会话的关闭事件直接忽略
func (m *Manager) handleClose(s *session, cause error) {
	m.mu.Lock()
	if m.sess != s {
		m.mu.Unlock()
		return
	}
	conn := m.teardownLocked(s)
	m.sess = nil
	m.state = StateClosed
	m.stopReconnectLocked()

	endpoint := m.endpoint
	if endpoint != "" {
		baseURL := s.baseURL
		var timer clockwork.Timer
		timer = m.clock.AfterFunc(m.cfg.ReconnectDelay, func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.reconnect != timer || m.endpoint != endpoint || m.sess != nil {
				return
			}
			m.reconnect = nil
			m.connectLocked(endpoint, baseURL)
		})
		m.reconnect = timer
		m.metrics.Agent.Reconnects.Inc()
	}
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	fields := []zap.Field{zap.String("endpoint", endpoint), zap.Duration("retry_in", m.cfg.ReconnectDelay)}
	if cause != nil {
		fields = append(fields, zap.String("cause", cause.Error()))
	}
	s.log.Warn("disconnected, reconnecting", fields...)
}

// teardownLocked 取消会话 ctx 并停止全部周期任务，返回需要在锁外关闭的连接
func (m *Manager) teardownLocked(s *session) transport.Conn {
	s.open.Store(false)
	s.persisted.Store(false)
	s.cancel()
	if s.sched != nil {
		s.sched.Shutdown()
	}
	m.metrics.Agent.Connected.Set(0)
	conn := s.conn
	s.conn = nil
	return conn
}

func (m *Manager) stopReconnectLocked() {
	if m.reconnect != nil {
		m.reconnect.Stop()
		m.reconnect = nil
	}
}

// connFor 返回会话当前连接，会话已作废时返回 nil
func (m *Manager) connFor(s *session) transport.Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sess != s {
		return nil
	}
	return s.conn
}
