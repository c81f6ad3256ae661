package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/telemetry-agent/internal/telemetry"
	"github.com/telemetry-agent/internal/transport"
	"github.com/telemetry-agent/pkg/collector"
	"github.com/telemetry-agent/pkg/config"
	"github.com/telemetry-agent/pkg/metrics"
)

const waitTimeout = 2 * time.Second

// fakeConn 记录写入的消息；Drop 模拟服务端断开
type fakeConn struct {
	writes    chan telemetry.Envelope
	closed    chan struct{}
	dropped   chan error
	closeOnce sync.Once

	mu       sync.Mutex
	count    int
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		writes:  make(chan telemetry.Envelope, 1024),
		closed:  make(chan struct{}),
		dropped: make(chan error, 1),
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return errors.New("use of closed connection")
	default:
	}
	if c.writeErr != nil {
		return c.writeErr
	}
	c.count++
	select {
	case c.writes <- v.(telemetry.Envelope):
	default:
	}
	return nil
}

func (c *fakeConn) ReadMessage() error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	case err := <-c.dropped:
		return err
	}
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) Drop() {
	select {
	case c.dropped <- io.EOF:
	default:
	}
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func (c *fakeConn) failWrites(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

type fakeDialer struct {
	mu       sync.Mutex
	urls     []string
	failNext int
	conns    chan *fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{conns: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Dial(_ context.Context, url string) (transport.Conn, error) {
	d.mu.Lock()
	d.urls = append(d.urls, url)
	fail := d.failNext > 0
	if fail {
		d.failNext--
	}
	d.mu.Unlock()
	if fail {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

type fakeProvider struct {
	mu          sync.Mutex
	fss         []collector.FileSystem // nil 时返回默认的根分区
	staticCalls atomic.Int32
	loadCalls   atomic.Int32
	staticFail  atomic.Int32 // 前 N 次 StaticInfo 返回错误
}

func (p *fakeProvider) StaticInfo(context.Context) (collector.StaticInfo, error) {
	p.staticCalls.Add(1)
	if p.staticFail.Load() > 0 {
		p.staticFail.Add(-1)
		return collector.StaticInfo{}, errors.New("sensor unavailable")
	}
	return collector.StaticInfo{
		Manufacturer: "ACME", Model: "Box", CPUBrand: "Core", CPUCores: 4,
		OSDistro: "Ubuntu", OSArch: "x86_64", TotalMemory: 8 << 30,
	}, nil
}

func (p *fakeProvider) CurrentLoad(context.Context) (collector.Load, error) {
	p.loadCalls.Add(1)
	return collector.Load{CurrentLoad: 12.346}, nil
}

func (p *fakeProvider) Memory(context.Context) (collector.Memory, error) {
	return collector.Memory{Total: 8 << 30, Used: 2 << 30, Free: 1 << 30, Available: 5 << 30}, nil
}

func (p *fakeProvider) Uptime(context.Context) (uint64, error) { return 3600, nil }

func (p *fakeProvider) setFileSystems(fss []collector.FileSystem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fss = fss
}

func (p *fakeProvider) FileSystems(context.Context) ([]collector.FileSystem, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fss != nil {
		return p.fss, nil
	}
	return []collector.FileSystem{{Mount: "/", Type: "ext4", Size: 100 << 30, Used: 40 << 30, Available: 60 << 30, Use: 40}}, nil
}

func (p *fakeProvider) NetworkInterfaces(context.Context) ([]collector.NetworkInterface, error) {
	return []collector.NetworkInterface{{Iface: "eth0", IP4: "10.0.0.5", MAC: "aa:bb:cc:dd:ee:ff"}}, nil
}

func (p *fakeProvider) NetworkStats(context.Context) ([]collector.NetworkStats, error) {
	return []collector.NetworkStats{{Iface: "eth0", TxSec: 2048, RxSec: 1024}}, nil
}

type fakeGateway struct {
	regErr error
	regs   chan telemetry.AgentRegistration
	snaps  chan telemetry.MetricsSnapshot
	bases  chan string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		regs:  make(chan telemetry.AgentRegistration, 64),
		snaps: make(chan telemetry.MetricsSnapshot, 64),
		bases: make(chan string, 64),
	}
}

func (g *fakeGateway) RegisterAgent(_ context.Context, reg telemetry.AgentRegistration) error {
	g.regs <- reg
	return g.regErr
}

func (g *fakeGateway) PostMetrics(_ context.Context, snap telemetry.MetricsSnapshot) error {
	g.snaps <- snap
	return nil
}

type fixedIdentity string

func (f fixedIdentity) Resolve() string { return string(f) }

type harness struct {
	m        *Manager
	clock    *clockwork.FakeClock
	dialer   *fakeDialer
	provider *fakeProvider
	gw       *fakeGateway
	set      *metrics.Set
}

func testConfig() config.AgentConfig {
	return config.AgentConfig{
		MetricsInterval:   time.Second,
		HeartbeatInterval: 5 * time.Second,
		PersistInterval:   10 * time.Second,
		ReconnectDelay:    3 * time.Second,
		DiskSampleEvery:   6,
		DialTimeout:       time.Second,
		HTTPTimeout:       time.Second,
		WriteTimeout:      time.Second,
	}
}

func newHarness(t *testing.T, mutate ...func(*config.AgentConfig)) *harness {
	t.Helper()
	cfg := testConfig()
	for _, f := range mutate {
		f(&cfg)
	}
	h := &harness{
		clock:    clockwork.NewFakeClock(),
		dialer:   newFakeDialer(),
		provider: &fakeProvider{},
		gw:       newFakeGateway(),
		set:      metrics.NewUnregisteredSet(),
	}
	h.m = NewManager(Options{
		Config:   cfg,
		Dialer:   h.dialer,
		Provider: h.provider,
		Identity: fixedIdentity("host1 - alice"),
		NewGateway: func(base string) Gateway {
			h.gw.bases <- base
			return h.gw
		},
		Clock:   h.clock,
		Metrics: h.set,
	})
	t.Cleanup(h.m.Stop)
	return h
}

func (h *harness) blockUntil(t *testing.T, n int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	require.NoError(t, h.clock.BlockUntilContext(ctx, n), "waiting for %d clock waiters", n)
}

func (h *harness) nextConn(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-h.dialer.conns:
		return c
	case <-time.After(waitTimeout):
		t.Fatal("no dial happened")
		return nil
	}
}

// openConn 拿到下一条连接并等到立即心跳（此时周期任务已启动）
func (h *harness) openConn(t *testing.T) *fakeConn {
	t.Helper()
	c := h.nextConn(t)
	waitType(t, c, telemetry.TypeHeartbeat)
	return c
}

// waitType 跳过其他类型，直到收到指定类型的消息
func waitType(t *testing.T, c *fakeConn, typ string) telemetry.Envelope {
	t.Helper()
	deadline := time.After(waitTimeout)
	for {
		select {
		case env := <-c.writes:
			if env.Type == typ {
				return env
			}
		case <-deadline:
			t.Fatalf("no %s message received", typ)
			return telemetry.Envelope{}
		}
	}
}

func noDialWithin(t *testing.T, d *fakeDialer, wait time.Duration) {
	t.Helper()
	select {
	case <-d.conns:
		t.Fatal("unexpected dial")
	case <-time.After(wait):
	}
}
