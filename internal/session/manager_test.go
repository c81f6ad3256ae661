package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/telemetry-agent/internal/telemetry"
	"github.com/telemetry-agent/pkg/collector"
	"github.com/telemetry-agent/pkg/config"
)

const endpointA = "ws://collector-a:8080"

func TestStartRejectsInvalidEndpoint(t *testing.T) {
	h := newHarness(t)
	for _, ep := range []string{"", "http://collector:8080", "ws://", "::"} {
		err := h.m.Start(ep)
		assert.ErrorIs(t, err, ErrInvalidEndpoint, ep)
	}
	assert.Equal(t, StateStopped, h.m.State())
	assert.Empty(t, h.dialer.dialed())
}

func TestOpenSequence(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(endpointA))

	c := h.nextConn(t)
	first := waitType(t, c, telemetry.TypeRegister)
	assert.Equal(t, "host1 - alice", first.PCID)
	profile, ok := first.Payload.(telemetry.Profile)
	require.True(t, ok)
	assert.Equal(t, "ACME", profile.System.Manufacturer)
	assert.Equal(t, 8.0, profile.Memory.Total)

	hb := waitType(t, c, telemetry.TypeHeartbeat)
	assert.Equal(t, "host1 - alice", hb.PCID)
	assert.Nil(t, hb.Payload)

	assert.Equal(t, "http://collector-a:8080", <-h.gw.bases)
	reg := <-h.gw.regs
	assert.Equal(t, "host1 - alice", reg.PCID)
	assert.Equal(t, reg.PCID, reg.Hostname)

	h.blockUntil(t, 3)
	st := h.m.Snapshot()
	assert.Equal(t, "open", st.State)
	assert.Equal(t, endpointA, st.Endpoint)
	assert.Equal(t, "host1 - alice", st.PCID)
	assert.NotEmpty(t, st.SessionID)

	h.clock.Advance(time.Second)
	env := waitType(t, c, telemetry.TypeSystemStats)
	stats, ok := env.Payload.(telemetry.SystemStats)
	require.True(t, ok)
	assert.Equal(t, 12.35, stats.CPU.Load)
	assert.Equal(t, telemetry.StatsNetwork{IP: "10.0.0.5", MAC: "aa:bb:cc:dd:ee:ff", Iface: "eth0", Upload: "2.00", Download: "1.00"}, stats.Network)
	require.Len(t, stats.Disks, 1)
	assert.Equal(t, "40.0 %", stats.Disks[0].Usage)

	h.clock.Advance(4 * time.Second)
	waitType(t, c, telemetry.TypeHeartbeat)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.set.Agent.Connected))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.set.Agent.SessionsOpened))
	assert.Equal(t, 1.0, testutil.ToFloat64(h.set.Agent.MessagesSent.WithLabelValues(telemetry.TypeRegister)))
}

func TestStopCancelsAllTimers(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(endpointA))
	c := h.openConn(t)
	h.blockUntil(t, 3)

	h.m.Stop()
	h.blockUntil(t, 0)
	assert.True(t, c.isClosed())
	assert.Equal(t, StateStopped, h.m.State())
	assert.Empty(t, h.m.Endpoint())
	assert.Equal(t, 0.0, testutil.ToFloat64(h.set.Agent.Connected))

	h.m.Stop() // 幂等
	h.blockUntil(t, 0)
}

func TestCloseAfterStopDoesNotReconnect(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(endpointA))
	c := h.openConn(t)

	h.m.Stop()
	c.Drop() // 关闭事件晚于 Stop 到达
	h.blockUntil(t, 0)

	h.clock.Advance(10 * time.Second)
	noDialWithin(t, h.dialer, 100*time.Millisecond)
	assert.Len(t, h.dialer.dialed(), 1)
	assert.Equal(t, 0.0, testutil.ToFloat64(h.set.Agent.Reconnects))
}

func TestReconnectReusesStaticProfile(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(endpointA))
	c := h.openConn(t)
	<-h.gw.regs

	for i := 0; i < 5; i++ {
		c.Drop()
		h.blockUntil(t, 1) // 只剩重连定时器
		assert.Equal(t, StateClosed, h.m.State())

		h.clock.Advance(3 * time.Second)
		c = h.nextConn(t)
		waitType(t, c, telemetry.TypeRegister)
		waitType(t, c, telemetry.TypeHeartbeat)
		// 每个新会话都重新入库注册一次
		select {
		case <-h.gw.regs:
		case <-time.After(waitTimeout):
			t.Fatal("registration not repeated for new session")
		}
	}

	assert.Equal(t, int32(1), h.provider.staticCalls.Load())
	assert.Equal(t, 5.0, testutil.ToFloat64(h.set.Agent.Reconnects))
	assert.Equal(t, 6.0, testutil.ToFloat64(h.set.Agent.SessionsOpened))
	for _, u := range h.dialer.dialed() {
		assert.Equal(t, endpointA, u)
	}
}

func TestReconnectDelayIsFixed(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(endpointA))
	c := h.openConn(t)

	c.Drop()
	h.blockUntil(t, 1)
	require.Equal(t, StateClosed, h.m.State())
	h.clock.Advance(2999 * time.Millisecond)
	noDialWithin(t, h.dialer, 50*time.Millisecond)
	h.clock.Advance(time.Millisecond)
	h.openConn(t)
}

func TestDialFailureSchedulesReconnect(t *testing.T) {
	h := newHarness(t)
	h.dialer.failNext = 2
	require.NoError(t, h.m.Start(endpointA))

	for i := 0; i < 2; i++ {
		h.blockUntil(t, 1)
		assert.Equal(t, StateClosed, h.m.State())
		h.clock.Advance(3 * time.Second)
	}
	h.openConn(t)
	assert.Equal(t, StateOpen, h.m.State())
	assert.Len(t, h.dialer.dialed(), 3)
}

func TestStaticInfoFailureDropsConnection(t *testing.T) {
	h := newHarness(t)
	h.provider.staticFail.Store(1)
	require.NoError(t, h.m.Start(endpointA))

	c := h.nextConn(t)
	h.blockUntil(t, 1)
	assert.True(t, c.isClosed())
	assert.Zero(t, c.writeCount(), "nothing is sent before the static profile")

	h.clock.Advance(3 * time.Second)
	h.openConn(t)
	assert.Equal(t, int32(2), h.provider.staticCalls.Load())
}

func TestEndpointChangeStopsOldSession(t *testing.T) {
	const endpointB = "wss://collector-b"
	h := newHarness(t)
	require.NoError(t, h.m.Start(endpointA))
	a := h.openConn(t)
	h.blockUntil(t, 3)
	assert.Equal(t, "http://collector-a:8080", <-h.gw.bases)

	require.NoError(t, h.m.Start(endpointB))
	assert.True(t, a.isClosed(), "old connection closed before the new session starts")
	b := h.openConn(t)
	h.blockUntil(t, 3) // 旧会话的定时器已全部移除
	assert.Equal(t, "https://collector-b", <-h.gw.bases)
	assert.Equal(t, []string{endpointA, endpointB}, h.dialer.dialed())
	assert.Equal(t, endpointB, h.m.Endpoint())

	before := a.writeCount()
	h.clock.Advance(time.Second)
	waitType(t, b, telemetry.TypeSystemStats)
	assert.Equal(t, before, a.writeCount())
}

func TestConcurrentStartsLeaveOneSession(t *testing.T) {
	endpoints := []string{"ws://collector-b:8080", "ws://collector-c:8080"}
	for i := 0; i < 20; i++ {
		h := newHarness(t)
		require.NoError(t, h.m.Start(endpointA))
		a := h.openConn(t)
		h.blockUntil(t, 3)

		var wg sync.WaitGroup
		for _, ep := range endpoints {
			wg.Add(1)
			go func(ep string) {
				defer wg.Done()
				assert.NoError(t, h.m.Start(ep))
			}(ep)
		}
		wg.Wait()
		assert.True(t, a.isClosed())

		b, c := h.nextConn(t), h.nextConn(t)
		require.Eventually(t, func() bool { return b.isClosed() || c.isClosed() }, waitTimeout, time.Millisecond)
		live := b
		if b.isClosed() {
			live = c
		}
		require.False(t, live.isClosed(), "exactly one session survives")
		waitType(t, live, telemetry.TypeHeartbeat)
		h.blockUntil(t, 3) // 只剩存活会话的三个周期任务
		assert.Contains(t, endpoints, h.m.Endpoint())

		h.m.Stop()
		h.blockUntil(t, 0)
	}
}

func TestRestartSameEndpoint(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(endpointA))
	first := h.openConn(t)
	firstID := h.m.Snapshot().SessionID

	require.NoError(t, h.m.Start(endpointA))
	h.openConn(t)
	h.blockUntil(t, 3)
	assert.True(t, first.isClosed())
	assert.NotEqual(t, firstID, h.m.Snapshot().SessionID)
}

func TestDiskBreakdownEverySixthPersistTick(t *testing.T) {
	h := newHarness(t, func(c *config.AgentConfig) {
		c.MetricsInterval = time.Hour
		c.HeartbeatInterval = time.Hour
	})
	require.NoError(t, h.m.Start(endpointA))
	h.openConn(t)
	h.blockUntil(t, 3)

	var withDisks []int
	for tick := 1; tick <= 12; tick++ {
		h.clock.Advance(10 * time.Second)
		select {
		case snap := <-h.gw.snaps:
			assert.Equal(t, "host1 - alice", snap.PCID)
			assert.Equal(t, uint64(5<<30), snap.MemoryFree)
			if snap.Disks != nil {
				withDisks = append(withDisks, tick)
				assert.Equal(t, 40.0, (*snap.Disks)[0].UsagePercent)
			}
		case <-time.After(waitTimeout):
			t.Fatalf("no snapshot for tick %d", tick)
		}
	}
	assert.Equal(t, []int{6, 12}, withDisks)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.set.Agent.PersistRequests.WithLabelValues("metrics", "ok")) == 12
	}, waitTimeout, 10*time.Millisecond)
}

func TestPersistDisabled(t *testing.T) {
	h := newHarness(t, func(c *config.AgentConfig) { c.PersistInterval = 0 })
	require.NoError(t, h.m.Start(endpointA))
	h.openConn(t)
	h.blockUntil(t, 2)
}

func TestRegistrationFailureIsIsolated(t *testing.T) {
	h := newHarness(t)
	h.gw.regErr = errors.New("db down")
	require.NoError(t, h.m.Start(endpointA))
	c := h.openConn(t)
	<-h.gw.regs

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.set.Agent.PersistRequests.WithLabelValues("register", "error")) == 1
	}, waitTimeout, 10*time.Millisecond)

	h.blockUntil(t, 3)
	h.clock.Advance(5 * time.Second)
	waitType(t, c, telemetry.TypeHeartbeat)
	assert.Equal(t, StateOpen, h.m.State())
	assert.Len(t, h.dialer.dialed(), 1)
}

func TestSendFailureIsLoggedOnly(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(endpointA))
	c := h.openConn(t)
	h.blockUntil(t, 3)

	c.failWrites(errors.New("broken pipe"))
	h.clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.set.Agent.TickErrors.WithLabelValues(taskMetrics)) == 1
	}, waitTimeout, 10*time.Millisecond)

	assert.Equal(t, StateOpen, h.m.State())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.set.Agent.SendErrors.WithLabelValues(telemetry.TypeSystemStats)))
	assert.Len(t, h.dialer.dialed(), 1)
}

func TestTickWhileNotOpenIsSkipped(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := &session{id: "s", pcID: "p", ctx: ctx, cancel: cancel, log: zap.NewNop(), gw: h.gw, conn: newFakeConn()}

	h.m.metricsTick(ctx, s)
	h.m.sendHeartbeat(s)

	assert.Zero(t, h.provider.loadCalls.Load(), "nothing gathered while not open")
	assert.Equal(t, 0.0, testutil.ToFloat64(h.set.Agent.TickErrors.WithLabelValues(taskMetrics)))
	assert.Equal(t, 0.0, testutil.ToFloat64(h.set.Agent.SendErrors.WithLabelValues(telemetry.TypeHeartbeat)))
	assert.Equal(t, 0.0, testutil.ToFloat64(h.set.Agent.MessagesSent.WithLabelValues(telemetry.TypeHeartbeat)))
}

func TestStaleSessionTickSendsNothing(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.m.Start(endpointA))
	c := h.openConn(t)

	h.m.mu.Lock()
	stale := h.m.sess
	h.m.mu.Unlock()
	h.m.Stop()

	before := c.writeCount()
	h.m.metricsTick(context.Background(), stale)
	h.m.sendHeartbeat(stale)
	assert.Equal(t, before, c.writeCount())
}

func TestDiskGaugesDropUnmountedFilesystems(t *testing.T) {
	h := newHarness(t, func(c *config.AgentConfig) {
		c.HeartbeatInterval = time.Hour
		c.PersistInterval = 0
	})
	h.provider.setFileSystems([]collector.FileSystem{
		{Mount: "/", Type: "ext4", Size: 100, Used: 40, Use: 40},
		{Mount: "/mnt/usb", Type: "vfat", Size: 10, Used: 5, Use: 50},
	})
	require.NoError(t, h.m.Start(endpointA))
	c := h.openConn(t)
	h.blockUntil(t, 2)

	h.clock.Advance(time.Second)
	waitType(t, c, telemetry.TypeSystemStats)
	require.Eventually(t, func() bool { return testutil.CollectAndCount(h.set.Host.DiskUsageRatio) == 2 }, waitTimeout, time.Millisecond)
	assert.Equal(t, 0.5, testutil.ToFloat64(h.set.Host.DiskUsageRatio.WithLabelValues("/mnt/usb")))

	h.provider.setFileSystems([]collector.FileSystem{{Mount: "/", Type: "ext4", Size: 100, Used: 40, Use: 40}})
	h.blockUntil(t, 2)
	h.m.State()
	h.clock.Advance(time.Second)
	waitType(t, c, telemetry.TypeSystemStats)
	require.Eventually(t, func() bool { return testutil.CollectAndCount(h.set.Host.DiskUsageRatio) == 1 }, waitTimeout, time.Millisecond)
	assert.Equal(t, 0.4, testutil.ToFloat64(h.set.Host.DiskUsageRatio.WithLabelValues("/")))
}
