package collector

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// minLoadResample 两次采样的最小间隔，间隔内的调用直接复用上一次结果
const minLoadResample = 200 * time.Millisecond

// loadTracker 保存上一次的 CPU 时间，由两次累计值之差计算使用率
// 实时推送与入库同一时刻取值时拿到的是同一个读数
type loadTracker struct {
	mu       sync.Mutex
	minEvery time.Duration
	last     cpu.TimesStat
	at       time.Time
	value    float64
	sampled  bool
}

func newLoadTracker(minEvery time.Duration) *loadTracker {
	return &loadTracker{minEvery: minEvery}
}

// current 距上次采样不足 minEvery 时返回缓存值；read 只在需要重新采样时调用
func (l *loadTracker) current(now time.Time, read func() (cpu.TimesStat, error)) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sampled && now.Sub(l.at) < l.minEvery {
		return l.value, nil
	}
	t, err := read()
	if err != nil {
		return 0, err
	}
	if l.sampled {
		busy, total := busyTotal(t)
		prevBusy, prevTotal := busyTotal(l.last)
		// 总时间没有前进（同一 jiffy 内）保留上一次的读数
		if total > prevTotal {
			l.value = clampPercent((busy - prevBusy) / (total - prevTotal) * 100)
		}
	}
	l.last = t
	l.at = now
	l.sampled = true
	return l.value, nil
}

// busyTotal guest 已计入 user，不重复累加
func busyTotal(t cpu.TimesStat) (busy, total float64) {
	busy = t.User + t.Nice + t.System + t.Irq + t.Softirq + t.Steal
	return busy, busy + t.Idle + t.Iowait
}

func clampPercent(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
