package collector

import (
	"sync"
	"time"
)

// ioSample 上一次采集的累计字节数
type ioSample struct {
	rx, tx uint64
	at     time.Time
}

// ioCounter 单网卡累计计数（与 gopsutil IOCountersStat 对应的最小子集）
type ioCounter struct {
	Name      string
	BytesRecv uint64
	BytesSent uint64
}

// rateTracker 由两次累计值之差计算吞吐
// 首次采集只记录基准，速率为 0；计数器回绕（重启网卡）同样按 0 处理
type rateTracker struct {
	mu   sync.Mutex
	last map[string]ioSample
}

func newRateTracker() *rateTracker {
	return &rateTracker{last: make(map[string]ioSample)}
}

func (r *rateTracker) update(now time.Time, counters []ioCounter) []NetworkStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]NetworkStats, 0, len(counters))
	for _, c := range counters {
		stat := NetworkStats{Iface: c.Name}
		prev, ok := r.last[c.Name]
		if ok {
			dt := now.Sub(prev.at).Seconds()
			if dt > 0 && c.BytesRecv >= prev.rx && c.BytesSent >= prev.tx {
				stat.RxSec = float64(c.BytesRecv-prev.rx) / dt
				stat.TxSec = float64(c.BytesSent-prev.tx) / dt
			}
		}
		r.last[c.Name] = ioSample{rx: c.BytesRecv, tx: c.BytesSent, at: now}
		out = append(out, stat)
	}
	return out
}
