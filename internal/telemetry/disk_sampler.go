package telemetry

import "sync"

// DiskSampler 入库周期计数，每 every 次返回一次 true 并清零
// 计数跨会话保留，重连不会重置
type DiskSampler struct {
	mu    sync.Mutex
	every int
	tick  int
}

func NewDiskSampler(every int) *DiskSampler {
	if every < 1 {
		every = 1
	}
	return &DiskSampler{every: every}
}

// Next 记一次入库 tick，返回本次是否附带磁盘明细
func (d *DiskSampler) Next() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tick++
	if d.tick >= d.every {
		d.tick = 0
		return true
	}
	return false
}
