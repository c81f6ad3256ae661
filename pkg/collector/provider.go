package collector

import "context"

// StaticInfo 进程生命周期内只采集一次的主机静态画像
type StaticInfo struct {
	Manufacturer string
	Model        string
	CPUBrand     string
	CPUCores     int
	OSDistro     string
	OSArch       string
	TotalMemory  uint64 // bytes
}

// Load 当前CPU使用率（百分比 0-100）
type Load struct {
	CurrentLoad float64
}

// Memory 内存快照（bytes）
type Memory struct {
	Total     uint64
	Used      uint64
	Free      uint64
	Available uint64
}

// FileSystem 单个挂载点的容量（bytes），Use 为百分比
type FileSystem struct {
	Mount     string
	Type      string
	Size      uint64
	Used      uint64
	Available uint64
	Use       float64
}

// NetworkInterface 网卡描述，Internal 表示回环等内部网卡
type NetworkInterface struct {
	Iface    string
	IP4      string
	MAC      string
	Internal bool
}

// NetworkStats 网卡吞吐（bytes/s）
type NetworkStats struct {
	Iface string
	RxSec float64
	TxSec float64
}

// Provider 传感器抽象，会话层只依赖这个接口
// 所有方法都可能阻塞（读取 /proc、/sys 或系统调用），必须可被 ctx 取消
type Provider interface {
	StaticInfo(ctx context.Context) (StaticInfo, error)
	CurrentLoad(ctx context.Context) (Load, error)
	Memory(ctx context.Context) (Memory, error)
	Uptime(ctx context.Context) (uint64, error)
	FileSystems(ctx context.Context) ([]FileSystem, error)
	NetworkInterfaces(ctx context.Context) ([]NetworkInterface, error)
	// NetworkStats 第一个元素是默认网卡
	NetworkStats(ctx context.Context) ([]NetworkStats, error)
}
