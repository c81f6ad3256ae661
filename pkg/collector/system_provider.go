package collector

import (
	"context"
	"fmt"
	stdnet "net"
	"runtime"
	"strings"

	"github.com/jonboulle/clockwork"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"
	"go.uber.org/zap"
)

const unknown = "Unknown"

// SystemProvider 基于 gopsutil 的 Provider 实现
type SystemProvider struct {
	clock     clockwork.Clock
	log       *zap.Logger
	rates     *rateTracker
	load      *loadTracker
	cpuTimes  func(ctx context.Context) (cpu.TimesStat, error)
	dmiDir    string // 厂商/型号所在目录
	osRelease string // 发行版信息文件
}

var _ Provider = (*SystemProvider)(nil)

// NewSystemProvider 创建系统采集器，clock 用于计算网卡吞吐的时间差
func NewSystemProvider(clock clockwork.Clock, log *zap.Logger) *SystemProvider {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SystemProvider{
		clock:     clock,
		log:       log,
		rates:     newRateTracker(),
		load:      newLoadTracker(minLoadResample),
		cpuTimes:  totalCPUTimes,
		dmiDir:    "/sys/class/dmi/id",
		osRelease: "/etc/os-release",
	}
}

// Check 启动前预检查，CPU 信息不可读时返回错误（调用方仅告警）
func (p *SystemProvider) Check(ctx context.Context) error {
	if _, err := cpu.CountsWithContext(ctx, true); err != nil {
		return fmt.Errorf("get cpu counts: %w", err)
	}
	// 预热：记录第一次 CPU 时间作为基准，首个 tick 就能算出使用率
	if _, err := p.CurrentLoad(ctx); err != nil {
		return err
	}
	return nil
}

func totalCPUTimes(ctx context.Context) (cpu.TimesStat, error) {
	times, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return cpu.TimesStat{}, err
	}
	if len(times) == 0 {
		return cpu.TimesStat{}, fmt.Errorf("empty result")
	}
	return times[0], nil
}

// StaticInfo 单项失败用 Unknown 兜底，只有总内存读不到才整体失败
func (p *SystemProvider) StaticInfo(ctx context.Context) (StaticInfo, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return StaticInfo{}, fmt.Errorf("get memory: %w", err)
	}

	info := StaticInfo{
		Manufacturer: readDMI(p.dmiDir, "sys_vendor"),
		Model:        readDMI(p.dmiDir, "product_name"),
		CPUBrand:     unknown,
		OSDistro:     readOSReleaseName(p.osRelease),
		OSArch:       runtime.GOARCH,
		TotalMemory:  vm.Total,
	}

	if cpus, err := cpu.InfoWithContext(ctx); err != nil {
		p.log.Warn("cpu info unavailable", zap.Error(err))
	} else if len(cpus) > 0 && strings.TrimSpace(cpus[0].ModelName) != "" {
		info.CPUBrand = strings.TrimSpace(cpus[0].ModelName)
	}

	if cores, err := cpu.CountsWithContext(ctx, true); err != nil {
		p.log.Warn("cpu counts unavailable", zap.Error(err))
	} else {
		info.CPUCores = cores
	}

	if hi, err := host.InfoWithContext(ctx); err != nil {
		p.log.Warn("host info unavailable", zap.Error(err))
	} else {
		if info.OSDistro == "" {
			info.OSDistro = hi.Platform
		}
		if hi.KernelArch != "" {
			info.OSArch = hi.KernelArch
		}
	}
	if info.OSDistro == "" {
		info.OSDistro = runtime.GOOS
	}

	p.log.Debug("collected static info",
		zap.String("manufacturer", info.Manufacturer),
		zap.String("model", info.Model),
		zap.String("cpu_brand", info.CPUBrand),
		zap.Int("cpu_cores", info.CPUCores),
		zap.String("os_distro", info.OSDistro),
		zap.String("os_arch", info.OSArch))
	return info, nil
}

// CurrentLoad 并发调用共享同一份基准，200ms 内重复调用返回同一读数
func (p *SystemProvider) CurrentLoad(ctx context.Context) (Load, error) {
	usage, err := p.load.current(p.clock.Now(), func() (cpu.TimesStat, error) { return p.cpuTimes(ctx) })
	if err != nil {
		return Load{}, fmt.Errorf("get cpu usage: %w", err)
	}
	return Load{CurrentLoad: usage}, nil
}

func (p *SystemProvider) Memory(ctx context.Context) (Memory, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Memory{}, fmt.Errorf("get memory: %w", err)
	}
	return Memory{Total: vm.Total, Used: vm.Used, Free: vm.Free, Available: vm.Available}, nil
}

func (p *SystemProvider) Uptime(ctx context.Context) (uint64, error) {
	up, err := host.UptimeWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("get uptime: %w", err)
	}
	return up, nil
}

// FileSystems 只统计物理分区，同一挂载点只取一次；单个分区读失败跳过
func (p *SystemProvider) FileSystems(ctx context.Context) ([]FileSystem, error) {
	parts, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("get partitions: %w", err)
	}
	seen := make(map[string]struct{}, len(parts))
	out := make([]FileSystem, 0, len(parts))
	for _, part := range parts {
		if _, ok := seen[part.Mountpoint]; ok {
			continue
		}
		seen[part.Mountpoint] = struct{}{}

		usage, err := disk.UsageWithContext(ctx, part.Mountpoint)
		if err != nil {
			p.log.Debug("skip filesystem", zap.String("mount", part.Mountpoint), zap.Error(err))
			continue
		}
		out = append(out, FileSystem{
			Mount:     part.Mountpoint,
			Type:      part.Fstype,
			Size:      usage.Total,
			Used:      usage.Used,
			Available: usage.Free,
			Use:       usage.UsedPercent,
		})
	}
	return out, nil
}

func (p *SystemProvider) NetworkInterfaces(ctx context.Context) ([]NetworkInterface, error) {
	list, err := psnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("get interfaces: %w", err)
	}
	out := make([]NetworkInterface, 0, len(list))
	for _, iface := range list {
		out = append(out, toNetworkInterface(iface))
	}
	return out, nil
}

// NetworkStats 默认网卡（第一块有 IPv4 的非内部网卡）排在首位
func (p *SystemProvider) NetworkStats(ctx context.Context) ([]NetworkStats, error) {
	counters, err := psnet.IOCountersWithContext(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("get io counters: %w", err)
	}
	samples := make([]ioCounter, 0, len(counters))
	for _, c := range counters {
		samples = append(samples, ioCounter{Name: c.Name, BytesRecv: c.BytesRecv, BytesSent: c.BytesSent})
	}
	stats := p.rates.update(p.clock.Now(), samples)

	ifaces, err := p.NetworkInterfaces(ctx)
	if err != nil {
		p.log.Debug("default interface unknown", zap.Error(err))
		return stats, nil
	}
	if def, ok := DefaultInterface(ifaces); ok {
		stats = orderDefaultFirst(stats, def.Iface)
	}
	return stats, nil
}

// DefaultInterface 第一块非内部且有 IPv4 地址的网卡
func DefaultInterface(ifaces []NetworkInterface) (NetworkInterface, bool) {
	for _, n := range ifaces {
		if !n.Internal && n.IP4 != "" {
			return n, true
		}
	}
	return NetworkInterface{}, false
}

func orderDefaultFirst(stats []NetworkStats, iface string) []NetworkStats {
	for i, s := range stats {
		if s.Iface != iface {
			continue
		}
		if i == 0 {
			return stats
		}
		out := make([]NetworkStats, 0, len(stats))
		out = append(out, s)
		out = append(out, stats[:i]...)
		out = append(out, stats[i+1:]...)
		return out
	}
	return stats
}

func toNetworkInterface(iface psnet.InterfaceStat) NetworkInterface {
	n := NetworkInterface{Iface: iface.Name, MAC: iface.HardwareAddr}
	for _, flag := range iface.Flags {
		if flag == "loopback" {
			n.Internal = true
		}
	}
	for _, addr := range iface.Addrs {
		ip, _, err := stdnet.ParseCIDR(addr.Addr)
		if err != nil {
			ip = stdnet.ParseIP(addr.Addr)
		}
		if ip != nil && ip.To4() != nil {
			n.IP4 = ip.String()
			break
		}
	}
	return n
}
