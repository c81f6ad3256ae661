package telemetry

import (
	"math"
	"strconv"
	"time"

	"github.com/telemetry-agent/pkg/collector"
)

const bytesPerGB = 1024 * 1024 * 1024

// Round2 四舍五入保留两位小数
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// GB bytes -> GB，两位小数
func GB(bytes uint64) float64 {
	return Round2(float64(bytes) / bytesPerGB)
}

// Percent 42.46 -> "42.5 %"
func Percent(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64) + " %"
}

// KBps bytes/s -> KB/s 两位小数字符串
func KBps(bytesPerSec float64) string {
	return strconv.FormatFloat(bytesPerSec/1024, 'f', 2, 64)
}

func diskType(t string) string {
	if t == "" {
		return "Unknown"
	}
	return t
}

// NewProfile 由静态采集结果构造 REGISTER 消息体
func NewProfile(info collector.StaticInfo) Profile {
	return Profile{
		System: ProfileSystem{Manufacturer: info.Manufacturer, Model: info.Model},
		CPU:    ProfileCPU{Brand: info.CPUBrand, Cores: info.CPUCores},
		OS:     ProfileOS{Distro: info.OSDistro, Arch: info.OSArch},
		Memory: ProfileMemory{Total: GB(info.TotalMemory)},
	}
}

// NewAgentRegistration hostname 与 pc_id 取同一个值，与采集端约定一致
func NewAgentRegistration(pcID string, p Profile) AgentRegistration {
	return AgentRegistration{
		PCID:          pcID,
		Hostname:      pcID,
		Manufacturer:  p.System.Manufacturer,
		Model:         p.System.Model,
		OSDistro:      p.OS.Distro,
		OSArch:        p.OS.Arch,
		CPUBrand:      p.CPU.Brand,
		CPUCores:      p.CPU.Cores,
		TotalMemoryGB: p.Memory.Total,
	}
}

// Sample 一次实时采集的原始结果
type Sample struct {
	Load        collector.Load
	Memory      collector.Memory
	Uptime      uint64
	FileSystems []collector.FileSystem
	Interfaces  []collector.NetworkInterface
	Stats       []collector.NetworkStats
}

// NewNetwork 上报网卡取第一块非内部且有 IPv4 的网卡，吞吐取 stats[0]
func NewNetwork(ifaces []collector.NetworkInterface, stats []collector.NetworkStats) StatsNetwork {
	n := StatsNetwork{IP: NotAvailable, MAC: NotAvailable, Iface: NotAvailable, Upload: "0", Download: "0"}
	if iface, ok := collector.DefaultInterface(ifaces); ok {
		n.IP = iface.IP4
		n.Iface = iface.Iface
		if iface.MAC != "" {
			n.MAC = iface.MAC
		}
	}
	if len(stats) > 0 {
		n.Upload = KBps(stats[0].TxSec)
		n.Download = KBps(stats[0].RxSec)
	}
	return n
}

// NewSystemStats 组装 SYSTEM_STATS 消息体
func NewSystemStats(now time.Time, s Sample) SystemStats {
	disks := make([]StatsDisk, 0, len(s.FileSystems))
	for _, fs := range s.FileSystems {
		disks = append(disks, StatsDisk{
			Mount:     fs.Mount,
			Type:      diskType(fs.Type),
			Size:      GB(fs.Size),
			Used:      GB(fs.Used),
			Available: GB(fs.Available),
			Usage:     Percent(fs.Use),
		})
	}
	return SystemStats{
		Timestamp: now.UnixMilli(),
		Uptime:    s.Uptime,
		CPU:       StatsCPU{Load: Round2(s.Load.CurrentLoad)},
		Memory:    StatsMemory{Used: s.Memory.Used, Free: s.Memory.Free, Total: s.Memory.Total},
		Network:   NewNetwork(s.Interfaces, s.Stats),
		Disks:     disks,
	}
}

// NewMetricsSnapshot 组装入库快照，memory_free 取 available；withDisks 为 true 时附带磁盘明细
func NewMetricsSnapshot(pcID string, load collector.Load, mem collector.Memory, uptime uint64,
	fss []collector.FileSystem, withDisks bool) MetricsSnapshot {
	snap := MetricsSnapshot{
		PCID:        pcID,
		CPULoad:     Round2(load.CurrentLoad),
		MemoryUsed:  mem.Used,
		MemoryFree:  mem.Available,
		MemoryTotal: mem.Total,
		Uptime:      uptime,
	}
	if !withDisks {
		return snap
	}
	disks := make([]DiskUsage, 0, len(fss))
	for _, fs := range fss {
		disks = append(disks, DiskUsage{
			Mount:        fs.Mount,
			Type:         diskType(fs.Type),
			TotalGB:      GB(fs.Size),
			UsedGB:       GB(fs.Used),
			AvailableGB:  GB(fs.Available),
			UsagePercent: Round2(fs.Use),
		})
	}
	snap.Disks = &disks
	return snap
}
