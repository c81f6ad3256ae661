package telemetry

// 流式消息类型
const (
	TypeRegister    = "REGISTER"
	TypeHeartbeat   = "HEARTBEAT"
	TypeSystemStats = "SYSTEM_STATS"
)

// NotAvailable 无可用网卡时 ip/mac/iface 的取值
const NotAvailable = "N/A"

// Envelope 所有流式消息的外层结构，pcId 标记来源主机
type Envelope struct {
	Type    string `json:"type"`
	PCID    string `json:"pcId"`
	Payload any    `json:"payload,omitempty"`
}

// Profile REGISTER 消息体（StaticProfile），Memory.Total 单位 GB
type Profile struct {
	System ProfileSystem `json:"system"`
	CPU    ProfileCPU    `json:"cpu"`
	OS     ProfileOS     `json:"os"`
	Memory ProfileMemory `json:"memory"`
}

type ProfileSystem struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
}

type ProfileCPU struct {
	Brand string `json:"brand"`
	Cores int    `json:"cores"`
}

type ProfileOS struct {
	Distro string `json:"distro"`
	Arch   string `json:"arch"`
}

type ProfileMemory struct {
	Total float64 `json:"total"`
}

// SystemStats SYSTEM_STATS 消息体
type SystemStats struct {
	Timestamp int64        `json:"timestamp"` // unix ms
	Uptime    uint64       `json:"uptime"`    // seconds
	CPU       StatsCPU     `json:"cpu"`
	Memory    StatsMemory  `json:"memory"`
	Network   StatsNetwork `json:"network"`
	Disks     []StatsDisk  `json:"disks"`
}

type StatsCPU struct {
	Load float64 `json:"load"`
}

// StatsMemory bytes
type StatsMemory struct {
	Used  uint64 `json:"used"`
	Free  uint64 `json:"free"`
	Total uint64 `json:"total"`
}

// StatsNetwork upload/download 为 KB/s 两位小数字符串
type StatsNetwork struct {
	IP       string `json:"ip"`
	MAC      string `json:"mac"`
	Iface    string `json:"iface"`
	Upload   string `json:"upload"`
	Download string `json:"download"`
}

// StatsDisk 容量单位 GB，Usage 形如 "42.5 %"
type StatsDisk struct {
	Mount     string  `json:"mount"`
	Type      string  `json:"type"`
	Size      float64 `json:"size"`
	Used      float64 `json:"used"`
	Available float64 `json:"available"`
	Usage     string  `json:"usage"`
}

// AgentRegistration POST /api/agent/register 请求体
type AgentRegistration struct {
	PCID          string  `json:"pc_id"`
	Hostname      string  `json:"hostname"`
	Manufacturer  string  `json:"manufacturer"`
	Model         string  `json:"model"`
	OSDistro      string  `json:"os_distro"`
	OSArch        string  `json:"os_arch"`
	CPUBrand      string  `json:"cpu_brand"`
	CPUCores      int     `json:"cpu_cores"`
	TotalMemoryGB float64 `json:"total_memory_gb"`
}

// MetricsSnapshot POST /api/metrics 请求体
// Disks 只在磁盘采样周期非 nil；采样周期即使没有分区也发送 "disks": []
type MetricsSnapshot struct {
	PCID        string       `json:"pc_id"`
	CPULoad     float64      `json:"cpu_load"`
	MemoryUsed  uint64       `json:"memory_used"`
	MemoryFree  uint64       `json:"memory_free"`
	MemoryTotal uint64       `json:"memory_total"`
	Uptime      uint64       `json:"uptime"`
	Disks       *[]DiskUsage `json:"disks,omitempty"`
}

type DiskUsage struct {
	Mount        string  `json:"mount"`
	Type         string  `json:"type"`
	TotalGB      float64 `json:"total_gb"`
	UsedGB       float64 `json:"used_gb"`
	AvailableGB  float64 `json:"available_gb"`
	UsagePercent float64 `json:"usage_percent"`
}
