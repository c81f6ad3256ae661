package metrics

import "github.com/prometheus/client_golang/prometheus"

// HostMetrics 最近一次实时采集的主机快照（与 SYSTEM_STATS 同源）
type HostMetrics struct {
	CPULoad          prometheus.Gauge
	MemoryUsedBytes  prometheus.Gauge
	MemoryTotalBytes prometheus.Gauge
	UploadKBps       prometheus.Gauge
	DownloadKBps     prometheus.Gauge
	DiskUsageRatio   *prometheus.GaugeVec
}

func (m *MetricFactory) NewHostMetrics() *HostMetrics {
	h := &HostMetrics{
		CPULoad: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "host_cpu_load_percent",
			Help: "Current CPU load percentage",
		}),
		MemoryUsedBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "host_memory_used_bytes",
			Help: "Used memory in bytes",
		}),
		MemoryTotalBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "host_memory_total_bytes",
			Help: "Total memory in bytes",
		}),
		UploadKBps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "host_network_upload_kbytes_per_second",
			Help: "Upload throughput of the reporting interface in KB/s",
		}),
		DownloadKBps: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "host_network_download_kbytes_per_second",
			Help: "Download throughput of the reporting interface in KB/s",
		}),
		DiskUsageRatio: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "host_disk_usage_ratio",
			Help: "Filesystem usage ratio (0-1) per mount point",
		}, []string{"mount"}),
	}
	m.reg.MustRegister(h.CPULoad, h.MemoryUsedBytes, h.MemoryTotalBytes, h.UploadKBps, h.DownloadKBps, h.DiskUsageRatio)
	return h
}
