package agent

import (
	"github.com/spf13/cobra"
)

func initAgentFlags(root *cobra.Command) {
	f := root.PersistentFlags()
	p := "agent."

	f.String(p+"endpoint", defaultCfg.Agent.Endpoint, "-> Collector endpoint ws:// or wss:// (采集端地址，为空则等待 /agent/start)")
	f.Duration(p+"metrics-interval", defaultCfg.Agent.MetricsInterval, "-> Realtime metrics interval (实时指标间隔)")
	f.Duration(p+"heartbeat-interval", defaultCfg.Agent.HeartbeatInterval, "-> Heartbeat interval (心跳间隔)")
	f.Duration(p+"persist-interval", defaultCfg.Agent.PersistInterval, "-> DB persistence interval, 0 disables (入库间隔，0 关闭)")
	f.Duration(p+"reconnect-delay", defaultCfg.Agent.ReconnectDelay, "-> Fixed reconnect delay (重连延迟)")
	f.Int(p+"disk-sample-every", defaultCfg.Agent.DiskSampleEvery, "-> Attach disk breakdown every N persist ticks (每N次入库附带磁盘)")
	f.Duration(p+"dial-timeout", defaultCfg.Agent.DialTimeout, "-> Websocket dial timeout (建连超时)")
	f.Duration(p+"http-timeout", defaultCfg.Agent.HTTPTimeout, "-> Persistence HTTP timeout (入库请求超时)")
	f.Duration(p+"write-timeout", defaultCfg.Agent.WriteTimeout, "-> Per-message write timeout (单条消息写超时)")
}
