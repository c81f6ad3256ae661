package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var valid = validator.New()

// EnvPrefix 环境变量前缀（TELEMETRY_AGENT_AGENT_ENDPOINT -> agent.endpoint）
const EnvPrefix = "TELEMETRY_AGENT"

// Config 全局配置结构体（聚合所有核心模块）
type Config struct {
	Server ServerConfig `yaml:"server" mapstructure:"server" comment:"本地状态/控制HTTP服务配置"`
	Agent  AgentConfig  `yaml:"agent" mapstructure:"agent" comment:"遥测会话与调度配置"`
	Log    ZapLogConfig `yaml:"log" mapstructure:"log" comment:"日志配置"`
}

// ServerConfig 本地HTTP服务配置（/health /metrics /status /agent/*）
type ServerConfig struct {
	Enable       bool          `yaml:"enable" mapstructure:"enable" comment:"是否启用本地HTTP服务"`
	Addr         string        `yaml:"addr" mapstructure:"addr" validate:"required,hostname_port" comment:"HTTP监听地址（格式：ip:port）"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" validate:"required,gt=0" comment:"读取超时时间"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" validate:"required,gt=0" comment:"写入超时时间"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" validate:"required,gt=0" comment:"空闲连接超时时间"`
}

// AgentConfig 会话与三个周期任务的配置
type AgentConfig struct {
	Endpoint          string        `yaml:"endpoint" mapstructure:"endpoint" comment:"采集端 ws:// 或 wss:// 地址，为空则等待 /agent/start"`
	MetricsInterval   time.Duration `yaml:"metrics_interval" mapstructure:"metrics_interval" validate:"gt=0" comment:"实时指标推送间隔"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" mapstructure:"heartbeat_interval" validate:"gt=0" comment:"心跳间隔"`
	PersistInterval   time.Duration `yaml:"persist_interval" mapstructure:"persist_interval" validate:"gte=0" comment:"入库间隔，0 表示关闭入库"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay" mapstructure:"reconnect_delay" validate:"gt=0" comment:"断线重连固定延迟"`
	DiskSampleEvery   int           `yaml:"disk_sample_every" mapstructure:"disk_sample_every" validate:"gte=1" comment:"每N次入库附带一次磁盘明细"`
	DialTimeout       time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout" validate:"gt=0" comment:"建连超时"`
	HTTPTimeout       time.Duration `yaml:"http_timeout" mapstructure:"http_timeout" validate:"gt=0" comment:"入库HTTP请求超时"`
	WriteTimeout      time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" validate:"gt=0" comment:"单条消息写超时"`
}

// ZapLogConfig 日志配置
type ZapLogConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"required,oneof=debug info warn error dpanic panic fatal" comment:"日志级别"`
	Format string `yaml:"format" mapstructure:"format" validate:"required,oneof=json console" comment:"控制台日志格式（json/console）"`
	Path   string `yaml:"path" mapstructure:"path" validate:"required" comment:"日志存储目录"`
	MaxAge int    `yaml:"max_age" mapstructure:"max_age" validate:"gte=1" comment:"日志文件最大保存天数"`
}

// NewDefaultConfig 创建默认配置（所有字段兜底，避免空值/非法值）
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Enable:       true,
			Addr:         "127.0.0.1:9091",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  15 * time.Second,
		},
		Agent: AgentConfig{
			Endpoint:          "",
			MetricsInterval:   time.Second,
			HeartbeatInterval: 5 * time.Second,
			PersistInterval:   10 * time.Second,
			ReconnectDelay:    3 * time.Second,
			DiskSampleEvery:   6,
			DialTimeout:       5 * time.Second,
			HTTPTimeout:       5 * time.Second,
			WriteTimeout:      5 * time.Second,
		},
		Log: ZapLogConfig{
			Level:  "info",
			Format: "console",
			Path:   "./logs",
			MaxAge: 7,
		},
	}
}

// setDefaults 把默认配置写入 viper，保证 AutomaticEnv 能覆盖到每一个键
func setDefaults(v *viper.Viper, def *Config) {
	v.SetDefault("server.enable", def.Server.Enable)
	v.SetDefault("server.addr", def.Server.Addr)
	v.SetDefault("server.read_timeout", def.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", def.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", def.Server.IdleTimeout)

	v.SetDefault("agent.endpoint", def.Agent.Endpoint)
	v.SetDefault("agent.metrics_interval", def.Agent.MetricsInterval)
	v.SetDefault("agent.heartbeat_interval", def.Agent.HeartbeatInterval)
	v.SetDefault("agent.persist_interval", def.Agent.PersistInterval)
	v.SetDefault("agent.reconnect_delay", def.Agent.ReconnectDelay)
	v.SetDefault("agent.disk_sample_every", def.Agent.DiskSampleEvery)
	v.SetDefault("agent.dial_timeout", def.Agent.DialTimeout)
	v.SetDefault("agent.http_timeout", def.Agent.HTTPTimeout)
	v.SetDefault("agent.write_timeout", def.Agent.WriteTimeout)

	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)
	v.SetDefault("log.path", def.Log.Path)
	v.SetDefault("log.max_age", def.Log.MaxAge)
}

// FlagKey 把命令行 flag 名（agent.metrics-interval）映射为配置键（agent.metrics_interval）
func FlagKey(flagName string) string {
	return strings.ReplaceAll(flagName, "-", "_")
}

// LoadConfigWithCli 加载配置（优先级：Flags > ENV > YAML > 默认值），支持 time.Duration
func LoadConfigWithCli(cmd *cobra.Command) (*Config, error) {
	cfg := NewDefaultConfig()
	v := viper.New()
	setDefaults(v, cfg)

	// 1. 绑定 Cobra Flags → Viper（仅绑定分组 flag，flag 名中的 '-' 对应键中的 '_'）
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if bindErr != nil || !strings.Contains(f.Name, ".") {
			return
		}
		bindErr = v.BindPFlag(FlagKey(f.Name), f)
	})
	if bindErr != nil {
		return nil, fmt.Errorf("bind flags: %w", bindErr)
	}

	// 2. 解析配置文件 (--config)，未显式指定且文件不存在时跳过
	configFile, _ := cmd.Flags().GetString("config")
	if configFile != "" {
		if _, err := os.Stat(configFile); err == nil || cmd.Flags().Changed("config") {
			v.SetConfigFile(configFile)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config file %s: %w", configFile, err)
			}
		}
	}

	// 3. 绑定环境变量 ENV -> Viper （TELEMETRY_AGENT_AGENT_ENDPOINT -> agent.endpoint）
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := decode(v, cfg); err != nil {
		return nil, err
	}

	// 5. 校验配置
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// decode 解码反序列化到结构体（支持 time.Duration 与逗号切片）
func decode(v *viper.Viper, cfg *Config) error {
	decoderConfig := &mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	}
	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return fmt.Errorf("new decoder: %w", err)
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// Validate 配置校验
func (c *Config) Validate() error {
	if err := valid.Struct(c); err != nil {
		return err
	}
	// 	1,校验Server服务配置
	if err := c.Server.Validate(); err != nil {
		return err
	}
	// 	2，校验会话与调度配置
	if err := c.Agent.Validate(); err != nil {
		return err
	}
	// 	3，校验日志配置
	if err := c.Log.Validate(); err != nil {
		return err
	}
	return nil
}
