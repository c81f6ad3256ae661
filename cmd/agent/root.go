package agent

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/telemetry-agent/internal/server"
	"github.com/telemetry-agent/internal/session"
	"github.com/telemetry-agent/pkg/collector"
	"github.com/telemetry-agent/pkg/config"
	"github.com/telemetry-agent/pkg/identity"
	"github.com/telemetry-agent/pkg/logger"
	"github.com/telemetry-agent/pkg/metrics"
	"github.com/telemetry-agent/pkg/signal"
	"github.com/telemetry-agent/pkg/util"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile   string
	GlobalCfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "telemetry-agent",
	Short: "Host telemetry agent: streams system metrics to a collector over websocket and persists snapshots over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		var err error
		GlobalCfg, err = config.LoadConfigWithCli(cmd)
		if err != nil {
			// 统一输出错误到 stderr，不返回给 cobra
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			fmt.Fprintf(os.Stderr, "请检查配置文件路径或使用 -c 参数指定\n")
			os.Exit(1)
		}
		if err := runAgent(cmd.Context(), GlobalCfg); err != nil {
			fmt.Fprintf(os.Stderr, "服务启动失败: %v\n", err)
			os.Exit(1)
		}
		return nil
	},
}

func Execute() {
	cobra.CheckErr(rootCmd.ExecuteContext(context.Background()))
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "configs/config.yaml", "配置文件路径")
	// 注册分组 flag
	initServerFlags(rootCmd)
	initAgentFlags(rootCmd)
	initLogFlags(rootCmd)
}

func runAgent(ctx context.Context, cfg *config.Config) error {
	if _, err := logger.InitLogger(&cfg.Log); err != nil {
		return fmt.Errorf("日志初始化失败: %w", err)
	}
	defer logger.Sync()

	util.PrintBanner(os.Stdout, "telemetry-agent", "blue")
	logger.SetDefaultComponent("main")
	logger.Info("log initialization successful",
		zap.String("path", cfg.Log.Path), zap.String("level", cfg.Log.Level), zap.String("format", cfg.Log.Format))
	logger.Debug("configuration loaded", zap.String("config", cfgFile), zap.Any("agent", cfg.Agent))

	const enableProcess = true
	registry, set := metrics.InitPromRegistry(enableProcess)

	clock := clockwork.NewRealClock()
	provider := collector.NewSystemProvider(clock, logger.Named("collector"))
	if err := provider.Check(ctx); err != nil {
		logger.Warn("sensor precheck failed, metrics may be incomplete", zap.Error(err))
	}

	mgr := session.NewManager(session.Options{
		Config:   cfg.Agent,
		Provider: provider,
		Identity: identity.NewResolver(),
		Clock:    clock,
		Metrics:  set,
		Logger:   logger.Named("session"),
	})

	var httpServer *server.Server
	if cfg.Server.Enable {
		httpServer = server.NewHTTPServer(cfg.Server, logger.Named("server"), registry, mgr)
		if err := httpServer.Start(); err != nil {
			return fmt.Errorf("start HTTP server failed: %w", err)
		}
	}

	switch {
	case cfg.Agent.Endpoint != "":
		if err := mgr.Start(cfg.Agent.Endpoint); err != nil {
			return fmt.Errorf("start agent: %w", err)
		}
	case httpServer != nil:
		logger.Info("no endpoint configured, waiting for POST /agent/start", zap.String("addr", cfg.Server.Addr))
	default:
		logger.Warn("no endpoint configured and local server disabled, agent is idle")
	}

	return signal.WaitForShutdown(ctx, logger.Named("signal"), shutdownTimeout, func() error {
		mgr.Stop()
		if httpServer != nil {
			if err := httpServer.Shutdown(); err != nil {
				return fmt.Errorf("shutdown HTTP server failed: %w", err)
			}
		}
		logger.Info("all services shutdown successfully")
		return nil
	})
}
