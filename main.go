package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"lobbyrelay/server"
)

// version 构建时通过 -ldflags 注入
var version = "dev"

// lobbyrelay 入口：启动 HTTP + WebSocket 大厅中继
func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		port       int
		logLevel   string
		logFile    string
	)

	root := &cobra.Command{
		Use:           "lobbyrelay",
		Short:         "Realtime lobby and chat relay over websocket",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := server.LoadConfig(configPath)
			if err != nil {
				return err
			}
			// 命令行参数优先级最高
			flags := cmd.Flags()
			if flags.Changed("port") {
				cfg.Port = port
			}
			if flags.Changed("log-level") {
				cfg.Log.Level = logLevel
			}
			if flags.Changed("log-file") {
				cfg.Log.File = logFile
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			log, err := server.NewLogger(cfg.Log)
			if err != nil {
				return err
			}
			defer server.SyncLogger(log)

			// 优雅退出（Ctrl+C）
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return server.NewRelay(cfg, log).Run(ctx)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "path to a YAML config file")
	pf.IntVar(&port, "port", server.DefaultPort, "listen port (overrides PORT and config file)")
	pf.StringVar(&logLevel, "log-level", server.DefaultLogLevel, "log level: debug, info, warn, error")
	pf.StringVar(&logFile, "log-file", server.DefaultLogFile, "rotating log file, empty to log to stdout only")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	})
	return root
}
