package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	agent "github.com/rzbill/hostlive/internal/cmd/agent"
	clientcmd "github.com/rzbill/hostlive/internal/cmd/client"
	cfgpkg "github.com/rzbill/hostlive/internal/config"
	logpkg "github.com/rzbill/hostlive/pkg/log"
)

func main() {
	// Respect HOSTLIVE_LOG_LEVEL for CLI output before config is loaded
	level := os.Getenv("HOSTLIVE_LOG_LEVEL")
	parsed, err := logpkg.ParseLevel(level)
	if err != nil || level == "" {
		parsed = logpkg.InfoLevel
	}
	logger := logpkg.NewLogger(
		logpkg.WithLevel(parsed),
		logpkg.WithFormatter(&logpkg.TextFormatter{}),
		logpkg.WithOutput(logpkg.NewConsoleOutput()),
	)

	rootCmd := &cobra.Command{
		Use:   "hostlive",
		Short: "hostlive realtime client agent",
		Long:  "hostlive keeps channel caches fresh by long-polling a subscribe endpoint with one leader per session and channel.",
	}
	rootCmd.PersistentFlags().StringP("config", "c", os.Getenv("HOSTLIVE_CONFIG"), "Config file (JSON or YAML)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run instances and print delivered events as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("instances") {
				cfg.Instances, _ = cmd.Flags().GetInt("instances")
			}
			if cmd.Flags().Changed("channel") {
				cfg.Channels, _ = cmd.Flags().GetStringSlice("channel")
			}
			if v, _ := cmd.Flags().GetString("http"); v != "" {
				cfg.Status.HTTPAddr = v
			}
			if v, _ := cmd.Flags().GetString("grpc"); v != "" {
				cfg.Status.GRPCAddr = v
			}
			if v, _ := cmd.Flags().GetString("log-level"); v != "" {
				cfg.Log.Level = v
			}
			if v, _ := cmd.Flags().GetString("log-format"); v != "" {
				cfg.Log.Format = v
			}
			where, _ := cmd.Flags().GetString("where")
			dedup, _ := cmd.Flags().GetInt("dedup-window")

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if err := agent.Run(ctx, agent.Options{
				Config:      cfg,
				Out:         cmd.OutOrStdout(),
				Where:       where,
				DedupWindow: dedup,
			}); err != nil {
				return fmt.Errorf("agent error: %w", err)
			}
			// brief delay to allow logs flush
			time.Sleep(100 * time.Millisecond)
			return nil
		},
	}
	runCmd.Flags().Int("instances", 1, "Number of in-process instances sharing the session")
	runCmd.Flags().StringSlice("channel", nil, "Channels to follow (default from config)")
	runCmd.Flags().String("http", "", "Status HTTP listen address, e.g. 127.0.0.1:9090")
	runCmd.Flags().String("grpc", "", "Status gRPC listen address, e.g. 127.0.0.1:50051")
	runCmd.Flags().String("where", "", "CEL predicate on printed events, e.g. metadata.amount > 100.0")
	runCmd.Flags().Int("dedup-window", agent.DefaultDedupWindow, "Recent event ids remembered per instance")
	runCmd.Flags().String("log-level", "", "Log level: debug|info|warn|error")
	runCmd.Flags().String("log-format", "", "Log format: text|json")
	rootCmd.AddCommand(runCmd)

	leaseCmd := &cobra.Command{Use: "lease", Short: "Lease store operations"}
	leaseCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the stored lease of every configured channel",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return agent.ShowLeases(cmd.Context(), cfg, cmd.OutOrStdout(), logger)
		},
	})
	rootCmd.AddCommand(leaseCmd)

	cursorCmd := &cobra.Command{Use: "cursor", Short: "Cursor store operations"}
	cursorCmd.AddCommand(&cobra.Command{
		Use:   "reset [channel...]",
		Short: "Drop stored cursors (all configured channels when none given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := agent.ResetCursors(cmd.Context(), cfg, args, logger); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cursors reset")
			return nil
		},
	})
	rootCmd.AddCommand(cursorCmd)

	rootCmd.AddCommand(clientcmd.NewStatusCommand(apiURL))
	rootCmd.AddCommand(clientcmd.NewInstanceCommand(apiURL))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (cfgpkg.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func apiURL() string {
	if v := os.Getenv("HOSTLIVE_HTTP"); v != "" {
		return v
	}
	return "http://127.0.0.1:9090"
}
