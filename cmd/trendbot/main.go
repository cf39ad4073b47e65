package main

import (
	"context"
	"fmt"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"trendbot-go/internal/config"
)

const defaultConfigPath = "internal/config/config.yaml"

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootOptions struct {
	configPath string
	envFile    string
	logLevel   string
	logFormat  string
}

func main() {
	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:          "trendbot",
		Short:        "Single-symbol RSI/EMA/ATR trend bot for Binance spot",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath, "path to the YAML config")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file with API secrets (optional)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override app.log_level")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "override app.log_format (json|console)")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newConfigCmd(opts))
	root.AddCommand(newKeysCmd(opts))
	root.AddCommand(newVersionCmd())
	return root
}

// load reads the dotenv file, the YAML config and the environment overlay.
func (o *rootOptions) load() (*config.Config, error) {
	config.LoadDotEnv(o.envFile)
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()
	if o.logLevel != "" {
		cfg.App.LogLevel = o.logLevel
	}
	if o.logFormat != "" {
		cfg.App.LogFormat = o.logFormat
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "trendbot %s\n", version)
		},
	}
}
