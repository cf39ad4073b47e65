package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"trendbot-go/internal/config"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or edit the configuration",
	}

	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print a configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), cfg)
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check the configuration without starting the bot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config ok")
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "edit",
		Short: "Interactively edit bankroll, fee and strategy knobs, then save",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			reader := bufio.NewReader(cmd.InOrStdin())
			out := cmd.OutOrStdout()
			editPaper(reader, out, cfg)
			editStrategy(reader, out, cfg)
			if err := cfg.ValidateFile(); err != nil {
				return err
			}
			if err := config.Save(opts.configPath, cfg); err != nil {
				return err
			}
			fmt.Fprintf(out, "saved %s\n", opts.configPath)
			return nil
		},
	})

	return configCmd
}

func printSummary(w io.Writer, cfg *config.Config) {
	network := "production"
	if cfg.Exchange.Testnet {
		network = "testnet"
	}
	keys := "missing"
	if cfg.Exchange.APIKey != "" && cfg.Exchange.APISecret != "" {
		keys = "present"
	}
	fmt.Fprintln(w, "--- Configuration Summary ---")
	fmt.Fprintf(w, "Mode: %s | exchange: %s (%s) | keys: %s\n", cfg.App.Mode, cfg.Exchange.Name, network, keys)
	fmt.Fprintf(w, "Symbol: %s | interval: %s | quote asset: %s\n", cfg.Exchange.Symbol, cfg.Exchange.Interval, cfg.Exchange.QuoteAsset)
	fmt.Fprintf(w, "REST: %s | stream: %s\n", cfg.Exchange.RESTBaseURL, cfg.Exchange.StreamBaseURL)
	fmt.Fprintf(w, "Starting cash: %s | quantity: %s | fee rate: %s\n", cfg.Paper.StartingCash, cfg.Paper.Quantity, cfg.Paper.FeeRate)
	fmt.Fprintf(w, "Per-trade notional cap: %s\n", cfg.Risk.MaxNotionalPerTrade)
	fmt.Fprintf(w, "RSI %d (%s/%s) | EMA %d | ATR %d (stop %sx, trail %sx) | volume window %d\n",
		cfg.Strategy.RSIPeriod, cfg.Strategy.Oversold, cfg.Strategy.Overbought,
		cfg.Strategy.EMAPeriod, cfg.Strategy.ATRPeriod, cfg.Strategy.StopLossATR, cfg.Strategy.TrailingATR,
		cfg.Strategy.VolumeWindow)
	fmt.Fprintf(w, "Window: %d bars | backoff %dms..%dms x%.1f\n",
		cfg.Session.WindowCapacity, cfg.Session.BackoffInitialMs, cfg.Session.BackoffMaxMs, cfg.Session.BackoffFactor)
	fmt.Fprintf(w, "Sinks: jsonl=%q sqlite=%q redis=%q\n", cfg.Persistence.JSONLPath, cfg.Persistence.SQLitePath, cfg.Persistence.RedisAddr)
}

func editPaper(reader *bufio.Reader, w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "--- Edit Bankroll / Fees ---")
	cfg.Paper.StartingCash = promptDecimal(reader, w, "Starting cash", cfg.Paper.StartingCash)
	cfg.Paper.Quantity = promptDecimal(reader, w, "Order quantity", cfg.Paper.Quantity)
	cfg.Paper.FeeRate = promptDecimal(reader, w, "Fee rate", cfg.Paper.FeeRate)
	cfg.Risk.MaxNotionalPerTrade = promptDecimal(reader, w, "Max notional per trade (0 = unlimited)", cfg.Risk.MaxNotionalPerTrade)
}

func editStrategy(reader *bufio.Reader, w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "--- Edit Strategy ---")
	cfg.Strategy.RSIPeriod = promptInt(reader, w, "RSI period", cfg.Strategy.RSIPeriod)
	cfg.Strategy.EMAPeriod = promptInt(reader, w, "EMA period", cfg.Strategy.EMAPeriod)
	cfg.Strategy.ATRPeriod = promptInt(reader, w, "ATR period", cfg.Strategy.ATRPeriod)
	cfg.Strategy.Oversold = promptDecimal(reader, w, "RSI oversold", cfg.Strategy.Oversold)
	cfg.Strategy.Overbought = promptDecimal(reader, w, "RSI overbought", cfg.Strategy.Overbought)
	cfg.Strategy.StopLossATR = promptDecimal(reader, w, "Stop loss (x ATR)", cfg.Strategy.StopLossATR)
	cfg.Strategy.TrailingATR = promptDecimal(reader, w, "Trailing stop (x ATR)", cfg.Strategy.TrailingATR)
}

func promptLine(reader *bufio.Reader, w io.Writer, label, current string) string {
	fmt.Fprintf(w, "%s [%s]: ", label, current)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func promptDecimal(reader *bufio.Reader, w io.Writer, label string, current decimal.Decimal) decimal.Decimal {
	line := promptLine(reader, w, label, current.String())
	if line == "" {
		return current
	}
	val, err := decimal.NewFromString(line)
	if err != nil {
		fmt.Fprintf(w, "invalid number, keeping %s\n", current)
		return current
	}
	return val
}

func promptInt(reader *bufio.Reader, w io.Writer, label string, current int) int {
	line := promptLine(reader, w, label, strconv.Itoa(current))
	if line == "" {
		return current
	}
	val, err := strconv.Atoi(line)
	if err != nil {
		fmt.Fprintf(w, "invalid number, keeping %d\n", current)
		return current
	}
	return val
}
