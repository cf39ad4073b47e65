package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"trendbot-go/internal/config"
	"trendbot-go/internal/exchange"
)

func newKeysCmd(opts *rootOptions) *cobra.Command {
	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "API key utilities",
	}
	keysCmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Try the configured keys against production and testnet",
		RunE: func(cmd *cobra.Command, args []string) error {
			config.LoadDotEnv(opts.envFile)
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			if !checkKeys(ctx, cmd.OutOrStdout()) {
				return fmt.Errorf("no network accepted the keys")
			}
			return nil
		},
	})
	return keysCmd
}

// checkKeys calls the signed account endpoint on both networks. A network
// without its own key pair is tried with the production pair, which tells
// apart keys that were issued for the other network.
func checkKeys(ctx context.Context, w io.Writer) bool {
	prodKey, prodSecret := config.Credentials(false)
	ok := false
	for _, testnet := range []bool{false, true} {
		name := "PRODUCTION"
		if testnet {
			name = "TESTNET"
		}
		key, secret := config.Credentials(testnet)
		if key == "" || secret == "" {
			key, secret = prodKey, prodSecret
		}
		rest, _ := config.Endpoints(testnet)
		fmt.Fprintf(w, "Testing keys against %s (%s)...\n", name, rest)
		if key == "" || secret == "" {
			fmt.Fprintln(w, "SKIPPED: no key pair in the environment")
			continue
		}

		client := exchange.NewRESTClient(rest, exchange.WithCredentials(key, secret))
		account, err := client.Account(ctx)
		if err != nil {
			fmt.Fprintf(w, "FAILED on %s: %v\n", strings.ToLower(name), err)
			continue
		}
		ok = true
		fmt.Fprintf(w, "SUCCESS: these are %s keys (canTrade=%v, permissions=%s)\n",
			name, account.CanTrade, strings.Join(account.Permissions, ","))
	}
	return ok
}
