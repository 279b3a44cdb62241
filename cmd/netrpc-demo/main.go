package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/f0mster/netrpc/internal/config"
	"github.com/f0mster/netrpc/pkg/interfaces/logger"
)

var (
	cfg *config.Config
	zl  zerolog.Logger
	log logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "netrpc-demo",
	Short: "Serve and call a blob storage service over netrpc",
	Long: `netrpc-demo serves a small blob storage service and calls it.

Configuration comes from NETRPC_* environment variables: NETRPC_TRANSPORT
selects http, websocket, nats, redis or kafka; see internal/config for the rest.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(); err != nil {
			return err
		}
		if transport, _ := cmd.Flags().GetString("transport"); transport != "" {
			cfg.Transport = transport
			if err := cfg.Validate(); err != nil {
				return err
			}
		}
		zl = cfg.Logger()
		log = logger.NewZerolog(zl)
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().StringP("transport", "t", "", "transport, overrides NETRPC_TRANSPORT")
	rootCmd.AddCommand(serveCmd, localCmd, callCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
