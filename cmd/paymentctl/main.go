package main

import (
	"fmt"
	"os"

	"checkout-service/config"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd(config.Load).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(load func() *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "paymentctl",
		Short:         "Operate the checkout payment pipeline",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd(load))
	rootCmd.AddCommand(sweepCmd(load))
	rootCmd.AddCommand(unmatchedCmd(load))
	rootCmd.AddCommand(decodeCmd(load))
	rootCmd.AddCommand(qrCmd(load))
	rootCmd.AddCommand(tokenCmd(load))

	return rootCmd
}
