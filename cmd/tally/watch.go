package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/aretw0/tally"
	"github.com/aretw0/tally/pkg/core"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Report chunk files changed by other processes",
	Long: `Watch the ledger directory and print every chunk change. A change
this process did not write taints the chunk and is reported as an
integrity failure. Stops on interrupt.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return withRuntime(ctx, false, func(rt *tally.Runtime) error {
			src, err := rt.Events(ctx, core.EventChunkChanged, core.EventIntegrityFail)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Watching %s (Ctrl+C to stop)\n", rt.Config.Dir)
			for e := range src.Events() {
				fmt.Fprintln(cmd.OutOrStdout(), e)
			}
			if n := src.Dropped(); n > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "%d events dropped\n", n)
			}
			return nil
		}, tally.WithWatch(true), tally.WithReadOnly(true))
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
