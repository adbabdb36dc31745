package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/aretw0/tally"
)

var (
	verbose    bool
	ledgerDir  string
	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "tally",
	Short: "A chunked ledger with incremental, integrity-checked totals",
	Long: `Tally stores ledger entries in fixed-capacity chunk files.
Each chunk keeps running totals that are adjusted by field deltas
and written with a digest header, so corruption and foreign edits
are detected when the ledger is opened.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}

		opts := &slog.HandlerOptions{
			Level: level,
		}
		logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), opts))
		slog.SetDefault(logger)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&ledgerDir, "dir", "d", "", "Ledger directory (default: nearest ledger root, or the working directory)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file (default: tally.yaml in the ledger directory)")
}

// resolveDir returns --dir, or the nearest ledger root above the working
// directory, or the working directory itself.
func resolveDir() (string, error) {
	if ledgerDir != "" {
		return ledgerDir, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	if root, err := tally.FindRoot(wd); err == nil {
		return root, nil
	}
	return wd, nil
}

// openRuntime opens the ledger selected by the global flags.
func openRuntime(ctx context.Context, extra ...tally.Option) (*tally.Runtime, error) {
	dir, err := resolveDir()
	if err != nil {
		return nil, err
	}
	opts := []tally.Option{tally.WithLogger(slog.Default())}
	if configPath != "" {
		opts = append(opts, tally.WithConfigFile(configPath))
	}
	rt, err := tally.Open(ctx, dir, append(opts, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	return rt, nil
}

// withRuntime opens the ledger, runs fn and closes the ledger. When commit is
// set, the book is committed after fn succeeds.
func withRuntime(ctx context.Context, commit bool, fn func(rt *tally.Runtime) error, extra ...tally.Option) (err error) {
	rt, err := openRuntime(ctx, extra...)
	if err != nil {
		return err
	}
	defer func() {
		// Close halts the bus even when ctx was cancelled by a signal.
		if cerr := rt.Close(context.WithoutCancel(ctx)); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if err := fn(rt); err != nil {
		return err
	}
	if commit {
		return rt.Book.Commit(ctx)
	}
	return nil
}
