package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aretw0/tally"
	"github.com/aretw0/tally/internal/platform"
	"github.com/aretw0/tally/pkg/adapters/fs"
	"github.com/aretw0/tally/pkg/core"
	"github.com/aretw0/tally/pkg/ledger"
)

var verifyFiles bool

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check chunk digests and recount totals",
	Long: `Open the ledger, check every committed chunk against its file and
compare each chunk's running totals with a full recount.

With --files only the digests are checked, without loading entries, so
a ledger that refuses to open can still be inspected.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		var findings []ledger.Finding
		if verifyFiles {
			store, err := openStore()
			if err != nil {
				return err
			}
			if findings, err = ledger.VerifyFiles(ctx, store); err != nil {
				return err
			}
		} else {
			err := withRuntime(ctx, false, func(rt *tally.Runtime) error {
				var err error
				findings, err = rt.Book.Verify(ctx)
				return err
			}, tally.WithReadOnly(true))
			if core.IsIntegrityMismatch(err) {
				return fmt.Errorf("%w (run with --files to list every damaged chunk)", err)
			}
			if err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		for _, f := range findings {
			fmt.Fprintln(out, f)
		}
		if len(findings) > 0 {
			return fmt.Errorf("%d problem(s) found", len(findings))
		}
		fmt.Fprintln(out, "OK")
		return nil
	},
}

// openStore opens the chunk store read-only, without loading a book.
func openStore() (*fs.Store, error) {
	dir, err := resolveDir()
	if err != nil {
		return nil, err
	}
	var opts []platform.Option
	if configPath != "" {
		opts = append(opts, platform.WithConfigFile(configPath))
	}
	cfg, err := platform.ResolveConfig(dir, opts...)
	if err != nil {
		return nil, err
	}
	return fs.NewStore(fs.Config{
		Path:      cfg.Dir,
		SystemDir: cfg.SystemDir,
		Pattern:   cfg.Pattern,
		ReadOnly:  true,
	})
}

func init() {
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().BoolVar(&verifyFiles, "files", false, "Only check file digests")
}
