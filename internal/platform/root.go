package platform

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/aretw0/tally/pkg/config"
)

// ErrRootNotFound is returned when no ancestor looks like a ledger directory.
var ErrRootNotFound = errors.New("ledger root not found")

// rootIndicators mark a ledger directory.
var rootIndicators = []string{config.DefaultSystemDir, config.FileName, "tally.yml", "tally.conf"}

// FindRoot looks upwards from startDir for a ledger directory: one holding a
// .tally directory or a tally configuration file. It returns the absolute
// path of the first match.
func FindRoot(startDir string) (string, error) {
	abs, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	dir := abs
	for {
		for _, name := range rootIndicators {
			if hasFile(dir, name) {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached filesystem root
			break
		}
		dir = parent
	}

	return "", ErrRootNotFound
}

func hasFile(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}
