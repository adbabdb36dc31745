package platform

import (
	"os"
	"path/filepath"
	"strings"
)

// IsDevRun reports whether the process was built by `go run` or `go test`,
// both of which place binaries in temporary directories.
func IsDevRun() bool {
	exe, err := os.Executable()
	if err != nil {
		return false
	}
	if strings.HasPrefix(strings.ToLower(exe), strings.ToLower(os.TempDir())) {
		return true
	}
	return strings.HasSuffix(exe, ".test") || strings.HasSuffix(exe, ".test.exe")
}

// ResolveDir returns the directory a ledger actually lives in. With sandbox
// set, paths outside the system temp directory are re-rooted under
// $TMPDIR/tally-dev/<base name>; paths already inside it are kept.
func ResolveDir(dir string, sandbox bool) string {
	if dir == "" {
		dir = "."
	}
	if !sandbox {
		return dir
	}

	clean := filepath.Clean(dir)
	if rel, err := filepath.Rel(os.TempDir(), clean); err == nil && !strings.HasPrefix(rel, "..") {
		return clean
	}

	name := filepath.Base(clean)
	if name == "." || name == string(os.PathSeparator) {
		name = "default"
	}
	return filepath.Join(os.TempDir(), "tally-dev", name)
}
