package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// TempFilePrefix marks in-flight writes. List skips these files.
const TempFilePrefix = "tally-tmp-"

// replaceFile swaps filename for a file holding data in one rename, so a
// reader sees either the old digest and body or the new ones. The parent
// directory must exist.
func replaceFile(filename string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(filename)

	tmp, err := os.CreateTemp(dir, TempFilePrefix+"*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", filepath.Base(filename), err)
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp for %s: %w", filepath.Base(filename), err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod temp for %s: %w", filepath.Base(filename), err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp for %s: %w", filepath.Base(filename), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp for %s: %w", filepath.Base(filename), err)
	}
	if err := os.Rename(tmp.Name(), filename); err != nil {
		return fmt.Errorf("replace %s: %w", filename, err)
	}
	committed = true

	return syncDir(dir)
}

// syncDir flushes the directory entry created by a rename. Windows cannot
// open directories for sync, so it is skipped there.
func syncDir(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir %s: %w", dir, err)
	}
	err = d.Sync()
	if cerr := d.Close(); err == nil {
		err = cerr
	}
	if errors.Is(err, os.ErrInvalid) {
		return nil
	}
	return err
}
