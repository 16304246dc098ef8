package botconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/moby/sys/atomicwriter"
)

const exampleSuffix = ".example"

// ConfigPath is the worker's main configuration file.
func ConfigPath(botPath string) string {
	return filepath.Join(botPath, "configs", "config.json")
}

// UserdataPath is the script read by the worker's embedded map page.
func UserdataPath(botPath string) string {
	return filepath.Join(botPath, "web", "config", "userdata.js")
}

// EnsurePresent makes sure path exists, moving path.example into place the first
// time. The template is renamed, not copied, so it is consumed exactly once.
func EnsurePresent(path string) error {
	_, err := os.Stat(path)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	example := path + exampleSuffix
	if _, err := os.Stat(example); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: neither %s nor %s exists", ErrConfigMissing, path, example)
		}
		return fmt.Errorf("stat %s: %w", example, err)
	}
	if err := os.Rename(example, path); err != nil {
		return fmt.Errorf("install %s from template: %w", path, err)
	}
	return nil
}

// writeAtomic replaces path so concurrent readers see either the old or the new
// content. The existing file mode is kept.
func writeAtomic(path string, data []byte) error {
	perm := fs.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		perm = info.Mode().Perm()
	}
	return atomicwriter.WriteFile(path, data, perm)
}
