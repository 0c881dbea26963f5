package state

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths is the canonical runtime folder layout under the DB path.
type Paths struct {
	Store string
	Media string
	Crash string
}

// EnsureDirs creates the runtime folder layout under dbPath and verifies
// each directory is writable by the process. Symlinked entries are
// rejected so a misconfigured deployment cannot silently write elsewhere.
func EnsureDirs(dbPath string) (Paths, error) {
	p := Paths{
		Store: filepath.Join(dbPath, "store"),
		Media: filepath.Join(dbPath, "media"),
		Crash: filepath.Join(dbPath, "crash"),
	}

	for _, dir := range []string{p.Store, p.Media, p.Crash} {
		if fi, err := os.Lstat(dir); err == nil {
			if fi.Mode()&os.ModeSymlink != 0 {
				return p, fmt.Errorf("%s is a symlink", dir)
			}
			if !fi.IsDir() {
				return p, fmt.Errorf("%s exists and is not a directory", dir)
			}
		}
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return p, fmt.Errorf("cannot create %s: %w", dir, err)
		}
		probe := filepath.Join(dir, ".writecheck")
		f, err := os.OpenFile(probe, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err != nil {
			return p, fmt.Errorf("%s is not writable: %w", dir, err)
		}
		_ = f.Close()
		_ = os.Remove(probe)
	}
	return p, nil
}
