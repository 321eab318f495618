package buildctx

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

const spoolPattern = "dockhand-*.tar"

// Spool manages the directory where build archives are staged before upload.
type Spool struct {
	baseDir string // e.g. "/var/tmp/dockhand"; os.TempDir() when empty
}

// NewSpool creates a Spool rooted at baseDir.
func NewSpool(baseDir string) *Spool {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	// Convert to absolute path if relative
	absBaseDir, err := filepath.Abs(baseDir)
	if err != nil {
		absBaseDir = baseDir
	}
	return &Spool{baseDir: absBaseDir}
}

// Create opens a new, uniquely named archive file for writing and reading.
func (s *Spool) Create() (*os.File, error) {
	if err := os.MkdirAll(s.baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create spool directory %s: %w", s.baseDir, err)
	}
	name := filepath.Join(s.baseDir, "dockhand-"+uuid.NewString()+".tar")
	f, err := os.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create spool file: %w", err)
	}
	return f, nil
}

// Discard closes f and removes it from the spool.
func (s *Spool) Discard(f *os.File) error {
	closeErr := f.Close()
	if err := os.Remove(f.Name()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove spool file %s: %w", f.Name(), err)
	}
	return closeErr
}

// Pending lists archive files currently held in the spool.
func (s *Spool) Pending() ([]string, error) {
	return filepath.Glob(filepath.Join(s.baseDir, spoolPattern))
}

func (s *Spool) BaseDir() string {
	return s.baseDir
}
