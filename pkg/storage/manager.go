// Package storage owns the on-disk layout of the mirror:
// <root>/<folder>/<file> for assets and a transient scratch directory next
// to each animated item's destination.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// PartSuffix marks files whose transfer has not completed
const PartSuffix = ".part"

// Manager creates and resolves paths below a root directory
type Manager struct {
	root string
}

// NewManager creates the root directory if needed
func NewManager(root string) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root is empty")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve output directory: %w", err)
	}
	return &Manager{root: abs}, nil
}

// Root returns the absolute root directory
func (m *Manager) Root() string {
	return m.root
}

// Dir returns <root>/<folder>, creating it
func (m *Manager) Dir(folder string) (string, error) {
	dir := m.root
	if folder != "" {
		dir = filepath.Join(m.root, filepath.Base(folder))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return dir, nil
}

// Exists reports whether a completed file is present at path. In-flight
// .part files never count.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// ScratchDir names the transient extraction directory for an archive
// destination: the destination without its extension
func ScratchDir(dest string) string {
	return strings.TrimSuffix(dest, filepath.Ext(dest))
}

// ArchivePath names the temporary location of a downloaded frame archive
func ArchivePath(dest string) string {
	return ScratchDir(dest) + ".zip"
}

// PendingFile is a destination being written. Nothing appears at the final
// path until Commit succeeds.
type PendingFile struct {
	file *os.File
	dest string
	tmp  string
	done bool
}

// Create opens a uniquely named <dest>.<random>.part for writing, creating
// parent directories. Concurrent writers of one dest never share a file;
// the last Commit wins.
func Create(dest string) (*PendingFile, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	f, err := os.CreateTemp(dir, filepath.Base(dest)+".*"+PartSuffix)
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}
	if err := f.Chmod(0644); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to set file mode: %w", err)
	}
	return &PendingFile{file: f, dest: dest, tmp: f.Name()}, nil
}

// TempPath returns the file being written until Commit
func (p *PendingFile) TempPath() string {
	return p.tmp
}

func (p *PendingFile) Write(b []byte) (int, error) {
	return p.file.Write(b)
}

// Commit flushes, closes and renames the file into place
func (p *PendingFile) Commit() error {
	if p.done {
		return fmt.Errorf("pending file %s already finished", p.dest)
	}
	p.done = true

	if err := p.file.Sync(); err != nil {
		p.file.Close()
		os.Remove(p.tmp)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := p.file.Close(); err != nil {
		os.Remove(p.tmp)
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(p.tmp, p.dest); err != nil {
		os.Remove(p.tmp)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}

// Abort discards the partial file. Safe to call after Commit.
func (p *PendingFile) Abort() {
	if p.done {
		return
	}
	p.done = true
	p.file.Close()
	os.Remove(p.tmp)
}

// CleanupPartials removes leftover .part files below dir from runs that
// were killed mid-transfer, returning how many were removed
func CleanupPartials(dir string) (int, error) {
	removed := 0
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), PartSuffix) {
			if err := os.Remove(path); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return removed, fmt.Errorf("failed to clean partial files: %w", err)
	}
	return removed, nil
}
