package spill

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"mergeflow/internal/batch"
)

// LowSpaceThreshold is the free space below which CheckSpace warns.
const LowSpaceThreshold = 1 << 30

// Dir manages the spill files of one pipeline inside a directory.
type Dir struct {
	Path     string
	Pipeline string
}

// FilePath returns the spill file path for id.
func (d Dir) FilePath(id batch.SliceID) string {
	return filepath.Join(d.Path, id.FileName(d.Pipeline, Ext))
}

// Spill writes b as the file for id and records it in m.
func (d Dir) Spill(m *batch.Manifest, id batch.SliceID, b *batch.Batch) error {
	p := d.FilePath(id)
	if err := Write(p, b); err != nil {
		return err
	}
	m.AddFile(id, p, b.Len())
	return nil
}

// Files lists the spill files of the pipeline currently in the directory as
// a normalized manifest. Row counts are unknown (0) until the files are read.
func (d Dir) Files() (*batch.Manifest, error) {
	m := &batch.Manifest{}
	entries, err := os.ReadDir(d.Path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("spill: list %s: %w", d.Path, err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != "."+Ext {
			continue
		}
		name, id, ok := batch.ParseFileName(e.Name())
		if !ok || name != d.Pipeline {
			continue
		}
		m.AddFile(id, filepath.Join(d.Path, e.Name()), 0)
	}
	m.Normalize()
	return m, nil
}

// Clean removes the pipeline's spill files left by an earlier run.
func (d Dir) Clean() error {
	m, err := d.Files()
	if err != nil {
		return err
	}
	for _, p := range m.Paths() {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("spill: remove %s: %w", p, err)
		}
	}
	return nil
}

// Prepare creates the directory and logs a warning when free space is below
// LowSpaceThreshold. Space probing failures are logged, not returned.
func (d Dir) Prepare(log *slog.Logger) error {
	if err := os.MkdirAll(d.Path, 0o755); err != nil {
		return fmt.Errorf("spill: create %s: %w", d.Path, err)
	}
	free, err := FreeBytes(d.Path)
	switch {
	case errors.Is(err, errUnsupported):
	case err != nil:
		log.Warn("spill: free space probe failed", "dir", d.Path, "err", err)
	case free < LowSpaceThreshold:
		log.Warn("spill: low free space", "dir", d.Path, "free_bytes", free)
	default:
		log.Debug("spill: free space", "dir", d.Path, "free_bytes", free)
	}
	return nil
}
