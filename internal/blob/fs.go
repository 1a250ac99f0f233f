package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Dir stores objects as files below a root directory.
type Dir struct {
	root string
}

var _ Store = (*Dir)(nil)

// NewDir returns a Dir rooted at root, creating it if needed.
func NewDir(root string) (*Dir, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &Dir{root: root}, nil
}

func (d *Dir) path(ref string) (string, error) {
	rel := filepath.FromSlash(ref)
	if !filepath.IsLocal(rel) {
		return "", fmt.Errorf("invalid storage reference %q", ref)
	}
	return filepath.Join(d.root, rel), nil
}

func (d *Dir) Get(_ context.Context, ref string) ([]byte, error) {
	p, err := d.path(ref)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("stat object: %w", err)
	}
	if info.Size() > MaxObjectSize {
		return nil, fmt.Errorf("object %s exceeds %d bytes", ref, MaxObjectSize)
	}
	return os.ReadFile(p)
}

// Put writes through a temp file so readers never see a partial object.
func (d *Dir) Put(_ context.Context, ref string, data []byte) error {
	p, err := d.path(ref)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return fmt.Errorf("create object dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write object: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close object: %w", err)
	}
	return os.Rename(tmp.Name(), p)
}

func (d *Dir) Delete(_ context.Context, ref string) error {
	p, err := d.path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}
