package transformio

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"regtoh5/pkg/transform"
)

// WriteFile writes c to path using the format registered for path's
// extension.
func WriteFile(path string, c *transform.Composite) error {
	return WriteFileFormat("", path, c)
}

// WriteFileFormat writes c to path using the named format, or the format
// chosen by extension when name is empty.
//
// The archive is written to a temporary file next to path and renamed into
// place, so a failed write never leaves a partial file at path.
func WriteFileFormat(name, path string, c *transform.Composite) error {
	if c == nil || c.Len() == 0 {
		return ErrEmptyTransform
	}
	if !c.IsFlat() {
		return transform.ErrNotFlat
	}

	f, err := Lookup(name, path)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s%s", filepath.Base(path), uuid.NewString(), filepath.Ext(path)))

	if err := f.Write(tmp, c); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s transform: %w", f.Name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move transform into place: %w", err)
	}
	return nil
}

// ReadFile reads a composite from path using the format registered for
// path's extension.
func ReadFile(path string) (*transform.Composite, error) {
	return ReadFileFormat("", path)
}

// ReadFileFormat reads a composite from path using the named format, or the
// format chosen by extension when name is empty.
func ReadFileFormat(name, path string) (*transform.Composite, error) {
	f, err := Lookup(name, path)
	if err != nil {
		return nil, err
	}
	c, err := f.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s transform %s: %w", f.Name, path, err)
	}
	return c, nil
}
