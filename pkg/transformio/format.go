// Package transformio writes and reads composite transforms as ITK
// transform archives.
//
// Formats register themselves by file extension, the way image decoders do
// with image.RegisterFormat. The ITK text format is built in; the HDF5
// format lives in transformio/h5 and is enabled by importing it.
//
// ITK composites apply their last entry first, while transform.Composite
// applies its first node first. Formats therefore store nodes in reverse
// order and reverse them again when reading.
package transformio

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"regtoh5/pkg/transform"
)

var (
	// ErrUnknownFormat is returned when no registered format handles a path.
	ErrUnknownFormat = errors.New("unknown transform file format")

	// ErrEmptyTransform is returned when asked to write an empty composite.
	ErrEmptyTransform = errors.New("refusing to write an empty transform")
)

// ITK class names used in both archive formats.
const (
	CompositeTypeName = "CompositeTransform_double_3_3"
	AffineTypeName    = "AffineTransform_double_3_3"
)

// Format describes one archive format.
type Format struct {
	// Name identifies the format in configuration, e.g. "h5" or "itk-text"
	Name string

	// Extensions lists the lower-case file extensions, with the dot
	Extensions []string

	// Write stores a flat composite of affine matrices at path
	Write func(path string, c *transform.Composite) error

	// Read loads a composite from path
	Read func(path string) (*transform.Composite, error)
}

var (
	formatsMu sync.RWMutex
	formats   = map[string]Format{}
)

// RegisterFormat makes a format available to WriteFile and ReadFile.
// Registering a name twice replaces the earlier format.
func RegisterFormat(f Format) {
	formatsMu.Lock()
	defer formatsMu.Unlock()
	formats[f.Name] = f
}

// Formats returns the registered format names in sorted order.
func Formats() []string {
	formatsMu.RLock()
	defer formatsMu.RUnlock()
	names := make([]string, 0, len(formats))
	for name := range formats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the format called name, or when name is empty the format
// registered for path's extension.
func Lookup(name, path string) (Format, error) {
	formatsMu.RLock()
	defer formatsMu.RUnlock()

	if name != "" {
		f, ok := formats[name]
		if !ok {
			return Format{}, fmt.Errorf("%w: %q (registered: %s)", ErrUnknownFormat, name, strings.Join(namesLocked(), ", "))
		}
		return f, nil
	}

	ext := strings.ToLower(filepath.Ext(path))
	for _, f := range formats {
		for _, e := range f.Extensions {
			if e == ext {
				return f, nil
			}
		}
	}
	return Format{}, fmt.Errorf("%w: extension %q (registered: %s)", ErrUnknownFormat, ext, strings.Join(namesLocked(), ", "))
}

func namesLocked() []string {
	names := make([]string, 0, len(formats))
	for name := range formats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ITKOrder returns the matrices of a flat composite in ITK queue order.
func ITKOrder(c *transform.Composite) ([]transform.Matrix, error) {
	ms, err := c.Matrices()
	if err != nil {
		return nil, err
	}
	if len(ms) == 0 {
		return nil, ErrEmptyTransform
	}
	out := make([]transform.Matrix, len(ms))
	for i, m := range ms {
		if !m.IsAffine() {
			return nil, fmt.Errorf("node %d: %w", i, transform.ErrNotAffine)
		}
		out[len(ms)-1-i] = m
	}
	return out, nil
}

// FromITKOrder builds a composite from matrices in ITK queue order.
func FromITKOrder(ms []transform.Matrix) *transform.Composite {
	c := transform.NewComposite()
	for i := len(ms) - 1; i >= 0; i-- {
		c.Append(transform.MatrixNode(ms[i]))
	}
	return c
}

// AffineParameters returns the ITK AffineTransform parameters of m: the 3x3
// matrix row-major followed by the translation. The fixed parameters (the
// centre of rotation) are always zero.
func AffineParameters(m transform.Matrix) (params, fixed []float64) {
	linear := m.Linear()
	offset := m.Offset()
	params = append(params, linear[:]...)
	params = append(params, offset[:]...)
	return params, []float64{0, 0, 0}
}

// AffineFromParameters inverts AffineParameters. A non-zero centre c is
// folded into the offset as t + c - A·c.
func AffineFromParameters(params, fixed []float64) (transform.Matrix, error) {
	if len(params) != 12 {
		return transform.Matrix{}, fmt.Errorf("affine transform needs 12 parameters, got %d", len(params))
	}
	var linear [9]float64
	copy(linear[:], params[:9])
	translation := transform.Point{params[9], params[10], params[11]}

	if len(fixed) == 3 {
		for r := 0; r < 3; r++ {
			translation[r] += fixed[r]
			for c := 0; c < 3; c++ {
				translation[r] -= linear[r*3+c] * fixed[c]
			}
		}
	} else if len(fixed) != 0 {
		return transform.Matrix{}, fmt.Errorf("affine transform needs 3 fixed parameters, got %d", len(fixed))
	}
	return transform.NewAffine(linear, translation), nil
}
