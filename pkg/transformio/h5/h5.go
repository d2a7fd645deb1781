// Package h5 registers the ITK HDF5 transform archive (.h5, .hdf5) with
// transformio. Import it for its side effect:
//
//	import _ "regtoh5/pkg/transformio/h5"
//
// The layout matches what ITK's HDF5TransformIO reads:
//
//	/TransformGroup/0/TransformType             "CompositeTransform_double_3_3"
//	/TransformGroup/<i>/TransformType           "AffineTransform_double_3_3"
//	/TransformGroup/<i>/TransformParameters     12 doubles
//	/TransformGroup/<i>/TransformFixedParameters 3 doubles
//
// Strings are written as fixed-length C strings. Both fixed-length and
// variable-length strings, as ITK writes them, are read back.
package h5

/*
#include <stdlib.h>
*/
import "C"

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"unsafe"

	"gonum.org/v1/hdf5"

	"regtoh5/pkg/transform"
	"regtoh5/pkg/transformio"
)

// FormatName names the HDF5 format in configuration.
const FormatName = "h5"

const (
	transformGroup  = "TransformGroup"
	typeDataset     = "TransformType"
	paramsDataset   = "TransformParameters"
	fixedDataset    = "TransformFixedParameters"
	versionDataset  = "ITKVersion"
	writtenByITKVer = "4.13.0"
)

func init() {
	transformio.RegisterFormat(transformio.Format{
		Name:       FormatName,
		Extensions: []string{".h5", ".hdf5"},
		Write:      Write,
		Read:       Read,
	})
}

type closer interface {
	Close() error
}

// closeInto closes c and keeps its error in *err unless an earlier error is
// already there. HDF5 flushes on close, so a failed close means a bad file.
func closeInto(err *error, c closer) {
	if cerr := c.Close(); cerr != nil && *err == nil {
		*err = cerr
	}
}

// Write stores c at path, truncating any existing file.
func Write(path string, c *transform.Composite) (err error) {
	ms, err := transformio.ITKOrder(c)
	if err != nil {
		return err
	}

	f, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	if err != nil {
		return fmt.Errorf("failed to create HDF5 file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close HDF5 file: %w", cerr)
		}
	}()

	if err := writeString(&f.CommonFG, versionDataset, writtenByITKVer); err != nil {
		return err
	}

	root, err := f.CreateGroup(transformGroup)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", transformGroup, err)
	}
	// root is closed before the file
	defer closeInto(&err, root)

	if err := writeComposite(root); err != nil {
		return err
	}
	for i, m := range ms {
		if err := writeAffine(root, strconv.Itoa(i+1), m); err != nil {
			return fmt.Errorf("transform %d: %w", i+1, err)
		}
	}
	return nil
}

func writeComposite(root *hdf5.Group) (err error) {
	g, err := root.CreateGroup("0")
	if err != nil {
		return fmt.Errorf("failed to create composite group: %w", err)
	}
	defer closeInto(&err, g)
	return writeString(&g.CommonFG, typeDataset, transformio.CompositeTypeName)
}

func writeAffine(root *hdf5.Group, name string, m transform.Matrix) (err error) {
	g, err := root.CreateGroup(name)
	if err != nil {
		return fmt.Errorf("failed to create group: %w", err)
	}
	defer closeInto(&err, g)

	params, fixed := transformio.AffineParameters(m)
	if err := writeString(&g.CommonFG, typeDataset, transformio.AffineTypeName); err != nil {
		return err
	}
	if err := writeDoubles(&g.CommonFG, paramsDataset, params); err != nil {
		return err
	}
	return writeDoubles(&g.CommonFG, fixedDataset, fixed)
}

// writeString stores value as a one-element, NUL-terminated fixed-length
// string dataset.
func writeString(fg *hdf5.CommonFG, name, value string) (err error) {
	dtype, err := hdf5.T_C_S1.Copy()
	if err != nil {
		return fmt.Errorf("failed to copy string type for %s: %w", name, err)
	}
	defer closeInto(&err, dtype)
	if err := dtype.SetSize(len(value) + 1); err != nil {
		return fmt.Errorf("failed to size string type for %s: %w", name, err)
	}

	space, err := hdf5.CreateSimpleDataspace([]uint{1}, nil)
	if err != nil {
		return fmt.Errorf("failed to create dataspace for %s: %w", name, err)
	}
	defer closeInto(&err, space)

	dset, err := fg.CreateDataset(name, dtype, space)
	if err != nil {
		return fmt.Errorf("failed to create dataset %s: %w", name, err)
	}
	defer closeInto(&err, dset)

	buf := append([]byte(value), 0)
	if err := dset.Write(&buf); err != nil {
		return fmt.Errorf("failed to write dataset %s: %w", name, err)
	}
	return nil
}

func writeDoubles(fg *hdf5.CommonFG, name string, values []float64) (err error) {
	space, err := hdf5.CreateSimpleDataspace([]uint{uint(len(values))}, nil)
	if err != nil {
		return fmt.Errorf("failed to create dataspace for %s: %w", name, err)
	}
	defer closeInto(&err, space)

	dset, err := fg.CreateDataset(name, hdf5.T_NATIVE_DOUBLE, space)
	if err != nil {
		return fmt.Errorf("failed to create dataset %s: %w", name, err)
	}
	defer closeInto(&err, dset)

	if err := dset.Write(&values); err != nil {
		return fmt.Errorf("failed to write dataset %s: %w", name, err)
	}
	return nil
}

// Read loads a composite written by Write or by ITK. Groups are visited in
// numeric order; a composite entry is skipped.
func Read(path string) (*transform.Composite, error) {
	f, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("failed to open HDF5 file: %w", err)
	}
	defer f.Close()

	root, err := f.OpenGroup(transformGroup)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", transformGroup, err)
	}
	defer root.Close()

	n, err := root.NumObjects()
	if err != nil {
		return nil, err
	}
	indices := make([]int, 0, n)
	for i := uint(0); i < n; i++ {
		name, err := root.ObjectNameByIndex(i)
		if err != nil {
			return nil, err
		}
		idx, err := strconv.Atoi(name)
		if err != nil {
			return nil, fmt.Errorf("unexpected entry %q in %s", name, transformGroup)
		}
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	var ms []transform.Matrix
	for _, idx := range indices {
		m, composite, err := readEntry(root, strconv.Itoa(idx))
		if err != nil {
			return nil, fmt.Errorf("transform %d: %w", idx, err)
		}
		if composite {
			continue
		}
		ms = append(ms, m)
	}
	if len(ms) == 0 {
		return nil, transformio.ErrEmptyTransform
	}
	return transformio.FromITKOrder(ms), nil
}

func readEntry(root *hdf5.Group, name string) (transform.Matrix, bool, error) {
	g, err := root.OpenGroup(name)
	if err != nil {
		return transform.Matrix{}, false, err
	}
	defer g.Close()

	typeName, err := readString(&g.CommonFG, typeDataset)
	if err != nil {
		return transform.Matrix{}, false, err
	}
	switch typeName {
	case transformio.CompositeTypeName:
		return transform.Matrix{}, true, nil
	case transformio.AffineTypeName:
	default:
		return transform.Matrix{}, false, fmt.Errorf("unsupported type %s", typeName)
	}

	params, err := readDoubles(&g.CommonFG, paramsDataset)
	if err != nil {
		return transform.Matrix{}, false, err
	}
	fixed, err := readDoubles(&g.CommonFG, fixedDataset)
	if err != nil {
		return transform.Matrix{}, false, err
	}
	m, err := transformio.AffineFromParameters(params, fixed)
	return m, false, err
}

// readString returns the first element of a string dataset. The read uses
// the dataset's own type, so the buffer shape follows it: Size() bytes per
// element for fixed-length strings, one char* per element for
// variable-length strings.
func readString(fg *hdf5.CommonFG, name string) (string, error) {
	dset, err := fg.OpenDataset(name)
	if err != nil {
		return "", fmt.Errorf("failed to open dataset %s: %w", name, err)
	}
	defer dset.Close()

	dtype, err := dset.Datatype()
	if err != nil {
		return "", fmt.Errorf("failed to read type of %s: %w", name, err)
	}
	defer dtype.Close()
	if dtype.Class() != hdf5.T_STRING {
		return "", fmt.Errorf("dataset %s is not a string", name)
	}

	space := dset.Space()
	defer space.Close()
	n := space.SimpleExtentNPoints()
	if n < 1 {
		return "", fmt.Errorf("dataset %s is empty", name)
	}

	vl := hdf5.VarLenType{Datatype: *dtype}
	if vl.IsVariableStr() {
		ptrs := make([]*C.char, n)
		if err := dset.Read(&ptrs); err != nil {
			return "", fmt.Errorf("failed to read dataset %s: %w", name, err)
		}
		defer func() {
			for _, p := range ptrs {
				C.free(unsafe.Pointer(p))
			}
		}()
		if ptrs[0] == nil {
			return "", nil
		}
		return C.GoString(ptrs[0]), nil
	}

	size := int(dtype.Size())
	buf := make([]byte, size*n)
	if err := dset.Read(&buf); err != nil {
		return "", fmt.Errorf("failed to read dataset %s: %w", name, err)
	}
	first := buf[:size]
	if i := bytes.IndexByte(first, 0); i >= 0 {
		first = first[:i]
	}
	return string(bytes.TrimRight(first, " ")), nil
}

func readDoubles(fg *hdf5.CommonFG, name string) ([]float64, error) {
	dset, err := fg.OpenDataset(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset %s: %w", name, err)
	}
	defer dset.Close()

	space := dset.Space()
	defer space.Close()
	dims, _, err := space.SimpleExtentDims()
	if err != nil {
		return nil, err
	}
	if len(dims) != 1 {
		return nil, fmt.Errorf("dataset %s has rank %d, want 1", name, len(dims))
	}

	values := make([]float64, dims[0])
	if err := dset.Read(&values); err != nil {
		return nil, fmt.Errorf("failed to read dataset %s: %w", name, err)
	}
	return values, nil
}
