package h5

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/hdf5"

	"regtoh5/pkg/transform"
	"regtoh5/pkg/transformio"
)

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.h5")
	c := transform.FromMatrices(
		transform.Translation(-10, 0, 0),
		transform.Rotation(1, math.Pi/5),
		transform.Translation(0, 5, 0),
	)

	require.NoError(t, transformio.WriteFile(path, c))
	got, err := transformio.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, c.Len(), got.Len())

	want, err := c.Matrices()
	require.NoError(t, err)
	ms, err := got.Matrices()
	require.NoError(t, err)
	for i := range want {
		assert.Equal(t, want[i], ms[i], "transform %d", i)
	}
}

func TestStringDatasetsAreFixedLength(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.h5")
	require.NoError(t, Write(path, transform.FromMatrices(transform.Translation(1, 2, 3))))

	f, err := hdf5.OpenFile(path, hdf5.F_ACC_RDONLY)
	require.NoError(t, err)
	defer f.Close()

	for _, name := range []string{versionDataset, transformGroup + "/0/" + typeDataset, transformGroup + "/1/" + typeDataset} {
		dset, err := f.OpenDataset(name)
		require.NoError(t, err, name)
		dtype, err := dset.Datatype()
		require.NoError(t, err)

		vl := hdf5.VarLenType{Datatype: *dtype}
		assert.Equal(t, hdf5.T_STRING, dtype.Class(), name)
		assert.False(t, vl.IsVariableStr(), name)

		dtype.Close()
		dset.Close()
	}

	s, err := readString(&f.CommonFG, transformGroup+"/0/"+typeDataset)
	require.NoError(t, err)
	assert.Equal(t, transformio.CompositeTypeName, s)
}

// writeVarString stores value the way ITK does, as a variable-length string.
// The buffer holds one char* pointing at NUL-terminated Go memory, which
// HDF5 copies during the write.
func writeVarString(t *testing.T, fg *hdf5.CommonFG, name, value string) {
	t.Helper()
	space, err := hdf5.CreateSimpleDataspace([]uint{1}, nil)
	require.NoError(t, err)
	defer space.Close()

	dset, err := fg.CreateDataset(name, hdf5.T_GO_STRING, space)
	require.NoError(t, err)
	defer dset.Close()

	b := append([]byte(value), 0)
	ptrs := []uintptr{uintptr(unsafe.Pointer(&b[0]))}
	require.NoError(t, dset.Write(&ptrs))
	runtime.KeepAlive(b)
}

func writeVarDoubles(t *testing.T, fg *hdf5.CommonFG, name string, values []float64) {
	t.Helper()
	space, err := hdf5.CreateSimpleDataspace([]uint{uint(len(values))}, nil)
	require.NoError(t, err)
	defer space.Close()
	dset, err := fg.CreateDataset(name, hdf5.T_NATIVE_DOUBLE, space)
	require.NoError(t, err)
	defer dset.Close()
	require.NoError(t, dset.Write(&values))
}

func TestReadVariableLengthStrings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "itk.h5")

	f, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	require.NoError(t, err)
	writeVarString(t, &f.CommonFG, versionDataset, "5.3.0")
	root, err := f.CreateGroup(transformGroup)
	require.NoError(t, err)

	g0, err := root.CreateGroup("0")
	require.NoError(t, err)
	writeVarString(t, &g0.CommonFG, typeDataset, transformio.CompositeTypeName)
	require.NoError(t, g0.Close())

	// ITK order: the last applied transform comes first
	entries := []transform.Point{{0, 5, 0}, {-10, 0, 0}}
	for i, off := range entries {
		g, err := root.CreateGroup(string(rune('1' + i)))
		require.NoError(t, err)
		writeVarString(t, &g.CommonFG, typeDataset, transformio.AffineTypeName)
		writeVarDoubles(t, &g.CommonFG, paramsDataset, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1, off[0], off[1], off[2]})
		writeVarDoubles(t, &g.CommonFG, fixedDataset, []float64{0, 0, 0})
		require.NoError(t, g.Close())
	}
	require.NoError(t, root.Close())
	require.NoError(t, f.Close())

	c, err := Read(path)
	require.NoError(t, err)
	require.Equal(t, 2, c.Len())
	p, err := c.TransformPoint(transform.Point{})
	require.NoError(t, err)
	assert.Equal(t, transform.Point{-10, 5, 0}, p)
}

func TestTranslationScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pair.hdf5")
	c := transform.FromMatrices(transform.Translation(-10, 0, 0), transform.Translation(0, 5, 0))
	require.NoError(t, transformio.WriteFile(path, c))

	got, err := Read(path)
	require.NoError(t, err)
	p, err := got.TransformPoint(transform.Point{})
	require.NoError(t, err)
	assert.Equal(t, transform.Point{-10, 5, 0}, p)
}

func TestWriteEmptyLeavesNoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.h5")
	err := transformio.WriteFile(path, transform.NewComposite())
	assert.ErrorIs(t, err, transformio.ErrEmptyTransform)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestWriteMissingDirectoryLeavesNoFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "missing")
	path := filepath.Join(dir, "out.h5")
	err := transformio.WriteFile(path, transform.FromMatrices(transform.Identity()))
	require.Error(t, err)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

type fakeCloser struct {
	err    error
	closed bool
}

func (f *fakeCloser) Close() error {
	f.closed = true
	return f.err
}

func TestCloseIntoKeepsFirstError(t *testing.T) {
	flushErr := errors.New("flush failed")

	var err error
	c := &fakeCloser{err: flushErr}
	closeInto(&err, c)
	assert.True(t, c.closed)
	assert.ErrorIs(t, err, flushErr)

	earlier := errors.New("write failed")
	err = earlier
	closeInto(&err, &fakeCloser{err: flushErr})
	assert.ErrorIs(t, err, earlier)

	err = nil
	closeInto(&err, &fakeCloser{})
	assert.NoError(t, err)
}

func TestRegistered(t *testing.T) {
	f, err := transformio.Lookup("", "x.H5")
	require.NoError(t, err)
	assert.Equal(t, FormatName, f.Name)
}
