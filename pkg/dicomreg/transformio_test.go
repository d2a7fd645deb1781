package dicomreg_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regtoh5/internal/testutil"
	"regtoh5/pkg/dicomreg"
	"regtoh5/pkg/transform"
)

func TestParseSpatialRegistration(t *testing.T) {
	dir := t.TempDir()
	a := transform.Translation(10, 0, 0)
	b := transform.Rotation(2, math.Pi/6)
	path := testutil.WriteSpatialRegistration(t, dir,
		testutil.RigidFrame("1.2.3.4", a),
		testutil.RigidFrame("5.6.7.8", b, a),
	)

	reg, err := dicomreg.ParseFile(path)
	require.NoError(t, err)

	assert.Equal(t, dicomreg.SpatialRegistrationSOPClassUID, reg.SOPClassUID)
	assert.Equal(t, []string{"1.2.3.4", "5.6.7.8"}, reg.FramesOfReference())
	require.Len(t, reg.Items, 2)
	require.Len(t, reg.Items[1].Groups, 1)
	steps := reg.Items[1].Groups[0].Steps
	require.Len(t, steps, 2)
	assert.Equal(t, b, steps[0].Matrix)
	assert.Equal(t, a, steps[1].Matrix)
	assert.Equal(t, "AFFINE", steps[0].MatrixType)
}

func TestReadTransformsNestsPerItem(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteSpatialRegistration(t, dir, testutil.Frame{
		UID: "A",
		Registrations: [][]transform.Matrix{
			{transform.Translation(1, 0, 0)},
			{transform.Translation(0, 2, 0), transform.Translation(0, 0, 3)},
		},
	})

	io := dicomreg.NewTransformIO()
	nodes, err := io.ReadTransforms(path, "A")
	require.NoError(t, err)
	require.Len(t, nodes, 1)

	root, ok := nodes[0].Composite()
	require.True(t, ok)
	assert.False(t, root.IsFlat())

	root.Flatten()
	assert.Equal(t, 3, root.Len())
	p, err := root.TransformPoint(transform.Point{})
	require.NoError(t, err)
	assert.Equal(t, transform.Point{1, 2, 3}, p)
}

func TestReadTransformsUnknownFrame(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteSpatialRegistration(t, dir, testutil.RigidFrame("A", transform.Identity()))

	nodes, err := dicomreg.NewTransformIO().ReadTransforms(path, "missing")
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestReadTransformsCachesParsedFile(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteSpatialRegistration(t, dir,
		testutil.RigidFrame("A", transform.Identity()),
		testutil.RigidFrame("B", transform.Identity()),
	)

	cached := dicomreg.NewTransformIO()
	_, err := cached.ReadTransforms(path, "A")
	require.NoError(t, err)
	_, err = cached.ReadTransforms(path, "B")
	require.NoError(t, err)
	assert.Equal(t, 1, cached.ParseCalls())

	uncached := dicomreg.NewTransformIO(dicomreg.WithoutCache())
	_, err = uncached.ReadTransforms(path, "A")
	require.NoError(t, err)
	_, err = uncached.ReadTransforms(path, "B")
	require.NoError(t, err)
	assert.Equal(t, 2, uncached.ParseCalls())
}

func TestReadTransformsGarbage(t *testing.T) {
	path := testutil.WriteGarbage(t, t.TempDir())
	_, err := dicomreg.NewTransformIO().ReadTransforms(path, "A")
	assert.Error(t, err)
}

func TestReadTransformsMissingFile(t *testing.T) {
	_, err := dicomreg.NewTransformIO().ReadTransforms("/nonexistent/reg.dcm", "A")
	assert.Error(t, err)
}

func TestDeformableRegistration(t *testing.T) {
	dir := t.TempDir()
	pre := transform.Translation(1, 0, 0)
	post := transform.Translation(0, 1, 0)
	path := testutil.WriteDeformableRegistration(t, dir, testutil.DeformableFrame{
		UID:  "D",
		Pre:  &pre,
		Post: &post,
		Grid: true,
	})

	reg, err := dicomreg.ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, dicomreg.DeformableSpatialRegistrationSOPClassUID, reg.SOPClassUID)
	assert.True(t, reg.HasGrids())

	t.Run("grid reported as unsupported", func(t *testing.T) {
		nodes, err := dicomreg.NewTransformIO().ReadTransforms(path, "D")
		require.NoError(t, err)
		root, ok := nodes[0].Composite()
		require.True(t, ok)
		root.Flatten()
		require.Equal(t, 3, root.Len())
		assert.Equal(t, transform.KindUnsupported, root.Nodes()[1].Kind())
		assert.Equal(t, dicomreg.GridNodeName, root.Nodes()[1].Name())
	})

	t.Run("grid skipped", func(t *testing.T) {
		io := dicomreg.NewTransformIO(dicomreg.SkipDeformationGrids(true))
		nodes, err := io.ReadTransforms(path, "D")
		require.NoError(t, err)
		root, ok := nodes[0].Composite()
		require.True(t, ok)
		root.Flatten()
		require.Equal(t, 2, root.Len())
		p, err := root.TransformPoint(transform.Point{})
		require.NoError(t, err)
		assert.Equal(t, transform.Point{1, 1, 0}, p)
	})
}
