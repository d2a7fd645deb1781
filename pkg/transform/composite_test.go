package transform

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func assertPointNear(t *testing.T, want, got Point, tol float64) {
	t.Helper()
	for i := range want {
		assert.InDelta(t, want[i], got[i], tol, "component %d of %v vs %v", i, got, want)
	}
}

func TestCompositeAppliesFirstNodeFirst(t *testing.T) {
	c := FromMatrices(Scaling(2, 2, 2), Translation(1, 0, 0))

	got, err := c.TransformPoint(Point{1, 1, 1})
	require.NoError(t, err)

	// scale then translate
	assertPointNear(t, Point{3, 2, 2}, got, 1e-12)
}

func TestFlattenNested(t *testing.T) {
	inner := FromMatrices(Translation(1, 0, 0), Translation(0, 1, 0))
	deeper := NewComposite(CompositeNode(FromMatrices(Translation(0, 0, 1))))
	c := NewComposite(CompositeNode(inner), MatrixNode(Scaling(2, 2, 2)), CompositeNode(deeper))

	require.False(t, c.IsFlat())
	before, err := c.TransformPoint(Point{1, 2, 3})
	require.NoError(t, err)

	c.Flatten()

	assert.True(t, c.IsFlat())
	assert.Equal(t, 4, c.Len())
	after, err := c.TransformPoint(Point{1, 2, 3})
	require.NoError(t, err)
	assertPointNear(t, before, after, 1e-12)
}

func TestFlattenKeepsUnsupportedNodes(t *testing.T) {
	c := NewComposite(CompositeNode(NewComposite(UnsupportedNode("DeformableRegistrationGrid"))))
	c.Flatten()

	require.Equal(t, 1, c.Len())
	assert.Equal(t, KindUnsupported, c.Nodes()[0].Kind())

	_, err := c.Matrices()
	assert.ErrorIs(t, err, ErrUnsupportedNode)
	_, err = c.TransformPoint(Point{})
	assert.ErrorIs(t, err, ErrUnsupportedNode)
}

func TestInverseRequiresFlat(t *testing.T) {
	c := NewComposite(CompositeNode(FromMatrices(Identity())))
	_, err := c.Inverse()
	assert.ErrorIs(t, err, ErrNotFlat)
}

func TestInverseReversesAndInverts(t *testing.T) {
	a := Translation(10, 0, 0)
	b := Rotation(2, math.Pi/2)
	inv, err := FromMatrices(a, b).Inverse()
	require.NoError(t, err)

	ms, err := inv.Matrices()
	require.NoError(t, err)
	require.Len(t, ms, 2)

	bInv, err := b.Inverse()
	require.NoError(t, err)
	assert.True(t, ms[0].ApproxEqual(bInv, 1e-12))
	assert.True(t, ms[1].ApproxEqual(Translation(-10, 0, 0), 1e-12))
}

func TestInverseSingularElement(t *testing.T) {
	rank2 := Identity()
	rank2[2][2] = 0
	_, err := FromMatrices(Identity(), rank2).Inverse()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSingular))
	assert.Contains(t, err.Error(), "node 1")
}

func TestCollapse(t *testing.T) {
	c := FromMatrices(Translation(1, 2, 3), Rotation(0, 0.3), Scaling(1, 2, 3))
	m, err := c.Collapse()
	require.NoError(t, err)

	p := Point{-4, 5, 0.5}
	want, err := c.TransformPoint(p)
	require.NoError(t, err)
	assertPointNear(t, want, m.Apply(p), 1e-9)

	empty, err := NewComposite().Collapse()
	require.NoError(t, err)
	assert.True(t, empty.IsIdentity(0))
}

func TestCloneIsDeep(t *testing.T) {
	inner := FromMatrices(Translation(1, 0, 0))
	c := NewComposite(CompositeNode(inner))
	clone := c.Clone()

	inner.Append(MatrixNode(Translation(5, 0, 0)))

	got, err := clone.TransformPoint(Point{})
	require.NoError(t, err)
	assertPointNear(t, Point{1, 0, 0}, got, 0)
}

// drawRigid draws a random rotation followed by a translation.
func drawRigid(t *rapid.T, label string) Matrix {
	m := Identity()
	for axis := 0; axis < 3; axis++ {
		angle := rapid.Float64Range(-math.Pi, math.Pi).Draw(t, label+"-angle")
		m = Rotation(axis, angle).Mul(m)
	}
	tx := rapid.Float64Range(-200, 200).Draw(t, label+"-tx")
	ty := rapid.Float64Range(-200, 200).Draw(t, label+"-ty")
	tz := rapid.Float64Range(-200, 200).Draw(t, label+"-tz")
	return Translation(tx, ty, tz).Mul(m)
}

func drawPoint(t *rapid.T, label string) Point {
	return Point{
		rapid.Float64Range(-300, 300).Draw(t, label+"-x"),
		rapid.Float64Range(-300, 300).Draw(t, label+"-y"),
		rapid.Float64Range(-300, 300).Draw(t, label+"-z"),
	}
}

func drawComposite(t *rapid.T, depth int) *Composite {
	n := rapid.IntRange(0, 4).Draw(t, "len")
	c := NewComposite()
	for i := 0; i < n; i++ {
		if depth > 0 && rapid.Bool().Draw(t, "nested") {
			c.AppendComposite(drawComposite(t, depth-1))
			continue
		}
		c.Append(MatrixNode(drawRigid(t, "m")))
	}
	return c
}

func TestFlattenIdempotentProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		c := drawComposite(rt, 3)
		c.Flatten()
		once := c.Nodes()

		c.Flatten()
		twice := c.Nodes()

		if !c.IsFlat() {
			rt.Fatalf("composite not flat after Flatten")
		}
		if len(once) != len(twice) {
			rt.Fatalf("second flatten changed length %d -> %d", len(once), len(twice))
		}
		for i := range once {
			a, _ := once[i].Matrix()
			b, _ := twice[i].Matrix()
			if a != b {
				rt.Fatalf("node %d changed on second flatten", i)
			}
		}
	})
}

func TestFlattenPreservesActionProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		c := drawComposite(rt, 3)
		p := drawPoint(rt, "p")
		before, err := c.TransformPoint(p)
		if err != nil {
			rt.Fatal(err)
		}
		c.Flatten()
		after, err := c.TransformPoint(p)
		if err != nil {
			rt.Fatal(err)
		}
		for i := range before {
			if math.Abs(before[i]-after[i]) > 1e-9 {
				rt.Fatalf("flatten changed action: %v vs %v", before, after)
			}
		}
	})
}

func TestInverseRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		c := drawComposite(rt, 2)
		c.Flatten()
		inv, err := c.Inverse()
		if err != nil {
			rt.Fatal(err)
		}
		p := drawPoint(rt, "p")
		q, err := c.TransformPoint(p)
		if err != nil {
			rt.Fatal(err)
		}
		back, err := inv.TransformPoint(q)
		if err != nil {
			rt.Fatal(err)
		}
		for i := range p {
			if math.Abs(back[i]-p[i]) > 1e-7 {
				rt.Fatalf("inverse round trip drifted: %v -> %v", p, back)
			}
		}
	})
}
