// Package transform provides the geometric primitives used to convert DICOM
// spatial registrations: 4x4 homogeneous matrices, points and composite
// transforms built from them.
package transform

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Dimension is the spatial dimension of every transform in this package.
const Dimension = 3

var (
	// ErrSingular is returned when a matrix has no usable inverse.
	ErrSingular = errors.New("matrix is singular")

	// ErrNotAffine is returned when the last row of a matrix is not 0 0 0 1.
	ErrNotAffine = errors.New("matrix is not affine")
)

// Point is a position in a 3D Frame of Reference, in millimetres.
type Point [Dimension]float64

// Matrix is a 4x4 homogeneous transformation matrix stored row-major, the
// same layout DICOM uses for Frame of Reference Transformation Matrix.
type Matrix [4][4]float64

// Identity returns the 4x4 identity matrix.
func Identity() Matrix {
	var m Matrix
	for i := 0; i < 4; i++ {
		m[i][i] = 1
	}
	return m
}

// Translation returns a matrix that translates points by (x, y, z).
func Translation(x, y, z float64) Matrix {
	m := Identity()
	m[0][3] = x
	m[1][3] = y
	m[2][3] = z
	return m
}

// Scaling returns a matrix that scales each axis independently.
func Scaling(sx, sy, sz float64) Matrix {
	m := Identity()
	m[0][0] = sx
	m[1][1] = sy
	m[2][2] = sz
	return m
}

// Rotation returns a rigid rotation of angle radians about the given axis
// (0 = x, 1 = y, 2 = z) using the right-hand rule.
func Rotation(axis int, angle float64) Matrix {
	m := Identity()
	c, s := math.Cos(angle), math.Sin(angle)
	switch axis {
	case 0:
		m[1][1], m[1][2] = c, -s
		m[2][1], m[2][2] = s, c
	case 1:
		m[0][0], m[0][2] = c, s
		m[2][0], m[2][2] = -s, c
	default:
		m[0][0], m[0][1] = c, -s
		m[1][0], m[1][1] = s, c
	}
	return m
}

// NewMatrix builds a matrix from 16 row-major values.
func NewMatrix(values []float64) (Matrix, error) {
	var m Matrix
	if len(values) != 16 {
		return m, fmt.Errorf("matrix needs 16 values, got %d", len(values))
	}
	for i, v := range values {
		m[i/4][i%4] = v
	}
	return m, nil
}

// NewAffine builds a matrix from a 3x3 linear part (row-major) and a
// translation, the parameterisation ITK uses for AffineTransform.
func NewAffine(linear [9]float64, translation Point) Matrix {
	m := Identity()
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			m[r][c] = linear[r*3+c]
		}
		m[r][3] = translation[r]
	}
	return m
}

// Values returns the 16 entries in row-major order.
func (m Matrix) Values() []float64 {
	out := make([]float64, 0, 16)
	for r := 0; r < 4; r++ {
		out = append(out, m[r][:]...)
	}
	return out
}

// Linear returns the upper-left 3x3 block in row-major order.
func (m Matrix) Linear() [9]float64 {
	var l [9]float64
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			l[r*3+c] = m[r][c]
		}
	}
	return l
}

// Offset returns the translation column.
func (m Matrix) Offset() Point {
	return Point{m[0][3], m[1][3], m[2][3]}
}

// IsAffine reports whether the projective row is exactly 0 0 0 1.
func (m Matrix) IsAffine() bool {
	return m[3][0] == 0 && m[3][1] == 0 && m[3][2] == 0 && m[3][3] == 1
}

// Apply maps p through the matrix. The homogeneous coordinate is divided
// out so non-affine matrices still produce a point.
func (m Matrix) Apply(p Point) Point {
	var out Point
	for r := 0; r < 3; r++ {
		out[r] = m[r][0]*p[0] + m[r][1]*p[1] + m[r][2]*p[2] + m[r][3]
	}
	w := m[3][0]*p[0] + m[3][1]*p[1] + m[3][2]*p[2] + m[3][3]
	if w != 1 && w != 0 {
		for r := range out {
			out[r] /= w
		}
	}
	return out
}

// Mul returns m·o, the matrix that applies o first and then m.
func (m Matrix) Mul(o Matrix) Matrix {
	var prod mat.Dense
	prod.Mul(m.dense(), o.dense())
	return fromDense(&prod)
}

// Inverse returns the inverse matrix. Singular and numerically
// ill-conditioned matrices yield ErrSingular.
func (m Matrix) Inverse() (Matrix, error) {
	var inv mat.Dense
	if err := inv.Inverse(m.dense()); err != nil {
		return Matrix{}, fmt.Errorf("%w: %v", ErrSingular, err)
	}
	return fromDense(&inv), nil
}

// Determinant returns the determinant of the full 4x4 matrix.
func (m Matrix) Determinant() float64 {
	return mat.Det(m.dense())
}

// ApproxEqual reports whether every entry differs by at most tol.
func (m Matrix) ApproxEqual(o Matrix, tol float64) bool {
	return mat.EqualApprox(m.dense(), o.dense(), tol)
}

// IsIdentity reports whether m is the identity within tol.
func (m Matrix) IsIdentity(tol float64) bool {
	return m.ApproxEqual(Identity(), tol)
}

func (m Matrix) String() string {
	rows := make([]string, 4)
	for r := 0; r < 4; r++ {
		cols := make([]string, 4)
		for c := 0; c < 4; c++ {
			cols[c] = strconv.FormatFloat(m[r][c], 'g', -1, 64)
		}
		rows[r] = strings.Join(cols, " ")
	}
	return "[" + strings.Join(rows, "; ") + "]"
}

func (m Matrix) dense() *mat.Dense {
	return mat.NewDense(4, 4, m.Values())
}

func fromDense(d *mat.Dense) Matrix {
	var m Matrix
	for r := 0; r < 4; r++ {
		for c := 0; c < 4; c++ {
			m[r][c] = d.At(r, c)
		}
	}
	return m
}
