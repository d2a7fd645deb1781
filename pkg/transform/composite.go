package transform

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFlat is returned by operations that require a flattened composite.
	ErrNotFlat = errors.New("composite is not flattened")

	// ErrUnsupportedNode is returned when a node is neither a matrix nor a
	// composite of matrices.
	ErrUnsupportedNode = errors.New("unsupported transform node")

	// ErrEmpty is returned when a non-empty composite is required.
	ErrEmpty = errors.New("composite is empty")
)

// Kind tags the variant held by a Node.
type Kind int

const (
	KindMatrix Kind = iota + 1
	KindComposite
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindMatrix:
		return "matrix"
	case KindComposite:
		return "composite"
	case KindUnsupported:
		return "unsupported"
	default:
		return "invalid"
	}
}

// Node is one entry of a composite transform. Exactly one of the payloads
// is meaningful, selected by Kind.
type Node struct {
	kind      Kind
	matrix    Matrix
	composite *Composite
	name      string
}

// MatrixNode wraps a matrix transform.
func MatrixNode(m Matrix) Node {
	return Node{kind: KindMatrix, matrix: m}
}

// CompositeNode wraps a nested composite transform.
func CompositeNode(c *Composite) Node {
	return Node{kind: KindComposite, composite: c}
}

// UnsupportedNode records a transform this package cannot evaluate, such as
// a deformation grid. name identifies the payload in error messages.
func UnsupportedNode(name string) Node {
	return Node{kind: KindUnsupported, name: name}
}

// Kind returns the variant tag.
func (n Node) Kind() Kind { return n.kind }

// Matrix returns the matrix payload.
func (n Node) Matrix() (Matrix, bool) {
	return n.matrix, n.kind == KindMatrix
}

// Composite returns the nested composite payload.
func (n Node) Composite() (*Composite, bool) {
	return n.composite, n.kind == KindComposite && n.composite != nil
}

// Name describes the node, e.g. "matrix" or the unsupported payload name.
func (n Node) Name() string {
	if n.kind == KindUnsupported {
		return n.name
	}
	return n.kind.String()
}

// Composite is an ordered sequence of transforms. Applying it to a point
// runs the first node first:
//
//	[T1, T2, ..., Tn](p) = Tn(...T2(T1(p))...)
//
// A composite is owned by whoever built it and is not safe for concurrent
// mutation.
type Composite struct {
	queue []Node
}

// NewComposite returns a composite holding nodes in order.
func NewComposite(nodes ...Node) *Composite {
	c := &Composite{}
	c.queue = append(c.queue, nodes...)
	return c
}

// FromMatrices returns a flat composite of the given matrices.
func FromMatrices(ms ...Matrix) *Composite {
	c := &Composite{queue: make([]Node, 0, len(ms))}
	for _, m := range ms {
		c.queue = append(c.queue, MatrixNode(m))
	}
	return c
}

// Len returns the number of top-level nodes.
func (c *Composite) Len() int { return len(c.queue) }

// Nodes returns a copy of the top-level nodes.
func (c *Composite) Nodes() []Node {
	out := make([]Node, len(c.queue))
	copy(out, c.queue)
	return out
}

// Append adds nodes to the end of the queue; they are applied last.
func (c *Composite) Append(nodes ...Node) {
	c.queue = append(c.queue, nodes...)
}

// AppendComposite adds o as a single nested node.
func (c *Composite) AppendComposite(o *Composite) {
	c.queue = append(c.queue, CompositeNode(o))
}

// IsFlat reports whether no node is itself a composite.
func (c *Composite) IsFlat() bool {
	for _, n := range c.queue {
		if n.kind == KindComposite {
			return false
		}
	}
	return true
}

// Flatten rewrites the queue in place so that nested composites are replaced
// by their own (recursively flattened) nodes. Flattening a flat composite is
// a no-op.
func (c *Composite) Flatten() {
	if c.IsFlat() {
		return
	}
	flat := make([]Node, 0, len(c.queue))
	var walk func(nodes []Node)
	walk = func(nodes []Node) {
		for _, n := range nodes {
			if n.kind == KindComposite {
				if n.composite != nil {
					walk(n.composite.queue)
				}
				continue
			}
			flat = append(flat, n)
		}
	}
	walk(c.queue)
	c.queue = flat
}

// Clone returns a deep copy.
func (c *Composite) Clone() *Composite {
	out := &Composite{queue: make([]Node, len(c.queue))}
	for i, n := range c.queue {
		if n.kind == KindComposite && n.composite != nil {
			n = CompositeNode(n.composite.Clone())
		}
		out.queue[i] = n
	}
	return out
}

// Matrices returns the matrices of a flat composite in application order.
func (c *Composite) Matrices() ([]Matrix, error) {
	out := make([]Matrix, 0, len(c.queue))
	for i, n := range c.queue {
		switch n.kind {
		case KindMatrix:
			out = append(out, n.matrix)
		case KindComposite:
			return nil, fmt.Errorf("node %d: %w", i, ErrNotFlat)
		default:
			return nil, fmt.Errorf("node %d (%s): %w", i, n.Name(), ErrUnsupportedNode)
		}
	}
	return out, nil
}

// Inverse returns [Tn^-1, ..., T1^-1]. The composite must be flat and every
// element invertible; a singular element yields an error wrapping
// ErrSingular that names its position.
func (c *Composite) Inverse() (*Composite, error) {
	ms, err := c.Matrices()
	if err != nil {
		return nil, err
	}
	inv := &Composite{queue: make([]Node, 0, len(ms))}
	for i := len(ms) - 1; i >= 0; i-- {
		m, err := ms[i].Inverse()
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", i, err)
		}
		inv.queue = append(inv.queue, MatrixNode(m))
	}
	return inv, nil
}

// TransformPoint applies the composite to p.
func (c *Composite) TransformPoint(p Point) (Point, error) {
	for i, n := range c.queue {
		switch n.kind {
		case KindMatrix:
			p = n.matrix.Apply(p)
		case KindComposite:
			if n.composite == nil {
				continue
			}
			q, err := n.composite.TransformPoint(p)
			if err != nil {
				return Point{}, fmt.Errorf("node %d: %w", i, err)
			}
			p = q
		default:
			return Point{}, fmt.Errorf("node %d (%s): %w", i, n.Name(), ErrUnsupportedNode)
		}
	}
	return p, nil
}

// Collapse multiplies the matrices of a flat composite into one matrix with
// the same action. An empty composite collapses to the identity.
func (c *Composite) Collapse() (Matrix, error) {
	ms, err := c.Matrices()
	if err != nil {
		return Matrix{}, err
	}
	out := Identity()
	for _, m := range ms {
		out = m.Mul(out)
	}
	return out, nil
}

func (c *Composite) String() string {
	parts := make([]string, len(c.queue))
	for i, n := range c.queue {
		switch n.kind {
		case KindMatrix:
			parts[i] = n.matrix.String()
		case KindComposite:
			if n.composite != nil {
				parts[i] = n.composite.String()
			}
		default:
			parts[i] = n.Name()
		}
	}
	return "Composite{" + strings.Join(parts, ", ") + "}"
}
