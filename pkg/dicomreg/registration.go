// Package dicomreg reads DICOM Spatial Registration (REG) objects and
// materializes, per registered Frame of Reference, the transforms they
// carry.
//
// A spatial registration lists one item per Frame of Reference. Each item
// holds one or more matrix registrations, each a sequence of 4x4 matrices
// that map the item's frame into the registration's own reference frame.
// Deformable registrations add a pre-deformation matrix, a deformation grid
// and a post-deformation matrix per source frame.
package dicomreg

import (
	"errors"

	"regtoh5/pkg/transform"
)

// SOP Class UIDs understood by this package.
const (
	SpatialRegistrationSOPClassUID           = "1.2.840.10008.5.1.4.1.1.66.1"
	DeformableSpatialRegistrationSOPClassUID = "1.2.840.10008.5.1.4.1.1.66.3"
)

// GridNodeName names the unsupported node emitted for a deformation grid.
const GridNodeName = "DeformableRegistrationGrid"

var (
	// ErrMalformed is returned when a registration object is structurally
	// invalid, e.g. a matrix with the wrong number of values.
	ErrMalformed = errors.New("malformed registration object")

	// ErrNotRegistration is returned when the file is a DICOM object of an
	// unrelated SOP class.
	ErrNotRegistration = errors.New("not a spatial registration object")
)

// StepKind distinguishes matrix steps from deformation grids.
type StepKind int

const (
	StepMatrix StepKind = iota + 1
	StepGrid
)

// Step is one transform inside a matrix registration.
type Step struct {
	Kind StepKind

	// Matrix is the Frame of Reference Transformation Matrix (StepMatrix only)
	Matrix transform.Matrix

	// MatrixType is RIGID, RIGID_SCALE or AFFINE as recorded in the file
	MatrixType string
}

// Group is an ordered run of steps, e.g. one Matrix Registration Sequence
// item.
type Group struct {
	Steps []Step
}

// Item is the registration of a single Frame of Reference.
type Item struct {
	FrameOfReferenceUID string
	Deformable          bool
	Groups              []Group
}

// Registration is the decoded content of a REG file.
type Registration struct {
	SOPClassUID    string
	SOPInstanceUID string

	// FrameOfReferenceUID is the registered reference frame of the object
	FrameOfReferenceUID string

	Items []Item
}

// FramesOfReference lists the registered Frame of Reference UIDs in file
// order, without duplicates.
func (r *Registration) FramesOfReference() []string {
	seen := make(map[string]bool, len(r.Items))
	out := make([]string, 0, len(r.Items))
	for _, item := range r.Items {
		if seen[item.FrameOfReferenceUID] {
			continue
		}
		seen[item.FrameOfReferenceUID] = true
		out = append(out, item.FrameOfReferenceUID)
	}
	return out
}

// TransformsFor returns the transform list for a Frame of Reference: empty
// when no item registers it, otherwise a single composite whose children
// are one composite per matching item, each in turn holding one composite
// per group. Grids become unsupported nodes unless skipGrids is set.
func (r *Registration) TransformsFor(frameOfReferenceUID string, skipGrids bool) []transform.Node {
	root := transform.NewComposite()
	for _, item := range r.Items {
		if item.FrameOfReferenceUID != frameOfReferenceUID {
			continue
		}
		itemComposite := transform.NewComposite()
		for _, g := range item.Groups {
			groupComposite := transform.NewComposite()
			for _, s := range g.Steps {
				switch s.Kind {
				case StepMatrix:
					groupComposite.Append(transform.MatrixNode(s.Matrix))
				case StepGrid:
					if !skipGrids {
						groupComposite.Append(transform.UnsupportedNode(GridNodeName))
					}
				}
			}
			itemComposite.AppendComposite(groupComposite)
		}
		root.AppendComposite(itemComposite)
	}
	if root.Len() == 0 {
		return nil
	}
	return []transform.Node{transform.CompositeNode(root)}
}

// HasGrids reports whether any item carries a deformation grid.
func (r *Registration) HasGrids() bool {
	for _, item := range r.Items {
		for _, g := range item.Groups {
			for _, s := range g.Steps {
				if s.Kind == StepGrid {
					return true
				}
			}
		}
	}
	return false
}
