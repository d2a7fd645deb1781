package dicomreg

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"regtoh5/pkg/transform"
)

// Spatial and deformable registration attributes (PS3.3 C.20.2, C.20.3).
var (
	TagRegistrationSequence                      = tag.Tag{Group: 0x0070, Element: 0x0308}
	TagMatrixRegistrationSequence                = tag.Tag{Group: 0x0070, Element: 0x0309}
	TagMatrixSequence                            = tag.Tag{Group: 0x0070, Element: 0x030A}
	TagFrameOfReferenceTransformationMatrixType  = tag.Tag{Group: 0x0070, Element: 0x030C}
	TagFrameOfReferenceTransformationMatrix      = tag.Tag{Group: 0x3006, Element: 0x00C6}
	TagDeformableRegistrationSequence            = tag.Tag{Group: 0x0064, Element: 0x0002}
	TagSourceFrameOfReferenceUID                 = tag.Tag{Group: 0x0064, Element: 0x0003}
	TagDeformableRegistrationGridSequence        = tag.Tag{Group: 0x0064, Element: 0x0005}
	TagPreDeformationMatrixRegistrationSequence  = tag.Tag{Group: 0x0064, Element: 0x000F}
	TagPostDeformationMatrixRegistrationSequence = tag.Tag{Group: 0x0064, Element: 0x0010}
)

// ParseFile decodes the REG object stored at path.
func ParseFile(path string) (*Registration, error) {
	ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return nil, fmt.Errorf("failed to parse DICOM file %s: %w", path, err)
	}
	return FromDataset(ds)
}

// FromDataset extracts the registration content of an already parsed
// dataset.
func FromDataset(ds dicom.Dataset) (*Registration, error) {
	reg := &Registration{
		SOPClassUID:         stringValue(findElement(ds.Elements, tag.SOPClassUID)),
		SOPInstanceUID:      stringValue(findElement(ds.Elements, tag.SOPInstanceUID)),
		FrameOfReferenceUID: stringValue(findElement(ds.Elements, tag.FrameOfReferenceUID)),
	}

	switch reg.SOPClassUID {
	case SpatialRegistrationSOPClassUID, DeformableSpatialRegistrationSOPClassUID, "":
	default:
		return nil, fmt.Errorf("%w: SOP class %s", ErrNotRegistration, reg.SOPClassUID)
	}

	spatial, err := sequenceItems(findElement(ds.Elements, TagRegistrationSequence))
	if err != nil {
		return nil, fmt.Errorf("registration sequence: %w", err)
	}
	for i, elems := range spatial {
		item, err := spatialItem(elems)
		if err != nil {
			return nil, fmt.Errorf("registration sequence item %d: %w", i, err)
		}
		reg.Items = append(reg.Items, item)
	}

	deformable, err := sequenceItems(findElement(ds.Elements, TagDeformableRegistrationSequence))
	if err != nil {
		return nil, fmt.Errorf("deformable registration sequence: %w", err)
	}
	for i, elems := range deformable {
		item, err := deformableItem(elems)
		if err != nil {
			return nil, fmt.Errorf("deformable registration sequence item %d: %w", i, err)
		}
		reg.Items = append(reg.Items, item)
	}

	if len(spatial) == 0 && len(deformable) == 0 && reg.SOPClassUID == "" {
		return nil, fmt.Errorf("%w: no registration sequences", ErrNotRegistration)
	}
	return reg, nil
}

func spatialItem(elems []*dicom.Element) (Item, error) {
	item := Item{FrameOfReferenceUID: stringValue(findElement(elems, tag.FrameOfReferenceUID))}
	if item.FrameOfReferenceUID == "" {
		return item, fmt.Errorf("%w: missing Frame of Reference UID", ErrMalformed)
	}

	registrations, err := sequenceItems(findElement(elems, TagMatrixRegistrationSequence))
	if err != nil {
		return item, err
	}
	for j, regElems := range registrations {
		group, err := matrixGroup(regElems)
		if err != nil {
			return item, fmt.Errorf("matrix registration %d: %w", j, err)
		}
		item.Groups = append(item.Groups, group)
	}
	return item, nil
}

func deformableItem(elems []*dicom.Element) (Item, error) {
	item := Item{
		FrameOfReferenceUID: stringValue(findElement(elems, TagSourceFrameOfReferenceUID)),
		Deformable:          true,
	}
	if item.FrameOfReferenceUID == "" {
		return item, fmt.Errorf("%w: missing Source Frame of Reference UID", ErrMalformed)
	}

	pre, err := singleMatrixGroup(elems, TagPreDeformationMatrixRegistrationSequence)
	if err != nil {
		return item, fmt.Errorf("pre-deformation matrix: %w", err)
	}
	if pre != nil {
		item.Groups = append(item.Groups, *pre)
	}

	if grid := findElement(elems, TagDeformableRegistrationGridSequence); grid != nil {
		item.Groups = append(item.Groups, Group{Steps: []Step{{Kind: StepGrid}}})
	}

	post, err := singleMatrixGroup(elems, TagPostDeformationMatrixRegistrationSequence)
	if err != nil {
		return item, fmt.Errorf("post-deformation matrix: %w", err)
	}
	if post != nil {
		item.Groups = append(item.Groups, *post)
	}
	return item, nil
}

// singleMatrixGroup reads a pre/post deformation sequence whose items carry
// the matrix directly.
func singleMatrixGroup(elems []*dicom.Element, t tag.Tag) (*Group, error) {
	items, err := sequenceItems(findElement(elems, t))
	if err != nil || len(items) == 0 {
		return nil, err
	}
	group := &Group{}
	for _, itemElems := range items {
		step, err := matrixStep(itemElems)
		if err != nil {
			return nil, err
		}
		group.Steps = append(group.Steps, step)
	}
	return group, nil
}

func matrixGroup(elems []*dicom.Element) (Group, error) {
	var group Group
	matrices, err := sequenceItems(findElement(elems, TagMatrixSequence))
	if err != nil {
		return group, err
	}
	if len(matrices) == 0 {
		return group, fmt.Errorf("%w: empty matrix sequence", ErrMalformed)
	}
	for k, mElems := range matrices {
		step, err := matrixStep(mElems)
		if err != nil {
			return group, fmt.Errorf("matrix %d: %w", k, err)
		}
		group.Steps = append(group.Steps, step)
	}
	return group, nil
}

func matrixStep(elems []*dicom.Element) (Step, error) {
	values, err := floatValues(findElement(elems, TagFrameOfReferenceTransformationMatrix))
	if err != nil {
		return Step{}, err
	}
	m, err := transform.NewMatrix(values)
	if err != nil {
		return Step{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return Step{
		Kind:       StepMatrix,
		Matrix:     m,
		MatrixType: stringValue(findElement(elems, TagFrameOfReferenceTransformationMatrixType)),
	}, nil
}

func findElement(elems []*dicom.Element, t tag.Tag) *dicom.Element {
	for _, e := range elems {
		if e != nil && e.Tag == t {
			return e
		}
	}
	return nil
}

func stringValue(e *dicom.Element) string {
	if e == nil || e.Value == nil {
		return ""
	}
	values, ok := e.Value.GetValue().([]string)
	if !ok || len(values) == 0 {
		return ""
	}
	return strings.TrimRight(strings.TrimSpace(values[0]), "\x00")
}

func floatValues(e *dicom.Element) ([]float64, error) {
	if e == nil || e.Value == nil {
		return nil, fmt.Errorf("%w: missing transformation matrix", ErrMalformed)
	}
	switch v := e.Value.GetValue().(type) {
	case []float64:
		return v, nil
	case []string:
		out := make([]float64, 0, len(v))
		for _, s := range v {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, fmt.Errorf("%w: matrix value %q: %v", ErrMalformed, s, err)
			}
			out = append(out, f)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unexpected matrix value type %T", ErrMalformed, v)
	}
}

// sequenceItems returns the elements of each item of a sequence element. A
// missing element yields no items.
func sequenceItems(e *dicom.Element) ([][]*dicom.Element, error) {
	if e == nil || e.Value == nil {
		return nil, nil
	}
	items, ok := e.Value.GetValue().([]*dicom.SequenceItemValue)
	if !ok {
		return nil, fmt.Errorf("%w: element %v is not a sequence", ErrMalformed, e.Tag)
	}
	out := make([][]*dicom.Element, 0, len(items))
	for _, item := range items {
		elems, ok := item.GetValue().([]*dicom.Element)
		if !ok {
			return nil, fmt.Errorf("%w: malformed item in sequence %v", ErrMalformed, e.Tag)
		}
		out = append(out, elems)
	}
	return out, nil
}
