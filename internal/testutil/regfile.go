// Package testutil builds DICOM registration fixtures for tests.
package testutil

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"regtoh5/pkg/dicomreg"
	"regtoh5/pkg/transform"
)

const explicitVRLittleEndian = "1.2.840.10008.1.2.1"

// Frame describes one registered Frame of Reference of a spatial REG. Each
// entry of Registrations becomes one Matrix Registration Sequence item.
type Frame struct {
	UID           string
	Registrations [][]transform.Matrix
}

// RigidFrame is a Frame with a single matrix registration.
func RigidFrame(uid string, matrices ...transform.Matrix) Frame {
	return Frame{UID: uid, Registrations: [][]transform.Matrix{matrices}}
}

// DeformableFrame describes one Deformable Registration Sequence item.
type DeformableFrame struct {
	UID  string
	Pre  *transform.Matrix
	Post *transform.Matrix
	Grid bool
}

// WriteSpatialRegistration writes a spatial REG file registering frames
// into dir and returns its path.
func WriteSpatialRegistration(t testing.TB, dir string, frames ...Frame) string {
	t.Helper()

	items := make([][]*dicom.Element, 0, len(frames))
	for _, f := range frames {
		regs := make([][]*dicom.Element, 0, len(f.Registrations))
		for _, ms := range f.Registrations {
			matrices := make([][]*dicom.Element, 0, len(ms))
			for _, m := range ms {
				matrices = append(matrices, matrixElements(t, m))
			}
			regs = append(regs, []*dicom.Element{
				mustElement(t, dicomreg.TagMatrixSequence, matrices),
			})
		}
		items = append(items, []*dicom.Element{
			mustElement(t, tag.FrameOfReferenceUID, []string{f.UID}),
			mustElement(t, dicomreg.TagMatrixRegistrationSequence, regs),
		})
	}

	elems := header(t, dicomreg.SpatialRegistrationSOPClassUID)
	elems = append(elems, mustElement(t, dicomreg.TagRegistrationSequence, items))
	return writeDataset(t, dir, "reg.dcm", elems)
}

// WriteDeformableRegistration writes a deformable REG file into dir and
// returns its path.
func WriteDeformableRegistration(t testing.TB, dir string, frames ...DeformableFrame) string {
	t.Helper()

	items := make([][]*dicom.Element, 0, len(frames))
	for _, f := range frames {
		item := []*dicom.Element{
			mustElement(t, dicomreg.TagSourceFrameOfReferenceUID, []string{f.UID}),
		}
		if f.Grid {
			item = append(item, mustElement(t, dicomreg.TagDeformableRegistrationGridSequence, [][]*dicom.Element{{
				mustElement(t, tag.ImagePositionPatient, []string{"0", "0", "0"}),
			}}))
		}
		if f.Pre != nil {
			item = append(item, mustElement(t, dicomreg.TagPreDeformationMatrixRegistrationSequence,
				[][]*dicom.Element{matrixElements(t, *f.Pre)}))
		}
		if f.Post != nil {
			item = append(item, mustElement(t, dicomreg.TagPostDeformationMatrixRegistrationSequence,
				[][]*dicom.Element{matrixElements(t, *f.Post)}))
		}
		items = append(items, item)
	}

	elems := header(t, dicomreg.DeformableSpatialRegistrationSOPClassUID)
	elems = append(elems, mustElement(t, dicomreg.TagDeformableRegistrationSequence, items))
	return writeDataset(t, dir, "dreg.dcm", elems)
}

// WriteGarbage writes a file that is not DICOM and returns its path.
func WriteGarbage(t testing.TB, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "garbage.dcm")
	if err := os.WriteFile(path, []byte("this is not a DICOM file"), 0644); err != nil {
		t.Fatalf("failed to write garbage file: %v", err)
	}
	return path
}

func header(t testing.TB, sopClass string) []*dicom.Element {
	return []*dicom.Element{
		mustElement(t, tag.FileMetaInformationVersion, []byte{0x00, 0x01}),
		mustElement(t, tag.MediaStorageSOPClassUID, []string{sopClass}),
		mustElement(t, tag.MediaStorageSOPInstanceUID, []string{"1.2.826.0.1.3680043.2.1125.1"}),
		mustElement(t, tag.TransferSyntaxUID, []string{explicitVRLittleEndian}),
		mustElement(t, tag.SOPClassUID, []string{sopClass}),
		mustElement(t, tag.SOPInstanceUID, []string{"1.2.826.0.1.3680043.2.1125.1"}),
		mustElement(t, tag.Modality, []string{"REG"}),
		mustElement(t, tag.FrameOfReferenceUID, []string{"1.2.826.0.1.3680043.2.1125.99"}),
	}
}

func matrixElements(t testing.TB, m transform.Matrix) []*dicom.Element {
	values := m.Values()
	ds := make([]string, len(values))
	for i, v := range values {
		ds[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return []*dicom.Element{
		mustElement(t, dicomreg.TagFrameOfReferenceTransformationMatrixType, []string{"AFFINE"}),
		mustElement(t, dicomreg.TagFrameOfReferenceTransformationMatrix, ds),
	}
}

func mustElement(t testing.TB, tg tag.Tag, data interface{}) *dicom.Element {
	t.Helper()
	e, err := dicom.NewElement(tg, data)
	if err != nil {
		t.Fatalf("failed to build element %v: %v", tg, err)
	}
	return e
}

func writeDataset(t testing.TB, dir, name string, elems []*dicom.Element) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create %s: %v", path, err)
	}
	defer f.Close()

	if err := dicom.Write(f, dicom.Dataset{Elements: elems}); err != nil {
		t.Fatalf("failed to write DICOM dataset: %v", err)
	}
	return path
}
