package transformio

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"regtoh5/pkg/transform"
)

// ITKTextFormatName names the ITK "Insight Transform File" text format.
const ITKTextFormatName = "itk-text"

const itkTextMagic = "#Insight Transform File V1.0"

func init() {
	RegisterFormat(Format{
		Name:       ITKTextFormatName,
		Extensions: []string{".tfm", ".txt"},
		Write:      writeITKTextFile,
		Read:       readITKTextFile,
	})
}

func writeITKTextFile(path string, c *transform.Composite) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := EncodeITKText(f, c); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func readITKTextFile(path string) (*transform.Composite, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeITKText(f)
}

// EncodeITKText writes c as an ITK text transform file holding one
// composite followed by its affine components.
func EncodeITKText(w io.Writer, c *transform.Composite) error {
	ms, err := ITKOrder(c)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, itkTextMagic)
	fmt.Fprintln(bw, "#Transform 0")
	fmt.Fprintf(bw, "Transform: %s\n", CompositeTypeName)
	for i, m := range ms {
		params, fixed := AffineParameters(m)
		fmt.Fprintf(bw, "#Transform %d\n", i+1)
		fmt.Fprintf(bw, "Transform: %s\n", AffineTypeName)
		fmt.Fprintf(bw, "Parameters: %s\n", formatFloats(params))
		fmt.Fprintf(bw, "FixedParameters: %s\n", formatFloats(fixed))
	}
	return bw.Flush()
}

type itkTextEntry struct {
	typeName string
	params   []float64
	fixed    []float64
}

// DecodeITKText reads an ITK text transform file. A leading composite
// entry is optional; every other entry must be a 3D affine transform.
func DecodeITKText(r io.Reader) (*transform.Composite, error) {
	sc := bufio.NewScanner(r)
	var entries []*itkTextEntry
	var cur *itkTextEntry
	sawMagic := false
	lineNo := 0

	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if strings.HasPrefix(line, "#Insight Transform File") {
				sawMagic = true
			}
			continue
		}

		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("line %d: expected key: value", lineNo)
		}
		value = strings.TrimSpace(value)

		switch strings.TrimSpace(key) {
		case "Transform":
			cur = &itkTextEntry{typeName: value}
			entries = append(entries, cur)
		case "Parameters", "FixedParameters":
			if cur == nil {
				return nil, fmt.Errorf("line %d: %s before Transform", lineNo, key)
			}
			vals, err := parseFloats(value)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			if strings.TrimSpace(key) == "Parameters" {
				cur.params = vals
			} else {
				cur.fixed = vals
			}
		default:
			return nil, fmt.Errorf("line %d: unknown key %q", lineNo, key)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if !sawMagic {
		return nil, fmt.Errorf("missing %q header", itkTextMagic)
	}

	if len(entries) > 0 && entries[0].typeName == CompositeTypeName {
		entries = entries[1:]
	}
	if len(entries) == 0 {
		return nil, ErrEmptyTransform
	}

	ms := make([]transform.Matrix, 0, len(entries))
	for i, e := range entries {
		if e.typeName != AffineTypeName {
			return nil, fmt.Errorf("transform %d: unsupported type %s", i+1, e.typeName)
		}
		m, err := AffineFromParameters(e.params, e.fixed)
		if err != nil {
			return nil, fmt.Errorf("transform %d: %w", i+1, err)
		}
		ms = append(ms, m)
	}
	return FromITKOrder(ms), nil
}

func formatFloats(vals []float64) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, " ")
}

func parseFloats(s string) ([]float64, error) {
	fields := strings.Fields(s)
	vals := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", f)
		}
		vals[i] = v
	}
	return vals, nil
}
