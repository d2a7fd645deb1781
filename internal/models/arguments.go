package models

import "fmt"

// Arguments represents one conversion request as parsed from the command line
type Arguments struct {
	// Input is the path of the DICOM Spatial Registration (REG) file
	Input string

	// Output is the path where the transform archive is written
	Output string

	// Fixed is the Frame of Reference UID of the fixed (output grid) frame
	Fixed string

	// Moving is the Frame of Reference UID of the moving frame.
	// Empty selects single-frame extraction.
	Moving string

	// ConfigPath optionally points at a YAML or TOML configuration file
	ConfigPath string

	// Invert emits the inverse of the composed transform
	Invert bool

	// Summary prints a JSON description of the emitted transform on stdout
	Summary bool

	// Verbose enables debug logging
	Verbose bool
}

// Mode is the composition mode selected by a set of arguments
type Mode int

const (
	ModeSingle Mode = iota + 1
	ModePair
)

func (m Mode) String() string {
	switch m {
	case ModeSingle:
		return "single"
	case ModePair:
		return "pair"
	default:
		return "unknown"
	}
}

// HasMoving reports whether a moving Frame of Reference was supplied
func (a Arguments) HasMoving() bool {
	return a.Moving != ""
}

// Validate checks the required fields and returns the composition mode.
func (a Arguments) Validate() (Mode, error) {
	if a.Input == "" || a.Output == "" {
		return 0, &Error{
			Op:   "parse arguments",
			Kind: KindBadArguments,
			Err:  fmt.Errorf("both --input and --output are required"),
		}
	}
	if a.Fixed == "" {
		return 0, &Error{
			Op:   "parse arguments",
			Kind: KindMissingFixedFoR,
			Err:  fmt.Errorf("at least --fixed must be supplied to determine which transform to export"),
		}
	}
	if a.HasMoving() {
		return ModePair, nil
	}
	return ModeSingle, nil
}
