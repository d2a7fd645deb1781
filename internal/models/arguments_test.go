package models

import "testing"

func TestValidateModes(t *testing.T) {
	cases := []struct {
		name     string
		args     Arguments
		wantMode Mode
		wantKind ErrorKind
	}{
		{"single", Arguments{Input: "r.dcm", Output: "t.h5", Fixed: "1.2.3"}, ModeSingle, ""},
		{"pair", Arguments{Input: "r.dcm", Output: "t.h5", Fixed: "A", Moving: "B"}, ModePair, ""},
		{"same frames", Arguments{Input: "r.dcm", Output: "t.h5", Fixed: "A", Moving: "A"}, ModePair, ""},
		{"missing fixed", Arguments{Input: "r.dcm", Output: "t.h5", Moving: "B"}, 0, KindMissingFixedFoR},
		{"missing input", Arguments{Output: "t.h5", Fixed: "A"}, 0, KindBadArguments},
		{"missing output", Arguments{Input: "r.dcm", Fixed: "A"}, 0, KindBadArguments},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			mode, err := c.args.Validate()
			if c.wantKind != "" {
				if !IsKind(err, c.wantKind) {
					t.Fatalf("Validate() error = %v, want kind %s", err, c.wantKind)
				}
				return
			}
			if err != nil {
				t.Fatalf("Validate() unexpected error: %v", err)
			}
			if mode != c.wantMode {
				t.Errorf("Validate() mode = %v, want %v", mode, c.wantMode)
			}
		})
	}
}
