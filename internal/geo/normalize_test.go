package geo

import "testing"

func TestToASCII(t *testing.T) {
	cases := map[string]string{
		"São Paulo":   "Sao Paulo",
		"New Delhi":   "New Delhi",
		"Łódź":        "odz", // non-decomposable letters are dropped
		"  spaced  x": "spaced x",
	}
	for in, want := range cases {
		if got := ToASCII(in); got != want {
			t.Errorf("ToASCII(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCanonicalSegment(t *testing.T) {
	cases := map[string]string{
		"New Delhi":     "NEW_DELHI",
		"São Paulo":     "SAO_PAULO",
		"Lajpat-Nagar":  "LAJPAT_NAGAR",
		"uttar pradesh": "UTTAR_PRADESH",
		"":              "",
		"a/b:c":         "A_B_C",
	}
	for in, want := range cases {
		if got := CanonicalSegment(in); got != want {
			t.Errorf("CanonicalSegment(%q) = %q, want %q", in, got, want)
		}
	}
}
