package chain

import (
	"strings"
	"testing"
)

func TestValidAddress(t *testing.T) {
	hex64 := strings.Repeat("ab", 32)

	cases := []struct {
		name  string
		input string
		want  bool
	}{
		{"prefixed lowercase", "0x" + hex64, true},
		{"bare hex", hex64, true},
		{"uppercase", "0x" + strings.ToUpper(hex64), true},
		{"mixed case", "0xAb" + strings.Repeat("cd", 31), true},
		{"surrounding whitespace", "  0x" + hex64 + "\n", true},
		{"too short", "0x" + hex64[:62], false},
		{"too long", "0x" + hex64 + "ff", false},
		{"non-hex character", "0x" + strings.Repeat("g", 64), false},
		{"empty", "", false},
		{"prefix only", "0x", false},
		{"double prefix", "0x0x" + hex64[:60], false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ValidAddress(tc.input); got != tc.want {
				t.Errorf("ValidAddress(%q) = %v, want %v", tc.input, got, tc.want)
			}
		})
	}
}

func TestNormalizeAddress(t *testing.T) {
	hex64 := strings.Repeat("ab", 32)

	cases := []struct {
		name  string
		input string
		want  string
	}{
		{"bare hex gains prefix", hex64, "0x" + hex64},
		{"uppercase is lowered", "0x" + strings.ToUpper(hex64), "0x" + hex64},
		{"whitespace trimmed", " " + hex64 + " ", "0x" + hex64},
		{"already normal", "0x" + hex64, "0x" + hex64},
		{"invalid yields empty", "not-an-address", ""},
		{"empty yields empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeAddress(tc.input); got != tc.want {
				t.Errorf("NormalizeAddress(%q) = %q, want %q", tc.input, got, tc.want)
			}
		})
	}
}

func TestNormalizeAddressIdempotent(t *testing.T) {
	in := "0X" + strings.Repeat("AB", 32)
	once := NormalizeAddress(in)
	twice := NormalizeAddress(once)
	if once == "" || once != twice {
		t.Errorf("normalization not idempotent: first %q, second %q", once, twice)
	}
}
