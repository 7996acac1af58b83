package domain

import (
	"errors"
	"testing"
)

func TestNormalizeIdentifier(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase unchanged", "alice", "alice"},
		{"title case", "Alice", "alice"},
		{"upper case", "ALICE", "alice"},
		{"surrounding whitespace", "  Bob\t\n", "bob"},
		{"inner whitespace kept", "mary ann", "mary ann"},
		{"digits and symbols", "User_42.X", "user_42.x"},
		{"precomposed accent", "Émile", "émile"},
		{"decomposed accent", "E\u0301mile", "\u00e9mile"},
		{"greek", "Σωκράτης", "σωκράτησ"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeIdentifier(tt.in)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("NormalizeIdentifier(%q) = %q; want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeIdentifier_CaseVariantsCollapse(t *testing.T) {
	variants := []string{"Alice", "ALICE", "alice", " aLiCe "}
	first, err := NormalizeIdentifier(variants[0])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, v := range variants[1:] {
		got, err := NormalizeIdentifier(v)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", v, err)
		}
		if got != first {
			t.Errorf("variant %q normalized to %q, want %q", v, got, first)
		}
	}
}

func TestNormalizeIdentifier_Empty(t *testing.T) {
	for _, in := range []string{"", "   ", "\t\n"} {
		if _, err := NormalizeIdentifier(in); !errors.Is(err, ErrInvalidIdentifier) {
			t.Errorf("NormalizeIdentifier(%q) error = %v; want ErrInvalidIdentifier", in, err)
		}
	}
}

func TestDisplayIdentifier(t *testing.T) {
	if got := DisplayIdentifier("  Alice "); got != "Alice" {
		t.Errorf("DisplayIdentifier = %q; want %q", got, "Alice")
	}
}
