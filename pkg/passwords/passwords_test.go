package passwords

import (
	"errors"
	"strings"
	"testing"
)

func TestGenerate(t *testing.T) {
	pw, err := Generate(DefaultGeneratedLength)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(pw) != DefaultGeneratedLength {
		t.Errorf("Generate() length = %d, want %d", len(pw), DefaultGeneratedLength)
	}
	for _, r := range pw {
		if !strings.ContainsRune(Alphabet, r) {
			t.Errorf("Generate() produced character %q outside the alphabet", r)
		}
	}

	other, err := Generate(DefaultGeneratedLength)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if pw == other {
		t.Error("two Generate() calls produced the same password")
	}
}

func TestGenerateRejectsShortLength(t *testing.T) {
	if _, err := Generate(8); !errors.Is(err, ErrLengthTooShort) {
		t.Errorf("Generate(8) error = %v, want ErrLengthTooShort", err)
	}
}

func TestGeneratedPasswordsAreNotWeak(t *testing.T) {
	// Statistically a 24-character draw covers all four classes; run a few
	// to catch a broken generator rather than an unlucky draw.
	weak := 0
	for i := 0; i < 20; i++ {
		pw, err := Generate(DefaultGeneratedLength)
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if IsWeak(pw) {
			weak++
		}
	}
	if weak > 2 {
		t.Errorf("%d of 20 generated passwords classified weak", weak)
	}
}

func TestIsWeak(t *testing.T) {
	tests := []struct {
		password string
		want     bool
	}{
		{"short1!A", true},
		{"onlylowercaseletters", true},
		{"NoSymbolsButLong123", true},
		{"Str0ng!Enough-Pass", false},
		{"xK9#mP2$vL5@qR8&", false},
		{"", true},
	}

	for _, tt := range tests {
		if got := IsWeak(tt.password); got != tt.want {
			t.Errorf("IsWeak(%q) = %v, want %v", tt.password, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		password string
		want     Strength
	}{
		{"abc", StrengthWeak},
		{"abcdefgh1234", StrengthGood},
		{"abcdefghijkl", StrengthFair},
		{"Ab1!Ab1!Ab1!Ab1!", StrengthStrong},
		{"ab1", StrengthFair},
	}

	for _, tt := range tests {
		if got := Classify(tt.password); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.password, got, tt.want)
		}
	}
}

func TestStrengthString(t *testing.T) {
	if StrengthWeak.String() != "weak" || StrengthStrong.String() != "strong" {
		t.Error("Strength.String() returned unexpected labels")
	}
	if Strength(99).String() != "unknown" {
		t.Error("out-of-range Strength should stringify as unknown")
	}
}
