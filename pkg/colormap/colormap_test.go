package colormap

import (
	"image/color"
	"testing"
)

func TestParse(t *testing.T) {
	t.Parallel()

	cases := map[string]color.RGBA{
		"#FF4500": {R: 255, G: 69, B: 0, A: 255},
		"#fff":    {R: 255, G: 255, B: 255, A: 255},
		"black":   {A: 255},
		" Red ":   {R: 255, A: 255},
	}
	for in, want := range cases {
		got, err := Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", in, err)
		}
		if got != want {
			t.Fatalf("Parse(%q) = %#v, want %#v", in, got, want)
		}
	}

	if _, err := Parse("#12345"); err == nil {
		t.Fatalf("expected error for short hex")
	}
	if _, err := Parse("not-a-color"); err == nil {
		t.Fatalf("expected error for unknown name")
	}
}

func TestToHexRoundTrip(t *testing.T) {
	t.Parallel()

	v, err := ToHex("#32CD32")
	if err != nil {
		t.Fatalf("ToHex error: %v", err)
	}
	if v != 0x32cd32 {
		t.Fatalf("unexpected hex: %#x", v)
	}
	if got := Format(FromHex(v)); got != "#32cd32" {
		t.Fatalf("unexpected format: %s", got)
	}

	hidden, _ := ToHex(Hidden)
	if hidden != 0xffffff {
		t.Fatalf("hidden sentinel should be white, got %#x", hidden)
	}
}

func TestDefaultPaletteSize(t *testing.T) {
	t.Parallel()

	p, ok := Default(15)
	if !ok || len(p) != len(Epilogos) {
		t.Fatalf("expected epilogos palette for 15 categories, got %d ok=%v", len(p), ok)
	}
	p, ok = Default(18)
	if !ok || len(p) != len(Categorical) {
		t.Fatalf("expected categorical palette for 18 categories, got %d ok=%v", len(p), ok)
	}
	if _, ok := Default(21); ok {
		t.Fatalf("expected no palette for 21 categories")
	}

	// Default hands out copies.
	p, _ = Default(3)
	p[0] = "#000000"
	if Epilogos[0] != "#FF0000" {
		t.Fatalf("palette was mutated through Default")
	}
}
