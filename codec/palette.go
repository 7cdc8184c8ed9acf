package codec

import (
	"errors"
	"fmt"
)

// DefaultPalette orders glyphs from sparsest to densest.
const DefaultPalette = ":-=+*%@#"

// ErrPaletteTooSmall is a configuration error: bucketing needs at least two glyphs.
var ErrPaletteTooSmall = errors.New("palette needs at least 2 glyphs")

// Palette maps brightness samples to glyphs. The glyph order is the caller's
// contract and is not checked.
type Palette struct {
	glyphs []rune
}

// NewPalette copies glyphs into an immutable palette.
func NewPalette(glyphs []rune) (Palette, error) {
	if len(glyphs) < 2 {
		return Palette{}, fmt.Errorf("%w (got %d)", ErrPaletteTooSmall, len(glyphs))
	}
	return Palette{glyphs: append([]rune(nil), glyphs...)}, nil
}

// ParsePalette builds a palette from the runes of s.
func ParsePalette(s string) (Palette, error) {
	return NewPalette([]rune(s))
}

// MustPalette is NewPalette for package-level constants.
func MustPalette(s string) Palette {
	p, err := ParsePalette(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Len returns the number of glyphs.
func (p Palette) Len() int {
	return len(p.glyphs)
}

// Index returns floor(v*(N-1)/255).
func (p Palette) Index(v uint8) int {
	return int(v) * (len(p.glyphs) - 1) / 255
}

// Glyph returns the glyph for brightness v.
func (p Palette) Glyph(v uint8) rune {
	return p.glyphs[p.Index(v)]
}

func (p Palette) String() string {
	return string(p.glyphs)
}
