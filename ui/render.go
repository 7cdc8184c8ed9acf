// Package ui turns frames into colored character art.
package ui

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/muesli/termenv"

	"github.com/svanichkin/termfeed/codec"
)

const hexDigits = "0123456789abcdef"

// Renderer maps each pixel to a palette glyph by its luminance and colors it
// with the pixel's RGB.
type Renderer struct {
	palette codec.Palette
	profile termenv.Profile
	// Double draws every pixel as the same glyph in two cells, to make up for
	// character cells being taller than wide.
	Double bool
	mono   *colorful.Color
	tint   *colorFilterSpec
}

// NewRenderer returns a renderer in double-cell mode.
func NewRenderer(p codec.Palette, profile termenv.Profile) *Renderer {
	return &Renderer{palette: p, profile: profile, Double: true}
}

// SetColor switches to single-color mode. The glyphs keep their luminance
// but every cell uses hex scaled by brightness. An empty string turns it off.
func (r *Renderer) SetColor(hex string) error {
	hex = strings.TrimSpace(hex)
	if hex == "" {
		r.mono = nil
		return nil
	}
	if !strings.HasPrefix(hex, "#") {
		hex = "#" + hex
	}
	c, err := colorful.Hex(hex)
	if err != nil {
		return fmt.Errorf("color %q: %w", hex, err)
	}
	r.mono = &c
	return nil
}

// SetTint applies one of the named tint filters. An empty name turns it off.
func (r *Renderer) SetTint(name string) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" || name == "none" {
		r.tint = nil
		return nil
	}
	spec, ok := colorFilterPresets[name]
	if !ok {
		return fmt.Errorf("unknown tint %q (want one of %s)", name, strings.Join(Tints(), ", "))
	}
	r.tint = spec
	return nil
}

// Tints lists the tint filter names.
func Tints() []string {
	names := make([]string, 0, len(colorFilterPresets))
	for k := range colorFilterPresets {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Palette returns the glyph palette in use.
func (r *Renderer) Palette() codec.Palette { return r.palette }

// Render returns the character art for f. See AppendRender.
func (r *Renderer) Render(f codec.Frame) []byte {
	return r.AppendRender(nil, f)
}

// AppendRender appends the character art for f to dst. Rows are separated by
// a newline; color escapes are only emitted when the color changes.
func (r *Renderer) AppendRender(dst []byte, f codec.Frame) []byte {
	if f.Validate() != nil {
		return dst
	}
	w := int(f.Size.Width)
	colored := r.profile != termenv.Ascii
	var (
		last    [3]uint8
		hasLast bool
		hex     [7]byte
	)
	hex[0] = '#'
	for i, p := range f.Pixels {
		if i%w == 0 && i > 0 {
			dst = append(dst, '\n')
		}
		if colored {
			c := r.cellColor(p)
			if !hasLast || c != last {
				putHex(hex[1:], c)
				if seq := r.profile.Color(string(hex[:])).Sequence(false); seq != "" {
					dst = append(dst, termenv.CSI...)
					dst = append(dst, seq...)
					dst = append(dst, 'm')
				}
				last, hasLast = c, true
			}
		}
		g := r.palette.Glyph(p.Grey)
		dst = utf8.AppendRune(dst, g)
		if r.Double {
			dst = utf8.AppendRune(dst, g)
		}
	}
	if colored && hasLast {
		dst = append(dst, termenv.CSI+termenv.ResetSeq+"m"...)
	}
	return dst
}

func (r *Renderer) cellColor(p codec.Pixel) [3]uint8 {
	switch {
	case r.mono != nil:
		k := float64(p.Grey) / 255
		return [3]uint8{
			clampColor(r.mono.R * 255 * k),
			clampColor(r.mono.G * 255 * k),
			clampColor(r.mono.B * 255 * k),
		}
	case r.tint != nil:
		return r.tint.apply(p.R, p.G, p.B)
	default:
		return [3]uint8{p.R, p.G, p.B}
	}
}

func putHex(dst []byte, c [3]uint8) {
	for i, v := range c {
		dst[i*2] = hexDigits[v>>4]
		dst[i*2+1] = hexDigits[v&0x0f]
	}
}
