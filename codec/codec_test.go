package codec

import (
	"errors"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFrame() Frame {
	return Frame{
		Size: Size{Width: 2, Height: 2},
		Pixels: []Pixel{
			{R: 255, G: 0, B: 0, Grey: 10},
			{R: 0, G: 255, B: 0, Grey: 250},
			{R: 0, G: 0, B: 255, Grey: 128},
			{R: 255, G: 255, B: 255, Grey: 0},
		},
	}
}

func TestEncodeKnownFrame(t *testing.T) {
	t.Parallel()

	data, err := Encode(sampleFrame())
	require.NoError(t, err)
	require.Len(t, data, 20)

	assert.Equal(t, []byte{0, 2, 0, 2}, data[:4])
	assert.Equal(t, []byte{255, 0, 0, 10}, data[4:8])
	assert.Equal(t, []byte{255, 255, 255, 0}, data[16:20])

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, sampleFrame(), got)
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	sizes := []Size{
		{Width: 1, Height: 1},
		{Width: 60, Height: 30},
		{Width: 1, Height: MaxCells},
		{Width: 127, Height: 128},
	}
	for _, size := range sizes {
		t.Run(size.String(), func(t *testing.T) {
			t.Parallel()

			f := Frame{Size: size, Pixels: make([]Pixel, size.Cells())}
			for i := range f.Pixels {
				f.Pixels[i] = Pixel{R: uint8(i), G: uint8(i >> 3), B: uint8(i * 7), Grey: uint8(255 - i)}
			}
			data, err := Encode(f)
			require.NoError(t, err)
			require.Len(t, data, EncodedLen(size))
			require.LessOrEqual(t, len(data), MaxPayload)

			got, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, f, got)
		})
	}
}

func TestEncodeRejects(t *testing.T) {
	t.Parallel()

	t.Run("too large", func(t *testing.T) {
		t.Parallel()
		size := Size{Width: 200, Height: 100}
		_, err := Encode(Frame{Size: size, Pixels: make([]Pixel, size.Cells())})
		assert.ErrorIs(t, err, ErrFrameTooLarge)
	})

	t.Run("pixel count mismatch", func(t *testing.T) {
		t.Parallel()
		_, err := Encode(Frame{Size: Size{Width: 2, Height: 2}, Pixels: make([]Pixel, 3)})
		assert.ErrorIs(t, err, ErrInvalidFrame)
	})

	t.Run("zero size", func(t *testing.T) {
		t.Parallel()
		_, err := Encode(Frame{})
		assert.ErrorIs(t, err, ErrInvalidFrame)
	})
}

func TestDecodeMalformed(t *testing.T) {
	t.Parallel()

	valid, err := Encode(sampleFrame())
	require.NoError(t, err)

	cases := map[string][]byte{
		"empty":         nil,
		"short header":  valid[:3],
		"header only":   valid[:4],
		"truncated":     valid[:19],
		"trailing":      append(append([]byte(nil), valid...), 0),
		"zero width":    {0, 0, 0, 2},
		"zero height":   {0, 2, 0, 0, 1, 2, 3, 4},
		"huge declared": {0xFF, 0xFF, 0xFF, 0xFF, 1, 2, 3, 4},
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			f, err := Decode(data)
			require.Error(t, err)
			var de *DecodeError
			assert.True(t, errors.As(err, &de))
			assert.Empty(t, f.Pixels)
		})
	}
}

func TestNewFrameZipsPlanes(t *testing.T) {
	t.Parallel()

	rgb := image.NewRGBA(image.Rect(0, 0, 3, 2))
	luma := image.NewGray(image.Rect(0, 0, 3, 2))
	for i := 0; i < 6; i++ {
		rgb.Pix[i*4] = uint8(i)
		rgb.Pix[i*4+1] = uint8(10 + i)
		rgb.Pix[i*4+2] = uint8(20 + i)
		rgb.Pix[i*4+3] = 255
		luma.Pix[i] = uint8(100 + i)
	}

	f, err := NewFrame(luma, rgb)
	require.NoError(t, err)
	assert.Equal(t, Size{Width: 3, Height: 2}, f.Size)
	require.Len(t, f.Pixels, 6)
	assert.Equal(t, Pixel{R: 4, G: 14, B: 24, Grey: 104}, f.Pixels[4])

	back := f.RGBA()
	assert.Equal(t, rgb.Pix, back.Pix)

	_, err = NewFrame(image.NewGray(image.Rect(0, 0, 2, 2)), rgb)
	assert.ErrorIs(t, err, ErrInvalidFrame)
}

func TestPaletteBuckets(t *testing.T) {
	t.Parallel()

	p := MustPalette(DefaultPalette)
	assert.Equal(t, ':', p.Glyph(0))
	assert.Equal(t, '#', p.Glyph(255))
	assert.Equal(t, 3, p.Index(128))
	assert.Equal(t, '+', p.Glyph(128))
}

func TestPaletteMonotonic(t *testing.T) {
	t.Parallel()

	for n := 2; n <= 70; n++ {
		glyphs := make([]rune, n)
		for i := range glyphs {
			glyphs[i] = rune('A' + i)
		}
		p, err := NewPalette(glyphs)
		require.NoError(t, err)

		prev := 0
		for v := 0; v <= 255; v++ {
			idx := p.Index(uint8(v))
			require.GreaterOrEqual(t, idx, 0)
			require.Less(t, idx, n)
			require.GreaterOrEqual(t, idx, prev, "n=%d v=%d", n, v)
			prev = idx
		}
		assert.Equal(t, 0, p.Index(0))
		assert.Equal(t, n-1, p.Index(255))
	}
}

func TestPaletteTooSmall(t *testing.T) {
	t.Parallel()

	_, err := ParsePalette("#")
	assert.ErrorIs(t, err, ErrPaletteTooSmall)
	_, err = ParsePalette("")
	assert.ErrorIs(t, err, ErrPaletteTooSmall)
}
