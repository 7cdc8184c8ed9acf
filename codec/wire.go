package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderSize is the width/height prefix of an encoded frame.
	HeaderSize = 4
	// PixelSize is the R,G,B,Grey record length.
	PixelSize = 4
	// MaxPayload is the largest payload a single UDP datagram can carry over IPv4.
	MaxPayload = 65507
	// MaxCells is the largest pixel count that still fits in MaxPayload.
	MaxCells = (MaxPayload - HeaderSize) / PixelSize
)

// ErrFrameTooLarge is returned when an encoded frame would not fit a datagram.
var ErrFrameTooLarge = errors.New("frame exceeds datagram payload")

// DecodeError reports a truncated or malformed wire payload.
type DecodeError struct {
	Reason string
	Len    int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame (%d bytes): %s", e.Len, e.Reason)
}

// EncodedLen returns the wire length of a frame of the given size.
func EncodedLen(s Size) int {
	return HeaderSize + s.Cells()*PixelSize
}

// Encode serializes f as: u16 width, u16 height (big endian), then one
// R,G,B,Grey record per pixel in row-major order.
func Encode(f Frame) ([]byte, error) {
	return AppendEncode(nil, f)
}

// AppendEncode is Encode appending to dst.
func AppendEncode(dst []byte, f Frame) ([]byte, error) {
	if err := f.Validate(); err != nil {
		return dst, err
	}
	if f.Size.Cells() > MaxCells {
		return dst, fmt.Errorf("%w: %s needs %d bytes", ErrFrameTooLarge, f.Size, EncodedLen(f.Size))
	}
	dst = binary.BigEndian.AppendUint16(dst, f.Size.Width)
	dst = binary.BigEndian.AppendUint16(dst, f.Size.Height)
	for _, p := range f.Pixels {
		dst = append(dst, p.R, p.G, p.B, p.Grey)
	}
	return dst, nil
}

// Decode parses a payload produced by Encode. Any length mismatch is a
// *DecodeError and no partial frame is returned.
func Decode(data []byte) (Frame, error) {
	if len(data) < HeaderSize {
		return Frame{}, &DecodeError{Reason: "short header", Len: len(data)}
	}
	size := Size{
		Width:  binary.BigEndian.Uint16(data[0:2]),
		Height: binary.BigEndian.Uint16(data[2:4]),
	}
	if !size.Valid() {
		return Frame{}, &DecodeError{Reason: "zero dimension " + size.String(), Len: len(data)}
	}
	want := EncodedLen(size)
	switch {
	case len(data) < want:
		return Frame{}, &DecodeError{Reason: fmt.Sprintf("truncated: %s needs %d bytes", size, want), Len: len(data)}
	case len(data) > want:
		return Frame{}, &DecodeError{Reason: fmt.Sprintf("trailing %d bytes after %s", len(data)-want, size), Len: len(data)}
	}

	pixels := make([]Pixel, size.Cells())
	body := data[HeaderSize:]
	for i := range pixels {
		o := i * PixelSize
		pixels[i] = Pixel{R: body[o], G: body[o+1], B: body[o+2], Grey: body[o+3]}
	}
	return Frame{Size: size, Pixels: pixels}, nil
}
