package record

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svanichkin/termfeed/codec"
)

func frameOf(w, h uint16, seed uint8) codec.Frame {
	f := codec.Frame{Size: codec.Size{Width: w, Height: h}, Pixels: make([]codec.Pixel, int(w)*int(h))}
	for i := range f.Pixels {
		v := seed + uint8(i)
		f.Pixels[i] = codec.Pixel{R: v, G: v + 1, B: v + 2, Grey: v + 3}
	}
	return f
}

func TestWriteReadSequence(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "clip"+Ext)
	w, err := Create(path)
	require.NoError(t, err)

	want := []codec.Frame{frameOf(2, 2, 0), frameOf(60, 30, 7), frameOf(3, 1, 200)}
	for _, f := range want {
		require.NoError(t, w.WriteFrame(f))
	}
	assert.Equal(t, 3, w.Frames())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.WriteFrame(want[0]), os.ErrClosed)

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	for i, f := range want {
		got, err := r.ReadFrame()
		require.NoError(t, err, "frame %d", i)
		assert.Equal(t, f, got)
	}
	_, err = r.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestWriteRejectsInvalidFrame(t *testing.T) {
	t.Parallel()

	w, err := Create(filepath.Join(t.TempDir(), "bad"+Ext))
	require.NoError(t, err)
	defer w.Close()

	err = w.WriteFrame(codec.Frame{Size: codec.Size{Width: 2, Height: 2}})
	assert.ErrorIs(t, err, codec.ErrInvalidFrame)
	assert.Equal(t, 0, w.Frames())
}

func TestOpenRejectsForeignFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o644))

	_, err := Open(path)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestNewName(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a, b := NewName(dir), NewName(dir)
	assert.NotEqual(t, a, b)
	assert.Equal(t, dir, filepath.Dir(a))
	assert.True(t, strings.HasSuffix(a, Ext))
	assert.Len(t, strings.TrimSuffix(filepath.Base(a), Ext), 26)
}
