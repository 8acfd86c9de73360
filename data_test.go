package clipwire

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeTestPNG(t *testing.T, width, height int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDataCopiesOnConstruction(t *testing.T) {
	src := []byte("hello")
	d := newData(src, Text)
	src[0] = 'X'
	assert.Equal(t, []byte("hello"), d.Bytes())
}

func TestDataCopiesOnAccess(t *testing.T) {
	d := newData([]byte("hello"), Text)
	first := d.Bytes()
	first[0] = 'X'
	assert.Equal(t, []byte("hello"), d.Bytes())
}

func TestDataText(t *testing.T) {
	d := newData([]byte("hello"), Text)
	s, err := d.Text()
	require.NoError(t, err)
	assert.Equal(t, "hello", s)
	assert.Equal(t, 5, d.Len())
	assert.Equal(t, Text, d.Format())
}

func TestDataTextMismatch(t *testing.T) {
	d := newData([]byte{0x89}, Image)
	_, err := d.Text()
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestDataImageDecodesPNG(t *testing.T) {
	d := newData(encodeTestPNG(t, 4, 3, color.RGBA{R: 255, A: 255}), Image)
	img, err := d.Image()
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 4, 3), img.Bounds())
}

func TestDataImageMismatch(t *testing.T) {
	d := newData([]byte("just text"), Text)
	_, err := d.Image()
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestDataImageGarbage(t *testing.T) {
	d := newData([]byte("not an image at all"), Image)
	_, err := d.Image()
	assert.ErrorIs(t, err, ErrInvalidData)
	assert.False(t, errors.Is(err, ErrNoData))
}
