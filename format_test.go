package clipwire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMimeToFormatAliases(t *testing.T) {
	cases := map[string]Format{
		"text/plain":               Text,
		"text/plain;charset=utf-8": Text,
		"TEXT":                     Text,
		"STRING":                   Text,
		"UTF8_STRING":              Text,
		"image/png":                Image,
		"image/jpeg":               Image,
		"image/webp":               Image,
		"image/avif":               Image,
		"image/x-custom":           Image,
		"text/html":                HTML,
		"application/rtf":          RTF,
	}
	for mime, want := range cases {
		got, ok := mimeToFormat(mime)
		require.True(t, ok, "mime %q not recognized", mime)
		assert.Equal(t, want, got, "mime %q", mime)
	}
}

func TestMimeToFormatRejectsUnknown(t *testing.T) {
	for _, mime := range []string{"", "text/csv", "application/json", "video/mp4", "x-special/gnome-copied-files"} {
		_, ok := mimeToFormat(mime)
		assert.False(t, ok, "mime %q should not be recognized", mime)
	}
}

func TestFormatMimeRoundTrip(t *testing.T) {
	for _, f := range []Format{Text, Image, HTML, RTF} {
		got, ok := mimeToFormat(f.String())
		require.True(t, ok, "canonical mime of %s not recognized", f)
		assert.Equal(t, f, got)
	}
}

func TestOfferedMimesText(t *testing.T) {
	// The wire order of the text offer is part of the protocol contract.
	assert.Equal(t, []string{
		"text/plain",
		"text/plain;charset=utf-8",
		"TEXT",
		"STRING",
		"UTF8_STRING",
	}, offeredMimes(Text))
}

func TestOfferedMimesCanonicalOnly(t *testing.T) {
	assert.Equal(t, []string{"image/png"}, offeredMimes(Image))
	assert.Equal(t, []string{"text/html"}, offeredMimes(HTML))
	assert.Equal(t, []string{"application/rtf"}, offeredMimes(RTF))
}

func TestReceiveMime(t *testing.T) {
	assert.Equal(t, "text/plain;charset=utf-8", receiveMime(Text))
	assert.Equal(t, "image/png", receiveMime(Image))
}

func TestTargetPreferenceOrder(t *testing.T) {
	assert.Equal(t, []string{"UTF8_STRING", "text/plain", "STRING", "TEXT"}, targetPreference(Text))
	assert.Equal(t, []string{
		"image/avif", "image/webp", "image/jxl", "image/jpeg",
		"image/png", "image/tiff", "image/gif", "image/bmp",
	}, targetPreference(Image))
	assert.Equal(t, []string{"text/html"}, targetPreference(HTML))
	assert.Equal(t, []string{"application/rtf"}, targetPreference(RTF))
}

func TestDedupeFormats(t *testing.T) {
	assert.Equal(t, []Format{Text, Image}, dedupeFormats([]Format{Text, Image, Text, Image, Text}))
	assert.Equal(t, []Format{Image, Text}, dedupeFormats([]Format{Image, Text, Image}))
	assert.Nil(t, dedupeFormats(nil))
	assert.Nil(t, dedupeFormats([]Format{Format(99), Format(-1)}))
}

func TestFormatValid(t *testing.T) {
	for _, f := range []Format{Text, Image, HTML, RTF} {
		assert.True(t, f.valid())
	}
	assert.False(t, Format(-1).valid())
	assert.False(t, Format(4).valid())
}
