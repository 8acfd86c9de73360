//go:build linux && !android

package clipwire

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAvailableFormatsDedupes(t *testing.T) {
	c := &waylandConn{offerMimes: []string{
		"text/plain",
		"UTF8_STRING",
		"text/plain;charset=utf-8",
		"image/png",
		"image/png",
		"text/html",
	}}
	assert.Equal(t, []Format{Text, Image, HTML}, c.availableFormats())
}

func TestAvailableFormatsLegacyAliasesOnly(t *testing.T) {
	// An offer carrying only legacy text spellings still reports Text.
	c := &waylandConn{offerMimes: []string{"TEXT", "STRING"}}
	assert.Equal(t, []Format{Text}, c.availableFormats())
}

func TestAvailableFormatsIgnoresUnknownMimes(t *testing.T) {
	c := &waylandConn{offerMimes: []string{"x-special/gnome-copied-files", "application/json"}}
	assert.Empty(t, c.availableFormats())
}

func TestChooseOfferMimeTextPrefersCharsetVariant(t *testing.T) {
	c := &waylandConn{offerMimes: []string{"TEXT", "text/plain;charset=utf-8", "text/html"}}
	assert.Equal(t, "text/plain;charset=utf-8", c.chooseOfferMime(Text))
}

func TestChooseOfferMimeTextLegacyFallback(t *testing.T) {
	c := &waylandConn{offerMimes: []string{"STRING", "UTF8_STRING"}}
	assert.Equal(t, "STRING", c.chooseOfferMime(Text))
}

func TestChooseOfferMimeImagePrefersCanonical(t *testing.T) {
	// Any image/* is accepted, but the canonical MIME wins when advertised.
	c := &waylandConn{offerMimes: []string{"image/webp", "image/png"}}
	assert.Equal(t, "image/png", c.chooseOfferMime(Image))
}

func TestChooseOfferMimeImageFirstAdvertised(t *testing.T) {
	c := &waylandConn{offerMimes: []string{"image/webp", "image/jpeg"}}
	assert.Equal(t, "image/webp", c.chooseOfferMime(Image))
}

func TestChooseOfferMimeMissingFormat(t *testing.T) {
	c := &waylandConn{offerMimes: []string{"text/plain"}}
	assert.Equal(t, "", c.chooseOfferMime(Image))
}

func TestReadPriorityOrders(t *testing.T) {
	assert.Equal(t, []Format{Text, Image, HTML, RTF}, readPriority)
	assert.Equal(t, []Format{Image, Text, HTML, RTF}, x11ReadPriority)
}
