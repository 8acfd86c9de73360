package clipwire

import "strings"

// Format represents a logical clipboard data format.
type Format int

// Supported clipboard formats
const (
	// Text is UTF-8 plain text.
	Text Format = iota
	// Image is binary image data, canonically PNG.
	Image
	// HTML is an HTML document fragment.
	HTML
	// RTF is a Rich Text Format document.
	RTF
)

// Canonical MIME strings, one per format.
const (
	mimeTextPlain     = "text/plain"
	mimeTextPlainUTF8 = "text/plain;charset=utf-8"
	mimeImagePNG      = "image/png"
	mimeTextHTML      = "text/html"
	mimeRTF           = "application/rtf"
)

// textAliases are the legacy MIME strings accepted as Text on input and
// offered alongside text/plain on output. Order matters on the wire: a text
// write offers exactly these, first to last.
var textAliases = []string{
	mimeTextPlain,
	mimeTextPlainUTF8,
	"TEXT",
	"STRING",
	"UTF8_STRING",
}

// imageTargets are the X11 image target atoms accepted on the requestor
// side, in fidelity-preference order for TARGETS negotiation.
var imageTargets = []string{
	"image/avif",
	"image/webp",
	"image/jxl",
	"image/jpeg",
	"image/png",
	"image/tiff",
	"image/gif",
	"image/bmp",
}

// textTargets are the X11 text target atoms in preference order.
var textTargets = []string{
	"UTF8_STRING",
	mimeTextPlain,
	"STRING",
	"TEXT",
}

// readPriority is the format negotiation order used by ReadAuto on Wayland.
var readPriority = []Format{Text, Image, HTML, RTF}

// x11ReadPriority puts binary payloads first so an image offered alongside a
// textual fallback keeps its fidelity.
var x11ReadPriority = []Format{Image, Text, HTML, RTF}

// String returns the format's canonical MIME string.
func (f Format) String() string {
	switch f {
	case Text:
		return mimeTextPlain
	case Image:
		return mimeImagePNG
	case HTML:
		return mimeTextHTML
	case RTF:
		return mimeRTF
	}
	return "unknown"
}

// valid reports whether f is a member of the closed enumeration.
func (f Format) valid() bool {
	return f >= Text && f <= RTF
}

// mimeToFormat maps an advertised MIME string (or X11 target atom name) to a
// Format. Accepts every text alias and any image/* MIME. The second return
// is false when the string names no supported format.
func mimeToFormat(mime string) (Format, bool) {
	for _, alias := range textAliases {
		if mime == alias {
			return Text, true
		}
	}
	if strings.HasPrefix(mime, "image/") {
		return Image, true
	}
	switch mime {
	case mimeTextHTML:
		return HTML, true
	case mimeRTF:
		return RTF, true
	}
	return 0, false
}

// offeredMimes returns the MIME strings a data source advertises for a
// format. Lossy by design for Image, HTML and RTF: only the canonical MIME
// is offered.
func offeredMimes(f Format) []string {
	if f == Text {
		mimes := make([]string, len(textAliases))
		copy(mimes, textAliases)
		return mimes
	}
	return []string{f.String()}
}

// receiveMime returns the MIME string to request when fetching a format from
// an offer. Text specifically asks for the charset-qualified variant.
func receiveMime(f Format) string {
	if f == Text {
		return mimeTextPlainUTF8
	}
	return f.String()
}

// targetPreference returns the per-format target list used to pick the best
// atom out of a TARGETS reply.
func targetPreference(f Format) []string {
	switch f {
	case Text:
		return textTargets
	case Image:
		return imageTargets
	case HTML:
		return []string{mimeTextHTML}
	case RTF:
		return []string{mimeRTF}
	}
	return nil
}

// dedupeFormats collapses a recognized-format sequence into its first-seen
// order without duplicates.
func dedupeFormats(formats []Format) []Format {
	var out []Format
	var seen [RTF + 1]bool
	for _, f := range formats {
		if !f.valid() || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// containsFormat reports whether formats includes f.
func containsFormat(formats []Format, f Format) bool {
	for _, have := range formats {
		if have == f {
			return true
		}
	}
	return false
}
