package clipwire

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Data is an immutable clipboard payload. It is created exclusively by a
// backend, from a completed read or from a copy of the caller's write
// buffer, and never aliases backend-internal caches.
type Data struct {
	bytes  []byte
	format Format
}

// newData copies b into a fresh Data. Empty payloads are not representable;
// callers surface ErrNoData instead of constructing one.
func newData(b []byte, f Format) *Data {
	owned := make([]byte, len(b))
	copy(owned, b)
	return &Data{bytes: owned, format: f}
}

// Bytes returns a copy of the payload.
func (d *Data) Bytes() []byte {
	out := make([]byte, len(d.bytes))
	copy(out, d.bytes)
	return out
}

// Len returns the payload length in bytes.
func (d *Data) Len() int { return len(d.bytes) }

// Format returns the payload's logical format.
func (d *Data) Format() Format { return d.format }

// Text coerces the payload to a string. Only Text payloads coerce; anything
// else is ErrInvalidData.
func (d *Data) Text() (string, error) {
	if d.format != Text {
		return "", fmt.Errorf("%w: payload is %s, not %s", ErrInvalidData, d.format, Text)
	}
	return string(d.bytes), nil
}

// Image decodes the payload as an image. PNG, JPEG and GIF decode via the
// standard library; BMP, TIFF and WebP via golang.org/x/image. Non-image
// payloads and undecodable bytes are ErrInvalidData.
func (d *Data) Image() (image.Image, error) {
	if d.format != Image {
		return nil, fmt.Errorf("%w: payload is %s, not %s", ErrInvalidData, d.format, Image)
	}
	img, _, err := image.Decode(bytes.NewReader(d.bytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return img, nil
}
