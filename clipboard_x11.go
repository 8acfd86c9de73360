// Copyright 2025 The clipwire Authors
// SPDX-License-Identifier: MIT

//go:build linux && !android

package clipwire

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
	"go.uber.org/zap"
)

// X11 types
type (
	xDisplay uintptr
	xWindow  uintptr
	xAtom    uintptr
	xTime    uintptr
)

// X11 constants
const (
	xNone        = 0
	xCurrentTime = 0

	xAnyPropertyType = 0
	xPropModeReplace = 0

	xaAtom   xAtom = 4
	xaString xAtom = 31

	xPropertyNotify   = 28
	xSelectionClear   = 29
	xSelectionRequest = 30
	xSelectionNotify  = 31

	xPropertyNewValue = 0
	xPropertyDelete   = 1

	xPropertyChangeMask = 1 << 22
)

// xEvent is the XEvent union; C declares it as long pad[24], so the Go
// mirror carries the type tag plus padding out to the same size.
type xEvent struct {
	typ int32
	_   [4]byte
	pad [23]uintptr
}

// The event structs below mirror the 64-bit Xlib layouts. Bool is a C int,
// hence the explicit 4-byte padding after sendEvent.
type xSelectionEvent struct {
	typ       int32
	_         [4]byte
	serial    uintptr
	sendEvent int32
	_         [4]byte
	display   xDisplay
	requestor xWindow
	selection xAtom
	target    xAtom
	property  xAtom
	time      xTime
}

type xSelectionRequestEvent struct {
	typ       int32
	_         [4]byte
	serial    uintptr
	sendEvent int32
	_         [4]byte
	display   xDisplay
	owner     xWindow
	requestor xWindow
	selection xAtom
	target    xAtom
	property  xAtom
	time      xTime
}

type xSelectionClearEvent struct {
	typ       int32
	_         [4]byte
	serial    uintptr
	sendEvent int32
	_         [4]byte
	display   xDisplay
	window    xWindow
	selection xAtom
	time      xTime
}

type xPropertyEvent struct {
	typ       int32
	_         [4]byte
	serial    uintptr
	sendEvent int32
	_         [4]byte
	display   xDisplay
	window    xWindow
	atom      xAtom
	time      xTime
	state     int32
}

// X11 function pointers
var (
	libX11 uintptr

	xOpenDisplay            func(name uintptr) xDisplay
	xCloseDisplay           func(d xDisplay) int32
	xDefaultRootWindow      func(d xDisplay) xWindow
	xCreateSimpleWindow     func(d xDisplay, parent xWindow, x, y int32, width, height, borderWidth uint32, border, background uintptr) xWindow
	xDestroyWindow          func(d xDisplay, w xWindow) int32
	xInternAtom             func(d xDisplay, name string, onlyIfExists int32) xAtom
	xGetAtomName            func(d xDisplay, a xAtom) uintptr
	xSetSelectionOwner      func(d xDisplay, sel xAtom, owner xWindow, t xTime) int32
	xGetSelectionOwner      func(d xDisplay, sel xAtom) xWindow
	xConvertSelection       func(d xDisplay, sel, target, property xAtom, requestor xWindow, t xTime) int32
	xNextEvent              func(d xDisplay, ev *xEvent) int32
	xPending                func(d xDisplay) int32
	xFlush                  func(d xDisplay) int32
	xSendEvent              func(d xDisplay, w xWindow, propagate int32, mask int64, ev *xEvent) int32
	xChangeProperty         func(d xDisplay, w xWindow, property, typ xAtom, format, mode int32, data *byte, nelements int32) int32
	xGetWindowProperty      func(d xDisplay, w xWindow, property xAtom, longOffset, longLength int64, del int32, reqType xAtom, actualType *xAtom, actualFormat *int32, nitems, bytesAfter *uint64, propReturn *uintptr) int32
	xDeleteProperty         func(d xDisplay, w xWindow, property xAtom) int32
	xSelectInput            func(d xDisplay, w xWindow, mask int64) int32
	xMaxRequestSize         func(d xDisplay) int64
	xExtendedMaxRequestSize func(d xDisplay) int64
	xFree                   func(p uintptr) int32
)

var (
	libX11Once sync.Once
	libX11Err  error
)

// loadLibX11 loads libX11 and registers every function the backend calls.
func loadLibX11() error {
	libX11Once.Do(func() {
		var err error
		for _, path := range []string{"libX11.so.6", "libX11.so"} {
			libX11, err = purego.Dlopen(path, purego.RTLD_LAZY|purego.RTLD_GLOBAL)
			if err == nil {
				break
			}
		}
		if err != nil {
			libX11Err = fmt.Errorf("%w: failed to load libX11: %v", ErrInit, err)
			return
		}

		purego.RegisterLibFunc(&xOpenDisplay, libX11, "XOpenDisplay")
		purego.RegisterLibFunc(&xCloseDisplay, libX11, "XCloseDisplay")
		purego.RegisterLibFunc(&xDefaultRootWindow, libX11, "XDefaultRootWindow")
		purego.RegisterLibFunc(&xCreateSimpleWindow, libX11, "XCreateSimpleWindow")
		purego.RegisterLibFunc(&xDestroyWindow, libX11, "XDestroyWindow")
		purego.RegisterLibFunc(&xInternAtom, libX11, "XInternAtom")
		purego.RegisterLibFunc(&xGetAtomName, libX11, "XGetAtomName")
		purego.RegisterLibFunc(&xSetSelectionOwner, libX11, "XSetSelectionOwner")
		purego.RegisterLibFunc(&xGetSelectionOwner, libX11, "XGetSelectionOwner")
		purego.RegisterLibFunc(&xConvertSelection, libX11, "XConvertSelection")
		purego.RegisterLibFunc(&xNextEvent, libX11, "XNextEvent")
		purego.RegisterLibFunc(&xPending, libX11, "XPending")
		purego.RegisterLibFunc(&xFlush, libX11, "XFlush")
		purego.RegisterLibFunc(&xSendEvent, libX11, "XSendEvent")
		purego.RegisterLibFunc(&xChangeProperty, libX11, "XChangeProperty")
		purego.RegisterLibFunc(&xGetWindowProperty, libX11, "XGetWindowProperty")
		purego.RegisterLibFunc(&xDeleteProperty, libX11, "XDeleteProperty")
		purego.RegisterLibFunc(&xSelectInput, libX11, "XSelectInput")
		purego.RegisterLibFunc(&xMaxRequestSize, libX11, "XMaxRequestSize")
		purego.RegisterLibFunc(&xExtendedMaxRequestSize, libX11, "XExtendedMaxRequestSize")
		purego.RegisterLibFunc(&xFree, libX11, "XFree")
	})
	return libX11Err
}

// x11Atoms holds every atom the backend uses, interned eagerly at connect.
type x11Atoms struct {
	clipboard xAtom
	primary   xAtom
	targets   xAtom
	incr      xAtom
	property  xAtom // XCLIP_OUT, the private transfer property

	utf8String    xAtom
	str           xAtom
	text          xAtom
	textPlain     xAtom
	textPlainUTF8 xAtom
	textHTML      xAtom
	rtf           xAtom

	image map[string]xAtom // keyed by MIME, one entry per accepted image target
}

// x11Conn is one display connection plus the proxy window used as the
// selection protocol endpoint. The requestor-role backend and the owner-role
// serve loop each hold their own.
type x11Conn struct {
	display   xDisplay
	window    xWindow
	atoms     x11Atoms
	chunkSize int
	logger    *zap.Logger
}

// connectX11 opens the display, creates the unmapped 1x1 proxy window, and
// interns the atom set.
func connectX11(logger *zap.Logger) (*x11Conn, error) {
	if err := loadLibX11(); err != nil {
		return nil, err
	}

	display := xOpenDisplay(0)
	if display == 0 {
		return nil, fmt.Errorf("%w: cannot open X display", ErrInit)
	}

	root := xDefaultRootWindow(display)
	window := xCreateSimpleWindow(display, root, 0, 0, 1, 1, 0, 0, 0)
	if window == 0 {
		xCloseDisplay(display)
		return nil, fmt.Errorf("%w: cannot create proxy window", ErrInit)
	}
	// PropertyNotify on our own window drives INCR reads.
	xSelectInput(display, window, xPropertyChangeMask)

	conn := &x11Conn{
		display:   display,
		window:    window,
		chunkSize: computeChunkSize(xExtendedMaxRequestSize(display), xMaxRequestSize(display)),
		logger:    logger,
	}
	conn.atoms = internX11Atoms(display)

	logger.Debug("x11 connected",
		zap.Uint64("window", uint64(window)),
		zap.Int("chunk_size", conn.chunkSize))
	return conn, nil
}

func internX11Atoms(display xDisplay) x11Atoms {
	intern := func(name string) xAtom { return xInternAtom(display, name, 0) }

	atoms := x11Atoms{
		clipboard:     intern("CLIPBOARD"),
		primary:       intern("PRIMARY"),
		targets:       intern("TARGETS"),
		incr:          intern("INCR"),
		property:      intern("XCLIP_OUT"),
		utf8String:    intern("UTF8_STRING"),
		str:           xaString,
		text:          intern("TEXT"),
		textPlain:     intern(mimeTextPlain),
		textPlainUTF8: intern(mimeTextPlainUTF8),
		textHTML:      intern(mimeTextHTML),
		rtf:           intern(mimeRTF),
		image:         make(map[string]xAtom, len(imageTargets)),
	}
	for _, mime := range imageTargets {
		atoms.image[mime] = intern(mime)
	}
	return atoms
}

// computeChunkSize derives the per-request transfer budget from the server's
// advertised maximum request sizes, floored at 4096 bytes.
func computeChunkSize(extendedMax, max int64) int {
	size := max
	if extendedMax > size {
		size = extendedMax
	}
	size /= 4
	if size < 4096 {
		size = 4096
	}
	return int(size)
}

func (c *x11Conn) close() {
	if c.display != 0 {
		xDestroyWindow(c.display, c.window)
		xCloseDisplay(c.display)
		c.display = 0
	}
}

// atomName resolves an atom to its name, or "" for None and lookup failures.
func (c *x11Conn) atomName(a xAtom) string {
	if a == xNone {
		return ""
	}
	p := xGetAtomName(c.display, a)
	if p == 0 {
		return ""
	}
	defer xFree(p)
	return goString(p)
}

// targetAtom returns the primary target atom requested for a format read.
func (c *x11Conn) targetAtom(f Format) xAtom {
	switch f {
	case Text:
		return c.atoms.utf8String
	case Image:
		return c.atoms.image[mimeImagePNG]
	case HTML:
		return c.atoms.textHTML
	case RTF:
		return c.atoms.rtf
	}
	return xNone
}

// atomFormat maps a property type or target atom back to a logical format.
// Unrecognized atoms with 8-bit data default to text, matching what peers
// send for bare STRING-ish types.
func (c *x11Conn) atomFormat(a xAtom) Format {
	name := c.atomName(a)
	if f, ok := mimeToFormat(name); ok {
		return f
	}
	return Text
}

// targetsFor lists the atoms the owner role answers with for a cached
// format: TARGETS itself plus every target the payload can be served under.
func (c *x11Conn) targetsFor(f Format) []xAtom {
	out := []xAtom{c.atoms.targets}
	switch f {
	case Text:
		out = append(out, c.atoms.utf8String, c.atoms.str, c.atoms.text, c.atoms.textPlain, c.atoms.textPlainUTF8)
	case Image:
		out = append(out, c.atoms.image[mimeImagePNG])
	case HTML:
		out = append(out, c.atoms.textHTML)
	case RTF:
		out = append(out, c.atoms.rtf)
	}
	return out
}

// servesTarget reports whether a cached payload of format f can answer a
// request for the given target atom, and the property type to reply with.
func (c *x11Conn) servesTarget(f Format, target xAtom) (xAtom, bool) {
	switch f {
	case Text:
		switch target {
		case c.atoms.utf8String, c.atoms.textPlain, c.atoms.textPlainUTF8:
			return target, true
		case c.atoms.str, c.atoms.text:
			return c.atoms.str, true
		}
	case Image:
		if target == c.atoms.image[mimeImagePNG] {
			return target, true
		}
	case HTML:
		if target == c.atoms.textHTML {
			return target, true
		}
	case RTF:
		if target == c.atoms.rtf {
			return target, true
		}
	}
	return xNone, false
}

// goString copies a NUL-terminated C string.
func goString(p uintptr) string {
	if p == 0 {
		return ""
	}
	var n int
	for *(*byte)(unsafe.Pointer(p + uintptr(n))) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(unsafe.Pointer(p)), n))
}
