// Copyright 2025 The clipwire Authors
// SPDX-License-Identifier: MIT

//go:build linux && !android

package clipwire

import (
	"fmt"
	"os"
	"runtime"
	"time"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	// Deadline for the initial SelectionNotify answer.
	x11ReplyTimeout = time.Second
	// Deadline for a whole INCR stream.
	x11IncrTimeout = 5 * time.Second
	// Sleep between event-queue polls.
	x11PollInterval = time.Millisecond
)

// x11Backend implements the ICCCM requestor role on its own connection and
// delegates the owner role to a detached helper process.
type x11Backend struct {
	conn   *x11Conn
	logger *zap.Logger

	ownSelection bool
	ownData      []byte
	ownFormat    Format
	helper       *os.Process
	helperWindow xWindow
}

func newX11Backend(logger *zap.Logger) (backend, error) {
	conn, err := connectX11(logger)
	if err != nil {
		return nil, err
	}
	return &x11Backend{conn: conn, logger: logger}, nil
}

// ownsSelection reports whether the helper spawned by this backend still
// owns CLIPBOARD. The flag goes stale when the helper dies or another
// client claims the selection, so both are verified.
func (b *x11Backend) ownsSelection() bool {
	if !b.ownSelection {
		return false
	}
	if b.helper == nil || b.helper.Signal(unix.Signal(0)) != nil {
		b.dropOwnership()
		return false
	}
	if xGetSelectionOwner(b.conn.display, b.conn.atoms.clipboard) != b.helperWindow {
		b.dropOwnership()
		return false
	}
	return true
}

func (b *x11Backend) dropOwnership() {
	b.ownSelection = false
	b.ownData = nil
	b.helper = nil
	b.helperWindow = 0
}

// Read fetches the selection converted to the primary target atom of f.
func (b *x11Backend) Read(f Format) (*Data, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	owner := xGetSelectionOwner(b.conn.display, b.conn.atoms.clipboard)
	if owner == xNone {
		return nil, ErrNoData
	}
	if b.ownsSelection() && owner == b.helperWindow {
		if f != b.ownFormat {
			return nil, fmt.Errorf("%w: clipboard holds %s, requested %s", ErrInvalidData, b.ownFormat, f)
		}
		return newData(b.ownData, b.ownFormat), nil
	}

	return b.conn.readTarget(b.conn.targetAtom(f), f)
}

// ReadAuto negotiates via TARGETS and fetches the best-supported target.
// The X11 priority puts images before text so binary payloads offered with
// a textual fallback keep their fidelity.
func (b *x11Backend) ReadAuto() (*Data, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	owner := xGetSelectionOwner(b.conn.display, b.conn.atoms.clipboard)
	if owner == xNone {
		return nil, ErrNoData
	}
	if b.ownsSelection() && owner == b.helperWindow {
		return newData(b.ownData, b.ownFormat), nil
	}

	available, err := b.conn.readTargets()
	if err != nil {
		return nil, err
	}

	for _, f := range x11ReadPriority {
		for _, name := range targetPreference(f) {
			if atom, ok := available[name]; ok {
				return b.conn.readTarget(atom, f)
			}
		}
	}
	return nil, ErrNoData
}

// Formats reports the recognized formats of the current TARGETS list.
func (b *x11Backend) Formats() ([]Format, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if xGetSelectionOwner(b.conn.display, b.conn.atoms.clipboard) == xNone {
		return nil, nil
	}
	if b.ownsSelection() {
		return []Format{b.ownFormat}, nil
	}

	available, err := b.conn.readTargets()
	if err != nil {
		return nil, err
	}
	var formats []Format
	for name := range available {
		if f, ok := mimeToFormat(name); ok {
			formats = append(formats, f)
		}
	}
	// Map iteration is unordered; normalize to priority order.
	var ordered []Format
	for _, f := range x11ReadPriority {
		if containsFormat(formats, f) {
			ordered = append(ordered, f)
		}
	}
	return ordered, nil
}

// Clear discards cached content and releases both CLIPBOARD and PRIMARY.
// Revoking CLIPBOARD delivers SelectionClear to the serving helper, which
// exits.
func (b *x11Backend) Clear() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	b.dropOwnership()
	xSetSelectionOwner(b.conn.display, b.conn.atoms.clipboard, xNone, xCurrentTime)
	xSetSelectionOwner(b.conn.display, b.conn.atoms.primary, xNone, xCurrentTime)
	xFlush(b.conn.display)
	return nil
}

func (b *x11Backend) Close() error {
	b.conn.close()
	return nil
}

// waitEvent polls the queue until match accepts an event or the deadline
// elapses.
func (c *x11Conn) waitEvent(deadline time.Time, match func(*xEvent) bool) (*xEvent, error) {
	for {
		for xPending(c.display) > 0 {
			var ev xEvent
			xNextEvent(c.display, &ev)
			if match(&ev) {
				return &ev, nil
			}
		}
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		time.Sleep(x11PollInterval)
	}
}

// awaitSelectionNotify waits for the answer to a conversion request issued
// by our proxy window. Filtering by requestor window avoids cross-talk with
// conversions issued by other clients sharing the selection.
func (c *x11Conn) awaitSelectionNotify(sel xAtom) (*xSelectionEvent, error) {
	ev, err := c.waitEvent(time.Now().Add(x11ReplyTimeout), func(ev *xEvent) bool {
		if ev.typ != xSelectionNotify {
			return false
		}
		sev := (*xSelectionEvent)(unsafe.Pointer(ev))
		return sev.requestor == c.window && sev.selection == sel
	})
	if err != nil {
		return nil, err
	}
	return (*xSelectionEvent)(unsafe.Pointer(ev)), nil
}

// readTarget converts the CLIPBOARD selection to the given target atom and
// collects the reply, following the INCR protocol when the owner chooses
// chunked transfer. The result format is inferred from the reply's type
// atom on the single-shot path and from the requested format for INCR
// streams.
func (c *x11Conn) readTarget(target xAtom, requested Format) (*Data, error) {
	if target == xNone {
		return nil, ErrNoData
	}

	xConvertSelection(c.display, c.atoms.clipboard, target, c.atoms.property, c.window, xCurrentTime)
	xFlush(c.display)

	sev, err := c.awaitSelectionNotify(c.atoms.clipboard)
	if err != nil {
		return nil, err
	}
	if sev.property == xNone {
		return nil, ErrNoData
	}

	typ, err := c.propertyType()
	if err != nil {
		return nil, err
	}
	if typ == c.atoms.incr {
		return c.readIncr(requested)
	}

	actualType, data, err := c.fetchPropertyBytes(true)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrNoData
	}
	return newData(data, c.atomFormat(actualType)), nil
}

// readTargets issues one TARGETS conversion and returns the advertised
// target names keyed to their atoms.
func (c *x11Conn) readTargets() (map[string]xAtom, error) {
	xConvertSelection(c.display, c.atoms.clipboard, c.atoms.targets, c.atoms.property, c.window, xCurrentTime)
	xFlush(c.display)

	sev, err := c.awaitSelectionNotify(c.atoms.clipboard)
	if err != nil {
		return nil, err
	}
	if sev.property == xNone {
		return nil, ErrNoData
	}

	atoms, err := c.fetchPropertyAtoms()
	if err != nil {
		return nil, err
	}
	available := make(map[string]xAtom, len(atoms))
	for _, a := range atoms {
		if name := c.atomName(a); name != "" {
			available[name] = a
		}
	}
	return available, nil
}

// readIncr runs the requestor side of an INCR stream: acknowledge the
// signalling property, then append every PropertyNotify'd chunk until a
// zero-length one arrives.
func (c *x11Conn) readIncr(requested Format) (*Data, error) {
	// Deleting the INCR property tells the owner to start streaming.
	xDeleteProperty(c.display, c.window, c.atoms.property)
	xFlush(c.display)

	deadline := time.Now().Add(x11IncrTimeout)
	var buf []byte
	for {
		_, err := c.waitEvent(deadline, func(ev *xEvent) bool {
			if ev.typ != xPropertyNotify {
				return false
			}
			pev := (*xPropertyEvent)(unsafe.Pointer(ev))
			return pev.window == c.window && pev.atom == c.atoms.property && pev.state == xPropertyNewValue
		})
		if err != nil {
			return nil, err
		}

		// Reading with delete acknowledges the chunk and lets the owner
		// advance.
		_, chunk, err := c.fetchPropertyBytes(true)
		if err != nil {
			return nil, err
		}
		xFlush(c.display)
		if len(chunk) == 0 {
			break
		}
		buf = append(buf, chunk...)
	}

	if len(buf) == 0 {
		return nil, ErrNoData
	}
	return newData(buf, requested), nil
}

// propertyType probes the transfer property's type with a zero-length
// fetch, leaving the data in place.
func (c *x11Conn) propertyType() (xAtom, error) {
	var (
		actualType   xAtom
		actualFormat int32
		nitems       uint64
		bytesAfter   uint64
		prop         uintptr
	)
	status := xGetWindowProperty(c.display, c.window, c.atoms.property,
		0, 0, 0, xAnyPropertyType,
		&actualType, &actualFormat, &nitems, &bytesAfter, &prop)
	if prop != 0 {
		xFree(prop)
	}
	if status != 0 {
		return xNone, fmt.Errorf("%w: property probe failed", ErrReadFailed)
	}
	return actualType, nil
}

// fetchPropertyBytes reads the transfer property's full 8-bit payload,
// optionally deleting it.
func (c *x11Conn) fetchPropertyBytes(del bool) (xAtom, []byte, error) {
	var (
		actualType   xAtom
		actualFormat int32
		nitems       uint64
		bytesAfter   uint64
		prop         uintptr
	)
	delFlag := int32(0)
	if del {
		delFlag = 1
	}
	status := xGetWindowProperty(c.display, c.window, c.atoms.property,
		0, 1<<28, delFlag, xAnyPropertyType,
		&actualType, &actualFormat, &nitems, &bytesAfter, &prop)
	if status != 0 {
		return xNone, nil, fmt.Errorf("%w: property fetch failed", ErrReadFailed)
	}
	if prop == 0 || nitems == 0 {
		if prop != 0 {
			xFree(prop)
		}
		return actualType, nil, nil
	}
	defer xFree(prop)

	if actualFormat != 8 {
		return actualType, nil, fmt.Errorf("%w: unexpected property format %d", ErrReadFailed, actualFormat)
	}
	data := make([]byte, nitems)
	copy(data, unsafe.Slice((*byte)(unsafe.Pointer(prop)), nitems))
	return actualType, data, nil
}

// fetchPropertyAtoms reads the transfer property as a 32-bit atom list. On
// 64-bit clients Xlib widens each item to a long.
func (c *x11Conn) fetchPropertyAtoms() ([]xAtom, error) {
	var (
		actualType   xAtom
		actualFormat int32
		nitems       uint64
		bytesAfter   uint64
		prop         uintptr
	)
	status := xGetWindowProperty(c.display, c.window, c.atoms.property,
		0, 1<<28, 1, xAnyPropertyType,
		&actualType, &actualFormat, &nitems, &bytesAfter, &prop)
	if status != 0 {
		return nil, fmt.Errorf("%w: TARGETS fetch failed", ErrReadFailed)
	}
	if prop == 0 || nitems == 0 {
		if prop != 0 {
			xFree(prop)
		}
		return nil, nil
	}
	defer xFree(prop)

	if actualFormat != 32 {
		return nil, fmt.Errorf("%w: unexpected TARGETS format %d", ErrReadFailed, actualFormat)
	}
	longs := unsafe.Slice((*uintptr)(unsafe.Pointer(prop)), nitems)
	atoms := make([]xAtom, nitems)
	for i, v := range longs {
		atoms[i] = xAtom(v)
	}
	return atoms, nil
}
