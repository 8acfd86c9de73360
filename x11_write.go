// Copyright 2025 The clipwire Authors
// SPDX-License-Identifier: MIT

//go:build linux && !android

package clipwire

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"unsafe"

	"go.uber.org/zap"
)

// Write caches the payload for self-reads and hands it to a detached helper
// process that claims CLIPBOARD and serves it until another owner appears.
func (b *x11Backend) Write(buf []byte, f Format) error {
	if len(buf) == 0 {
		return ErrNoData
	}

	owned := make([]byte, len(buf))
	copy(owned, buf)

	proc, ready, err := spawnServeHelper(serveEnvelope{Backend: serveBackendX11, Format: f, Payload: owned})
	if err != nil {
		return err
	}

	window, err := parseOwnerWindow(ready)
	if err != nil {
		return err
	}

	b.ownData = owned
	b.ownFormat = f
	b.ownSelection = true
	b.helper = proc
	b.helperWindow = window
	b.logger.Debug("x11 selection claimed",
		zap.Int("pid", proc.Pid),
		zap.Uint64("owner_window", uint64(window)),
		zap.Int("size", len(owned)))
	return nil
}

// parseOwnerWindow extracts the owner window id from the helper's ready
// report ("ok <window>").
func parseOwnerWindow(ready string) (xWindow, error) {
	fields := strings.Fields(ready)
	if len(fields) != 2 || fields[0] != "ok" {
		return 0, fmt.Errorf("%w: malformed helper report %q", ErrWriteFailed, ready)
	}
	id, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed helper window id %q", ErrWriteFailed, fields[1])
	}
	return xWindow(id), nil
}

// incrRequestor tracks one in-progress INCR transfer on the owner side.
// Outstanding requestors are O(1) in practice, so a slice with linear scan
// is the whole data structure.
type incrRequestor struct {
	window   xWindow
	property xAtom
	typ      xAtom
	cursor   int
}

// x11Owner is the owner-role state driven by the serve loop in the helper
// process.
type x11Owner struct {
	conn    *x11Conn
	payload []byte
	format  Format
	incr    []*incrRequestor
	logger  *zap.Logger
}

// serveX11 claims CLIPBOARD on a fresh connection, reports readiness, and
// answers selection requests until ownership is lost. Runs only inside the
// serve helper process.
func serveX11(env serveEnvelope, ready func(string)) error {
	runtime.LockOSThread()

	conn, err := connectX11(zap.NewNop())
	if err != nil {
		return err
	}
	defer conn.close()

	xSetSelectionOwner(conn.display, conn.atoms.clipboard, conn.window, xCurrentTime)
	xFlush(conn.display)
	if xGetSelectionOwner(conn.display, conn.atoms.clipboard) != conn.window {
		return fmt.Errorf("%w: server refused selection ownership", ErrWriteFailed)
	}

	ready(fmt.Sprintf("ok %d", conn.window))

	owner := &x11Owner{conn: conn, payload: env.Payload, format: env.Format, logger: conn.logger}
	return owner.serve()
}

// serve is the blocking owner event loop. SelectionClear means another
// client took the selection; the helper's job is done.
func (o *x11Owner) serve() error {
	for {
		var ev xEvent
		xNextEvent(o.conn.display, &ev)

		switch ev.typ {
		case xSelectionClear:
			cev := (*xSelectionClearEvent)(unsafe.Pointer(&ev))
			if cev.selection == o.conn.atoms.clipboard {
				return nil
			}
		case xSelectionRequest:
			o.handleRequest((*xSelectionRequestEvent)(unsafe.Pointer(&ev)))
		case xPropertyNotify:
			o.advanceIncr((*xPropertyEvent)(unsafe.Pointer(&ev)))
		}
	}
}

// handleRequest answers one SelectionRequest: TARGETS enumeration,
// single-shot property write, or INCR initiation for oversized payloads.
func (o *x11Owner) handleRequest(req *xSelectionRequestEvent) {
	property := req.property
	if property == xNone {
		// Obsolete requestors omit the property; ICCCM says use the target.
		property = req.target
	}

	reply := xSelectionEvent{
		typ:       xSelectionNotify,
		display:   req.display,
		requestor: req.requestor,
		selection: req.selection,
		target:    req.target,
		property:  property,
		time:      req.time,
	}

	switch {
	case req.selection != o.conn.atoms.clipboard || len(o.payload) == 0:
		reply.property = xNone

	case req.target == o.conn.atoms.targets:
		targets := o.conn.targetsFor(o.format)
		xChangeProperty(o.conn.display, req.requestor, property, xaAtom, 32, xPropModeReplace,
			(*byte)(unsafe.Pointer(&targets[0])), int32(len(targets)))

	default:
		typ, ok := o.conn.servesTarget(o.format, req.target)
		if !ok {
			reply.property = xNone
			break
		}
		if len(o.payload) <= o.conn.chunkSize {
			xChangeProperty(o.conn.display, req.requestor, property, typ, 8, xPropModeReplace,
				&o.payload[0], int32(len(o.payload)))
		} else {
			o.beginIncr(req.requestor, property, typ)
		}
	}

	xSendEvent(o.conn.display, req.requestor, 0, 0, (*xEvent)(unsafe.Pointer(&reply)))
	xFlush(o.conn.display)
}

// beginIncr announces a chunked transfer: an INCR-typed property carrying
// the total byte length, then PropertyNotify events on the requestor's
// window drive the chunks out.
func (o *x11Owner) beginIncr(requestor xWindow, property, typ xAtom) {
	total := uintptr(len(o.payload))
	xChangeProperty(o.conn.display, requestor, property, o.conn.atoms.incr, 32, xPropModeReplace,
		(*byte)(unsafe.Pointer(&total)), 1)
	xSelectInput(o.conn.display, requestor, xPropertyChangeMask)
	o.incr = append(o.incr, &incrRequestor{window: requestor, property: property, typ: typ})
	o.logger.Debug("incr transfer started",
		zap.Uint64("requestor", uint64(requestor)),
		zap.Int("total", len(o.payload)))
}

// advanceIncr reacts to a requestor deleting the transfer property: write
// the next chunk, or a zero-length chunk to terminate the stream.
func (o *x11Owner) advanceIncr(ev *xPropertyEvent) {
	if ev.state != xPropertyDelete {
		return
	}
	for i, rec := range o.incr {
		if rec.window != ev.window || rec.property != ev.atom {
			continue
		}

		remaining := len(o.payload) - rec.cursor
		if remaining > o.conn.chunkSize {
			remaining = o.conn.chunkSize
		}
		if remaining > 0 {
			xChangeProperty(o.conn.display, rec.window, rec.property, rec.typ, 8, xPropModeReplace,
				&o.payload[rec.cursor], int32(remaining))
			rec.cursor += remaining
		} else {
			xChangeProperty(o.conn.display, rec.window, rec.property, rec.typ, 8, xPropModeReplace,
				nil, 0)
			o.incr = append(o.incr[:i], o.incr[i+1:]...)
		}
		xFlush(o.conn.display)
		return
	}
}

// incrChunks partitions a payload length into the chunk sizes an owner
// emits, excluding the terminating zero-length write.
func incrChunks(total, chunkSize int) []int {
	var chunks []int
	for total > 0 {
		n := total
		if n > chunkSize {
			n = chunkSize
		}
		chunks = append(chunks, n)
		total -= n
	}
	return chunks
}
