// Copyright 2025 The clipwire Authors
// SPDX-License-Identifier: MIT

//go:build linux && !android

package clipwire

import (
	"fmt"
	"runtime"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Write caches the payload for self-reads and hands it to a detached helper
// process that provides the data source, so the content stays servable
// after this process exits.
func (b *waylandBackend) Write(buf []byte, f Format) error {
	if len(buf) == 0 {
		return ErrNoData
	}

	owned := make([]byte, len(buf))
	copy(owned, buf)

	proc, _, err := spawnServeHelper(serveEnvelope{Backend: serveBackendWayland, Format: f, Payload: owned})
	if err != nil {
		return err
	}

	b.ownData = owned
	b.ownFormat = f
	b.ownSelection = true
	b.helper = proc
	b.logger.Debug("wayland selection claimed",
		zap.Int("pid", proc.Pid),
		zap.Int("size", len(owned)))
	return nil
}

// serveWayland runs in the helper process: connect, create a data source
// offering the payload's MIMEs, publish it as the selection, then dispatch
// events until the compositor cancels the source.
func serveWayland(env serveEnvelope, ready func(string)) error {
	runtime.LockOSThread()

	conn, err := connectWayland(zap.NewNop())
	if err != nil {
		return err
	}
	defer conn.close()

	conn.srcData = env.Payload

	sourceIface, listener := &zwlrSourceInterface, unsafe.Pointer(&wlrSourceListenerImpl)
	if conn.flavor == flavorStandard {
		sourceIface, listener = wlDataSourceInterface, unsafe.Pointer(&stdSourceListenerImpl)
	}
	conn.source = wlProxyMarshalFlags(conn.manager, opManagerCreateSource,
		ifacePtr(sourceIface), wlProxyGetVersion(conn.manager), 0, 0)
	if conn.source == 0 {
		return fmt.Errorf("%w: cannot create data source", ErrWriteFailed)
	}
	wlProxyAddListener(conn.source, uintptr(listener), conn.handle)

	// Text offers every accepted alias, in the canonical order; other
	// formats offer exactly their canonical MIME.
	for _, mime := range offeredMimes(env.Format) {
		mimeBytes := append([]byte(mime), 0)
		wlProxyMarshalFlags(conn.source, opSourceOffer, 0, wlProxyGetVersion(conn.source), 0,
			uintptr(unsafe.Pointer(&mimeBytes[0])))
	}

	conn.setSelection(conn.source)
	wlDisplayRoundtrip(conn.display)
	if conn.cancelled {
		return fmt.Errorf("%w: compositor rejected the selection", ErrWriteFailed)
	}

	ready("ok 0")

	for !conn.cancelled {
		if wlDisplayDispatch(conn.display) < 0 {
			return fmt.Errorf("%w: display dispatch failed", ErrWriteFailed)
		}
	}
	return nil
}

// sourceHandleSend serves one paste request: the payload is written to the
// compositor-provided fd in a single blocking write, so O_NONBLOCK is
// cleared first.
func sourceHandleSend(data, source uintptr, mime *byte, fd int32) {
	c := lookupConn(data)
	if c == nil || c.srcData == nil {
		unix.Close(int(fd))
		return
	}
	defer unix.Close(int(fd))

	if flags, err := unix.FcntlInt(uintptr(fd), unix.F_GETFL, 0); err == nil {
		_, _ = unix.FcntlInt(uintptr(fd), unix.F_SETFL, flags&^unix.O_NONBLOCK)
	}

	for off := 0; off < len(c.srcData); {
		n, err := unix.Write(int(fd), c.srcData[off:])
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return
		}
		off += n
	}
}

// sourceHandleCancelled is terminal: another client owns the selection now.
func sourceHandleCancelled(data, source uintptr) {
	if c := lookupConn(data); c != nil {
		c.cancelled = true
	}
}

func sourceHandleTarget(data, source uintptr, mime *byte) {}

func sourceHandleCancelledNoop(data, source uintptr) {}

func sourceHandleAction(data, source uintptr, action uint32) {}
