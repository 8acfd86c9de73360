// Copyright 2025 The clipwire Authors
// SPDX-License-Identifier: MIT

//go:build linux && !android

package clipwire

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/ebitengine/purego"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Wayland request opcodes used by the backend.
const (
	opDisplayGetRegistry = 1
	opRegistryBind       = 0

	// Shared by zwlr_data_control_manager_v1 and wl_data_device_manager.
	opManagerCreateSource = 0
	opManagerGetDevice    = 1

	opZwlrDeviceSetSelection = 0
	opZwlrOfferReceive       = 0
	opSourceOffer            = 0

	opWlDeviceSetSelection = 1
	opWlOfferReceive       = 1
)

// Wayland function pointers
var (
	libwayland uintptr

	wlDisplayConnect    func(name *byte) uintptr
	wlDisplayDisconnect func(display uintptr)
	wlDisplayRoundtrip  func(display uintptr) int32
	wlDisplayDispatch   func(display uintptr) int32
	wlDisplayFlush      func(display uintptr) int32
	wlProxyMarshalFlags func(proxy uintptr, opcode uint32, iface uintptr, version uint32, flags uint32, args ...uintptr) uintptr
	wlProxyAddListener  func(proxy uintptr, implementation uintptr, data uintptr) int32
	wlProxyDestroy      func(proxy uintptr)
	wlProxyGetVersion   func(proxy uintptr) uint32
)

var (
	libwaylandOnce sync.Once
	libwaylandErr  error
)

// deviceFlavor tags which data-control protocol the connection speaks. A
// connection carries exactly one device, so "at most one current offer per
// flavor" holds by construction.
type deviceFlavor int

const (
	flavorWlr deviceFlavor = iota
	flavorStandard
)

func (f deviceFlavor) String() string {
	if f == flavorWlr {
		return "zwlr_data_control_device_v1"
	}
	return "wl_data_device"
}

// Listener vtables. One instance per shape, shared by every connection; the
// user-data argument carries the connection handle.
type registryListenerVTable struct {
	global       uintptr
	globalRemove uintptr
}

type wlrDeviceListenerVTable struct {
	dataOffer        uintptr
	selection        uintptr
	finished         uintptr
	primarySelection uintptr
}

type stdDeviceListenerVTable struct {
	dataOffer uintptr
	enter     uintptr
	leave     uintptr
	motion    uintptr
	drop      uintptr
	selection uintptr
}

// offerListenerVTable covers wl_data_offer's three events; the wlr offer
// only ever dispatches the first slot.
type offerListenerVTable struct {
	offer         uintptr
	sourceActions uintptr
	action        uintptr
}

type wlrSourceListenerVTable struct {
	send      uintptr
	cancelled uintptr
}

type stdSourceListenerVTable struct {
	target           uintptr
	send             uintptr
	cancelled        uintptr
	dndDropPerformed uintptr
	dndFinished      uintptr
	action           uintptr
}

var (
	registryListenerImpl  registryListenerVTable
	wlrDeviceListenerImpl wlrDeviceListenerVTable
	stdDeviceListenerImpl stdDeviceListenerVTable
	offerListenerImpl     offerListenerVTable
	wlrSourceListenerImpl wlrSourceListenerVTable
	stdSourceListenerImpl stdSourceListenerVTable
)

// Connections are looked up by the handle passed as listener user-data;
// purego callbacks are top-level trampolines, so this map is how they find
// their state.
var (
	wlConns      sync.Map // uintptr -> *waylandConn
	wlNextHandle atomic.Uintptr
)

func lookupConn(handle uintptr) *waylandConn {
	v, ok := wlConns.Load(handle)
	if !ok {
		return nil
	}
	return v.(*waylandConn)
}

// waylandConn is one display connection with its registry bindings and the
// protocol state machine driven by the listeners.
type waylandConn struct {
	logger *zap.Logger
	handle uintptr

	display  uintptr
	registry uintptr
	seat     uintptr
	manager  uintptr
	device   uintptr
	flavor   deviceFlavor

	// Globals observed during the registry roundtrip.
	seatName       uint32
	seatVersion    uint32
	wlrName        uint32
	wlrVersion     uint32
	stdName        uint32
	stdVersion     uint32
	deviceFinished bool

	// Offer currently being advertised (mimes still arriving) and the offer
	// bound to the selection. selectionGen bumps on every selection event,
	// which is what the change monitor and the read path wait on.
	pendingOffer uintptr
	pendingMimes []string
	currentOffer uintptr
	offerMimes   []string
	selectionGen uint64

	// Serial of the latest input-driven event; the core data-device
	// protocol requires one for set_selection.
	lastSerial uint32

	// Source-owner state, used only by the serve helper.
	source    uintptr
	srcData   []byte
	cancelled bool
}

func loadLibWayland() error {
	libwaylandOnce.Do(func() {
		var err error
		for _, path := range []string{"libwayland-client.so.0", "libwayland-client.so"} {
			libwayland, err = purego.Dlopen(path, purego.RTLD_LAZY|purego.RTLD_GLOBAL)
			if err == nil {
				break
			}
		}
		if err != nil {
			libwaylandErr = fmt.Errorf("%w: failed to load libwayland-client: %v", ErrInit, err)
			return
		}

		purego.RegisterLibFunc(&wlDisplayConnect, libwayland, "wl_display_connect")
		purego.RegisterLibFunc(&wlDisplayDisconnect, libwayland, "wl_display_disconnect")
		purego.RegisterLibFunc(&wlDisplayRoundtrip, libwayland, "wl_display_roundtrip")
		purego.RegisterLibFunc(&wlDisplayDispatch, libwayland, "wl_display_dispatch")
		purego.RegisterLibFunc(&wlDisplayFlush, libwayland, "wl_display_flush")
		purego.RegisterLibFunc(&wlProxyMarshalFlags, libwayland, "wl_proxy_marshal_flags")
		purego.RegisterLibFunc(&wlProxyAddListener, libwayland, "wl_proxy_add_listener")
		purego.RegisterLibFunc(&wlProxyDestroy, libwayland, "wl_proxy_destroy")
		purego.RegisterLibFunc(&wlProxyGetVersion, libwayland, "wl_proxy_get_version")

		for name, dst := range map[string]**wlInterface{
			"wl_registry_interface":            &wlRegistryInterface,
			"wl_seat_interface":                &wlSeatInterface,
			"wl_data_device_manager_interface": &wlDataDeviceManagerInterface,
			"wl_data_device_interface":         &wlDataDeviceInterface,
			"wl_data_source_interface":         &wlDataSourceInterface,
			"wl_data_offer_interface":          &wlDataOfferInterface,
		} {
			sym, symErr := purego.Dlsym(libwayland, name)
			if symErr != nil {
				libwaylandErr = fmt.Errorf("%w: missing %s: %v", ErrInit, name, symErr)
				return
			}
			*dst = (*wlInterface)(unsafe.Pointer(sym))
		}
		initWlrInterfaces()

		registryListenerImpl = registryListenerVTable{
			global:       purego.NewCallback(registryHandleGlobal),
			globalRemove: purego.NewCallback(registryHandleGlobalRemove),
		}
		wlrDeviceListenerImpl = wlrDeviceListenerVTable{
			dataOffer:        purego.NewCallback(deviceHandleDataOffer),
			selection:        purego.NewCallback(deviceHandleSelection),
			finished:         purego.NewCallback(deviceHandleFinished),
			primarySelection: purego.NewCallback(deviceHandlePrimarySelection),
		}
		stdDeviceListenerImpl = stdDeviceListenerVTable{
			dataOffer: purego.NewCallback(deviceHandleDataOffer),
			enter:     purego.NewCallback(deviceHandleEnter),
			leave:     purego.NewCallback(deviceHandleLeave),
			motion:    purego.NewCallback(deviceHandleMotion),
			drop:      purego.NewCallback(deviceHandleLeave),
			selection: purego.NewCallback(deviceHandleSelection),
		}
		offerListenerImpl = offerListenerVTable{
			offer:         purego.NewCallback(offerHandleOffer),
			sourceActions: purego.NewCallback(offerHandleActions),
			action:        purego.NewCallback(offerHandleActions),
		}
		wlrSourceListenerImpl = wlrSourceListenerVTable{
			send:      purego.NewCallback(sourceHandleSend),
			cancelled: purego.NewCallback(sourceHandleCancelled),
		}
		stdSourceListenerImpl = stdSourceListenerVTable{
			target:           purego.NewCallback(sourceHandleTarget),
			send:             purego.NewCallback(sourceHandleSend),
			cancelled:        purego.NewCallback(sourceHandleCancelled),
			dndDropPerformed: purego.NewCallback(sourceHandleCancelledNoop),
			dndFinished:      purego.NewCallback(sourceHandleCancelledNoop),
			action:           purego.NewCallback(sourceHandleAction),
		}
	})
	return libwaylandErr
}

// Listener trampolines. Failures inside callbacks are dropped; the worst
// case is a missing entry in the offered-format list, which the next read
// reports as missing data.

func registryHandleGlobal(data, registry uintptr, name uint32, iface *byte, version uint32) {
	c := lookupConn(data)
	if c == nil {
		return
	}
	switch bytePtrString(iface) {
	case "wl_seat":
		c.seatName, c.seatVersion = name, version
	case "zwlr_data_control_manager_v1":
		c.wlrName, c.wlrVersion = name, version
	case "wl_data_device_manager":
		c.stdName, c.stdVersion = name, version
	}
}

func registryHandleGlobalRemove(data, registry uintptr, name uint32) {}

func deviceHandleDataOffer(data, device, offer uintptr) {
	c := lookupConn(data)
	if c == nil || offer == 0 {
		return
	}
	c.pendingOffer = offer
	c.pendingMimes = nil
	wlProxyAddListener(offer, uintptr(unsafe.Pointer(&offerListenerImpl)), c.handle)
}

func offerHandleOffer(data, offer uintptr, mime *byte) {
	c := lookupConn(data)
	if c == nil || offer != c.pendingOffer {
		return
	}
	c.pendingMimes = append(c.pendingMimes, bytePtrString(mime))
}

func deviceHandleSelection(data, device, offer uintptr) {
	c := lookupConn(data)
	if c == nil {
		return
	}
	if c.currentOffer != 0 && c.currentOffer != offer {
		wlProxyDestroy(c.currentOffer)
	}
	if offer == 0 {
		c.currentOffer = 0
		c.offerMimes = nil
	} else {
		c.currentOffer = offer
		if offer == c.pendingOffer {
			c.offerMimes = c.pendingMimes
			c.pendingOffer = 0
			c.pendingMimes = nil
		}
	}
	c.selectionGen++
}

func offerHandleActions(data, offer uintptr, actions uint32) {}

func deviceHandleFinished(data, device uintptr) {
	if c := lookupConn(data); c != nil {
		c.deviceFinished = true
	}
}

func deviceHandlePrimarySelection(data, device, offer uintptr) {
	// Primary selection is out of scope; the offer is released so the
	// compositor can reclaim it.
	if offer != 0 {
		wlProxyDestroy(offer)
	}
}

func deviceHandleEnter(data, device uintptr, serial uint32, surface uintptr, x, y int32, offer uintptr) {
	if c := lookupConn(data); c != nil {
		c.lastSerial = serial
	}
}

func deviceHandleLeave(data, device uintptr) {}

func deviceHandleMotion(data, device uintptr, t uint32, x, y int32) {}

// connectWayland opens a display, discovers globals, and binds the
// preferred data-control device. The wlr protocol wins over the core
// data-device path because it does not require surface focus.
func connectWayland(logger *zap.Logger) (*waylandConn, error) {
	if err := loadLibWayland(); err != nil {
		return nil, err
	}

	display := wlDisplayConnect(nil)
	if display == 0 {
		return nil, fmt.Errorf("%w: cannot connect to wayland display", ErrInit)
	}

	c := &waylandConn{
		logger:  logger,
		handle:  wlNextHandle.Add(1),
		display: display,
	}
	wlConns.Store(c.handle, c)

	c.registry = wlProxyMarshalFlags(display, opDisplayGetRegistry,
		ifacePtr(wlRegistryInterface), wlProxyGetVersion(display), 0, 0)
	if c.registry == 0 {
		c.close()
		return nil, fmt.Errorf("%w: cannot obtain wl_registry", ErrInit)
	}
	wlProxyAddListener(c.registry, uintptr(unsafe.Pointer(&registryListenerImpl)), c.handle)
	wlDisplayRoundtrip(display)

	if c.seatName == 0 {
		c.close()
		return nil, fmt.Errorf("%w: wl_seat not available", ErrInit)
	}
	c.seat = c.bind(c.seatName, wlSeatInterface, "wl_seat", 1)

	switch {
	case c.wlrName != 0 && c.wlrVersion >= 2:
		c.flavor = flavorWlr
		c.manager = c.bind(c.wlrName, &zwlrManagerInterface, "zwlr_data_control_manager_v1", 2)
		c.device = wlProxyMarshalFlags(c.manager, opManagerGetDevice,
			ifacePtr(&zwlrDeviceInterface), wlProxyGetVersion(c.manager), 0, 0, c.seat)
		wlProxyAddListener(c.device, uintptr(unsafe.Pointer(&wlrDeviceListenerImpl)), c.handle)
	case c.stdName != 0 && c.stdVersion >= 3:
		c.flavor = flavorStandard
		c.manager = c.bind(c.stdName, wlDataDeviceManagerInterface, "wl_data_device_manager", 3)
		c.device = wlProxyMarshalFlags(c.manager, opManagerGetDevice,
			ifacePtr(wlDataDeviceInterface), wlProxyGetVersion(c.manager), 0, 0, c.seat)
		wlProxyAddListener(c.device, uintptr(unsafe.Pointer(&stdDeviceListenerImpl)), c.handle)
	default:
		c.close()
		return nil, fmt.Errorf("%w: no data control protocol offered by compositor", ErrInit)
	}
	if c.device == 0 {
		c.close()
		return nil, fmt.Errorf("%w: cannot create data device", ErrInit)
	}

	// Delivers the initial data_offer/selection pair, if any.
	wlDisplayRoundtrip(display)

	logger.Debug("wayland connected", zap.Stringer("device", c.flavor))
	return c, nil
}

// bind issues wl_registry.bind for a numbered global.
func (c *waylandConn) bind(name uint32, iface *wlInterface, ifaceName string, version uint32) uintptr {
	return wlProxyMarshalFlags(c.registry, opRegistryBind, ifacePtr(iface), version, 0,
		uintptr(name), uintptr(unsafe.Pointer(cstr(ifaceName))), uintptr(version), 0)
}

func (c *waylandConn) close() {
	if c.currentOffer != 0 {
		wlProxyDestroy(c.currentOffer)
		c.currentOffer = 0
	}
	if c.source != 0 {
		wlProxyDestroy(c.source)
		c.source = 0
	}
	if c.device != 0 {
		wlProxyDestroy(c.device)
		c.device = 0
	}
	if c.manager != 0 {
		wlProxyDestroy(c.manager)
		c.manager = 0
	}
	if c.seat != 0 {
		wlProxyDestroy(c.seat)
		c.seat = 0
	}
	if c.registry != 0 {
		wlProxyDestroy(c.registry)
		c.registry = 0
	}
	if c.display != 0 {
		wlDisplayDisconnect(c.display)
		c.display = 0
	}
	wlConns.Delete(c.handle)
}

// availableFormats maps the current offer's MIMEs to the deduplicated
// recognized format set, in advertised order.
func (c *waylandConn) availableFormats() []Format {
	var formats []Format
	for _, mime := range c.offerMimes {
		if f, ok := mimeToFormat(mime); ok {
			formats = append(formats, f)
		}
	}
	return dedupeFormats(formats)
}

// chooseOfferMime picks the MIME to fetch a format under. Text specifically
// requests the charset-qualified variant, then the canonical MIME; other
// formats prefer their canonical MIME. When no preferred spelling is
// advertised, the first advertised MIME recognized as the format wins.
func (c *waylandConn) chooseOfferMime(f Format) string {
	preferred := []string{receiveMime(f)}
	if f == Text {
		preferred = append(preferred, mimeTextPlain)
	}
	for _, want := range preferred {
		for _, mime := range c.offerMimes {
			if mime == want {
				return mime
			}
		}
	}
	for _, mime := range c.offerMimes {
		if got, ok := mimeToFormat(mime); ok && got == f {
			return mime
		}
	}
	return ""
}

// receiveOffer transfers the current offer's payload for one MIME through a
// pipe: request, close our write end, roundtrip so the owner writes, then
// drain the read end to EOF.
func (c *waylandConn) receiveOffer(mime string) ([]byte, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("%w: pipe: %v", ErrReadFailed, err)
	}
	readFd, writeFd := fds[0], fds[1]
	defer unix.Close(readFd)

	opcode := uint32(opZwlrOfferReceive)
	if c.flavor == flavorStandard {
		opcode = opWlOfferReceive
	}
	mimeBytes := append([]byte(mime), 0)
	wlProxyMarshalFlags(c.currentOffer, opcode, 0, wlProxyGetVersion(c.currentOffer), 0,
		uintptr(unsafe.Pointer(&mimeBytes[0])), uintptr(writeFd))
	unix.Close(writeFd)

	wlDisplayRoundtrip(c.display)

	var buf []byte
	chunk := make([]byte, 4096)
	for {
		n, err := unix.Read(readFd, chunk)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return nil, fmt.Errorf("%w: pipe read: %v", ErrReadFailed, err)
		}
		if n == 0 {
			break
		}
		buf = append(buf, chunk[:n]...)
	}
	return buf, nil
}

// bytePtrString copies a NUL-terminated C string handed to a callback.
func bytePtrString(p *byte) string {
	if p == nil {
		return ""
	}
	return goString(uintptr(unsafe.Pointer(p)))
}

// waylandBackend is the dispatcher-facing wrapper around a connection plus
// the own-selection cache and the persistence helper bookkeeping.
type waylandBackend struct {
	conn   *waylandConn
	logger *zap.Logger

	ownSelection bool
	ownData      []byte
	ownFormat    Format
	helper       *os.Process
}

func newWaylandBackend(logger *zap.Logger) (backend, error) {
	conn, err := connectWayland(logger)
	if err != nil {
		return nil, err
	}
	return &waylandBackend{conn: conn, logger: logger}, nil
}

// ownsSelection reports whether our serve helper still holds the selection.
// The helper exits on its source's cancelled event, so liveness is the
// ownership signal.
func (b *waylandBackend) ownsSelection() bool {
	if !b.ownSelection {
		return false
	}
	if b.helper == nil || b.helper.Signal(unix.Signal(0)) != nil {
		b.ownSelection = false
		b.ownData = nil
		b.helper = nil
		return false
	}
	return true
}

func (b *waylandBackend) Read(f Format) (*Data, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if b.ownsSelection() {
		if f != b.ownFormat {
			return nil, fmt.Errorf("%w: clipboard holds %s, requested %s", ErrInvalidData, b.ownFormat, f)
		}
		return newData(b.ownData, b.ownFormat), nil
	}

	wlDisplayRoundtrip(b.conn.display)
	if b.conn.currentOffer == 0 {
		return nil, ErrNoData
	}
	if !containsFormat(b.conn.availableFormats(), f) {
		return nil, fmt.Errorf("%w: format %s not offered", ErrInvalidData, f)
	}
	return b.fetch(f)
}

func (b *waylandBackend) ReadAuto() (*Data, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if b.ownsSelection() {
		return newData(b.ownData, b.ownFormat), nil
	}

	wlDisplayRoundtrip(b.conn.display)
	if b.conn.currentOffer == 0 {
		return nil, ErrNoData
	}
	available := b.conn.availableFormats()
	for _, f := range readPriority {
		if containsFormat(available, f) {
			return b.fetch(f)
		}
	}
	return nil, ErrNoData
}

func (b *waylandBackend) fetch(f Format) (*Data, error) {
	mime := b.conn.chooseOfferMime(f)
	if mime == "" {
		return nil, ErrNoData
	}
	buf, err := b.conn.receiveOffer(mime)
	if err != nil {
		return nil, err
	}
	if len(buf) == 0 {
		return nil, ErrNoData
	}
	b.logger.Debug("wayland offer received", zap.String("mime", mime), zap.Int("size", len(buf)))
	return newData(buf, f), nil
}

func (b *waylandBackend) Formats() ([]Format, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if b.ownsSelection() {
		return []Format{b.ownFormat}, nil
	}
	wlDisplayRoundtrip(b.conn.display)
	return b.conn.availableFormats(), nil
}

// Clear drops the cached payload and publishes a null selection, which
// cancels whichever source currently backs the clipboard.
func (b *waylandBackend) Clear() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	b.ownSelection = false
	b.ownData = nil
	b.helper = nil

	b.conn.setSelection(0)
	wlDisplayRoundtrip(b.conn.display)
	return nil
}

// setSelection publishes a source (or null) on the active device.
func (c *waylandConn) setSelection(source uintptr) {
	if c.flavor == flavorWlr {
		wlProxyMarshalFlags(c.device, opZwlrDeviceSetSelection, 0, wlProxyGetVersion(c.device), 0, source)
	} else {
		wlProxyMarshalFlags(c.device, opWlDeviceSetSelection, 0, wlProxyGetVersion(c.device), 0, source, uintptr(c.lastSerial))
	}
	wlDisplayFlush(c.display)
}

// WaitForChange blocks in the display dispatch loop until the compositor
// announces a new selection, then fetches and returns its best-priority
// payload. Every selection event whose offer carries a recognized format
// produces one emission; identical payloads are not deduplicated. A cleared
// selection, or an offer with no recognized format, produces none and the
// wait continues.
func (b *waylandBackend) WaitForChange() (*Data, error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	gen := b.conn.selectionGen
	for {
		if wlDisplayDispatch(b.conn.display) < 0 {
			return nil, fmt.Errorf("%w: display dispatch failed", ErrReadFailed)
		}
		if b.conn.selectionGen == gen {
			continue
		}
		gen = b.conn.selectionGen
		if b.conn.currentOffer == 0 {
			// Selection cleared; keep waiting for the next owner.
			continue
		}
		available := b.conn.availableFormats()
		for _, f := range readPriority {
			if containsFormat(available, f) {
				return b.fetch(f)
			}
		}
	}
}

func (b *waylandBackend) Close() error {
	b.conn.close()
	return nil
}
