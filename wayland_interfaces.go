// Copyright 2025 The clipwire Authors
// SPDX-License-Identifier: MIT

//go:build linux && !android

package clipwire

import "unsafe"

// libwayland dispatches events by consulting the wl_interface attached to a
// proxy, so interfaces the library does not export — the wlr-data-control
// family — need hand-built descriptor tables. Layouts mirror wayland-util.h:
//
//	struct wl_message   { const char *name, *signature; const struct wl_interface **types; };
//	struct wl_interface { const char *name; int version;
//	                      int method_count; const struct wl_message *methods;
//	                      int event_count;  const struct wl_message *events; };
type wlMessage struct {
	name      *byte
	signature *byte
	types     **wlInterface
}

type wlInterface struct {
	name        *byte
	version     int32
	methodCount int32
	methods     *wlMessage
	eventCount  int32
	_           [4]byte
	events      *wlMessage
}

// cstr returns a NUL-terminated byte pointer. All descriptor strings live in
// package-level tables, keeping them reachable for the life of the process.
func cstr(s string) *byte {
	b := append([]byte(s), 0)
	return &b[0]
}

// typesOf builds the per-argument interface array for one message. Non-object
// arguments take nil entries.
func typesOf(ifaces ...*wlInterface) **wlInterface {
	if len(ifaces) == 0 {
		ifaces = []*wlInterface{nil}
	}
	return &ifaces[0]
}

func messages(msgs []wlMessage) *wlMessage {
	if len(msgs) == 0 {
		return nil
	}
	return &msgs[0]
}

// Interfaces exported by libwayland-client, resolved at load time by Dlsym.
var (
	wlRegistryInterface          *wlInterface
	wlSeatInterface              *wlInterface
	wlDataDeviceManagerInterface *wlInterface
	wlDataDeviceInterface        *wlInterface
	wlDataSourceInterface        *wlInterface
	wlDataOfferInterface         *wlInterface
)

// Hand-built wlr-data-control-unstable-v1 descriptors. Filled by
// initWlrInterfaces once the core interface pointers are resolved, since the
// message tables reference wl_seat.
var (
	zwlrManagerInterface wlInterface
	zwlrDeviceInterface  wlInterface
	zwlrSourceInterface  wlInterface
	zwlrOfferInterface   wlInterface
)

func initWlrInterfaces() {
	zwlrSourceInterface = wlInterface{
		name:    cstr("zwlr_data_control_source_v1"),
		version: 1,
		methods: messages([]wlMessage{
			{name: cstr("offer"), signature: cstr("s"), types: typesOf(nil)},
			{name: cstr("destroy"), signature: cstr(""), types: typesOf()},
		}),
		methodCount: 2,
		events: messages([]wlMessage{
			{name: cstr("send"), signature: cstr("sh"), types: typesOf(nil, nil)},
			{name: cstr("cancelled"), signature: cstr(""), types: typesOf()},
		}),
		eventCount: 2,
	}

	zwlrOfferInterface = wlInterface{
		name:    cstr("zwlr_data_control_offer_v1"),
		version: 1,
		methods: messages([]wlMessage{
			{name: cstr("receive"), signature: cstr("sh"), types: typesOf(nil, nil)},
			{name: cstr("destroy"), signature: cstr(""), types: typesOf()},
		}),
		methodCount: 2,
		events: messages([]wlMessage{
			{name: cstr("offer"), signature: cstr("s"), types: typesOf(nil)},
		}),
		eventCount: 1,
	}

	zwlrDeviceInterface = wlInterface{
		name:    cstr("zwlr_data_control_device_v1"),
		version: 2,
		methods: messages([]wlMessage{
			{name: cstr("set_selection"), signature: cstr("?o"), types: typesOf(&zwlrSourceInterface)},
			{name: cstr("destroy"), signature: cstr(""), types: typesOf()},
			{name: cstr("set_primary_selection"), signature: cstr("2?o"), types: typesOf(&zwlrSourceInterface)},
		}),
		methodCount: 3,
		events: messages([]wlMessage{
			{name: cstr("data_offer"), signature: cstr("n"), types: typesOf(&zwlrOfferInterface)},
			{name: cstr("selection"), signature: cstr("?o"), types: typesOf(&zwlrOfferInterface)},
			{name: cstr("finished"), signature: cstr(""), types: typesOf()},
			{name: cstr("primary_selection"), signature: cstr("2?o"), types: typesOf(&zwlrOfferInterface)},
		}),
		eventCount: 4,
	}

	zwlrManagerInterface = wlInterface{
		name:    cstr("zwlr_data_control_manager_v1"),
		version: 2,
		methods: messages([]wlMessage{
			{name: cstr("create_data_source"), signature: cstr("n"), types: typesOf(&zwlrSourceInterface)},
			{name: cstr("get_data_device"), signature: cstr("no"), types: typesOf(&zwlrDeviceInterface, wlSeatInterface)},
			{name: cstr("destroy"), signature: cstr(""), types: typesOf()},
		}),
		methodCount: 3,
		eventCount:  0,
	}
}

func ifacePtr(iface *wlInterface) uintptr {
	return uintptr(unsafe.Pointer(iface))
}
