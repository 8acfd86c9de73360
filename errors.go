package clipwire

import "errors"

var (
	// ErrInit indicates display, registry, or device setup failed, or that
	// no supported protocol globals were present.
	ErrInit = errors.New("clipboard initialization failed")
	// ErrUnsupportedPlatform indicates no backend could be chosen for this
	// session, or a Wayland-only operation was invoked on another backend.
	ErrUnsupportedPlatform = errors.New("unsupported platform")
	// ErrNoData indicates there is no selection owner, the payload was
	// empty, or the requested format is not offered.
	ErrNoData = errors.New("no clipboard data")
	// ErrInvalidData indicates the requested format is known but the
	// available payload is of a different format.
	ErrInvalidData = errors.New("invalid clipboard data")
	// ErrReadFailed indicates a protocol call or pipe/property read errored.
	ErrReadFailed = errors.New("clipboard read failed")
	// ErrWriteFailed indicates a protocol call or pipe/property write errored.
	ErrWriteFailed = errors.New("clipboard write failed")
	// ErrTimeout indicates an X11 deadline elapsed before the peer answered.
	ErrTimeout = errors.New("clipboard operation timed out")
)
