// Package clipwire provides native clipboard access on Linux desktops using
// purego instead of cgo. It speaks the Wayland wlr-data-control protocol
// (falling back to the core data-device path) and the X11 ICCCM selection
// protocol, including INCR chunked transfers and background persistence of
// written content.
//
// Read and write clipboard data:
//
//	cb, err := clipwire.New()
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer cb.Close()
//
//	if err := cb.Write([]byte("hello world"), clipwire.Text); err != nil {
//		log.Fatal(err)
//	}
//
//	data, err := cb.Read(clipwire.Text)
//	if err != nil {
//		log.Fatal(err)
//	}
//	text, _ := data.Text()
//	fmt.Println(text)
//
// Written content stays available to other applications after the writing
// process exits: Write hands the payload to a detached helper process that
// keeps answering selection requests until another application takes
// ownership of the clipboard.
package clipwire

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// backend is the per-platform clipboard implementation behind a Clipboard.
type backend interface {
	// Read fetches the current selection in the given format.
	Read(Format) (*Data, error)
	// ReadAuto negotiates the best offered format and fetches it.
	ReadAuto() (*Data, error)
	// Write copies b and publishes it as the selection in format f.
	Write(b []byte, f Format) error
	// Clear releases selection ownership and drops cached content.
	Clear() error
	// Formats returns the deduplicated formats of the current offer.
	Formats() ([]Format, error)
	// Close releases the display connection and associated resources.
	Close() error
}

// changeWaiter is implemented by backends with an event-driven change
// monitor. Only the Wayland backend qualifies.
type changeWaiter interface {
	WaitForChange() (*Data, error)
}

// Option configures a Clipboard.
type Option func(*config)

type config struct {
	logger *zap.Logger
}

// WithLogger sets the logger used for protocol-level diagnostics. The
// default is zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Clipboard dispatches clipboard operations to the backend selected for the
// current desktop session. A Clipboard owns its display connection
// exclusively; operations are serialized with an internal lock, and an
// instance must not be driven from more than one goroutine.
type Clipboard struct {
	mu      sync.Mutex
	backend backend
	logger  *zap.Logger
}

// New detects the desktop session and connects the matching backend.
// XDG_SESSION_TYPE "wayland" selects the Wayland backend and "x11" the X11
// backend; with neither set, a configured DISPLAY selects X11. A Wayland
// session whose compositor connection fails degrades silently to X11 when
// DISPLAY is set. Returns ErrUnsupportedPlatform when no backend applies.
func New(opts ...Option) (*Clipboard, error) {
	cfg := config{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}

	b, err := newPlatformBackend(cfg.logger)
	if err != nil {
		return nil, err
	}
	return &Clipboard{backend: b, logger: cfg.logger}, nil
}

// Read returns the current clipboard content in the given format.
func (c *Clipboard) Read(f Format) (*Data, error) {
	if !f.valid() {
		return nil, ErrInvalidData
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend.Read(f)
}

// ReadAuto negotiates the best available format and returns its content.
func (c *Clipboard) ReadAuto() (*Data, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend.ReadAuto()
}

// Write publishes b as the clipboard content in format f. The buffer is
// copied; the caller may reuse it immediately on return.
func (c *Clipboard) Write(b []byte, f Format) error {
	if !f.valid() {
		return ErrInvalidData
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend.Write(b, f)
}

// Clear releases clipboard ownership and drops any content this process
// published.
func (c *Clipboard) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend.Clear()
}

// Formats returns the formats recognized from the current clipboard offer.
func (c *Clipboard) Formats() ([]Format, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend.Formats()
}

// WaitForChange blocks until the compositor announces a new selection and
// returns its content. Only the Wayland backend supports change
// notification; elsewhere WaitForChange returns ErrUnsupportedPlatform.
func (c *Clipboard) WaitForChange() (*Data, error) {
	waiter, ok := c.backend.(changeWaiter)
	if !ok {
		return nil, ErrUnsupportedPlatform
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return waiter.WaitForChange()
}

// Watch emits clipboard content on every selection change until ctx is
// canceled or the backend reports an error, then closes the channel. Each
// compositor-notified change that carries a recognized format produces one
// emission; a cleared selection produces none, and identical consecutive
// payloads are not deduplicated. Only the Wayland backend
// supports watching; elsewhere Watch returns ErrUnsupportedPlatform.
func (c *Clipboard) Watch(ctx context.Context) (<-chan *Data, error) {
	waiter, ok := c.backend.(changeWaiter)
	if !ok {
		return nil, ErrUnsupportedPlatform
	}

	ch := make(chan *Data, 1)
	go func() {
		defer close(ch)
		for {
			// The backend owns its display connection exclusively; every
			// dispatcher entry point serializes on the same lock.
			c.mu.Lock()
			data, err := waiter.WaitForChange()
			c.mu.Unlock()
			if err != nil {
				c.logger.Debug("clipboard watch stopped", zap.Error(err))
				return
			}
			select {
			case ch <- data:
			case <-ctx.Done():
				return
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	return ch, nil
}

// Close releases the backend's display connection. The Clipboard must not
// be used afterwards.
func (c *Clipboard) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.backend.Close()
}
