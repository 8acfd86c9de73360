// Copyright 2025 The clipwire Authors
// SPDX-License-Identifier: MIT

//go:build linux && !android

package clipwire

import (
	"os"

	"go.uber.org/zap"
)

// newPlatformBackend selects the Linux backend for the current session.
//
// XDG_SESSION_TYPE "wayland" prefers the Wayland backend, "x11" forces X11,
// and an unset session type with DISPLAY configured falls back to X11. A
// Wayland connection failure degrades silently to X11 when a DISPLAY is
// available, covering XWayland sessions whose compositor lacks the data
// control protocol.
func newPlatformBackend(logger *zap.Logger) (backend, error) {
	switch sessionType() {
	case sessionWayland:
		wb, err := newWaylandBackend(logger)
		if err == nil {
			return wb, nil
		}
		if os.Getenv("DISPLAY") == "" {
			return nil, err
		}
		logger.Warn("wayland backend unavailable, falling back to x11", zap.Error(err))
		return newX11Backend(logger)
	case sessionX11:
		return newX11Backend(logger)
	default:
		return nil, ErrUnsupportedPlatform
	}
}

type session int

const (
	sessionNone session = iota
	sessionWayland
	sessionX11
)

// sessionType applies the platform detection rules to the environment.
func sessionType() session {
	switch os.Getenv("XDG_SESSION_TYPE") {
	case "wayland":
		return sessionWayland
	case "x11":
		return sessionX11
	}
	if os.Getenv("DISPLAY") != "" {
		return sessionX11
	}
	return sessionNone
}
