// Copyright 2025 The clipwire Authors
// SPDX-License-Identifier: MIT

//go:build !linux || android

package clipwire

import "go.uber.org/zap"

// Only the Linux desktop backends are implemented; every other platform
// reports ErrUnsupportedPlatform from New.
func newPlatformBackend(logger *zap.Logger) (backend, error) {
	return nil, ErrUnsupportedPlatform
}
