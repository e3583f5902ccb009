// Copyright ©2024 The blesensor Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blesensor // import "sbinet.org/x/blesensor"

import "errors"

var (
	ErrDeviceNotFound = errors.New("blesensor: device not found")
	ErrConnection     = errors.New("blesensor: connection failed")
	ErrSubscription   = errors.New("blesensor: subscription failed")
	ErrDecode         = errors.New("blesensor: invalid payload")

	ErrStorageUnavailable = errors.New("blesensor: storage unavailable")
	ErrStorageIO          = errors.New("blesensor: storage I/O error")
)

// isSessionError reports whether err belongs to the failures a session
// reports instead of propagating.
func isSessionError(err error) bool {
	for _, e := range []error{
		ErrDeviceNotFound,
		ErrConnection,
		ErrSubscription,
		ErrStorageIO,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
