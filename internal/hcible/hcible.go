// Copyright ©2024 The blesensor Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package hcible provides a blesensor transport talking to a raw HCI
// socket, backed by github.com/rigado/ble.
package hcible // import "sbinet.org/x/blesensor/internal/hcible"

import (
	"errors"

	"sbinet.org/x/blesensor"
)

var _ blesensor.Transport = (*Transport)(nil)

var errUnsupported = errors.New("hcible: HCI transport only available on linux")
