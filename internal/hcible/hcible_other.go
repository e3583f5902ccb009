// Copyright ©2024 The blesensor Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package hcible

import (
	"context"

	"sbinet.org/x/blesensor"
)

type Transport struct{}

// New returns an error on platforms without HCI sockets.
func New(hci int) (*Transport, error) {
	return nil, errUnsupported
}

func (*Transport) Discover(ctx context.Context, tgt blesensor.Target) (blesensor.Peer, error) {
	return nil, errUnsupported
}

func (*Transport) Connect(ctx context.Context, p blesensor.Peer) (blesensor.Conn, error) {
	return nil, errUnsupported
}
