// Copyright ©2024 The blesensor Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blesensor // import "sbinet.org/x/blesensor"

import (
	"context"
	"strings"
	"time"
)

const (
	// DefaultName is the name advertised by the sensor firmware.
	DefaultName = "SENSOR_POC"

	// DefaultChannel is the characteristic the sensor firmware notifies on.
	DefaultChannel = "0000ff01-0000-1000-8000-00805f9b34fb"

	// DefaultScanTimeout bounds the discovery of a peer.
	DefaultScanTimeout = 10 * time.Second
)

// Target identifies the peer device of a session.
// Addr takes precedence over Name when both are set.
type Target struct {
	Addr string `yaml:"addr,omitempty"`
	Name string `yaml:"name,omitempty"`
}

func (tgt Target) String() string {
	if tgt.Addr != "" {
		return tgt.Addr
	}
	return "name=" + tgt.Name
}

// Match reports whether a peer advertising the provided address and
// local name is the target.
func (tgt Target) Match(addr, name string) bool {
	if tgt.Addr != "" {
		return strings.EqualFold(tgt.Addr, addr)
	}
	return tgt.Name != "" && tgt.Name == name
}

func (tgt Target) valid() bool {
	return tgt.Addr != "" || tgt.Name != ""
}

// Peer is a discovered, connectable device.
type Peer interface {
	Addr() string
	Name() string
}

// Transport discovers and connects to peer devices.
type Transport interface {
	// Discover scans for the target until it shows up or ctx is done.
	Discover(ctx context.Context, tgt Target) (Peer, error)
	Connect(ctx context.Context, p Peer) (Conn, error)
}

// Conn is an established connection to a peer.
//
// Subscribe registers h for the notifications of a characteristic.
// Transports may invoke h from any goroutine and may reuse p once h
// has returned.
type Conn interface {
	Subscribe(channel string, h func(p []byte)) error
	Unsubscribe(channel string) error
	Disconnect() error
}
