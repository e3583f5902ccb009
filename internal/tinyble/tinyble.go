// Copyright ©2024 The blesensor Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tinyble provides a blesensor transport backed by tinygo.org/x/bluetooth.
package tinyble // import "sbinet.org/x/blesensor/internal/tinyble"

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"sbinet.org/x/blesensor"
	"tinygo.org/x/bluetooth"
)

type Transport struct {
	adapter *bluetooth.Adapter
	timeout time.Duration // scan timeout
	msg     *zap.SugaredLogger
}

var _ blesensor.Transport = (*Transport)(nil)

// New enables the default bluetooth adapter.
func New(msg *zap.SugaredLogger) (*Transport, error) {
	if msg == nil {
		msg = zap.NewNop().Sugar()
	}
	adapter := bluetooth.DefaultAdapter
	err := adapter.Enable()
	if err != nil {
		return nil, fmt.Errorf("could not enable default adapter: %w", err)
	}
	return &Transport{
		adapter: adapter,
		timeout: blesensor.DefaultScanTimeout,
		msg:     msg.Named("tinyble"),
	}, nil
}

type peer struct {
	scan bluetooth.ScanResult
}

func (p peer) Addr() string { return p.scan.Address.String() }
func (p peer) Name() string { return p.scan.LocalName() }

// Discover scans for the target device.
func (tr *Transport) Discover(ctx context.Context, tgt blesensor.Target) (blesensor.Peer, error) {
	ctx, cancel := context.WithTimeout(ctx, tr.timeout)
	defer cancel()

	var (
		found = make(chan bluetooth.ScanResult, 1)
		errc  = make(chan error, 1)
	)

	go func() {
		errc <- tr.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			if !tgt.Match(result.Address.String(), result.LocalName()) {
				return
			}
			select {
			case found <- result:
			default:
			}
			_ = adapter.StopScan()
		})
	}()

	select {
	case <-ctx.Done():
		_ = tr.adapter.StopScan()
		return nil, fmt.Errorf("could not find %s: %w: %w", tgt, blesensor.ErrDeviceNotFound, ctx.Err())
	case err := <-errc:
		if err != nil {
			return nil, fmt.Errorf("could not scan for %s: %w", tgt, err)
		}
	}

	select {
	case scan := <-found:
		return peer{scan: scan}, nil
	default:
		return nil, fmt.Errorf("scan for %s stopped: %w", tgt, blesensor.ErrDeviceNotFound)
	}
}

// Connect connects to a discovered peer.
func (tr *Transport) Connect(ctx context.Context, p blesensor.Peer) (blesensor.Conn, error) {
	pp, ok := p.(peer)
	if !ok {
		return nil, fmt.Errorf("invalid peer type %T", p)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dev, err := tr.adapter.Connect(pp.scan.Address, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, fmt.Errorf("could not connect to %q: %w", pp.Addr(), err)
	}

	return &conn{
		dev:  dev,
		msg:  tr.msg.With("addr", pp.Addr()),
		subs: make(map[string]bluetooth.DeviceCharacteristic),
	}, nil
}

type conn struct {
	dev bluetooth.Device
	msg *zap.SugaredLogger

	mu   sync.Mutex
	subs map[string]bluetooth.DeviceCharacteristic
}

func (c *conn) Subscribe(channel string, h func(p []byte)) error {
	id, err := bluetooth.ParseUUID(channel)
	if err != nil {
		return fmt.Errorf("could not parse channel UUID %q: %w", channel, err)
	}

	char, err := findChar(c.dev, id)
	if err != nil {
		return err
	}

	err = char.EnableNotifications(h)
	if err != nil {
		return fmt.Errorf("could not enable notifications for %q: %w", channel, err)
	}

	c.mu.Lock()
	c.subs[channel] = *char
	c.mu.Unlock()
	return nil
}

func (c *conn) Unsubscribe(channel string) error {
	c.mu.Lock()
	char, ok := c.subs[channel]
	delete(c.subs, channel)
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("no subscription for %q", channel)
	}

	// EnableNotifications has a value receiver: on linux, the copy kept
	// here does not hold the notification watcher, so disabling it is a no-op
	// and notifications only stop once the device is disconnected.
	if runtime.GOOS == "linux" {
		c.msg.Infow("notifications stop on disconnect", "channel", channel)
	}
	err := char.EnableNotifications(nil)
	if err != nil {
		return fmt.Errorf("could not disable notifications for %q: %w", channel, err)
	}
	return nil
}

func (c *conn) Disconnect() error {
	err := c.dev.Disconnect()
	if err != nil {
		return fmt.Errorf("could not disconnect: %w", err)
	}
	return nil
}
