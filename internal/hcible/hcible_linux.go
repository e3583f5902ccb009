// Copyright ©2024 The blesensor Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hcible

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rigado/ble"
	"github.com/rigado/ble/linux"
	"sbinet.org/x/blesensor"
)

type Transport struct {
	dev     ble.Device
	timeout time.Duration // scan timeout
}

// New opens the HCI device with the provided index (-1 for the first available one).
func New(hci int) (*Transport, error) {
	dev, err := linux.NewDevice(
		ble.OptTransportHCISocket(hci),
		ble.OptDialerTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("could not create HCI device %d: %w", hci, err)
	}
	return &Transport{dev: dev, timeout: blesensor.DefaultScanTimeout}, nil
}

type peer struct {
	addr ble.Addr
	name string
}

func (p peer) Addr() string { return p.addr.String() }
func (p peer) Name() string { return p.name }

// Discover scans for the target device.
func (tr *Transport) Discover(ctx context.Context, tgt blesensor.Target) (blesensor.Peer, error) {
	ctx, cancel := context.WithTimeout(ctx, tr.timeout)
	defer cancel()

	found := make(chan peer, 1)
	err := tr.dev.Scan(ctx, false, func(adv ble.Advertisement) {
		if !tgt.Match(adv.Addr().String(), adv.LocalName()) {
			return
		}
		select {
		case found <- peer{addr: adv.Addr(), name: adv.LocalName()}:
			cancel()
		default:
		}
	})

	select {
	case p := <-found:
		return p, nil
	default:
	}

	switch {
	case err == nil, errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return nil, fmt.Errorf("could not find %s: %w", tgt, blesensor.ErrDeviceNotFound)
	default:
		return nil, fmt.Errorf("could not scan for %s: %w", tgt, err)
	}
}

// Connect connects to a discovered peer and discovers its profile.
func (tr *Transport) Connect(ctx context.Context, p blesensor.Peer) (blesensor.Conn, error) {
	pp, ok := p.(peer)
	if !ok {
		return nil, fmt.Errorf("invalid peer type %T", p)
	}

	cli, err := tr.dev.Dial(ctx, pp.addr)
	if err != nil {
		return nil, fmt.Errorf("could not dial %q: %w", pp.Addr(), err)
	}

	_, err = cli.DiscoverProfile(true)
	if err != nil {
		_ = cli.CancelConnection()
		return nil, fmt.Errorf("could not discover profile of %q: %w", pp.Addr(), err)
	}

	return &conn{cli: cli, subs: make(map[string]*ble.Characteristic)}, nil
}

type conn struct {
	cli ble.Client

	mu   sync.Mutex
	subs map[string]*ble.Characteristic
}

func (c *conn) Subscribe(channel string, h func(p []byte)) error {
	id, err := ble.Parse(channel)
	if err != nil {
		return fmt.Errorf("could not parse channel UUID %q: %w", channel, err)
	}

	char := c.cli.Profile().FindCharacteristic(ble.NewCharacteristic(id))
	if char == nil {
		return fmt.Errorf("could not find characteristic %q", channel)
	}

	err = c.cli.Subscribe(char, false, h)
	if err != nil {
		return fmt.Errorf("could not subscribe to %q: %w", channel, err)
	}

	c.mu.Lock()
	c.subs[channel] = char
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

	err := c.cli.Unsubscribe(char, false)
	if err != nil {
		return fmt.Errorf("could not unsubscribe from %q: %w", channel, err)
	}
	return nil
}

func (c *conn) Disconnect() error {
	err := c.cli.CancelConnection()
	if err != nil {
		return fmt.Errorf("could not cancel connection: %w", err)
	}
	return nil
}
