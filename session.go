// Copyright ©2024 The blesensor Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blesensor // import "sbinet.org/x/blesensor"

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultQueueSize is the number of undelivered notifications a session
// buffers before the transport blocks.
const DefaultQueueSize = 64

// State is the lifecycle state of a Session.
type State int

const (
	Idle State = iota
	Discovering
	Connecting
	Subscribed
	Unsubscribing
	Disconnecting
	Closed
)

func (st State) String() string {
	switch st {
	case Idle:
		return "idle"
	case Discovering:
		return "discovering"
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	case Unsubscribing:
		return "unsubscribing"
	case Disconnecting:
		return "disconnecting"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(st))
	}
}

// SessionConfig describes one acquisition session.
type SessionConfig struct {
	Target   Target
	Channel  string        // characteristic to subscribe to
	Duration time.Duration // length of the acquisition window
	Queue    int           // notification queue size, DefaultQueueSize if zero
}

func (cfg SessionConfig) validate() error {
	switch {
	case !cfg.Target.valid():
		return fmt.Errorf("blesensor: session without target device")
	case cfg.Channel == "":
		return fmt.Errorf("blesensor: session without notification channel")
	case cfg.Duration <= 0:
		return fmt.Errorf("blesensor: invalid session duration %v", cfg.Duration)
	case cfg.Queue < 0:
		return fmt.Errorf("blesensor: invalid queue size %d", cfg.Queue)
	}
	return nil
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger of a session.
func WithLogger(msg *zap.SugaredLogger) Option {
	return func(s *Session) {
		if msg != nil {
			s.msg = msg
		}
	}
}

// WithMetrics sets the counters updated by a session.
func WithMetrics(m *Metrics) Option {
	return func(s *Session) {
		s.mon = m
	}
}

// Session is one bounded connect, subscribe, wait and teardown cycle
// against a single peer device.
//
// Every decoded notification is committed to the store before being
// appended to the in-memory buffer.
type Session struct {
	id  string
	tr  Transport
	db  DB
	cfg SessionConfig
	msg *zap.SugaredLogger
	mon *Metrics

	mu    sync.Mutex
	state State
	buf   []float32

	queue chan []byte
	done  chan struct{}
}

// NewSession creates a new idle session.
func NewSession(tr Transport, db DB, cfg SessionConfig, opts ...Option) (*Session, error) {
	err := cfg.validate()
	if err != nil {
		return nil, err
	}
	if cfg.Queue == 0 {
		cfg.Queue = DefaultQueueSize
	}

	s := &Session{
		id:    uuid.NewString(),
		tr:    tr,
		db:    db,
		cfg:   cfg,
		msg:   zap.NewNop().Sugar(),
		queue: make(chan []byte, cfg.Queue),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.msg = s.msg.With("session", s.id, "target", cfg.Target.String())

	return s, nil
}

// ID returns the unique identifier of the session.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Readings returns the values collected so far, in arrival order.
func (s *Session) Readings() []float32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]float32, len(s.buf))
	copy(out, s.buf)
	return out
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
}

// Run drives the session to the Closed state.
//
// Run discovers and connects to the target, subscribes to the configured
// channel and stores every notification received during the configured
// duration. The subscription and the connection are always released once
// acquired. Cancelling ctx ends the acquisition window early.
func (s *Session) Run(ctx context.Context) (err error) {
	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return fmt.Errorf("blesensor: session %s already started", s.id)
	}
	s.state = Discovering
	s.mu.Unlock()
	defer s.setState(Closed)

	s.msg.Infow("discovering peer")
	peer, err := s.tr.Discover(ctx, s.cfg.Target)
	if err != nil {
		return wrapErr(ErrDeviceNotFound, fmt.Errorf("could not discover %s: %w", s.cfg.Target, err))
	}

	s.setState(Connecting)
	s.msg.Infow("connecting", "addr", peer.Addr(), "name", peer.Name())
	conn, err := s.tr.Connect(ctx, peer)
	if err != nil {
		return wrapErr(ErrConnection, fmt.Errorf("could not connect to %q: %w", peer.Addr(), err))
	}
	defer s.disconnect(conn)

	err = conn.Subscribe(s.cfg.Channel, s.notify)
	if err != nil {
		close(s.done)
		return wrapErr(ErrSubscription, fmt.Errorf("could not subscribe to %q: %w", s.cfg.Channel, err))
	}
	s.setState(Subscribed)
	s.msg.Infow("subscribed", "channel", s.cfg.Channel, "duration", s.cfg.Duration)

	defer func() {
		s.unsubscribe(conn)
		if err == nil {
			err = s.drain()
		}
	}()

	return s.listen(ctx)
}

// notify is the transport-facing notification handler.
func (s *Session) notify(p []byte) {
	s.mon.notified()
	p = append([]byte(nil), p...)

	// once the window is over, never enqueue behind a dropped payload.
	select {
	case <-s.done:
		s.msg.Debugw("dropping notification received after acquisition window", "payload", p)
		return
	default:
	}

	select {
	case s.queue <- p:
	case <-s.done:
		s.msg.Debugw("dropping notification received after acquisition window", "payload", p)
	}
}

func (s *Session) listen(ctx context.Context) error {
	tmr := time.NewTimer(s.cfg.Duration)
	defer tmr.Stop()

	for {
		select {
		case <-tmr.C:
			return nil
		case <-ctx.Done():
			s.msg.Warnw("acquisition interrupted", "error", ctx.Err())
			return nil
		case p := <-s.queue:
			err := s.handle(p)
			if err != nil {
				return err
			}
		}
	}
}

// drain handles the notifications queued before the subscription was released.
func (s *Session) drain() error {
	for {
		select {
		case p := <-s.queue:
			err := s.handle(p)
			if err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (s *Session) handle(p []byte) error {
	v, err := Decode(p)
	if err != nil {
		s.mon.decodeFailed()
		s.msg.Warnw("skipping notification", "error", err)
		return nil
	}

	id, err := s.db.Insert(v)
	if err != nil {
		return wrapErr(ErrStorageIO, fmt.Errorf("could not store reading %v: %w", v, err))
	}

	s.mu.Lock()
	s.buf = append(s.buf, v)
	s.mu.Unlock()
	s.mon.stored()

	s.msg.Debugw("stored reading", "entry_id", id, "value", v)
	return nil
}

func (s *Session) unsubscribe(conn Conn) {
	s.setState(Unsubscribing)
	close(s.done)
	err := conn.Unsubscribe(s.cfg.Channel)
	if err != nil {
		s.msg.Errorw("could not stop notifications", "channel", s.cfg.Channel, "error", err)
	}
}

func (s *Session) disconnect(conn Conn) {
	s.setState(Disconnecting)
	err := conn.Disconnect()
	if err != nil {
		s.msg.Errorw("could not disconnect", "error", err)
		return
	}
	s.msg.Infow("disconnected")
}

// wrapErr makes sure err is classified as kind.
func wrapErr(kind, err error) error {
	if errors.Is(err, kind) {
		return err
	}
	return fmt.Errorf("%w: %w", kind, err)
}
