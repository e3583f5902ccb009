// Copyright ©2024 The blesensor Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blesensor_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sbinet.org/x/blesensor"
	"sbinet.org/x/blesensor/internal/senssqlite"
)

type fakePeer struct {
	addr, name string
}

func (p fakePeer) Addr() string { return p.addr }
func (p fakePeer) Name() string { return p.name }

// fakeTransport simulates a sensor notifying payloads once subscribed.
type fakeTransport struct {
	peers    []fakePeer
	payloads [][]byte

	connErr   error
	subErr    error
	unsubErr  error
	disconErr error

	mu     sync.Mutex
	conn   *fakeConn
	states map[string]blesensor.State
	sess   *blesensor.Session
}

func (tr *fakeTransport) Discover(ctx context.Context, tgt blesensor.Target) (blesensor.Peer, error) {
	for _, p := range tr.peers {
		if tgt.Match(p.addr, p.name) {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no advertisement for %s", tgt)
}

func (tr *fakeTransport) Connect(ctx context.Context, p blesensor.Peer) (blesensor.Conn, error) {
	if tr.connErr != nil {
		return nil, tr.connErr
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.conn = &fakeConn{tr: tr, sent: make(chan struct{})}
	return tr.conn, nil
}

func (tr *fakeTransport) record(op string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.states == nil {
		tr.states = make(map[string]blesensor.State)
	}
	if tr.sess != nil {
		tr.states[op] = tr.sess.State()
	}
}

type fakeConn struct {
	tr *fakeTransport

	mu        sync.Mutex
	handler   func([]byte)
	subs      int
	unsubs    int
	disconns  int
	sent      chan struct{}
	subscribe string
}

func (c *fakeConn) Subscribe(channel string, h func([]byte)) error {
	c.tr.record("subscribe")
	if c.tr.subErr != nil {
		return c.tr.subErr
	}

	c.mu.Lock()
	c.subs++
	c.subscribe = channel
	c.handler = h
	c.mu.Unlock()

	go func() {
		defer close(c.sent)
		buf := make([]byte, 16)
		for _, p := range c.tr.payloads {
			// the transport reuses its buffer between notifications.
			n := copy(buf, p)
			h(buf[:n])
		}
	}()
	return nil
}

func (c *fakeConn) Unsubscribe(channel string) error {
	c.tr.record("unsubscribe")
	c.mu.Lock()
	c.unsubs++
	c.mu.Unlock()
	return c.tr.unsubErr
}

func (c *fakeConn) Disconnect() error {
	c.tr.record("disconnect")
	c.mu.Lock()
	c.disconns++
	c.mu.Unlock()
	return c.tr.disconErr
}

func (c *fakeConn) counts() (subs, unsubs, disconns int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs, c.unsubs, c.disconns
}

// failingDB fails every insert once n inserts succeeded.
type failingDB struct {
	blesensor.DB
	n int
}

func (db *failingDB) Insert(v float32) (int64, error) {
	if db.n == 0 {
		return 0, errors.New("disk full")
	}
	db.n--
	return db.DB.Insert(v)
}

func newDB(t *testing.T) blesensor.DB {
	t.Helper()
	db, err := senssqlite.Open(filepath.Join(t.TempDir(), "sensor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func sensorPeer() fakePeer {
	return fakePeer{addr: "7C:DF:A1:E6:DF:DA", name: blesensor.DefaultName}
}

func sessionConfig(d time.Duration) blesensor.SessionConfig {
	return blesensor.SessionConfig{
		Target:   blesensor.Target{Name: blesensor.DefaultName},
		Channel:  blesensor.DefaultChannel,
		Duration: d,
	}
}

func newSession(t *testing.T, tr *fakeTransport, db blesensor.DB, cfg blesensor.SessionConfig, opts ...blesensor.Option) *blesensor.Session {
	t.Helper()
	sess, err := blesensor.NewSession(tr, db, cfg, opts...)
	require.NoError(t, err)
	tr.sess = sess
	return sess
}

func TestSessionRun(t *testing.T) {
	var (
		db  = newDB(t)
		reg = prometheus.NewRegistry()
		mon = blesensor.NewMetrics(reg)
		tr  = &fakeTransport{
			peers: []fakePeer{{addr: "00:11:22:33:44:55", name: "other"}, sensorPeer()},
			payloads: [][]byte{
				blesensor.Encode(33.2),
				blesensor.Encode(25.5),
			},
		}
	)

	sess := newSession(t, tr, db, sessionConfig(200*time.Millisecond), blesensor.WithMetrics(mon))
	assert.Equal(t, blesensor.Idle, sess.State())
	assert.NotEmpty(t, sess.ID())

	err := sess.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, blesensor.Closed, sess.State())
	assert.Equal(t, []float32{33.2, 25.5}, sess.Readings())

	rows, err := blesensor.All(db)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, float32(33.2), rows[0].Value)
	assert.Equal(t, float32(25.5), rows[1].Value)
	assert.Less(t, rows[0].ID, rows[1].ID)

	subs, unsubs, disconns := tr.conn.counts()
	assert.Equal(t, 1, subs)
	assert.Equal(t, 1, unsubs)
	assert.Equal(t, 1, disconns)
	assert.Equal(t, blesensor.DefaultChannel, tr.conn.subscribe)

	assert.Equal(t, blesensor.Connecting, tr.states["subscribe"])
	assert.Equal(t, blesensor.Unsubscribing, tr.states["unsubscribe"])
	assert.Equal(t, blesensor.Disconnecting, tr.states["disconnect"])

	assert.Equal(t, 2.0, testutil.ToFloat64(mon.Notifications))
	assert.Equal(t, 2.0, testutil.ToFloat64(mon.Stored))
	assert.Equal(t, 0.0, testutil.ToFloat64(mon.DecodeErrors))
}

func TestSessionByAddress(t *testing.T) {
	db := newDB(t)
	tr := &fakeTransport{
		peers:    []fakePeer{{addr: "7c:df:a1:e6:df:da", name: ""}},
		payloads: [][]byte{blesensor.Encode(12)},
	}

	cfg := sessionConfig(100 * time.Millisecond)
	cfg.Target = blesensor.Target{Addr: "7C:DF:A1:E6:DF:DA"}
	sess := newSession(t, tr, db, cfg)

	require.NoError(t, sess.Run(context.Background()))
	assert.Equal(t, []float32{12}, sess.Readings())
}

func TestSessionSkipsMalformedPayloads(t *testing.T) {
	var (
		db  = newDB(t)
		reg = prometheus.NewRegistry()
		mon = blesensor.NewMetrics(reg)
		tr  = &fakeTransport{
			peers: []fakePeer{sensorPeer()},
			payloads: [][]byte{
				blesensor.Encode(33.2),
				{0x01, 0x02},
				{},
				{0x01, 0x02, 0x03, 0x04, 0x05},
				blesensor.Encode(25.5),
			},
		}
	)

	sess := newSession(t, tr, db, sessionConfig(200*time.Millisecond), blesensor.WithMetrics(mon))
	require.NoError(t, sess.Run(context.Background()))

	assert.Equal(t, []float32{33.2, 25.5}, sess.Readings())
	rows, err := blesensor.All(db)
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	assert.Equal(t, 5.0, testutil.ToFloat64(mon.Notifications))
	assert.Equal(t, 3.0, testutil.ToFloat64(mon.DecodeErrors))
	assert.Equal(t, 2.0, testutil.ToFloat64(mon.Stored))
}

func TestSessionOrdering(t *testing.T) {
	const n = 500
	db := newDB(t)
	tr := &fakeTransport{peers: []fakePeer{sensorPeer()}}
	want := make([]float32, n)
	for i := range want {
		want[i] = float32(i) / 4
		tr.payloads = append(tr.payloads, blesensor.Encode(want[i]))
	}

	cfg := sessionConfig(50 * time.Millisecond)
	cfg.Queue = 4
	sess := newSession(t, tr, db, cfg)
	require.NoError(t, sess.Run(context.Background()))

	// notifications still in flight when the window closed are dropped:
	// what was stored is a prefix of what was sent, in the same order.
	got := sess.Readings()
	require.LessOrEqual(t, len(got), n)
	assert.Equal(t, want[:len(got)], got)

	rows, err := blesensor.All(db)
	require.NoError(t, err)
	require.Len(t, rows, len(got))
	for i, row := range rows {
		assert.Equal(t, got[i], row.Value, "row %d", i)
	}
}

func TestSessionDeviceNotFound(t *testing.T) {
	db := newDB(t)
	tr := &fakeTransport{peers: []fakePeer{{addr: "00:11:22:33:44:55", name: "other"}}}

	sess := newSession(t, tr, db, sessionConfig(time.Second))
	err := sess.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, blesensor.ErrDeviceNotFound)
	assert.Equal(t, blesensor.Closed, sess.State())
	assert.Empty(t, sess.Readings())

	assert.Nil(t, tr.conn, "no connection should have been established")
	rows, err := blesensor.All(db)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSessionConnectionFailed(t *testing.T) {
	db := newDB(t)
	tr := &fakeTransport{
		peers:   []fakePeer{sensorPeer()},
		connErr: errors.New("le-connection-abort-by-local"),
	}

	sess := newSession(t, tr, db, sessionConfig(time.Second))
	err := sess.Run(context.Background())
	assert.ErrorIs(t, err, blesensor.ErrConnection)
	assert.Nil(t, tr.conn)
	assert.Equal(t, blesensor.Closed, sess.State())
}

func TestSessionSubscriptionFailed(t *testing.T) {
	db := newDB(t)
	tr := &fakeTransport{
		peers:  []fakePeer{sensorPeer()},
		subErr: errors.New("no such characteristic"),
	}

	sess := newSession(t, tr, db, sessionConfig(time.Second))
	err := sess.Run(context.Background())
	assert.ErrorIs(t, err, blesensor.ErrSubscription)

	subs, unsubs, disconns := tr.conn.counts()
	assert.Equal(t, 0, subs)
	assert.Equal(t, 0, unsubs)
	assert.Equal(t, 1, disconns, "an established connection must be released")
}

func TestSessionStorageFailure(t *testing.T) {
	db := &failingDB{DB: newDB(t), n: 1}
	tr := &fakeTransport{
		peers: []fakePeer{sensorPeer()},
		payloads: [][]byte{
			blesensor.Encode(33.2),
			blesensor.Encode(25.5),
			blesensor.Encode(30),
		},
	}

	sess := newSession(t, tr, db, sessionConfig(time.Minute))
	err := sess.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, blesensor.ErrStorageIO)

	// the buffer only holds what the store committed.
	assert.Equal(t, []float32{33.2}, sess.Readings())
	rows, err := blesensor.All(db)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	_, unsubs, disconns := tr.conn.counts()
	assert.Equal(t, 1, unsubs)
	assert.Equal(t, 1, disconns)

	// the transport is not blocked by the aborted session.
	select {
	case <-tr.conn.sent:
	case <-time.After(5 * time.Second):
		t.Fatalf("transport still blocked after session ended")
	}
}

func TestSessionTeardownErrors(t *testing.T) {
	db := newDB(t)
	tr := &fakeTransport{
		peers:     []fakePeer{sensorPeer()},
		payloads:  [][]byte{blesensor.Encode(1)},
		unsubErr:  errors.New("not connected"),
		disconErr: errors.New("not connected"),
	}

	sess := newSession(t, tr, db, sessionConfig(100*time.Millisecond))
	require.NoError(t, sess.Run(context.Background()))
	assert.Equal(t, []float32{1}, sess.Readings())

	_, unsubs, disconns := tr.conn.counts()
	assert.Equal(t, 1, unsubs)
	assert.Equal(t, 1, disconns)
}

func TestSessionInterrupted(t *testing.T) {
	db := newDB(t)
	tr := &fakeTransport{
		peers:    []fakePeer{sensorPeer()},
		payloads: [][]byte{blesensor.Encode(1), blesensor.Encode(2)},
	}

	sess := newSession(t, tr, db, sessionConfig(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- sess.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(sess.Readings()) == 2
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-errc:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatalf("session did not stop")
	}

	_, unsubs, disconns := tr.conn.counts()
	assert.Equal(t, 1, unsubs)
	assert.Equal(t, 1, disconns)
}

func TestSessionLateNotification(t *testing.T) {
	db := newDB(t)
	tr := &fakeTransport{peers: []fakePeer{sensorPeer()}}

	cfg := sessionConfig(50 * time.Millisecond)
	cfg.Queue = 1
	sess := newSession(t, tr, db, cfg)
	require.NoError(t, sess.Run(context.Background()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 3 {
			tr.conn.handler(blesensor.Encode(42))
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("late notifications blocked the transport")
	}
	assert.Empty(t, sess.Readings())
}

func TestSessionRunTwice(t *testing.T) {
	db := newDB(t)
	tr := &fakeTransport{peers: []fakePeer{sensorPeer()}}

	sess := newSession(t, tr, db, sessionConfig(10*time.Millisecond))
	require.NoError(t, sess.Run(context.Background()))
	assert.Error(t, sess.Run(context.Background()))
}

func TestNewSessionInvalid(t *testing.T) {
	db := newDB(t)
	tr := &fakeTransport{}

	for _, tc := range []struct {
		name string
		cfg  func(cfg *blesensor.SessionConfig)
	}{
		{name: "no-target", cfg: func(cfg *blesensor.SessionConfig) { cfg.Target = blesensor.Target{} }},
		{name: "no-channel", cfg: func(cfg *blesensor.SessionConfig) { cfg.Channel = "" }},
		{name: "no-duration", cfg: func(cfg *blesensor.SessionConfig) { cfg.Duration = 0 }},
		{name: "negative-queue", cfg: func(cfg *blesensor.SessionConfig) { cfg.Queue = -1 }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := sessionConfig(time.Second)
			tc.cfg(&cfg)
			_, err := blesensor.NewSession(tr, db, cfg)
			assert.Error(t, err)
		})
	}
}

func TestStateString(t *testing.T) {
	for st, want := range map[blesensor.State]string{
		blesensor.Idle:          "idle",
		blesensor.Discovering:   "discovering",
		blesensor.Connecting:    "connecting",
		blesensor.Subscribed:    "subscribed",
		blesensor.Unsubscribing: "unsubscribing",
		blesensor.Disconnecting: "disconnecting",
		blesensor.Closed:        "closed",
		blesensor.State(42):     "State(42)",
	} {
		assert.Equal(t, want, st.String())
	}
}
