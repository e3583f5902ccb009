// Copyright ©2024 The blesensor Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blesensor // import "sbinet.org/x/blesensor"

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Runner runs acquisition sessions.
type Runner struct {
	Transport Transport
	DB        DB
	Config    SessionConfig
	Logger    *zap.SugaredLogger
	Metrics   *Metrics
}

// Result is the outcome of one acquisition session.
type Result struct {
	Session  string    // session identifier
	Readings []float32 // values collected before the session ended
	Err      error     // session failure, if any
}

// Run runs exactly one session and returns the collected readings.
//
// Device, connection, subscription and storage failures are logged and
// reported through Result.Err. Any other failure is returned as an error.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	msg := r.Logger
	if msg == nil {
		msg = zap.NewNop().Sugar()
	}

	sess, err := NewSession(
		r.Transport, r.DB, r.Config,
		WithLogger(msg), WithMetrics(r.Metrics),
	)
	if err != nil {
		r.Metrics.session("error")
		return Result{}, fmt.Errorf("could not create session: %w", err)
	}

	err = sess.Run(ctx)
	res := Result{
		Session:  sess.ID(),
		Readings: sess.Readings(),
	}

	switch {
	case err == nil:
		r.Metrics.session("ok")
		msg.Infow("session done", "session", res.Session, "readings", len(res.Readings))
	case isSessionError(err):
		r.Metrics.session("failed")
		res.Err = err
		msg.Errorw("session failed",
			"session", res.Session,
			"error", err,
			"readings", res.Readings,
		)
	default:
		r.Metrics.session("error")
		return res, fmt.Errorf("could not run session %s: %w", res.Session, err)
	}

	return res, nil
}
