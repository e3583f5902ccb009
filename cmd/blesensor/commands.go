// Copyright ©2024 The blesensor Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"sbinet.org/x/blesensor"
	"sbinet.org/x/blesensor/sensplot"
)

func newAcquireCmd(app *application) *cobra.Command {
	var (
		dur     time.Duration
		name    string
		addr    string
		backend string
		hci     int
		strict  bool
		metrics string
	)

	cmd := &cobra.Command{
		Use:   "acquire",
		Short: "record the notifications of a sensor for a bounded duration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := app.cfg
			flags := cmd.Flags()
			if flags.Changed("duration") {
				cfg.Duration = dur
			}
			if flags.Changed("name") {
				cfg.Device = blesensor.Target{Name: name}
			}
			if flags.Changed("addr") {
				cfg.Device = blesensor.Target{Addr: addr}
			}
			if flags.Changed("backend") {
				cfg.Backend = backend
			}
			if flags.Changed("hci") {
				cfg.HCI = hci
			}
			err := cfg.Validate()
			if err != nil {
				return err
			}

			db, err := openDB(cfg.Store)
			if err != nil {
				return fmt.Errorf("could not open readings db: %w", err)
			}
			defer db.Close()

			tr, err := openTransport(cfg, app.msg)
			if err != nil {
				return fmt.Errorf("could not create BLE transport: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			return acquire(ctx, cmd.OutOrStdout(), tr, db, cfg.Session(), app.msg, metrics, strict)
		},
	}

	flags := cmd.Flags()
	flags.DurationVarP(&dur, "duration", "d", 5*time.Second, "acquisition duration")
	flags.StringVar(&name, "name", blesensor.DefaultName, "advertised name of the sensor")
	flags.StringVar(&addr, "addr", "", "MAC address of the sensor (takes precedence over -name)")
	flags.StringVar(&backend, "backend", "tinygo", "BLE stack (tinygo, hci)")
	flags.IntVar(&hci, "hci", -1, "bluetooth device hci index (hci backend)")
	flags.BoolVar(&strict, "strict", false, "exit with an error when the session failed")
	flags.StringVar(&metrics, "metrics-file", "", "write Prometheus metrics to this file")
	return cmd
}

// acquire runs one session and prints the collected readings.
// The metrics file, if any, is written whatever the outcome of the session.
func acquire(
	ctx context.Context, w io.Writer,
	tr blesensor.Transport, db blesensor.DB, cfg blesensor.SessionConfig,
	msg *zap.SugaredLogger, metrics string, strict bool,
) (err error) {
	reg := prometheus.NewRegistry()
	run := blesensor.Runner{
		Transport: tr,
		DB:        db,
		Config:    cfg,
		Logger:    msg,
		Metrics:   blesensor.NewMetrics(reg),
	}

	if metrics != "" {
		defer func() {
			e := prometheus.WriteToTextfile(metrics, reg)
			if e != nil {
				err = errors.Join(err, fmt.Errorf("could not write metrics: %w", e))
			}
		}()
	}

	res, err := run.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%v\n", res.Readings)

	if strict && res.Err != nil {
		return res.Err
	}
	return nil
}

func newDumpCmd(app *application) *cobra.Command {
	return &cobra.Command{
		Use:   "dump",
		Short: "print all stored readings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(app.cfg.Store)
			if err != nil {
				return fmt.Errorf("could not open readings db: %w", err)
			}
			defer db.Close()

			n, err := blesensor.Dump(cmd.OutOrStdout(), db)
			if err != nil {
				return err
			}
			app.msg.Debugw("dumped readings", "n", n)
			return nil
		},
	}
}

func newPlotCmd(app *application) *cobra.Command {
	var (
		outs     []string
		timeAxis bool
	)

	cmd := &cobra.Command{
		Use:   "plot",
		Short: "chart all stored readings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(app.cfg.Store)
			if err != nil {
				return fmt.Errorf("could not open readings db: %w", err)
			}
			defer db.Close()

			rows, err := blesensor.All(db)
			if err != nil {
				return err
			}

			opts := sensplot.DefaultOptions()
			opts.TimeAxis = timeAxis
			err = sensplot.SaveAll(rows, opts, outs...)
			if err != nil {
				return err
			}
			app.msg.Infow("plotted readings", "n", len(rows), "files", outs)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVarP(&outs, "output", "o", []string{"sensor.png"}, "output file(s) (png, svg, pdf, ...)")
	flags.BoolVar(&timeAxis, "time-axis", false, "use a time scale instead of timestamp categories")
	return cmd
}

func newServeCmd(app *application) *cobra.Command {
	var (
		addr string
		root string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "serve a chart of the stored readings over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(app.cfg.Store)
			if err != nil {
				return fmt.Errorf("could not open readings db: %w", err)
			}
			defer db.Close()

			srv := &http.Server{
				Addr:    addr,
				Handler: sensplot.NewServer(root, db, sensplot.DefaultOptions(), app.msg),
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			go func() {
				<-ctx.Done()
				_ = srv.Shutdown(context.Background())
			}()

			app.msg.Infow("serving readings", "addr", addr)
			err = srv.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("could not serve %q: %w", addr, err)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&addr, "addr", ":8080", "[host]:addr to serve")
	flags.StringVar(&root, "root", "/", "root path of the web pages")
	return cmd
}
