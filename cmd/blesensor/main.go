// Copyright ©2024 The blesensor Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command blesensor acquires sensor readings from a BLE peripheral,
// stores them and renders them.
//
// Usage:
//
//	blesensor acquire -d 5s           # record readings for 5 seconds
//	blesensor dump                    # print stored readings
//	blesensor plot -o readings.png    # chart stored readings
//	blesensor serve -addr :8080       # browse stored readings
package main // import "sbinet.org/x/blesensor/cmd/blesensor"

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"sbinet.org/x/blesensor"
)

func main() {
	err := newRootCmd().Execute()
	if err != nil {
		os.Exit(1)
	}
}

type application struct {
	cfgFile string
	verbose bool
	store   blesensor.StoreConfig

	cfg blesensor.Config
	msg *zap.SugaredLogger
}

func newRootCmd() *cobra.Command {
	app := new(application)

	cmd := &cobra.Command{
		Use:           "blesensor",
		Short:         "acquire, store and plot readings of a BLE sensor",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app.msg != nil {
				_ = app.msg.Sync()
			}
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&app.cfgFile, "config", "", "path to YAML configuration file")
	flags.StringVar(&app.store.Path, "db", "sensor.db", "path to readings database")
	flags.StringVar(&app.store.Kind, "store", "sqlite", "readings database kind (sqlite, bolt)")
	flags.BoolVarP(&app.verbose, "verbose", "v", false, "enable verbose mode")

	cmd.AddCommand(
		newAcquireCmd(app),
		newDumpCmd(app),
		newPlotCmd(app),
		newServeCmd(app),
	)
	return cmd
}

func (app *application) setup(cmd *cobra.Command) error {
	var err error
	app.msg, err = newLogger(app.verbose)
	if err != nil {
		return fmt.Errorf("could not create logger: %w", err)
	}

	app.cfg = blesensor.DefaultConfig()
	if app.cfgFile != "" {
		app.cfg, err = blesensor.LoadConfig(app.cfgFile)
		if err != nil {
			return err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		app.cfg.Store.Path = app.store.Path
	}
	if flags.Changed("store") {
		app.cfg.Store.Kind = app.store.Kind
	}
	return nil
}

func newLogger(verbose bool) (*zap.SugaredLogger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	log, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return log.Sugar().Named("blesensor"), nil
}
