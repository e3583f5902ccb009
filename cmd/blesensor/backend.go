// Copyright ©2024 The blesensor Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"

	"go.uber.org/zap"
	"sbinet.org/x/blesensor"
	"sbinet.org/x/blesensor/internal/hcible"
	"sbinet.org/x/blesensor/internal/sensbolt"
	"sbinet.org/x/blesensor/internal/senssqlite"
	"sbinet.org/x/blesensor/internal/tinyble"
)

func openDB(cfg blesensor.StoreConfig) (blesensor.DB, error) {
	switch cfg.Kind {
	case "sqlite":
		db, err := senssqlite.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return db, nil
	case "bolt":
		db, err := sensbolt.Open(cfg.Path)
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown store kind %q", cfg.Kind)
	}
}

func openTransport(cfg blesensor.Config, msg *zap.SugaredLogger) (blesensor.Transport, error) {
	switch cfg.Backend {
	case "tinygo":
		tr, err := tinyble.New(msg)
		if err != nil {
			return nil, err
		}
		return tr, nil
	case "hci":
		tr, err := hcible.New(cfg.HCI)
		if err != nil {
			return nil, err
		}
		return tr, nil
	default:
		return nil, fmt.Errorf("unknown BLE backend %q", cfg.Backend)
	}
}
