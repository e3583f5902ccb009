// Copyright ©2024 The blesensor Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tinyble

import (
	"errors"
	"fmt"

	"tinygo.org/x/bluetooth"
)

var errNoChar = errors.New("tinyble: no such characteristic")

// findChar looks for the characteristic id among all the services of dev.
func findChar(dev bluetooth.Device, id bluetooth.UUID) (*bluetooth.DeviceCharacteristic, error) {
	svcs, err := dev.DiscoverServices(nil)
	if err != nil {
		return nil, fmt.Errorf("could not discover services: %w", err)
	}

	for i := range svcs {
		// some stacks report an error when a filtered characteristic is missing.
		chars, err := svcs[i].DiscoverCharacteristics([]bluetooth.UUID{id})
		if err != nil {
			continue
		}
		for j := range chars {
			char := chars[j]
			if char.UUID() == id {
				return &char, nil
			}
		}
	}

	return nil, fmt.Errorf("could not get characteristic for %q: %w", id, errNoChar)
}
