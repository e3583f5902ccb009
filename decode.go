// Copyright ©2024 The blesensor Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blesensor // import "sbinet.org/x/blesensor"

import (
	"encoding/binary"
	"fmt"
	"math"
)

// PayloadSize is the size in bytes of one sensor notification.
const PayloadSize = 4

// Decode decodes a notification payload holding a little-endian
// IEEE-754 single precision value.
func Decode(p []byte) (float32, error) {
	if len(p) != PayloadSize {
		return 0, fmt.Errorf("could not decode %d-byte payload %x: %w", len(p), p, ErrDecode)
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(p)), nil
}

// Encode encodes v the way the sensor firmware sends it.
func Encode(v float32) []byte {
	p := make([]byte, PayloadSize)
	binary.LittleEndian.PutUint32(p, math.Float32bits(v))
	return p
}
