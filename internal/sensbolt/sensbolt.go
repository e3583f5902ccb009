// Copyright ©2024 The blesensor Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sensbolt provides an implementation of a readings database, backed by bbolt.
package sensbolt // import "sbinet.org/x/blesensor/internal/sensbolt"

import (
	"encoding/binary"
	"fmt"
	"iter"
	"math"
	"time"

	"go.etcd.io/bbolt"
	"sbinet.org/x/blesensor"
)

var bucketData = []byte("SensorData")

const valueSize = 4 + 8 // float32 bits + unix seconds

type DB struct {
	db *bbolt.DB
}

var _ blesensor.DB = (*DB)(nil)

// Open opens and initializes a boltdb-backed readings database.
// Existing readings are preserved.
func Open(fname string) (*DB, error) {
	db, err := bbolt.Open(fname, 0644, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: could not open readings db: %w", blesensor.ErrStorageUnavailable, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketData)
		if err != nil {
			return fmt.Errorf("could not create %q bucket: %w", bucketData, err)
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: could not setup readings db buckets: %w", blesensor.ErrStorageUnavailable, err)
	}

	return &DB{db: db}, nil
}

// Close closes a readings database
func (db *DB) Close() error {
	if db.db != nil {
		err := db.db.Close()
		if err != nil {
			return fmt.Errorf("could not close boltdb: %w", err)
		}
		db.db = nil
	}

	return nil
}

// Insert appends a reading timestamped with the current time.
func (db *DB) Insert(v float32) (int64, error) {
	return db.InsertAt(v, time.Now())
}

// InsertAt appends a reading and commits it before returning its entry id.
func (db *DB) InsertAt(v float32, at time.Time) (int64, error) {
	if db.db == nil {
		return 0, fmt.Errorf("%w: database is closed", blesensor.ErrStorageIO)
	}

	var id uint64
	err := db.db.Update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket(bucketData)
		if bkt == nil {
			return fmt.Errorf("could not access %q bucket", bucketData)
		}

		var err error
		id, err = bkt.NextSequence()
		if err != nil {
			return fmt.Errorf("could not assign entry id: %w", err)
		}

		var (
			key = make([]byte, 8)
			buf = make([]byte, valueSize)
		)
		binary.BigEndian.PutUint64(key, id)
		marshalBinary(buf, v, at)

		err = bkt.Put(key, buf)
		if err != nil {
			return fmt.Errorf("could not store reading %v: %w", v, err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: could not write reading to db: %w", blesensor.ErrStorageIO, err)
	}
	return int64(id), nil
}

// Readings iterates over all readings, in insertion order.
func (db *DB) Readings() iter.Seq2[blesensor.Reading, error] {
	return func(yield func(blesensor.Reading, error) bool) {
		if db.db == nil {
			_ = yield(blesensor.Reading{}, fmt.Errorf("%w: database is closed", blesensor.ErrStorageIO))
			return
		}

		// keys are big-endian entry ids: bucket order is insertion order.
		var rows []blesensor.Reading
		err := db.db.View(func(tx *bbolt.Tx) error {
			bkt := tx.Bucket(bucketData)
			if bkt == nil {
				return fmt.Errorf("could not find %q bucket", bucketData)
			}

			return bkt.ForEach(func(k, v []byte) error {
				row, err := unmarshalBinary(k, v)
				if err != nil {
					return err
				}
				rows = append(rows, row)
				return nil
			})
		})
		if err != nil {
			_ = yield(blesensor.Reading{}, fmt.Errorf("%w: could not read rows: %w", blesensor.ErrStorageIO, err))
			return
		}

		for _, row := range rows {
			if !yield(row, nil) {
				return
			}
		}
	}
}

func marshalBinary(p []byte, v float32, at time.Time) {
	binary.LittleEndian.PutUint32(p[0:4], math.Float32bits(v))
	binary.LittleEndian.PutUint64(p[4:12], uint64(blesensor.Truncate(at).Unix()))
}

func unmarshalBinary(k, p []byte) (blesensor.Reading, error) {
	if len(k) != 8 || len(p) != valueSize {
		return blesensor.Reading{}, fmt.Errorf("invalid record (key=%d bytes, value=%d bytes)", len(k), len(p))
	}
	return blesensor.Reading{
		ID:    int64(binary.BigEndian.Uint64(k)),
		Value: math.Float32frombits(binary.LittleEndian.Uint32(p[0:4])),
		Time:  time.Unix(int64(binary.LittleEndian.Uint64(p[4:12])), 0).Local(),
	}, nil
}
