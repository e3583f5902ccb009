// Copyright ©2024 The blesensor Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package blesensor // import "sbinet.org/x/blesensor"

import (
	"fmt"
	"io"
	"iter"
	"time"
)

const (
	// DefaultValue is the value recorded by InsertDefault.
	DefaultValue float32 = 25.5

	// TimeLayout is the on-disk layout of reading timestamps.
	TimeLayout = "2006-01-02 15:04:05"
)

// Reading is one decoded sensor measurement.
type Reading struct {
	ID    int64     `json:"entry_id"`
	Value float32   `json:"value"`
	Time  time.Time `json:"timestamp"`
}

func (r Reading) String() string {
	return fmt.Sprintf("%d: %v (%s)", r.ID, r.Value, r.Time.Format(TimeLayout))
}

// DB is an append-only log of sensor readings.
//
// Insert and InsertAt commit the reading before returning and yield
// the newly assigned entry id.
// Readings iterates over all readings in insertion order.
type DB interface {
	Insert(v float32) (int64, error)
	InsertAt(v float32, at time.Time) (int64, error)
	Readings() iter.Seq2[Reading, error]
	Close() error
}

// InsertDefault appends DefaultValue to db.
func InsertDefault(db DB) (int64, error) {
	return db.Insert(DefaultValue)
}

// Truncate returns t as a local wall-clock time, at the resolution
// readings are stored with.
func Truncate(t time.Time) time.Time {
	return t.Local().Truncate(time.Second)
}

// All collects every reading of db.
func All(db DB) ([]Reading, error) {
	var rows []Reading
	for row, err := range db.Readings() {
		if err != nil {
			return nil, fmt.Errorf("could not read rows: %w", err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Dump writes every reading of db to w and returns the number of readings.
func Dump(w io.Writer, db DB) (int, error) {
	_, err := fmt.Fprintf(w, "Sensor Data:\n")
	if err != nil {
		return 0, fmt.Errorf("could not write header: %w", err)
	}

	n := 0
	for row, err := range db.Readings() {
		if err != nil {
			return n, fmt.Errorf("could not read row %d: %w", n, err)
		}
		_, err = fmt.Fprintf(w,
			"EntryID: %d\nReadingValue: %v\nTimestamp: %s\n\n",
			row.ID, float64(row.Value), row.Time.Format(TimeLayout),
		)
		if err != nil {
			return n, fmt.Errorf("could not write row %d: %w", n, err)
		}
		n++
	}
	return n, nil
}
