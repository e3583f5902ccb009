// Copyright ©2024 The blesensor Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package senssqlite provides an implementation of a readings database, backed by SQlite3.
package senssqlite // import "sbinet.org/x/blesensor/internal/senssqlite"

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"math"
	"os"
	"time"

	_ "modernc.org/sqlite"
	"sbinet.org/x/blesensor"
)

type DB struct {
	db *sql.DB
}

var _ blesensor.DB = (*DB)(nil)

// Open opens and initializes a sqlite3-backed readings database.
// Existing readings are preserved.
func Open(fname string) (*DB, error) {
	if _, err := os.Stat(fname); errors.Is(err, fs.ErrNotExist) {
		err = createDB(context.Background(), fname)
		if err != nil {
			return nil, fmt.Errorf("%w: could not initialize readings db: %w", blesensor.ErrStorageUnavailable, err)
		}
	}

	db, err := sql.Open("sqlite", fname)
	if err != nil {
		return nil, fmt.Errorf("%w: could not open readings db %q: %w", blesensor.ErrStorageUnavailable, fname, err)
	}

	store := &DB{db: db}
	err = store.init(context.Background())
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: could not setup readings db %q: %w", blesensor.ErrStorageUnavailable, fname, err)
	}

	return store, nil
}

func createDB(ctx context.Context, fname string) error {
	f, err := os.Create(fname)
	if err != nil {
		return fmt.Errorf("could not create readings db %q: %w", fname, err)
	}
	defer f.Close()

	db, err := sql.Open("sqlite", fname)
	if err != nil {
		return fmt.Errorf("could not open readings db %q: %w", fname, err)
	}
	defer db.Close()

	// Use Write Ahead Logging which improves SQLite concurrency.
	// Requires SQLite >= 3.7.0
	_, err = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	if err != nil {
		return fmt.Errorf("could not set WAL mode: %w", err)
	}

	// Check if the WAL mode was set correctly
	var journalMode string
	if err = db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return fmt.Errorf("could not determine sqlite3 journal_mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("could not set sqlite WAL mode")
	}

	return nil
}

func (db *DB) init(ctx context.Context) error {
	const stmt = `CREATE TABLE IF NOT EXISTS SensorData (
	entry_id  INTEGER PRIMARY KEY AUTOINCREMENT NOT NULL, -- never reused
	sensor    REAL,                                       -- decoded reading
	timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP NOT NULL -- local time, 'YYYY-MM-DD HH:MM:SS'
)
`
	_, err := db.db.ExecContext(ctx, stmt)
	if err != nil {
		return fmt.Errorf("could not create SensorData table: %w", err)
	}
	return nil
}

// Close closes a readings database
func (db *DB) Close() error {
	if db.db != nil {
		err := db.db.Close()
		if err != nil {
			return fmt.Errorf("could not close sqlite db: %w", err)
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
func (db *DB) InsertAt(v float32, at time.Time) (id int64, err error) {
	if db.db == nil {
		return 0, fmt.Errorf("%w: database is closed", blesensor.ErrStorageIO)
	}

	tx, err := db.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("%w: could not create sqlite transaction: %w", blesensor.ErrStorageIO, err)
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, tx.Rollback())
		}
	}()

	const stmt = `INSERT INTO SensorData (sensor, timestamp) VALUES (?1, ?2)`
	res, err := tx.Exec(stmt, float64(v), blesensor.Truncate(at).Format(blesensor.TimeLayout))
	if err != nil {
		return 0, fmt.Errorf("%w: could not insert reading %v: %w", blesensor.ErrStorageIO, v, err)
	}

	id, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: could not retrieve entry id: %w", blesensor.ErrStorageIO, err)
	}

	err = tx.Commit()
	if err != nil {
		return 0, fmt.Errorf("%w: could not commit sqlite transaction: %w", blesensor.ErrStorageIO, err)
	}

	return id, nil
}

// Readings iterates over all readings, in insertion order.
func (db *DB) Readings() iter.Seq2[blesensor.Reading, error] {
	return func(yield func(blesensor.Reading, error) bool) {
		if db.db == nil {
			_ = yield(blesensor.Reading{}, fmt.Errorf("%w: database is closed", blesensor.ErrStorageIO))
			return
		}

		// strftime makes sure the driver hands back the raw text.
		const q = `SELECT entry_id, sensor, strftime('%Y-%m-%d %H:%M:%S', timestamp) FROM SensorData ORDER BY entry_id ASC`
		rows, err := db.db.Query(q)
		if err != nil {
			_ = yield(blesensor.Reading{}, fmt.Errorf("%w: could not issue query: %w", blesensor.ErrStorageIO, err))
			return
		}
		defer rows.Close()

		for i := 0; rows.Next(); i++ {
			var (
				row blesensor.Reading
				v   sql.NullFloat64
				ts  string
			)
			err = rows.Scan(&row.ID, &v, &ts)
			if err != nil {
				_ = yield(row, fmt.Errorf("%w: could not scan row %d: %w", blesensor.ErrStorageIO, i, err))
				return
			}
			// sqlite stores NaN as NULL.
			row.Value = float32(math.NaN())
			if v.Valid {
				row.Value = float32(v.Float64)
			}
			row.Time, err = time.ParseInLocation(blesensor.TimeLayout, ts, time.Local)
			if err != nil {
				_ = yield(row, fmt.Errorf("%w: could not parse timestamp of row %d: %w", blesensor.ErrStorageIO, i, err))
				return
			}
			if !yield(row, nil) {
				return
			}
		}

		err = rows.Err()
		if err != nil {
			_ = yield(blesensor.Reading{}, fmt.Errorf("%w: could not iterate over rows: %w", blesensor.ErrStorageIO, err))
		}
	}
}
