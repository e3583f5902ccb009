// Copyright ©2024 The blesensor Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dbtest holds the conformance tests shared by readings databases.
package dbtest // import "sbinet.org/x/blesensor/internal/dbtest"

import (
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sbinet.org/x/blesensor"
)

// Opener opens a readings database at the provided location.
type Opener func(fname string) (blesensor.DB, error)

// Run runs the conformance tests against the databases created by open.
func Run(t *testing.T, open Opener) {
	t.Run("empty", func(t *testing.T) { testEmpty(t, open) })
	t.Run("insert-query", func(t *testing.T) { testInsertQuery(t, open) })
	t.Run("insert-default", func(t *testing.T) { testInsertDefault(t, open) })
	t.Run("order", func(t *testing.T) { testOrder(t, open) })
	t.Run("timestamp", func(t *testing.T) { testTimestamp(t, open) })
	t.Run("non-finite", func(t *testing.T) { testNonFinite(t, open) })
	t.Run("reopen", func(t *testing.T) { testReopen(t, open) })
	t.Run("unavailable", func(t *testing.T) { testUnavailable(t, open) })
	t.Run("closed", func(t *testing.T) { testClosed(t, open) })
}

func mustOpen(t *testing.T, open Opener, fname string) blesensor.DB {
	t.Helper()
	db, err := open(fname)
	require.NoError(t, err, "could not open db %q", fname)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func fname(t *testing.T) string {
	return filepath.Join(t.TempDir(), "sensor.db")
}

func testEmpty(t *testing.T, open Opener) {
	db := mustOpen(t, open, fname(t))

	rows, err := blesensor.All(db)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func testInsertQuery(t *testing.T, open Opener) {
	db := mustOpen(t, open, fname(t))

	var prev int64
	for _, v := range []float32{30, 33.2, -1.5} {
		id, err := db.Insert(v)
		require.NoError(t, err)
		assert.Greater(t, id, prev, "entry ids must increase")

		rows, err := blesensor.All(db)
		require.NoError(t, err)
		require.NotEmpty(t, rows)

		last := rows[len(rows)-1]
		assert.Equal(t, v, last.Value)
		assert.Equal(t, id, last.ID)
		for _, row := range rows[:len(rows)-1] {
			assert.Less(t, row.ID, id)
		}
		prev = id
	}
}

func testInsertDefault(t *testing.T, open Opener) {
	db := mustOpen(t, open, fname(t))

	_, err := blesensor.InsertDefault(db)
	require.NoError(t, err)

	rows, err := blesensor.All(db)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, float32(25.5), rows[0].Value)
}

func testOrder(t *testing.T, open Opener) {
	db := mustOpen(t, open, fname(t))

	const n = 50
	want := make([]float32, n)
	ids := make([]int64, n)
	for i := range want {
		want[i] = float32(n-i) * 1.25
		id, err := db.Insert(want[i])
		require.NoError(t, err)
		ids[i] = id
	}

	rows, err := blesensor.All(db)
	require.NoError(t, err)
	require.Len(t, rows, n)
	for i, row := range rows {
		assert.Equal(t, ids[i], row.ID, "row %d", i)
		assert.Equal(t, want[i], row.Value, "row %d", i)
		if i > 0 {
			assert.Greater(t, row.ID, rows[i-1].ID, "row %d", i)
		}
	}
}

func testTimestamp(t *testing.T, open Opener) {
	db := mustOpen(t, open, fname(t))

	wall := time.Date(2024, 6, 1, 14, 0, 0, 0, time.Local)
	_, err := db.InsertAt(33.2, wall)
	require.NoError(t, err)

	at := time.Date(2024, 3, 1, 12, 30, 15, 999, time.FixedZone("CET", 3600))
	_, err = db.InsertAt(21, at)
	require.NoError(t, err)

	beg := time.Now().Truncate(time.Second)
	_, err = db.Insert(25.5)
	require.NoError(t, err)
	end := time.Now()

	rows, err := blesensor.All(db)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	for _, row := range rows {
		assert.Equal(t, time.Local, row.Time.Location(), "row %d", row.ID)
	}

	assert.True(t, wall.Equal(rows[0].Time), "got=%v, want=%v", rows[0].Time, wall)
	assert.Equal(t, "2024-06-01 14:00:00", rows[0].Time.Format(blesensor.TimeLayout))

	want := at.Truncate(time.Second).Local()
	assert.True(t, want.Equal(rows[1].Time), "got=%v, want=%v", rows[1].Time, want)
	assert.Equal(t, want.Format(blesensor.TimeLayout), rows[1].Time.Format(blesensor.TimeLayout))

	assert.False(t, rows[2].Time.Before(beg), "got=%v, beg=%v", rows[2].Time, beg)
	assert.False(t, rows[2].Time.After(end), "got=%v, end=%v", rows[2].Time, end)
}

func testNonFinite(t *testing.T, open Opener) {
	db := mustOpen(t, open, fname(t))

	vs := []float32{
		float32(math.NaN()),
		float32(math.Inf(+1)),
		float32(math.Inf(-1)),
		-0.5,
	}
	for _, v := range vs {
		_, err := db.Insert(v)
		require.NoError(t, err)
	}

	rows, err := blesensor.All(db)
	require.NoError(t, err)
	require.Len(t, rows, len(vs))

	assert.True(t, math.IsNaN(float64(rows[0].Value)), "got=%v", rows[0].Value)
	assert.True(t, math.IsInf(float64(rows[1].Value), +1), "got=%v", rows[1].Value)
	assert.True(t, math.IsInf(float64(rows[2].Value), -1), "got=%v", rows[2].Value)
	assert.Equal(t, float32(-0.5), rows[3].Value)
}

func testReopen(t *testing.T, open Opener) {
	name := fname(t)

	db, err := open(name)
	require.NoError(t, err)
	id1, err := db.Insert(33.2)
	require.NoError(t, err)
	id2, err := db.Insert(25.5)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db = mustOpen(t, open, name)
	rows, err := blesensor.All(db)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, float32(33.2), rows[0].Value)
	assert.Equal(t, float32(25.5), rows[1].Value)

	id3, err := db.Insert(12)
	require.NoError(t, err)
	assert.Greater(t, id3, id2)
	assert.Greater(t, id2, id1)
}

func testUnavailable(t *testing.T, open Opener) {
	name := filepath.Join(t.TempDir(), "no-such-dir", "sensor.db")
	db, err := open(name)
	if db != nil {
		_ = db.Close()
	}
	require.Error(t, err)
	assert.ErrorIs(t, err, blesensor.ErrStorageUnavailable)
}

func testClosed(t *testing.T, open Opener) {
	db, err := open(fname(t))
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, err = db.Insert(1)
	assert.ErrorIs(t, err, blesensor.ErrStorageIO)

	_, err = blesensor.All(db)
	assert.ErrorIs(t, err, blesensor.ErrStorageIO)
}
