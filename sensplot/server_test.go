// Copyright ©2024 The blesensor Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sensplot

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sbinet.org/x/blesensor"
	"sbinet.org/x/blesensor/internal/senssqlite"
)

func newTestServer(t *testing.T, vs ...float32) *httptest.Server {
	t.Helper()

	db, err := senssqlite.Open(filepath.Join(t.TempDir(), "sensor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	at := time.Date(2024, 1, 1, 12, 0, 0, 0, time.Local)
	for i, v := range vs {
		_, err := db.InsertAt(v, at.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	srv := httptest.NewServer(NewServer("/", db, DefaultOptions(), nil))
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func TestServerAPI(t *testing.T) {
	srv := newTestServer(t, 33.2, 25.5)

	resp, body := get(t, srv.URL+"/api")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var rows []blesensor.Reading
	require.NoError(t, json.Unmarshal(body, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, int64(1), rows[0].ID)
	assert.Equal(t, float32(33.2), rows[0].Value)
	assert.Equal(t, float32(25.5), rows[1].Value)
	assert.True(t, rows[1].Time.After(rows[0].Time))
}

func TestServerPlot(t *testing.T) {
	srv := newTestServer(t, 33.2, 25.5, 30)

	resp, body := get(t, srv.URL+"/plot.png")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(body, []byte("\x89PNG")))

	resp, body = get(t, srv.URL+"/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Readings:    3")
	assert.Contains(t, string(body), `<img src="/plot.png"/>`)
}

func TestServerAPINonFinite(t *testing.T) {
	srv := newTestServer(t,
		float32(math.NaN()), float32(math.Inf(+1)), float32(math.Inf(-1)), 21.5,
	)

	resp, body := get(t, srv.URL+"/api")
	require.Equal(t, http.StatusOK, resp.StatusCode, "body: %s", body)

	var rows []struct {
		ID    int64    `json:"entry_id"`
		Value *float32 `json:"value"`
	}
	require.NoError(t, json.Unmarshal(body, &rows))
	require.Len(t, rows, 4)
	for i, row := range rows[:3] {
		assert.Equal(t, int64(i+1), row.ID)
		assert.Nil(t, row.Value, "row %d", i)
	}
	require.NotNil(t, rows[3].Value)
	assert.Equal(t, float32(21.5), *rows[3].Value)

	resp, _ = get(t, srv.URL+"/plot.png")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServerEmpty(t *testing.T) {
	srv := newTestServer(t)

	resp, body := get(t, srv.URL+"/api")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "[]", string(body))

	resp, _ = get(t, srv.URL+"/plot.png")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = get(t, srv.URL+"/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, string(body), "plot.png")
}
