// Copyright ©2024 The blesensor Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sensplot // import "sbinet.org/x/blesensor/sensplot"

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"sbinet.org/x/blesensor"
)

// Server serves a read-only view of a readings database.
type Server struct {
	mux *http.ServeMux
	db  blesensor.DB
	msg *zap.SugaredLogger

	root string
	opts Options
	tmpl *template.Template
}

// NewServer creates a server rooted at root, serving the readings of db.
func NewServer(root string, db blesensor.DB, opts Options, msg *zap.SugaredLogger) *Server {
	if msg == nil {
		msg = zap.NewNop().Sugar()
	}
	if !strings.HasSuffix(root, "/") {
		root += "/"
	}

	srv := &Server{
		mux:  http.NewServeMux(),
		db:   db,
		msg:  msg,
		root: root,
		opts: opts,
		tmpl: template.Must(template.New("blesensor").Parse(page)),
	}

	base := strings.TrimRight(root, "/")
	srv.mux.HandleFunc(base+"/", srv.handleRoot)
	srv.mux.HandleFunc(base+"/favicon.ico", func(w http.ResponseWriter, r *http.Request) {})
	srv.mux.HandleFunc(base+"/plot.png", srv.handlePlot)
	srv.mux.HandleFunc(base+"/api", srv.handleAPI)

	return srv
}

func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	srv.mux.ServeHTTP(w, r)
}

func (srv *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	rows, err := blesensor.All(srv.db)
	if err != nil {
		srv.fail(w, fmt.Errorf("could not read rows from db: %w", err), http.StatusInternalServerError)
		return
	}

	ctx := struct {
		Root  string
		Title string
		N     int
		Last  string
	}{
		Root:  srv.root,
		Title: srv.opts.Title,
		N:     len(rows),
	}
	if len(rows) > 0 {
		ctx.Last = rows[len(rows)-1].String()
	}

	err = srv.tmpl.Execute(w, ctx)
	if err != nil {
		srv.fail(w, fmt.Errorf("could not display page: %w", err), http.StatusInternalServerError)
		return
	}
}

func (srv *Server) handlePlot(w http.ResponseWriter, r *http.Request) {
	rows, err := blesensor.All(srv.db)
	if err != nil {
		srv.fail(w, fmt.Errorf("could not read rows from db: %w", err), http.StatusInternalServerError)
		return
	}

	plt, err := New(rows, srv.opts)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, ErrNoData) {
			code = http.StatusNotFound
		}
		srv.fail(w, fmt.Errorf("could not create plot: %w", err), code)
		return
	}

	buf := new(bytes.Buffer)
	err = WritePNG(buf, plt, srv.opts)
	if err != nil {
		srv.fail(w, err, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = io.Copy(w, buf)
}

func (srv *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	rows, err := blesensor.All(srv.db)
	if err != nil {
		srv.fail(w, fmt.Errorf("could not read rows from db: %w", err), http.StatusInternalServerError)
		return
	}

	buf := new(bytes.Buffer)
	err = json.NewEncoder(buf).Encode(apiRows(rows))
	if err != nil {
		srv.fail(w, fmt.Errorf("could not encode readings: %w", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = io.Copy(w, buf)
}

// apiReading is the JSON form of a reading.
// Non-finite values have no JSON number and are encoded as null.
type apiReading struct {
	ID    int64     `json:"entry_id"`
	Value *float32  `json:"value"`
	Time  time.Time `json:"timestamp"`
}

func apiRows(rows []blesensor.Reading) []apiReading {
	out := make([]apiReading, len(rows))
	for i, row := range rows {
		out[i] = apiReading{ID: row.ID, Time: row.Time}
		if v := float64(row.Value); !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[i].Value = &rows[i].Value
		}
	}
	return out
}

func (srv *Server) fail(w http.ResponseWriter, err error, code int) {
	srv.msg.Errorw("request failed", "error", err, "code", code)
	http.Error(w, err.Error(), code)
}

const page = `
<html>
	<head>
		<title>{{.Title}}</title>
	</head>

	<body>
		<h2>{{.Title}}</h2>
		<pre>
Readings:    {{.N}}
{{- if .Last}}
Last:        {{.Last}}
{{- end}}
		</pre>
{{- if .N}}
		<hr>
		<div class="row align-items-center justify-content-center">
		  <img src="{{.Root}}plot.png"/>
		</div>
{{- end}}
	</body>
</html>
`
