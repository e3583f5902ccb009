// Copyright ©2024 The blesensor Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sensplot renders and serves charts of stored sensor readings.
package sensplot // import "sbinet.org/x/blesensor/sensplot"

import (
	"errors"
	"fmt"
	"image/color"
	"io"
	"math"
	"time"

	"git.sr.ht/~sbinet/epok"
	"go-hep.org/x/hep/hplot"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
	"sbinet.org/x/blesensor"
)

// ErrNoData is returned when there is nothing to plot.
var ErrNoData = errors.New("sensplot: no readings to plot")

var (
	tcnv epok.UTCUnixTimeConverter
)

// Options controls the look of a chart.
type Options struct {
	Title  string
	XLabel string
	YLabel string

	YMin, YMax float64 // fixed y range

	// TimeAxis places readings on a time scale instead of
	// evenly spaced timestamp categories.
	TimeAxis bool

	Width, Height vg.Length
	Color         color.NRGBA
}

// DefaultOptions returns the options of the temperature chart.
func DefaultOptions() Options {
	const size = 20 * vg.Centimeter
	return Options{
		Title:  "Temperature Over Time",
		XLabel: "Timestamp",
		YLabel: "Temperature (Celsius)",
		YMin:   0,
		YMax:   75,
		Width:  vg.Length(math.Phi) * size,
		Height: size,
		Color:  color.NRGBA{R: 255, A: 255},
	}
}

// maxTicks is the maximum number of labelled categories on the x axis.
const maxTicks = 10

// New creates a line and marker chart of the provided readings.
func New(rows []blesensor.Reading, opts Options) (*hplot.Plot, error) {
	if len(rows) == 0 {
		return nil, ErrNoData
	}

	var (
		xs = make([]float64, 0, len(rows))
		ys = make([]float64, 0, len(rows))
	)
	for i, row := range rows {
		y := float64(row.Value)
		if math.IsNaN(y) || math.IsInf(y, 0) {
			// not drawable.
			continue
		}
		x := float64(i)
		if opts.TimeAxis {
			x = tcnv.FromTime(wallClock(row.Time))
		}
		xs = append(xs, x)
		ys = append(ys, y)
	}
	if len(ys) == 0 {
		return nil, fmt.Errorf("no finite reading among %d: %w", len(rows), ErrNoData)
	}

	plt := hplot.New()
	plt.Title.Text = opts.Title
	plt.X.Label.Text = opts.XLabel
	plt.Y.Label.Text = opts.YLabel
	switch {
	case opts.TimeAxis:
		plt.X.Tick.Marker = epok.Ticks{
			Converter: tcnv,
			Format:    "2006-01-02\n15:04:05",
		}
	default:
		plt.X.Tick.Marker = categoryTicks(rows)
	}

	sca, err := hplot.NewScatter(hplot.ZipXY(xs, ys))
	if err != nil {
		return nil, fmt.Errorf("could not create scatter plot: %w", err)
	}
	sca.GlyphStyle.Color = opts.Color
	sca.GlyphStyle.Radius = 2
	sca.GlyphStyle.Shape = draw.CircleGlyph{}

	lin, err := hplot.NewLine(hplot.ZipXY(xs, ys))
	if err != nil {
		return nil, fmt.Errorf("could not create line plot: %w", err)
	}
	lin.LineStyle.Color = opts.Color

	plt.Add(hplot.NewGrid(), lin, sca)

	// Add expands the axes to the data: fix the y range afterwards.
	if opts.YMax > opts.YMin {
		plt.Y.Min = opts.YMin
		plt.Y.Max = opts.YMax
	}

	return plt, nil
}

// wallClock returns the wall-clock reading of t, expressed in UTC,
// so time ticks display the same hours as the stored timestamps.
func wallClock(t time.Time) time.Time {
	y, m, d := t.Date()
	hh, mm, ss := t.Clock()
	return time.Date(y, m, d, hh, mm, ss, t.Nanosecond(), time.UTC)
}

// categoryTicks labels evenly spaced readings with their timestamps.
func categoryTicks(rows []blesensor.Reading) plot.ConstantTicks {
	step := 1
	if len(rows) > maxTicks {
		step = (len(rows) + maxTicks - 1) / maxTicks
	}

	ticks := make(plot.ConstantTicks, 0, len(rows))
	for i, row := range rows {
		tck := plot.Tick{Value: float64(i)}
		if i%step == 0 {
			tck.Label = row.Time.Format("2006-01-02\n15:04:05")
		}
		ticks = append(ticks, tck)
	}
	return ticks
}

// WritePNG renders the chart as a PNG image.
func WritePNG(w io.Writer, plt *hplot.Plot, opts Options) error {
	cnv := vgimg.PngCanvas{
		Canvas: vgimg.New(opts.Width, opts.Height),
	}
	plt.Draw(draw.New(cnv))
	_, err := cnv.WriteTo(w)
	if err != nil {
		return fmt.Errorf("could not write PNG plot: %w", err)
	}
	return nil
}

// SaveAll renders the readings to every provided file.
// The image format is derived from each file extension.
func SaveAll(rows []blesensor.Reading, opts Options, fnames ...string) error {
	var grp errgroup.Group
	for _, fname := range fnames {
		grp.Go(func() error {
			plt, err := New(rows, opts)
			if err != nil {
				return fmt.Errorf("could not create plot %q: %w", fname, err)
			}
			err = hplot.Save(plt, opts.Width, opts.Height, fname)
			if err != nil {
				return fmt.Errorf("could not save plot %q: %w", fname, err)
			}
			return nil
		})
	}

	err := grp.Wait()
	if err != nil {
		return fmt.Errorf("could not create plots: %w", err)
	}
	return nil
}
