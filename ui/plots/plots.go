// Copyright 2026 The Leafscan Authors. SPDX-License-Identifier: Apache-2.0

// Package plots renders PNG plots of the data: a grid of sample images with their class names, and
// the distribution of classes in each partition.
package plots

import (
	"image"
	"io"

	"github.com/gomlx/exceptions"
	"github.com/leafscan/leafscan/pkg/core/tensors"
	"github.com/leafscan/leafscan/pkg/core/tensors/images"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// TileSize is the size of each image in a SampleGrid.
var TileSize = 2.5 * vg.Inch

// SampleGrid writes to w a PNG with the images arranged in a grid with `cols` columns, each titled
// with the corresponding entry of titles (if given).
func SampleGrid(w io.Writer, imgs []image.Image, titles []string, cols int) error {
	if len(imgs) == 0 {
		return errors.New("SampleGrid: no images given")
	}
	if cols <= 0 {
		return errors.Errorf("SampleGrid: invalid number of columns %d", cols)
	}
	if len(titles) > 0 && len(titles) != len(imgs) {
		return errors.Errorf("SampleGrid: %d titles given for %d images", len(titles), len(imgs))
	}
	rows := (len(imgs) + cols - 1) / cols
	grid := make([][]*plot.Plot, rows)
	for row := range grid {
		grid[row] = make([]*plot.Plot, cols)
		for col := range grid[row] {
			idx := row*cols + col
			if idx >= len(imgs) {
				continue
			}
			p := plot.New()
			size := imgs[idx].Bounds().Size()
			p.Add(plotter.NewImage(imgs[idx], 0, 0, float64(size.X), float64(size.Y)))
			p.HideAxes()
			if len(titles) > 0 {
				p.Title.Text = titles[idx]
			}
			grid[row][col] = p
		}
	}

	img := vgimg.New(vg.Length(cols)*TileSize, vg.Length(rows)*TileSize)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows: rows,
		Cols: cols,
		PadX: vg.Millimeter,
		PadY: vg.Millimeter,
	}
	canvases := plot.Align(grid, tiles, dc)
	for row := range grid {
		for col, p := range grid[row] {
			if p != nil {
				p.Draw(canvases[row][col])
			}
		}
	}
	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(w); err != nil {
		return errors.Wrap(err, "SampleGrid: failed to write PNG")
	}
	return nil
}

// SampleGridFromBatch draws up to rows*cols images of a batch tensor shaped `[batch_size, height, width, channels]`
// with values from 0 to maxValue, titled with the class names of the `labels` (Int32) tensor.
func SampleGridFromBatch(w io.Writer, imagesBatch, labels *tensors.Tensor, classNames []string, rows, cols int, maxValue float64) (err error) {
	var imgs []image.Image
	err = exceptions.TryCatch[error](func() {
		imgs = images.ToImage().MaxValue(maxValue).Batch(imagesBatch)
	})
	if err != nil {
		return err
	}
	imgs = imgs[:min(len(imgs), rows*cols)]
	var titles []string
	if labels != nil {
		labelValues := tensors.CopyFlatData[int32](labels)
		if len(labelValues) < len(imgs) {
			return errors.Errorf("SampleGridFromBatch: %d labels for %d images", len(labelValues), len(imgs))
		}
		titles = make([]string, len(imgs))
		for ii := range imgs {
			label := int(labelValues[ii])
			if label < 0 || label >= len(classNames) {
				return errors.Errorf("SampleGridFromBatch: label %d out of range for %d classes", label, len(classNames))
			}
			titles[ii] = classNames[label]
		}
	}
	return SampleGrid(w, imgs, titles, cols)
}

// Series is a named list of counts, one per class.
type Series struct {
	Name   string
	Counts []int
}

// ClassDistribution writes to w a PNG bar chart with the number of examples of each class, with one bar
// per series (e.g. per partition) for each class.
func ClassDistribution(w io.Writer, title string, classNames []string, series ...Series) error {
	if len(series) == 0 {
		return errors.New("ClassDistribution: no series given")
	}
	p := plot.New()
	p.Title.Text = title
	p.Y.Label.Text = "examples"
	barWidth := vg.Points(60 / float64(len(series)))
	for ii, s := range series {
		if len(s.Counts) != len(classNames) {
			return errors.Errorf("ClassDistribution: series %q has %d counts for %d classes",
				s.Name, len(s.Counts), len(classNames))
		}
		values := make(plotter.Values, len(s.Counts))
		for jj, c := range s.Counts {
			values[jj] = float64(c)
		}
		bars, err := plotter.NewBarChart(values, barWidth)
		if err != nil {
			return errors.Wrapf(err, "ClassDistribution: series %q", s.Name)
		}
		bars.LineStyle.Width = vg.Length(0)
		bars.Color = plotutil.Color(ii)
		bars.Offset = vg.Length(float64(ii)-float64(len(series)-1)/2) * barWidth
		p.Add(bars)
		p.Legend.Add(s.Name, bars)
	}
	p.Legend.Top = true
	p.NominalX(classNames...)
	p.X.Tick.Label.Rotation = 0.5
	p.X.Tick.Label.XAlign = draw.XRight
	p.Add(plotter.NewGrid())
	width := vg.Length(max(6, len(classNames))) * vg.Inch
	writer, err := p.WriterTo(width, 6*vg.Inch, "png")
	if err != nil {
		return errors.Wrap(err, "ClassDistribution: failed to render")
	}
	if _, err = writer.WriteTo(w); err != nil {
		return errors.Wrap(err, "ClassDistribution: failed to write PNG")
	}
	return nil
}
