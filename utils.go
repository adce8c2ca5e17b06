package cwgan_go

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gorgonia.org/tensor"
)

// NormRandDense Return reference to tensor.Dense filled with normally distributed float64 values with zero mean and provided standard deviation
//
// rng - source of randomness
// std - standard deviation
// shape - shape of resulting dense
//
func NormRandDense(rng *rand.Rand, std float64, shape ...int) *tensor.Dense {
	data := make([]float64, tensor.Shape(shape).TotalSize())
	for i := range data {
		data[i] = rng.NormFloat64() * std
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

// UniformRandDense Return reference to tensor.Dense filled with pseudo-random float64 values in range [0.0,1.0)
func UniformRandDense(rng *rand.Rand, shape ...int) *tensor.Dense {
	data := make([]float64, tensor.Shape(shape).TotalSize())
	for i := range data {
		data[i] = rng.Float64()
	}
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
}

// ZerosDense Return reference to tensor.Dense filled with zeros
func ZerosDense(shape ...int) *tensor.Dense {
	return tensor.New(tensor.WithShape(shape...), tensor.WithBacking(make([]float64, tensor.Shape(shape).TotalSize())))
}

// SlicerOneStep Just iterator with step size = 1
type SlicerOneStep struct {
	StartIdx, EndIdx int
}

func (s SlicerOneStep) Start() int { return s.StartIdx }
func (s SlicerOneStep) End() int   { return s.EndIdx }
func (s SlicerOneStep) Step() int  { return 1 }

// denseData Returns backing slice of tensor. Views are materialized first
func denseData(t tensor.Tensor) ([]float64, error) {
	if t == nil {
		return nil, fmt.Errorf("tensor is nil")
	}
	// no-op for tensors which are not views
	t = tensor.Materialize(t)
	data, ok := t.Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("expected float64 data, but got %T", t.Data())
	}
	return data, nil
}

// cloneDense Deep copy of dense (values read from tape machines are reused between runs)
func cloneDense(t tensor.Tensor) (*tensor.Dense, error) {
	data, err := denseData(t)
	if err != nil {
		return nil, err
	}
	backing := make([]float64, len(data))
	copy(backing, data)
	return tensor.New(tensor.WithShape(t.Shape().Clone()...), tensor.WithBacking(backing)), nil
}

// PlotSeries Plot chart of several y(x) series. Series which are missing in xs/ys or empty are skipped
func PlotSeries(title string, names []string, xs, ys map[string][]float64, fname string) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Iteration"
	p.Y.Label.Text = "Value"
	p.Add(plotter.NewGrid())
	for i, name := range names {
		x, y := xs[name], ys[name]
		if len(x) != len(y) {
			return fmt.Errorf("X and Y(X) of '%s' must have same number of elements, but X has %d elements and Y(X) has %d elements", name, len(x), len(y))
		}
		if len(x) == 0 {
			continue
		}
		points := make(plotter.XYs, len(x))
		for j := range x {
			points[j].X = x[j]
			points[j].Y = y[j]
		}
		line, err := plotter.NewLine(points)
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("Can't init new line for '%s'", name))
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(name, line)
	}
	p.Legend.Top = true
	// Save the plot to a PNG file.
	if err := p.Save(8*vg.Inch, 4*vg.Inch, fname); err != nil {
		return errors.Wrap(err, "Can't save plot")
	}
	return nil
}
