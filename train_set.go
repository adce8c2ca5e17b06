package cwgan_go

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Sample Paired images of the same scene. Both have shape (C, H, W)
type Sample struct {
	Day   *tensor.Dense
	Night *tensor.Dense
}

// Dataset Random access to paired samples
type Dataset interface {
	Len() int
	At(i int) (Sample, error)
}

// TrainSet In-memory dataset
//
// Days - condition images of shape (N, C, H, W)
// Nights - target images of shape (N, C, H, W)
// DataLength - N
//
type TrainSet struct {
	Days       *tensor.Dense
	Nights     *tensor.Dense
	DataLength int
}

// NewTrainSet Checks that days and nights are paired and wraps them into TrainSet
func NewTrainSet(days, nights *tensor.Dense) (*TrainSet, error) {
	if days == nil || nights == nil {
		return nil, fmt.Errorf("days and nights must be provided")
	}
	if days.Dims() != 4 {
		return nil, fmt.Errorf("expected (N, C, H, W) tensor, but got shape %v", days.Shape())
	}
	if !days.Shape().Eq(nights.Shape()) {
		return nil, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("days %v and nights %v", days.Shape(), nights.Shape()))
	}
	if days.Shape()[0] == 0 {
		return nil, ErrEmptyDataset
	}
	return &TrainSet{
		Days:       days,
		Nights:     nights,
		DataLength: days.Shape()[0],
	}, nil
}

// Len Returns number of samples
func (ts *TrainSet) Len() int {
	return ts.DataLength
}

// ImageShape Returns (C, H, W)
func (ts *TrainSet) ImageShape() tensor.Shape {
	return ts.Days.Shape()[1:].Clone()
}

// At Returns copy of i-th sample
func (ts *TrainSet) At(i int) (Sample, error) {
	if i < 0 || i >= ts.DataLength {
		return Sample{}, fmt.Errorf("index %d is out of range [0;%d)", i, ts.DataLength)
	}
	day, err := ts.slice(ts.Days, i)
	if err != nil {
		return Sample{}, errors.Wrap(err, "Can't select day image")
	}
	night, err := ts.slice(ts.Nights, i)
	if err != nil {
		return Sample{}, errors.Wrap(err, "Can't select night image")
	}
	return Sample{Day: day, Night: night}, nil
}

func (ts *TrainSet) slice(t *tensor.Dense, i int) (*tensor.Dense, error) {
	view, err := t.Slice(SlicerOneStep{StartIdx: i, EndIdx: i + 1})
	if err != nil {
		return nil, err
	}
	sample, err := cloneDense(view)
	if err != nil {
		return nil, err
	}
	if err := sample.Reshape(ts.ImageShape()...); err != nil {
		return nil, err
	}
	return sample, nil
}

// Batch Samples stacked along new first axis
//
// Conditions - day images of shape (N, C, H, W)
// Targets - night images of shape (N, C, H, W)
// Indices - dataset indices of samples
//
type Batch struct {
	Conditions *tensor.Dense
	Targets    *tensor.Dense
	Indices    []int
}

// Size Returns number of samples in batch
func (b Batch) Size() int {
	return len(b.Indices)
}

// StackSamples Stacks samples into batch. All samples must share shape
func StackSamples(samples []Sample, indices []int) (Batch, error) {
	if len(samples) == 0 {
		return Batch{}, ErrEmptyDataset
	}
	if len(indices) != len(samples) {
		return Batch{}, fmt.Errorf("got %d samples but %d indices", len(samples), len(indices))
	}
	shp := samples[0].Day.Shape().Clone()
	perSample := shp.TotalSize()
	days := make([]float64, 0, perSample*len(samples))
	nights := make([]float64, 0, perSample*len(samples))
	for i, s := range samples {
		if !s.Day.Shape().Eq(shp) || !s.Night.Shape().Eq(shp) {
			return Batch{}, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("sample #%d: day %v, night %v, expected %v", i, s.Day.Shape(), s.Night.Shape(), shp))
		}
		dayData, err := denseData(s.Day)
		if err != nil {
			return Batch{}, errors.Wrap(err, "Can't read day image")
		}
		nightData, err := denseData(s.Night)
		if err != nil {
			return Batch{}, errors.Wrap(err, "Can't read night image")
		}
		days = append(days, dayData...)
		nights = append(nights, nightData...)
	}
	batchShape := append(tensor.Shape{len(samples)}, shp...)
	idx := make([]int, len(indices))
	copy(idx, indices)
	return Batch{
		Conditions: tensor.New(tensor.WithShape(batchShape...), tensor.WithBacking(days)),
		Targets:    tensor.New(tensor.WithShape(batchShape.Clone()...), tensor.WithBacking(nights)),
		Indices:    idx,
	}, nil
}

// LoadBatch Selects samples by indices and stacks them
func LoadBatch(data Dataset, indices []int) (Batch, error) {
	samples := make([]Sample, len(indices))
	for i, idx := range indices {
		s, err := data.At(idx)
		if err != nil {
			return Batch{}, errors.Wrap(err, fmt.Sprintf("Can't load sample %d", idx))
		}
		samples[i] = s
	}
	return StackSamples(samples, indices)
}

// GenerateSyntheticTrainSet Generates pairs of synthetic scenes: daytime sky gradient with random blocks ("buildings")
// and its nighttime version (darkened, blue shifted, with lit windows inside the blocks).
func GenerateSyntheticTrainSet(rng *rand.Rand, numSamples, channels, height, width int) (*TrainSet, error) {
	if numSamples <= 0 {
		return nil, ErrEmptyDataset
	}
	perSample := channels * height * width
	days := make([]float64, numSamples*perSample)
	nights := make([]float64, numSamples*perSample)
	nightGain := []float64{0.25, 0.3, 0.5}
	nightShift := []float64{0.0, 0.02, 0.1}
	for n := 0; n < numSamples; n++ {
		horizon := height/2 + rng.Intn(height/4+1)
		type block struct{ x0, x1, y0 int }
		blocks := make([]block, 1+rng.Intn(3))
		for i := range blocks {
			x0 := rng.Intn(width)
			blocks[i] = block{x0: x0, x1: x0 + 1 + rng.Intn(width/3+1), y0: rng.Intn(horizon + 1)}
		}
		base := rng.Float64() * 0.2
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				building, window := false, false
				for _, b := range blocks {
					if x >= b.x0 && x < b.x1 && y >= b.y0 && y < horizon {
						building = true
						window = (x-b.x0)%2 == 1 && (y-b.y0)%3 == 1
					}
				}
				for c := 0; c < channels; c++ {
					var v float64
					switch {
					case building:
						v = 0.45 + base
					case y >= horizon:
						v = 0.3 + 0.1*float64(c%2) + base
					default:
						// sky gets brighter towards horizon
						v = 0.5 + 0.4*float64(y)/float64(height) + 0.05*float64(c)
					}
					v = math.Min(1, math.Max(0, v))
					off := n*perSample + c*height*width + y*width + x
					days[off] = v
					k := c % len(nightGain)
					night := v*nightGain[k] + nightShift[k]
					if window {
						night = 0.9
					}
					nights[off] = math.Min(1, math.Max(0, night))
				}
			}
		}
	}
	return NewTrainSet(
		tensor.New(tensor.WithShape(numSamples, channels, height, width), tensor.WithBacking(days)),
		tensor.New(tensor.WithShape(numSamples, channels, height, width), tensor.WithBacking(nights)),
	)
}
