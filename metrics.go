package cwgan_go

import (
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

const (
	MetricCriticLoss      = "critic_loss"
	MetricGeneratorLoss   = "generator_loss"
	MetricWasserstein     = "wasserstein"
	MetricGradientPenalty = "gradient_penalty"
	MetricL1              = "l1"
)

// MetricSink Destination of scalar time series
type MetricSink interface {
	Scalar(name string, step int, value float64)
}

// MetricPoint Single value of time series
type MetricPoint struct {
	Step  int
	Value float64
}

// MetricsRecorder Keeps every recorded series in memory. Series can be dumped to CSV and plotted
type MetricsRecorder struct {
	logger *logrus.Logger
	names  []string
	series map[string][]MetricPoint
}

// NewMetricsRecorder Creates empty recorder. Nil logger means logrus' standard logger
func NewMetricsRecorder(logger *logrus.Logger) *MetricsRecorder {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &MetricsRecorder{
		logger: logger,
		series: make(map[string][]MetricPoint),
	}
}

// Scalar Appends value to series
func (r *MetricsRecorder) Scalar(name string, step int, value float64) {
	if _, ok := r.series[name]; !ok {
		r.names = append(r.names, name)
	}
	r.series[name] = append(r.series[name], MetricPoint{Step: step, Value: value})
	r.logger.WithFields(logrus.Fields{
		"metric": name,
		"step":   step,
		"value":  value,
	}).Debug("Scalar recorded")
}

// Names Returns names of series in order of first appearance
func (r *MetricsRecorder) Names() []string {
	names := make([]string, len(r.names))
	copy(names, r.names)
	return names
}

// Series Returns recorded points of series
func (r *MetricsRecorder) Series(name string) []MetricPoint {
	return r.series[name]
}

// Last Returns last value of series
func (r *MetricsRecorder) Last(name string) (float64, bool) {
	points := r.series[name]
	if len(points) == 0 {
		return math.NaN(), false
	}
	return points[len(points)-1].Value, true
}

// Mean Returns mean of values of series recorded at steps (from;to]
func (r *MetricsRecorder) Mean(name string, from, to int) (float64, bool) {
	values := make([]float64, 0)
	for _, p := range r.series[name] {
		if p.Step > from && p.Step <= to {
			values = append(values, p.Value)
		}
	}
	if len(values) == 0 {
		return math.NaN(), false
	}
	return stat.Mean(values, nil), true
}

// WriteCSV Dumps every series as 'metric,step,value' rows
func (r *MetricsRecorder) WriteCSV(fname string) error {
	if err := os.MkdirAll(filepath.Dir(fname), 0755); err != nil {
		return errors.Wrap(err, "Can't create metrics directory")
	}
	f, err := os.Create(fname)
	if err != nil {
		return errors.Wrap(err, "Can't create metrics file")
	}
	w := csv.NewWriter(f)
	if err := w.Write([]string{"metric", "step", "value"}); err != nil {
		f.Close()
		return errors.Wrap(err, "Can't write metrics header")
	}
	for _, name := range r.names {
		for _, p := range r.series[name] {
			row := []string{name, strconv.Itoa(p.Step), strconv.FormatFloat(p.Value, 'g', -1, 64)}
			if err := w.Write(row); err != nil {
				f.Close()
				return errors.Wrap(err, "Can't write metrics row")
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return errors.Wrap(err, "Can't flush metrics")
	}
	return f.Close()
}

// Plot Draws chosen series (every series when names are not provided) on single chart
func (r *MetricsRecorder) Plot(fname string, names ...string) error {
	if len(names) == 0 {
		names = r.names
	}
	xs := make(map[string][]float64, len(names))
	ys := make(map[string][]float64, len(names))
	for _, name := range names {
		for _, p := range r.series[name] {
			xs[name] = append(xs[name], float64(p.Step))
			ys[name] = append(ys[name], p.Value)
		}
	}
	return PlotSeries("Training", names, xs, ys, fname)
}
