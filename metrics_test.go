package cwgan_go

import (
	"encoding/csv"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestMetricsRecorder(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	rec := NewMetricsRecorder(logger)
	rec.Scalar(MetricCriticLoss, 1, 3)
	rec.Scalar(MetricGeneratorLoss, 2, -1)
	rec.Scalar(MetricCriticLoss, 2, 5)
	rec.Scalar(MetricCriticLoss, 3, 10)

	names := rec.Names()
	if len(names) != 2 || names[0] != MetricCriticLoss || names[1] != MetricGeneratorLoss {
		t.Fatalf("wrong names %v", names)
	}
	if v, ok := rec.Last(MetricCriticLoss); !ok || v != 10 {
		t.Fatalf("wrong last value %v", v)
	}
	if v, ok := rec.Mean(MetricCriticLoss, 1, 3); !ok || math.Abs(v-7.5) > 1e-12 {
		t.Fatalf("wrong mean %v", v)
	}
	if _, ok := rec.Last(MetricL1); ok {
		t.Fatalf("missing series must be reported")
	}

	dir := t.TempDir()
	fname := filepath.Join(dir, MetricsCSVName)
	if err := rec.WriteCSV(fname); err != nil {
		t.Fatalf("Can't write metrics: %v", err)
	}
	f, err := os.Open(fname)
	if err != nil {
		t.Fatalf("Can't open metrics: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("Can't read metrics: %v", err)
	}
	if len(rows) != 5 || rows[0][0] != "metric" || rows[3][0] != MetricCriticLoss || rows[3][2] != "10" || rows[4][0] != MetricGeneratorLoss {
		t.Fatalf("unexpected rows %v", rows)
	}
	if err := rec.Plot(filepath.Join(dir, MetricsPlotName)); err != nil {
		t.Fatalf("Can't plot metrics: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, MetricsPlotName)); err != nil {
		t.Fatalf("plot is missing: %v", err)
	}
}
