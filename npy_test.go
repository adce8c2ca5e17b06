package cwgan_go

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

// writeNPY Writes version 1.0 NumPy file with C-ordered payload
func writeNPY(t *testing.T, descr string, shape []int, payload []byte) string {
	t.Helper()
	dims := make([]string, len(shape))
	for i, d := range shape {
		dims[i] = fmt.Sprint(d)
	}
	shapeStr := strings.Join(dims, ", ")
	if len(shape) == 1 {
		shapeStr += ","
	}
	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", descr, shapeStr)
	// magic(6) + version(2) + header length(2) + header + '\n' must be multiple of 64
	total := 10 + len(header) + 1
	if rem := total % 64; rem != 0 {
		header += strings.Repeat(" ", 64-rem)
	}
	header += "\n"
	buf := &bytes.Buffer{}
	buf.WriteString("\x93NUMPY")
	buf.Write([]byte{1, 0})
	binary.Write(buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	buf.Write(payload)
	fname := filepath.Join(t.TempDir(), "dnim.npy")
	if err := os.WriteFile(fname, buf.Bytes(), 0644); err != nil {
		t.Fatalf("Can't write NumPy file: %v", err)
	}
	return fname
}

func TestLoadDNIMFloat64(t *testing.T) {
	n, c, h, w := 2, 1, 2, 2
	values := make([]float64, n*2*c*h*w)
	for i := range values {
		values[i] = float64(i) / 100
	}
	payload := &bytes.Buffer{}
	binary.Write(payload, binary.LittleEndian, values)
	data, err := LoadDNIM(writeNPY(t, "<f8", []int{n, 2, c, h, w}, payload.Bytes()))
	if err != nil {
		t.Fatalf("Can't load archive: %v", err)
	}
	if data.Len() != n {
		t.Fatalf("expected %d samples, got %d", n, data.Len())
	}
	s, err := data.At(1)
	if err != nil {
		t.Fatalf("Can't get sample: %v", err)
	}
	// sample #1: day occupies values [8;12), night occupies [12;16)
	if !almostEqual(s.Day.Data().([]float64), []float64{0.08, 0.09, 0.10, 0.11}, 1e-12) {
		t.Fatalf("wrong day image: %v", s.Day.Data())
	}
	if !almostEqual(s.Night.Data().([]float64), []float64{0.12, 0.13, 0.14, 0.15}, 1e-12) {
		t.Fatalf("wrong night image: %v", s.Night.Data())
	}
	if !s.Day.Shape().Eq([]int{c, h, w}) {
		t.Fatalf("wrong image shape: %v", s.Day.Shape())
	}
}

func TestLoadDNIMUint8(t *testing.T) {
	payload := []byte{0, 255, 51, 102}
	data, err := LoadDNIM(writeNPY(t, "|u1", []int{1, 2, 1, 1, 2}, payload))
	if err != nil {
		t.Fatalf("Can't load archive: %v", err)
	}
	s, err := data.At(0)
	if err != nil {
		t.Fatalf("Can't get sample: %v", err)
	}
	if !almostEqual(s.Day.Data().([]float64), []float64{0, 1}, 1e-12) {
		t.Fatalf("wrong day image: %v", s.Day.Data())
	}
	if !almostEqual(s.Night.Data().([]float64), []float64{0.2, 0.4}, 1e-12) {
		t.Fatalf("wrong night image: %v", s.Night.Data())
	}
}

func TestLoadDNIMRejects(t *testing.T) {
	payload := &bytes.Buffer{}
	binary.Write(payload, binary.LittleEndian, make([]float64, 12))
	if _, err := LoadDNIM(writeNPY(t, "<f8", []int{2, 3, 1, 1, 2}, payload.Bytes())); err == nil {
		t.Fatalf("array without day/night axis must be rejected")
	}
	if _, err := LoadDNIM(writeNPY(t, "<f8", []int{0, 2, 1, 1, 2}, nil)); errors.Cause(err) != ErrEmptyDataset {
		t.Fatalf("expected ErrEmptyDataset, got %v", err)
	}
	if _, err := LoadDNIM(filepath.Join(t.TempDir(), "missing.npy")); err == nil {
		t.Fatalf("missing file must be reported")
	}
}
