package cwgan_go

import (
	"math"
	"math/rand"
	"testing"

	"gorgonia.org/gorgonia"
)

func almostEqual(a, b []float64, tol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}

func tinyArchitecture() Architecture {
	return Architecture{
		Channels:              3,
		Height:                8,
		Width:                 8,
		GeneratorBase:         2,
		GeneratorDropout:      0.5,
		GeneratorInstanceNorm: true,
		CriticBase:            2,
		CriticHidden:          8,
		LeakySlope:            DefaultLeakySlope,
		InitStd:               0.02,
	}
}

func tinyConfig() Config {
	cfg := DefaultConfig()
	cfg.SaveDirectory = ""
	cfg.BatchSize = 2
	cfg.Epochs = 1
	cfg.ImageFrequency = 1
	cfg.LogImageFrequency = 1
	cfg.GeneratorFrequency = 1
	cfg.Architecture = tinyArchitecture()
	return cfg
}

func tinyModel(t *testing.T, cfg Config, seed int64) (*CGAN, *rand.Rand) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	model, err := NewCGAN(cfg, rng)
	if err != nil {
		t.Fatalf("Can't build model: %v", err)
	}
	t.Cleanup(func() { model.Close() })
	return model, rng
}

func tinyData(t *testing.T, n int, seed int64) *TrainSet {
	t.Helper()
	arch := tinyArchitecture()
	data, err := GenerateSyntheticTrainSet(rand.New(rand.NewSource(seed)), n, arch.Channels, arch.Height, arch.Width)
	if err != nil {
		t.Fatalf("Can't generate data: %v", err)
	}
	return data
}

// evalNodes Runs graph once and returns values of requested nodes
func evalNodes(t *testing.T, g *gorgonia.ExprGraph, nodes ...*gorgonia.Node) []gorgonia.Value {
	t.Helper()
	values := make([]gorgonia.Value, len(nodes))
	for i := range nodes {
		gorgonia.Read(nodes[i], &values[i])
	}
	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatalf("Can't run graph: %v", err)
	}
	return values
}

func paramsSnapshot(t *testing.T, net *Network) [][]float64 {
	t.Helper()
	params := net.Parameters()
	out := make([][]float64, len(params))
	for i, p := range params {
		data, err := denseData(p)
		if err != nil {
			t.Fatalf("Can't read parameters: %v", err)
		}
		out[i] = append([]float64(nil), data...)
	}
	return out
}

func sameParams(a, b [][]float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !almostEqual(a[i], b[i], 0) {
			return false
		}
	}
	return true
}
