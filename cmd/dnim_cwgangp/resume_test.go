package main

import (
	"io"
	"math/rand"
	"path/filepath"
	"testing"

	cwgan "github.com/LdDl/cwgan-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

func smallConfig() cwgan.Config {
	cfg := cwgan.DefaultConfig()
	cfg.Architecture.Height = 8
	cfg.Architecture.Width = 8
	cfg.Architecture.GeneratorBase = 2
	cfg.Architecture.CriticBase = 2
	cfg.Architecture.CriticHidden = 4
	return cfg
}

func TestResumeModel(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	cfg := smallConfig()

	source, err := cwgan.NewCGAN(cfg, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("Can't build model: %v", err)
	}
	defer source.Close()
	ckpt, err := cwgan.NewCheckpoint(source, 3, 30)
	if err != nil {
		t.Fatalf("Can't capture checkpoint: %v", err)
	}
	fname := filepath.Join(t.TempDir(), cwgan.CheckpointName)
	if err := ckpt.Save(fname); err != nil {
		t.Fatalf("Can't save checkpoint: %v", err)
	}

	target, err := cwgan.NewCGAN(cfg, rand.New(rand.NewSource(2)))
	if err != nil {
		t.Fatalf("Can't build model: %v", err)
	}
	defer target.Close()
	if err := resumeModel(target, fname, logger); err != nil {
		t.Fatalf("Can't resume: %v", err)
	}
	want := append(source.Generator().Network().Parameters(), source.Discriminator().Network().Parameters()...)
	got := append(target.Generator().Network().Parameters(), target.Discriminator().Network().Parameters()...)
	for i := range want {
		a, b := want[i].Data().([]float64), got[i].Data().([]float64)
		for j := range a {
			if a[j] != b[j] {
				t.Fatalf("parameter #%d[%d]: expected %v, got %v", i, j, a[j], b[j])
			}
		}
	}

	if err := resumeModel(target, filepath.Join(t.TempDir(), "missing.gob"), logger); err == nil {
		t.Fatalf("missing checkpoint must be reported")
	}

	other := smallConfig()
	other.Architecture.CriticHidden = 8
	mismatched, err := cwgan.NewCGAN(other, rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatalf("Can't build model: %v", err)
	}
	defer mismatched.Close()
	if err := resumeModel(mismatched, fname, logger); errors.Cause(err) != cwgan.ErrShapeMismatch {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}
