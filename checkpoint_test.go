package cwgan_go

import (
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
)

func TestCheckpointRestore(t *testing.T) {
	cfg := tinyConfig()
	source, _ := tinyModel(t, cfg, 51)
	target, _ := tinyModel(t, cfg, 52)
	condition, err := LoadBatch(tinyData(t, 1, 53), []int{0})
	if err != nil {
		t.Fatalf("Can't load batch: %v", err)
	}
	ckpt, err := NewCheckpoint(source, 3, 42)
	if err != nil {
		t.Fatalf("Can't capture checkpoint: %v", err)
	}
	fname := filepath.Join(t.TempDir(), "nested", CheckpointName)
	if err := ckpt.Save(fname); err != nil {
		t.Fatalf("Can't save checkpoint: %v", err)
	}
	loaded, err := LoadCheckpoint(fname)
	if err != nil {
		t.Fatalf("Can't load checkpoint: %v", err)
	}
	if loaded.Epoch != 3 || loaded.Iteration != 42 {
		t.Fatalf("wrong progress: epoch %d, iteration %d", loaded.Epoch, loaded.Iteration)
	}
	// programs of target are compiled before restoring, so they must see restored values
	if _, err := target.Generate(condition.Conditions, ModeEval); err != nil {
		t.Fatalf("Can't generate: %v", err)
	}
	if err := loaded.Restore(target); err != nil {
		t.Fatalf("Can't restore checkpoint: %v", err)
	}
	if !sameParams(paramsSnapshot(t, source.Generator().Network()), paramsSnapshot(t, target.Generator().Network())) {
		t.Fatalf("generator parameters differ after restoring")
	}
	if !sameParams(paramsSnapshot(t, source.Discriminator().Network()), paramsSnapshot(t, target.Discriminator().Network())) {
		t.Fatalf("critic parameters differ after restoring")
	}
	a, _ := source.Generate(condition.Conditions, ModeEval)
	b, _ := target.Generate(condition.Conditions, ModeEval)
	if !almostEqual(a.Data().([]float64), b.Data().([]float64), 1e-12) {
		t.Fatalf("restored model must generate the same image")
	}
}

func TestCheckpointArchitectureMismatch(t *testing.T) {
	cfg := tinyConfig()
	source, _ := tinyModel(t, cfg, 54)
	ckpt, err := NewCheckpoint(source, 1, 1)
	if err != nil {
		t.Fatalf("Can't capture checkpoint: %v", err)
	}
	other := tinyConfig()
	other.Architecture.CriticHidden = 4
	target, _ := tinyModel(t, other, 55)
	if err := ckpt.Restore(target); errors.Cause(err) != ErrShapeMismatch {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}
