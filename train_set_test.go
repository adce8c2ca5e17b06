package cwgan_go

import (
	"context"
	"math/rand"
	"sort"
	"testing"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

func TestNewTrainSetValidates(t *testing.T) {
	days := ZerosDense(2, 1, 8, 8)
	if _, err := NewTrainSet(days, ZerosDense(2, 1, 8, 4)); errors.Cause(err) != ErrShapeMismatch {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
	if _, err := NewTrainSet(ZerosDense(0, 1, 8, 8), ZerosDense(0, 1, 8, 8)); errors.Cause(err) != ErrEmptyDataset {
		t.Fatalf("expected ErrEmptyDataset, got %v", err)
	}
	if _, err := NewTrainSet(ZerosDense(2, 64), ZerosDense(2, 64)); err == nil {
		t.Fatalf("2D tensors must be rejected")
	}
}

func TestTrainSetAtCopies(t *testing.T) {
	data := tinyData(t, 3, 41)
	s, err := data.At(2)
	if err != nil {
		t.Fatalf("Can't get sample: %v", err)
	}
	day := s.Day.Data().([]float64)
	want := append([]float64(nil), day...)
	day[0] = -1
	again, _ := data.At(2)
	if !almostEqual(again.Day.Data().([]float64), want, 0) {
		t.Fatalf("sample must not share memory with dataset")
	}
	if _, err := data.At(3); err == nil {
		t.Fatalf("out of range index must be rejected")
	}
}

func TestSyntheticPairs(t *testing.T) {
	data := tinyData(t, 4, 42)
	for _, v := range data.Days.Data().([]float64) {
		if v < 0 || v > 1 {
			t.Fatalf("day value %v is out of [0;1]", v)
		}
	}
	var daySum, nightSum float64
	for i, v := range data.Nights.Data().([]float64) {
		if v < 0 || v > 1 {
			t.Fatalf("night value %v is out of [0;1]", v)
		}
		nightSum += v
		daySum += data.Days.Data().([]float64)[i]
	}
	if nightSum >= daySum {
		t.Fatalf("nights must be darker than days: %v vs %v", nightSum, daySum)
	}
}

func TestLoadBatchStacks(t *testing.T) {
	data := tinyData(t, 3, 43)
	batch, err := LoadBatch(data, []int{2, 0})
	if err != nil {
		t.Fatalf("Can't load batch: %v", err)
	}
	if !batch.Conditions.Shape().Eq(tensor.Shape{2, 3, 8, 8}) || batch.Size() != 2 {
		t.Fatalf("wrong batch shape %v", batch.Conditions.Shape())
	}
	s, _ := data.At(2)
	if !almostEqual(batch.Targets.Data().([]float64)[:3*8*8], s.Night.Data().([]float64), 0) {
		t.Fatalf("first target of batch must be night image of sample 2")
	}
	if _, err := LoadBatch(data, nil); errors.Cause(err) != ErrEmptyDataset {
		t.Fatalf("expected ErrEmptyDataset, got %v", err)
	}
}

func TestLoaderEpochIndices(t *testing.T) {
	data := tinyData(t, 5, 44)
	loader, err := NewLoader(data, 2, true, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("Can't create loader: %v", err)
	}
	if loader.NumBatches() != 3 {
		t.Fatalf("expected 3 batches, got %d", loader.NumBatches())
	}
	batches := loader.EpochIndices()
	sizes := []int{len(batches[0]), len(batches[1]), len(batches[2])}
	if sizes[0] != 2 || sizes[1] != 2 || sizes[2] != 1 {
		t.Fatalf("wrong batch sizes %v", sizes)
	}
	all := make([]int, 0, 5)
	for _, b := range batches {
		all = append(all, b...)
	}
	sort.Ints(all)
	for i, v := range all {
		if v != i {
			t.Fatalf("every sample must be visited once per epoch, got %v", all)
		}
	}
	ordered, _ := NewLoader(data, 5, false, nil)
	if got := ordered.EpochIndices()[0]; got[0] != 0 || got[4] != 4 {
		t.Fatalf("loader without shuffling must keep order, got %v", got)
	}
}

func TestNewLoaderValidates(t *testing.T) {
	data := tinyData(t, 3, 44)
	for _, size := range []int{0, -1} {
		if _, err := NewLoader(data, size, false, nil); errors.Cause(err) != ErrInvalidConfig {
			t.Fatalf("[batch=%d] expected ErrInvalidConfig, got %v", size, err)
		}
	}
	if _, err := NewLoader(&TrainSet{}, 2, false, nil); errors.Cause(err) != ErrEmptyDataset {
		t.Fatalf("expected ErrEmptyDataset, got %v", err)
	}
}

func TestLoaderPrefetch(t *testing.T) {
	data := tinyData(t, 5, 45)
	loader, _ := NewLoader(data, 2, false, nil)
	count := 0
	for res := range loader.Prefetch(context.Background(), loader.EpochIndices(), 1) {
		if res.Err != nil {
			t.Fatalf("Can't load batch: %v", res.Err)
		}
		count += res.Batch.Size()
	}
	if count != 5 {
		t.Fatalf("expected 5 samples, got %d", count)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for range loader.Prefetch(ctx, loader.EpochIndices(), 0) {
	}

	broken := [][]int{{0}, {7}, {1}}
	var errs int
	for res := range loader.Prefetch(context.Background(), broken, 1) {
		if res.Err != nil {
			errs++
		}
	}
	if errs != 1 {
		t.Fatalf("prefetch must stop after first error, got %d errors", errs)
	}
}
