package cwgan_go

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
)

// Loader Splits dataset into batches. Order of samples is reshuffled every epoch when shuffling is enabled.
type Loader struct {
	data      Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
}

// NewLoader Creates loader. Randomness comes from provided rng only
func NewLoader(data Dataset, batchSize int, shuffle bool, rng *rand.Rand) (*Loader, error) {
	if data == nil || data.Len() == 0 {
		return nil, ErrEmptyDataset
	}
	if batchSize <= 0 {
		return nil, errors.Wrap(ErrInvalidConfig, fmt.Sprintf("batch size must be positive, but got %d", batchSize))
	}
	return &Loader{data: data, batchSize: batchSize, shuffle: shuffle, rng: rng}, nil
}

// NumBatches Returns ceil(len/batchSize)
func (l *Loader) NumBatches() int {
	return (l.data.Len() + l.batchSize - 1) / l.batchSize
}

// EpochIndices Returns dataset indices of every batch of next epoch. Last batch may be smaller
func (l *Loader) EpochIndices() [][]int {
	n := l.data.Len()
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if l.shuffle {
		l.rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	}
	batches := make([][]int, 0, l.NumBatches())
	for start := 0; start < n; start += l.batchSize {
		end := start + l.batchSize
		if end > n {
			end = n
		}
		batches = append(batches, order[start:end])
	}
	return batches
}

// BatchResult Batch or error of its loading
type BatchResult struct {
	Batch Batch
	Err   error
}

// Prefetch Loads batches in background goroutine keeping up to 'ahead' batches ready.
// Channel is closed after last batch, after first error or when context is done.
func (l *Loader) Prefetch(ctx context.Context, batches [][]int, ahead int) <-chan BatchResult {
	if ahead < 0 {
		ahead = 0
	}
	out := make(chan BatchResult, ahead)
	go func() {
		defer close(out)
		for _, indices := range batches {
			batch, err := LoadBatch(l.data, indices)
			select {
			case out <- BatchResult{Batch: batch, Err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return out
}
