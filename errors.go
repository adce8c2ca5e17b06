package cwgan_go

import (
	"github.com/pkg/errors"
)

var (
	// ErrEmptyDataset is returned when a dataset has no samples
	ErrEmptyDataset = errors.New("dataset is empty")
	// ErrShapeMismatch is returned when tensors which are meant to be paired have different shapes
	ErrShapeMismatch = errors.New("shape mismatch")
	// ErrNonFinite is returned when a loss becomes NaN or Inf
	ErrNonFinite = errors.New("non-finite loss")
	// ErrInvalidConfig is returned by Config.Validate
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrCUDAUnavailable is returned when CUDA is required but can't be used
	ErrCUDAUnavailable = errors.New("CUDA is not available")
)
