//go:build cuda
// +build cuda

package cwgan_go

import (
	"github.com/pkg/errors"
	"gorgonia.org/cu"
)

func cudaDevices() (int, error) {
	count, err := cu.NumDevices()
	if err != nil {
		return 0, errors.Wrap(err, "Can't enumerate CUDA devices")
	}
	return count, nil
}
