package cwgan_go

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Device Where numeric work is expected to run
type Device uint8

const (
	DeviceCPU = Device(iota)
	DeviceCUDA
)

func (d Device) String() string {
	switch d {
	case DeviceCPU:
		return "cpu"
	case DeviceCUDA:
		return "cuda"
	default:
		return fmt.Sprintf("device_%d", uint8(d))
	}
}

// ResolveDevice Picks device according to configuration. Compiled programs run on the CPU engine, so CUDA is never
// picked: when it is wanted the CPU is picked with a warning, unless cfg.RequireCUDA is set
func ResolveDevice(cfg Config, logger *logrus.Logger) (Device, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.NoCUDA {
		logger.Info("CUDA is disabled by configuration")
		return DeviceCPU, nil
	}
	count, err := cudaDevices()
	return resolveDevice(cfg, logger, count, err)
}

func resolveDevice(cfg Config, logger *logrus.Logger, count int, err error) (Device, error) {
	switch {
	case err != nil:
	case count == 0:
		err = fmt.Errorf("no CUDA devices found")
	default:
		err = fmt.Errorf("found %d CUDA device(s), but training graphs are compiled for CPU engine only", count)
	}
	if cfg.RequireCUDA {
		return DeviceCPU, errors.Wrap(ErrCUDAUnavailable, err.Error())
	}
	logger.WithError(err).Warn("CUDA is not used, falling back to CPU")
	return DeviceCPU, nil
}
