package cwgan_go

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Architecture Shapes and widths of both networks
type Architecture struct {
	Channels int `json:"channels"`
	Height   int `json:"height"`
	Width    int `json:"width"`

	GeneratorBase         int     `json:"generator_base"`
	GeneratorDropout      float64 `json:"generator_dropout"`
	GeneratorInstanceNorm bool    `json:"generator_instancenorm"`

	CriticBase                int  `json:"critic_base"`
	CriticHidden              int  `json:"critic_hidden"`
	DiscriminatorInstanceNorm bool `json:"discriminator_instancenorm"`

	LeakySlope float64 `json:"leaky_slope"`
	InitStd    float64 `json:"init_std"`
}

// DefaultArchitecture Networks for 3x32x32 DNIM images
func DefaultArchitecture() Architecture {
	return Architecture{
		Channels:                  3,
		Height:                    32,
		Width:                     32,
		GeneratorBase:             32,
		GeneratorDropout:          0.5,
		GeneratorInstanceNorm:     true,
		CriticBase:                64,
		CriticHidden:              1024,
		DiscriminatorInstanceNorm: false,
		LeakySlope:                DefaultLeakySlope,
		InitStd:                   0.02,
	}
}

func (a Architecture) validate() error {
	if a.Channels <= 0 || a.Height <= 0 || a.Width <= 0 {
		return errors.Wrap(ErrInvalidConfig, fmt.Sprintf("image shape must be positive, but got (%d, %d, %d)", a.Channels, a.Height, a.Width))
	}
	if a.Height%8 != 0 || a.Width%8 != 0 {
		return errors.Wrap(ErrInvalidConfig, fmt.Sprintf("image height and width must be divisible by 8, but got %dx%d", a.Height, a.Width))
	}
	if a.GeneratorBase <= 0 || a.CriticBase <= 0 || a.CriticHidden <= 0 {
		return errors.Wrap(ErrInvalidConfig, "network widths must be positive")
	}
	if a.GeneratorDropout < 0 || a.GeneratorDropout >= 1 {
		return errors.Wrap(ErrInvalidConfig, fmt.Sprintf("dropout probability must be in [0;1), but got %g", a.GeneratorDropout))
	}
	if a.InitStd <= 0 {
		return errors.Wrap(ErrInvalidConfig, "init std must be positive")
	}
	return nil
}

// Config Training settings
type Config struct {
	SaveDirectory string `json:"save_directory"`
	DataPath      string `json:"data_path"`

	BatchSize          int `json:"batch_size"`
	Epochs             int `json:"epochs"`
	ImageFrequency     int `json:"image_frequency"`
	LogImageFrequency  int `json:"log_image_frequency"`
	LogFrequency       int `json:"log_frequency"`
	GeneratorFrequency int `json:"generator_frequency"`

	DiscriminatorLR float64 `json:"discriminator_lr"`
	GeneratorLR     float64 `json:"generator_lr"`
	PenaltyWeight   float64 `json:"penalty_weight"`

	NoCUDA      bool `json:"no_cuda"`
	RequireCUDA bool `json:"require_cuda"`

	Seed       int64 `json:"seed"`
	ImageScale int   `json:"image_scale"`

	Architecture Architecture `json:"architecture"`
}

// DefaultConfig Returns defaults of every option
func DefaultConfig() Config {
	return Config{
		SaveDirectory:      "output/dnim_cwgangp/v1",
		DataPath:           "data/dnim/dnim.npy",
		BatchSize:          3,
		Epochs:             100,
		ImageFrequency:     10,
		LogImageFrequency:  100,
		LogFrequency:       1,
		GeneratorFrequency: 10,
		DiscriminatorLR:    3e-4,
		GeneratorLR:        3e-4,
		PenaltyWeight:      20,
		Seed:               1337,
		ImageScale:         1,
		Architecture:       DefaultArchitecture(),
	}
}

// Validate Checks every option
func (cfg Config) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"batch size", cfg.BatchSize},
		{"epochs", cfg.Epochs},
		{"image frequency", cfg.ImageFrequency},
		{"log image frequency", cfg.LogImageFrequency},
		{"log frequency", cfg.LogFrequency},
		{"generator frequency", cfg.GeneratorFrequency},
		{"image scale", cfg.ImageScale},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return errors.Wrap(ErrInvalidConfig, fmt.Sprintf("%s must be positive, but got %d", p.name, p.value))
		}
	}
	if cfg.DiscriminatorLR <= 0 || cfg.GeneratorLR <= 0 {
		return errors.Wrap(ErrInvalidConfig, "learning rates must be positive")
	}
	if cfg.PenaltyWeight < 0 {
		return errors.Wrap(ErrInvalidConfig, fmt.Sprintf("penalty weight must be non-negative, but got %g", cfg.PenaltyWeight))
	}
	if cfg.NoCUDA && cfg.RequireCUDA {
		return errors.Wrap(ErrInvalidConfig, "CUDA can't be both disabled and required")
	}
	return cfg.Architecture.validate()
}

// Save Writes configuration to 'args.json' of save directory for reference
func (cfg Config) Save() (string, error) {
	if err := os.MkdirAll(cfg.SaveDirectory, 0755); err != nil {
		return "", errors.Wrap(err, "Can't create save directory")
	}
	fname := filepath.Join(cfg.SaveDirectory, "args.json")
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", errors.Wrap(err, "Can't marshal configuration")
	}
	if err := os.WriteFile(fname, data, 0644); err != nil {
		return "", errors.Wrap(err, "Can't write configuration")
	}
	return fname, nil
}

// LoadConfig Reads configuration previously written by Config.Save
func LoadConfig(fname string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(fname)
	if err != nil {
		return cfg, errors.Wrap(err, "Can't read configuration")
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "Can't unmarshal configuration")
	}
	return cfg, nil
}
