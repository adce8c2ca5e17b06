package main

import (
	cwgan "github.com/LdDl/cwgan-go"
)

// mergeConfig Takes configuration from file and overrides options which were given explicitly on command line
func mergeConfig(fromFile, fromFlags cwgan.Config, explicit map[string]bool) cwgan.Config {
	cfg := fromFile
	overrides := map[string]func(){
		"save-directory":             func() { cfg.SaveDirectory = fromFlags.SaveDirectory },
		"data":                       func() { cfg.DataPath = fromFlags.DataPath },
		"batch-size":                 func() { cfg.BatchSize = fromFlags.BatchSize },
		"epochs":                     func() { cfg.Epochs = fromFlags.Epochs },
		"image-frequency":            func() { cfg.ImageFrequency = fromFlags.ImageFrequency },
		"log-image-frequency":        func() { cfg.LogImageFrequency = fromFlags.LogImageFrequency },
		"log-frequency":              func() { cfg.LogFrequency = fromFlags.LogFrequency },
		"generator-frequency":        func() { cfg.GeneratorFrequency = fromFlags.GeneratorFrequency },
		"discriminator-lr":           func() { cfg.DiscriminatorLR = fromFlags.DiscriminatorLR },
		"generator-lr":               func() { cfg.GeneratorLR = fromFlags.GeneratorLR },
		"penalty-weight":             func() { cfg.PenaltyWeight = fromFlags.PenaltyWeight },
		"discriminator-instancenorm": func() { cfg.Architecture.DiscriminatorInstanceNorm = fromFlags.Architecture.DiscriminatorInstanceNorm },
		"generator-instancenorm":     func() { cfg.Architecture.GeneratorInstanceNorm = fromFlags.Architecture.GeneratorInstanceNorm },
		"no-cuda":                    func() { cfg.NoCUDA = fromFlags.NoCUDA },
		"require-cuda":               func() { cfg.RequireCUDA = fromFlags.RequireCUDA },
		"seed":                       func() { cfg.Seed = fromFlags.Seed },
		"image-scale":                func() { cfg.ImageScale = fromFlags.ImageScale },
	}
	for name, apply := range overrides {
		if explicit[name] {
			apply()
		}
	}
	return cfg
}
