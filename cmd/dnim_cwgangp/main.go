package main

import (
	"context"
	"flag"
	"math/rand"
	"os"
	"os/signal"
	"syscall"

	cwgan "github.com/LdDl/cwgan-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg := cwgan.DefaultConfig()
	var (
		configPath = flag.String("config", "", "JSON configuration (flags given explicitly override it)")
		verbose    = flag.Bool("verbose", false, "Debug logging")
		resume     = flag.String("resume", "", "Checkpoint to start training from (architecture must match)")
	)
	flag.StringVar(&cfg.SaveDirectory, "save-directory", cfg.SaveDirectory, "Directory for images, checkpoints and metrics")
	flag.StringVar(&cfg.DataPath, "data", cfg.DataPath, "DNIM archive (.npy of shape (N, 2, C, H, W))")
	flag.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Batch size")
	flag.IntVar(&cfg.Epochs, "epochs", cfg.Epochs, "Number of epochs")
	flag.IntVar(&cfg.ImageFrequency, "image-frequency", cfg.ImageFrequency, "Sample image every N iterations")
	flag.IntVar(&cfg.LogImageFrequency, "log-image-frequency", cfg.LogImageFrequency, "Log image grid every N iterations")
	flag.IntVar(&cfg.LogFrequency, "log-frequency", cfg.LogFrequency, "Log metrics every N iterations")
	flag.IntVar(&cfg.GeneratorFrequency, "generator-frequency", cfg.GeneratorFrequency, "Train generator every N iterations")
	flag.Float64Var(&cfg.DiscriminatorLR, "discriminator-lr", cfg.DiscriminatorLR, "Learning rate of discriminator")
	flag.Float64Var(&cfg.GeneratorLR, "generator-lr", cfg.GeneratorLR, "Learning rate of generator")
	flag.Float64Var(&cfg.PenaltyWeight, "penalty-weight", cfg.PenaltyWeight, "Weight of gradient penalty")
	flag.BoolVar(&cfg.Architecture.DiscriminatorInstanceNorm, "discriminator-instancenorm", cfg.Architecture.DiscriminatorInstanceNorm, "Instance normalization in discriminator")
	flag.BoolVar(&cfg.Architecture.GeneratorInstanceNorm, "generator-instancenorm", cfg.Architecture.GeneratorInstanceNorm, "Instance normalization in generator")
	flag.BoolVar(&cfg.NoCUDA, "no-cuda", cfg.NoCUDA, "Disable CUDA")
	flag.BoolVar(&cfg.RequireCUDA, "require-cuda", cfg.RequireCUDA, "Fail when CUDA is not available")
	flag.Int64Var(&cfg.Seed, "seed", cfg.Seed, "Seed of every random choice")
	flag.IntVar(&cfg.ImageScale, "image-scale", cfg.ImageScale, "Upscale factor of written images")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	if *configPath != "" {
		fileCfg, err := cwgan.LoadConfig(*configPath)
		if err != nil {
			logger.WithError(err).Fatal("Can't load configuration")
		}
		// explicitly given flags win over file
		explicit := make(map[string]bool)
		flag.Visit(func(f *flag.Flag) { explicit[f.Name] = true })
		cfg = mergeConfig(fileCfg, cfg, explicit)
	}

	if err := run(cfg, *resume, logger); err != nil {
		logger.WithError(err).Error("Training failed")
		os.Exit(1)
	}
}

func run(cfg cwgan.Config, resume string, logger *logrus.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	device, err := cwgan.ResolveDevice(cfg, logger)
	if err != nil {
		return err
	}
	logger.WithField("device", device).Info("Device selected")

	data, err := cwgan.LoadDNIM(cfg.DataPath)
	if err != nil {
		return errors.Wrap(err, "Can't load dataset")
	}
	cfg.Architecture.Channels = data.ImageShape()[0]
	cfg.Architecture.Height = data.ImageShape()[1]
	cfg.Architecture.Width = data.ImageShape()[2]

	fname, err := cfg.Save()
	if err != nil {
		return err
	}
	logger.WithField("file", fname).Info("Configuration saved")

	rng := rand.New(rand.NewSource(cfg.Seed))
	model, err := cwgan.NewCGAN(cfg, rng)
	if err != nil {
		return err
	}
	defer model.Close()
	if resume != "" {
		if err := resumeModel(model, resume, logger); err != nil {
			return err
		}
	}

	trainer, err := cwgan.NewTrainer(cfg, model, data, rng, cwgan.WithLogger(logger))
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	stats, err := trainer.Fit(ctx)
	logger.WithFields(logrus.Fields{
		"epochs":            stats.Epochs,
		"iterations":        stats.Iterations,
		"critic_updates":    stats.CriticUpdates,
		"generator_updates": stats.GeneratorUpdates,
		"images":            stats.ImagesSampled,
	}).Info("Done")
	return err
}
