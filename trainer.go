package cwgan_go

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"
)

const (
	GeneratedImagesDir   = "generated_images"
	LoggedImagesDir      = "logged_images"
	CheckpointName       = "checkpoint.gob"
	DivergedCheckpoint   = "checkpoint_diverged.gob"
	MetricsCSVName       = "metrics.csv"
	MetricsPlotName      = "losses.png"
	prefetchBatchesAhead = 1
)

// Stats Counters of training run
type Stats struct {
	Epochs           int
	Iterations       int
	CriticUpdates    int
	GeneratorUpdates int
	ImagesSampled    int
	ImagesLogged     int
}

// Trainer Adversarial training loop.
//
// Every batch makes one critic update. Every GeneratorFrequency-th iteration makes one generator update
// on single random sample. Every ImageFrequency-th iteration samples image from fixed condition (day image of first sample).
//
type Trainer struct {
	cfg    Config
	model  *CGAN
	data   Dataset
	loader *Loader
	rng    *rand.Rand

	logger  *logrus.Logger
	images  ImageSink
	metrics MetricSink

	fixedCondition *tensor.Dense
	stats          Stats
}

// TrainerOption Optional dependency of Trainer
type TrainerOption func(*Trainer)

// WithLogger Sets logger. Default is logrus' standard logger
func WithLogger(logger *logrus.Logger) TrainerOption {
	return func(t *Trainer) {
		t.logger = logger
	}
}

// WithImageSink Sets destination of sampled and logged images. Default writes PNG files into save directory (if any)
func WithImageSink(sink ImageSink) TrainerOption {
	return func(t *Trainer) {
		t.images = sink
	}
}

// WithMetricSink Sets destination of metrics. Default is MetricsRecorder
func WithMetricSink(sink MetricSink) TrainerOption {
	return func(t *Trainer) {
		t.metrics = sink
	}
}

// NewTrainer Prepares training of model on data. rng drives shuffling and choice of generator samples;
// pass the same rng the model was built with to make whole run depend on single seed.
func NewTrainer(cfg Config, model *CGAN, data Dataset, rng *rand.Rand, opts ...TrainerOption) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if model == nil {
		return nil, errors.New("model must be provided")
	}
	loader, err := NewLoader(data, cfg.BatchSize, true, rng)
	if err != nil {
		return nil, err
	}
	first, err := LoadBatch(data, []int{0})
	if err != nil {
		return nil, errors.Wrap(err, "Can't load fixed condition")
	}
	t := &Trainer{
		cfg:            cfg,
		model:          model,
		data:           data,
		loader:         loader,
		rng:            rng,
		fixedCondition: first.Conditions,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = logrus.StandardLogger()
	}
	if t.images == nil && cfg.SaveDirectory != "" {
		t.images = DirImageSink{Dir: cfg.SaveDirectory, Scale: cfg.ImageScale}
	}
	if t.metrics == nil {
		t.metrics = NewMetricsRecorder(t.logger)
	}
	return t, nil
}

// Stats Returns counters collected so far
func (t *Trainer) Stats() Stats {
	return t.stats
}

// Metrics Returns metric sink in use
func (t *Trainer) Metrics() MetricSink {
	return t.metrics
}

// Fit Runs cfg.Epochs passes over dataset. Stops early on context cancellation (after checkpoint)
// and on non-finite loss (ErrNonFinite, after writing diverged checkpoint)
func (t *Trainer) Fit(ctx context.Context) (Stats, error) {
	t.logger.WithFields(logrus.Fields{
		"samples":              t.data.Len(),
		"batch_size":           t.cfg.BatchSize,
		"batches_per_epoch":    t.loader.NumBatches(),
		"epochs":               t.cfg.Epochs,
		"generator_parameters": t.model.Generator().Network().NumParameters(),
		"critic_parameters":    t.model.Discriminator().Network().NumParameters(),
	}).Info("Starting training")
	st := time.Now()
	for epoch := 1; epoch <= t.cfg.Epochs; epoch++ {
		if err := t.runEpoch(ctx, epoch); err != nil {
			if ctx.Err() != nil {
				if ckptErr := t.saveCheckpoint(CheckpointName, epoch); ckptErr != nil {
					t.logger.WithError(ckptErr).Error("Can't save checkpoint of interrupted run")
				}
			}
			t.finish()
			return t.stats, err
		}
		t.stats.Epochs = epoch
		if err := t.saveCheckpoint(CheckpointName, epoch); err != nil {
			return t.stats, err
		}
		t.logger.WithFields(logrus.Fields{
			"epoch":     epoch,
			"iteration": t.stats.Iterations,
			"elapsed":   time.Since(st),
		}).Info("Epoch done")
	}
	t.finish()
	t.logger.WithFields(logrus.Fields{
		"critic_updates":    t.stats.CriticUpdates,
		"generator_updates": t.stats.GeneratorUpdates,
		"images":            t.stats.ImagesSampled,
		"elapsed":           time.Since(st),
	}).Info("Training completed")
	return t.stats, nil
}

func (t *Trainer) runEpoch(ctx context.Context, epoch int) error {
	epochCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	batches := t.loader.Prefetch(epochCtx, t.loader.EpochIndices(), prefetchBatchesAhead)
	for res := range batches {
		if res.Err != nil {
			return errors.Wrap(res.Err, "Can't load batch")
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.step(epoch, res.Batch); err != nil {
			return err
		}
	}
	// Prefetching stops silently on cancellation
	return ctx.Err()
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// step Single training iteration
func (t *Trainer) step(epoch int, batch Batch) error {
	t.stats.Iterations++
	it := t.stats.Iterations
	critic, err := t.model.CriticStep(batch)
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("Can't make critic step at iteration %d", it))
	}
	if !critic.Stepped || !isFinite(critic.Loss) {
		return t.diverged(epoch, fmt.Sprintf("critic loss is %v at iteration %d", critic.Loss, it))
	}
	t.stats.CriticUpdates++
	t.metrics.Scalar(MetricCriticLoss, it, critic.Loss)
	t.metrics.Scalar(MetricWasserstein, it, critic.Wasserstein)
	t.metrics.Scalar(MetricGradientPenalty, it, critic.Penalty)
	t.metrics.Scalar(MetricL1, it, critic.L1)
	fields := logrus.Fields{
		"epoch":               epoch,
		"iteration":           it,
		MetricCriticLoss:      critic.Loss,
		MetricWasserstein:     critic.Wasserstein,
		MetricGradientPenalty: critic.Penalty,
		MetricL1:              critic.L1,
	}

	if it%t.cfg.GeneratorFrequency == 0 {
		gen, err := t.generatorStep()
		if err != nil {
			return errors.Wrap(err, fmt.Sprintf("Can't make generator step at iteration %d", it))
		}
		if !gen.Stepped || !isFinite(gen.Loss) {
			return t.diverged(epoch, fmt.Sprintf("generator loss is %v at iteration %d", gen.Loss, it))
		}
		t.stats.GeneratorUpdates++
		t.metrics.Scalar(MetricGeneratorLoss, it, gen.Loss)
		fields[MetricGeneratorLoss] = gen.Loss
	}

	if it%t.cfg.ImageFrequency == 0 {
		if err := t.sampleImage(); err != nil {
			return errors.Wrap(err, fmt.Sprintf("Can't sample image at iteration %d", it))
		}
	}

	if it%t.cfg.LogImageFrequency == 0 {
		if err := t.logImages(it, critic.Snapshot); err != nil {
			return errors.Wrap(err, fmt.Sprintf("Can't log images at iteration %d", it))
		}
	}

	if it%t.cfg.LogFrequency == 0 {
		t.logger.WithFields(fields).Info("Iteration")
	}
	return nil
}

// generatorStep Updates generator on single sample chosen at random independently of current batch
func (t *Trainer) generatorStep() (*GeneratorStepResult, error) {
	idx := t.rng.Intn(t.data.Len())
	batch, err := LoadBatch(t.data, []int{idx})
	if err != nil {
		return nil, err
	}
	res, err := t.model.GeneratorStep(batch.Conditions)
	if err != nil {
		return nil, err
	}
	t.logger.WithFields(logrus.Fields{
		"sample":  idx,
		"loss":    res.Loss,
		"stepped": res.Stepped,
	}).Debug("Generator step")
	return res, nil
}

// sampleImage Generates image from fixed condition in eval mode
func (t *Trainer) sampleImage() error {
	fake, err := t.model.Generate(t.fixedCondition, ModeEval)
	if err != nil {
		return err
	}
	name := filepath.Join(GeneratedImagesDir, fmt.Sprintf("%08d.png", t.stats.ImagesSampled))
	t.stats.ImagesSampled++
	if t.images == nil {
		return nil
	}
	img, err := FormatImage(fake)
	if err != nil {
		return err
	}
	return t.images.SaveImage(name, img)
}

func (t *Trainer) logImages(it int, s Snapshot) error {
	if t.images == nil {
		return nil
	}
	grid, err := SnapshotGrid(s)
	if err != nil {
		return err
	}
	if err := t.images.SaveImage(filepath.Join(LoggedImagesDir, fmt.Sprintf("%08d.png", it)), grid); err != nil {
		return err
	}
	t.stats.ImagesLogged++
	return nil
}

func (t *Trainer) saveCheckpoint(name string, epoch int) error {
	if t.cfg.SaveDirectory == "" {
		return nil
	}
	ckpt, err := NewCheckpoint(t.model, epoch, t.stats.Iterations)
	if err != nil {
		return errors.Wrap(err, "Can't capture checkpoint")
	}
	fname := filepath.Join(t.cfg.SaveDirectory, name)
	if err := ckpt.Save(fname); err != nil {
		return err
	}
	t.logger.WithFields(logrus.Fields{
		"epoch":      epoch,
		"iteration":  t.stats.Iterations,
		"checkpoint": fname,
	}).Info("Checkpoint saved")
	return nil
}

func (t *Trainer) diverged(epoch int, reason string) error {
	if err := t.saveCheckpoint(DivergedCheckpoint, epoch); err != nil {
		t.logger.WithError(err).Error("Can't save checkpoint of diverged run")
	}
	t.logger.WithField("reason", reason).Error("Training diverged")
	return errors.Wrap(ErrNonFinite, reason)
}

// finish Dumps metrics collected by MetricsRecorder into save directory
func (t *Trainer) finish() {
	rec, ok := t.metrics.(*MetricsRecorder)
	if !ok || t.cfg.SaveDirectory == "" || len(rec.Names()) == 0 {
		return
	}
	if err := rec.WriteCSV(filepath.Join(t.cfg.SaveDirectory, MetricsCSVName)); err != nil {
		t.logger.WithError(err).Warn("Can't write metrics")
	}
	if err := rec.Plot(filepath.Join(t.cfg.SaveDirectory, MetricsPlotName), MetricCriticLoss, MetricGeneratorLoss, MetricWasserstein); err != nil {
		t.logger.WithError(err).Warn("Can't plot metrics")
	}
}
