package cwgan_go

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Mode Behaviour of stochastic layers
type Mode uint8

const (
	// ModeEval Dropout is disabled
	ModeEval = Mode(iota)
	// ModeTrain Dropout masks are sampled
	ModeTrain
)

func (m Mode) String() string {
	if m == ModeTrain {
		return "train"
	}
	return "eval"
}

// CGAN Conditional WGAN-GP.
//
// generatorPart - reference to Generator
// discriminatorPart - reference to Discriminator (critic)
// generatorSolver, criticSolver - separate Adam solvers: each one updates parameters of its own network only
// programs - compiled graphs per batch size. Every graph binds the same parameter tensors, so update made by any solver is seen everywhere
//
type CGAN struct {
	arch              Architecture
	generatorPart     *GeneratorNet
	discriminatorPart *DiscriminatorNet
	penaltyWeight     float64
	rng               *rand.Rand

	generatorSolver gorgonia.Solver
	criticSolver    gorgonia.Solver

	generators        map[int]*generatorProgram
	critics           map[int]*criticProgram
	probes            map[int]*probeProgram
	criticTrainers    map[int]*criticTrainProgram
	generatorTrainers map[int]*generatorTrainProgram
}

// NewCGAN Builds both networks (weights drawn from rng) and their solvers
func NewCGAN(cfg Config, rng *rand.Rand) (*CGAN, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	gen, err := NewGenerator(cfg.Architecture, rng)
	if err != nil {
		return nil, errors.Wrap(err, "Can't build generator")
	}
	disc, err := NewDiscriminator(cfg.Architecture, rng)
	if err != nil {
		return nil, errors.Wrap(err, "Can't build discriminator")
	}
	return WrapCGAN(cfg, gen, disc, rng)
}

// WrapCGAN Wraps already defined networks. Networks must accept and produce images of cfg.Architecture shape
func WrapCGAN(cfg Config, gen *GeneratorNet, disc *DiscriminatorNet, rng *rand.Rand) (*CGAN, error) {
	if gen == nil || disc == nil {
		return nil, errors.New("both generator and discriminator must be provided")
	}
	return &CGAN{
		arch:              cfg.Architecture,
		generatorPart:     gen,
		discriminatorPart: disc,
		penaltyWeight:     cfg.PenaltyWeight,
		rng:               rng,
		generatorSolver:   gorgonia.NewAdamSolver(gorgonia.WithLearnRate(cfg.GeneratorLR)),
		criticSolver:      gorgonia.NewAdamSolver(gorgonia.WithLearnRate(cfg.DiscriminatorLR)),
		generators:        make(map[int]*generatorProgram),
		critics:           make(map[int]*criticProgram),
		probes:            make(map[int]*probeProgram),
		criticTrainers:    make(map[int]*criticTrainProgram),
		generatorTrainers: make(map[int]*generatorTrainProgram),
	}, nil
}

// Generator Returns generator part
func (net *CGAN) Generator() *GeneratorNet {
	return net.generatorPart
}

// Discriminator Returns discriminator part
func (net *CGAN) Discriminator() *DiscriminatorNet {
	return net.discriminatorPart
}

// Architecture Returns shapes and widths of networks
func (net *CGAN) Architecture() Architecture {
	return net.arch
}

// checkBatch Validates (N, C, H, W) batch against architecture and returns its shape
func (net *CGAN) checkBatch(what string, t *tensor.Dense) (tensor.Shape, error) {
	if t == nil {
		return nil, fmt.Errorf("%s is nil", what)
	}
	shp := t.Shape()
	if len(shp) != 4 || shp[0] == 0 || shp[1] != net.arch.Channels || shp[2] != net.arch.Height || shp[3] != net.arch.Width {
		return nil, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("%s has shape %v, expected (N, %d, %d, %d)", what, shp, net.arch.Channels, net.arch.Height, net.arch.Width))
	}
	return shp.Clone(), nil
}

func (net *CGAN) checkPair(aName string, a *tensor.Dense, bName string, b *tensor.Dense) (tensor.Shape, error) {
	shp, err := net.checkBatch(aName, a)
	if err != nil {
		return nil, err
	}
	if _, err := net.checkBatch(bName, b); err != nil {
		return nil, err
	}
	if !shp.Eq(b.Shape()) {
		return nil, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("%s %v and %s %v", aName, shp, bName, b.Shape()))
	}
	return shp, nil
}

func (net *CGAN) generatorFor(shp tensor.Shape) (*generatorProgram, error) {
	if p, ok := net.generators[shp[0]]; ok {
		return p, nil
	}
	p, err := newGeneratorProgram(net.generatorPart, shp)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("Can't compile generator for batch of %d", shp[0]))
	}
	net.generators[shp[0]] = p
	return p, nil
}

func (net *CGAN) criticFor(shp tensor.Shape) (*criticProgram, error) {
	if p, ok := net.critics[shp[0]]; ok {
		return p, nil
	}
	p, err := newCriticProgram(net.discriminatorPart, shp)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("Can't compile critic for batch of %d", shp[0]))
	}
	net.critics[shp[0]] = p
	return p, nil
}

func (net *CGAN) probeFor(shp tensor.Shape) (*probeProgram, error) {
	if p, ok := net.probes[shp[0]]; ok {
		return p, nil
	}
	p, err := newProbeProgram(net.discriminatorPart, shp)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("Can't compile critic probe for batch of %d", shp[0]))
	}
	net.probes[shp[0]] = p
	return p, nil
}

func (net *CGAN) criticTrainerFor(shp tensor.Shape) (*criticTrainProgram, error) {
	if p, ok := net.criticTrainers[shp[0]]; ok {
		return p, nil
	}
	p, err := newCriticTrainProgram(net.discriminatorPart, shp, net.penaltyWeight)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("Can't compile critic training for batch of %d", shp[0]))
	}
	net.criticTrainers[shp[0]] = p
	return p, nil
}

func (net *CGAN) generatorTrainerFor(shp tensor.Shape) (*generatorTrainProgram, error) {
	if p, ok := net.generatorTrainers[shp[0]]; ok {
		return p, nil
	}
	p, err := newGeneratorTrainProgram(net.generatorPart, net.discriminatorPart, shp)
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("Can't compile generator training for batch of %d", shp[0]))
	}
	net.generatorTrainers[shp[0]] = p
	return p, nil
}

// Generate Runs generator on condition batch. In ModeTrain dropout masks are drawn from model's rng
func (net *CGAN) Generate(condition *tensor.Dense, mode Mode) (*tensor.Dense, error) {
	shp, err := net.checkBatch("condition", condition)
	if err != nil {
		return nil, err
	}
	p, err := net.generatorFor(shp)
	if err != nil {
		return nil, err
	}
	return p.exec(condition, mode, net.rng)
}

// Discriminate Returns one critic score per sample
func (net *CGAN) Discriminate(image, condition *tensor.Dense) ([]float64, error) {
	shp, err := net.checkPair("image", image, "condition", condition)
	if err != nil {
		return nil, err
	}
	p, err := net.criticFor(shp)
	if err != nil {
		return nil, err
	}
	return p.exec(image, condition)
}

// FakeScores Scores of generated images together with tensors they were evaluated on
type FakeScores struct {
	Condition *tensor.Dense
	Fake      *tensor.Dense
	Scores    []float64
}

// RealScores Scores of real images together with tensors they were evaluated on
type RealScores struct {
	Real      *tensor.Dense
	Condition *tensor.Dense
	Scores    []float64
}

// ScoreFake Generates images for condition and scores them
func (net *CGAN) ScoreFake(condition *tensor.Dense, mode Mode) (*FakeScores, error) {
	fake, err := net.Generate(condition, mode)
	if err != nil {
		return nil, err
	}
	scores, err := net.Discriminate(fake, condition)
	if err != nil {
		return nil, err
	}
	return &FakeScores{Condition: condition, Fake: fake, Scores: scores}, nil
}

// ScoreReal Scores real images under condition
func (net *CGAN) ScoreReal(real, condition *tensor.Dense) (*RealScores, error) {
	scores, err := net.Discriminate(real, condition)
	if err != nil {
		return nil, err
	}
	return &RealScores{Real: real, Condition: condition, Scores: scores}, nil
}

// Forward Scores real images and images generated for the same condition
func (net *CGAN) Forward(real, condition *tensor.Dense, mode Mode) (*RealScores, *FakeScores, error) {
	if _, err := net.checkPair("real", real, "condition", condition); err != nil {
		return nil, nil, err
	}
	realScores, err := net.ScoreReal(real, condition)
	if err != nil {
		return nil, nil, err
	}
	fakeScores, err := net.ScoreFake(condition, mode)
	if err != nil {
		return nil, nil, err
	}
	return realScores, fakeScores, nil
}

// InputGradients Gradient of critic scores with respect to images (see Critic interface)
func (net *CGAN) InputGradients(images, condition *tensor.Dense) (*InputGradients, error) {
	shp, err := net.checkPair("images", images, "condition", condition)
	if err != nil {
		return nil, err
	}
	p, err := net.probeFor(shp)
	if err != nil {
		return nil, err
	}
	return p.exec(images, condition)
}

// Snapshot Tensors of last training step. Consumed by image logging
type Snapshot struct {
	Condition *tensor.Dense
	Real      *tensor.Dense
	Fake      *tensor.Dense
}

// CriticStepResult Values observed during single critic update
//
// Loss - mean(fake) - mean(real) + weight*penalty
// Wasserstein - mean(real) - mean(fake)
// L1 - mean |fake - real|
// Stepped - false when loss is not finite, parameters are left untouched then
//
type CriticStepResult struct {
	Loss        float64
	Wasserstein float64
	Penalty     float64
	L1          float64
	FakeScores  []float64
	RealScores  []float64
	Snapshot    Snapshot
	Stepped     bool
}

// GeneratorStepResult Values observed during single generator update. Stepped has the same meaning as in CriticStepResult
type GeneratorStepResult struct {
	Loss      float64
	Condition *tensor.Dense
	Fake      *tensor.Dense
	Scores    []float64
	Stepped   bool
}

// CriticStep Makes single update of critic's parameters on batch: fakes are generated in train mode for batch conditions,
// gradient penalty is evaluated at images interpolated between targets and fakes under the same conditions.
func (net *CGAN) CriticStep(batch Batch) (*CriticStepResult, error) {
	shp, err := net.checkPair("targets", batch.Targets, "conditions", batch.Conditions)
	if err != nil {
		return nil, err
	}
	fake, err := net.Generate(batch.Conditions, ModeTrain)
	if err != nil {
		return nil, errors.Wrap(err, "Can't generate fakes")
	}
	// Condition of the generate call above is the one the penalty is evaluated with
	terms, err := GradientPenalty(net, batch.Targets, fake, batch.Conditions, net.rng)
	if err != nil {
		return nil, errors.Wrap(err, "Can't evaluate gradient penalty")
	}
	p, err := net.criticTrainerFor(shp)
	if err != nil {
		return nil, err
	}
	out, err := p.exec(fake, batch.Targets, batch.Conditions, terms, net.criticSolver)
	if err != nil {
		return nil, err
	}
	return &CriticStepResult{
		Loss:        out.loss,
		Wasserstein: WassersteinEstimate(out.fakeScores, out.realScores),
		Penalty:     terms.Penalty,
		L1:          out.l1,
		FakeScores:  out.fakeScores,
		RealScores:  out.realScores,
		Snapshot: Snapshot{
			Condition: batch.Conditions,
			Real:      batch.Targets,
			Fake:      fake,
		},
		Stepped: out.stepped,
	}, nil
}

// GeneratorStep Makes single update of generator's parameters on condition batch
func (net *CGAN) GeneratorStep(condition *tensor.Dense) (*GeneratorStepResult, error) {
	shp, err := net.checkBatch("condition", condition)
	if err != nil {
		return nil, err
	}
	p, err := net.generatorTrainerFor(shp)
	if err != nil {
		return nil, err
	}
	return p.exec(condition, net.rng, net.generatorSolver)
}

// Close Releases every compiled program
func (net *CGAN) Close() error {
	var firstErr error
	closeAll := func(p *program) {
		if err := p.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, p := range net.generators {
		closeAll(&p.program)
	}
	for _, p := range net.critics {
		closeAll(&p.program)
	}
	for _, p := range net.probes {
		closeAll(&p.program)
	}
	for _, p := range net.criticTrainers {
		closeAll(&p.program)
	}
	for _, p := range net.generatorTrainers {
		closeAll(&p.program)
	}
	return firstErr
}
