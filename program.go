package cwgan_go

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// program Compiled graph together with its machine. Every program is built for single batch size
type program struct {
	g  *gorgonia.ExprGraph
	vm gorgonia.VM
}

// run Executes whole tape. Machine is reset by caller once values (and gradients) have been consumed
func (p *program) run() error {
	return p.vm.RunAll()
}

func (p *program) close() error {
	if p.vm == nil {
		return nil
	}
	return p.vm.Close()
}

func imageInput(g *gorgonia.ExprGraph, name string, shp tensor.Shape) *gorgonia.Node {
	return gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(shp.Clone()...), gorgonia.WithName(uniqueName(name)))
}

// letMasks Fills dropout masks: inverted dropout in train mode, ones in eval mode
func letMasks(masks []DropoutMask, mode Mode, rng *rand.Rand) error {
	for _, m := range masks {
		shp := m.Node.Shape().Clone()
		data := make([]float64, shp.TotalSize())
		keep := 1 - m.Probability
		for i := range data {
			switch {
			case mode != ModeTrain:
				data[i] = 1
			case rng.Float64() < keep:
				data[i] = 1 / keep
			}
		}
		if err := gorgonia.Let(m.Node, tensor.New(tensor.WithShape(shp...), tensor.WithBacking(data))); err != nil {
			return errors.Wrap(err, "Can't set dropout mask")
		}
	}
	return nil
}

func readDense(v gorgonia.Value, what string) (*tensor.Dense, error) {
	t, ok := v.(tensor.Tensor)
	if !ok {
		return nil, fmt.Errorf("%s: expected tensor value, but got %T", what, v)
	}
	return cloneDense(t)
}

func readVector(v gorgonia.Value, what string) ([]float64, error) {
	t, err := readDense(v, what)
	if err != nil {
		return nil, err
	}
	return t.Data().([]float64), nil
}

func readScalar(v gorgonia.Value, what string) (float64, error) {
	if v == nil {
		return 0, fmt.Errorf("%s: value has not been evaluated", what)
	}
	switch x := v.Data().(type) {
	case float64:
		return x, nil
	case []float64:
		if len(x) == 1 {
			return x[0], nil
		}
	}
	return 0, fmt.Errorf("%s: expected scalar value, but got %v", what, v.Shape())
}

// generatorProgram condition => generator => fake images
type generatorProgram struct {
	program
	condition *gorgonia.Node
	masks     []DropoutMask
	fakeVal   gorgonia.Value
}

func newGeneratorProgram(gen *GeneratorNet, shp tensor.Shape) (*generatorProgram, error) {
	p := &generatorProgram{}
	p.g = gorgonia.NewGraph()
	bn, err := gen.Network().Bind(p.g)
	if err != nil {
		return nil, err
	}
	p.condition = imageInput(p.g, "gen_condition", shp)
	pass, err := gen.Fwd(bn, p.condition)
	if err != nil {
		return nil, err
	}
	p.masks = pass.DropoutMasks()
	gorgonia.Read(pass.Out(), &p.fakeVal)
	p.vm = gorgonia.NewTapeMachine(p.g)
	return p, nil
}

func (p *generatorProgram) exec(condition *tensor.Dense, mode Mode, rng *rand.Rand) (*tensor.Dense, error) {
	if err := gorgonia.Let(p.condition, condition); err != nil {
		return nil, errors.Wrap(err, "Can't set condition")
	}
	if err := letMasks(p.masks, mode, rng); err != nil {
		return nil, err
	}
	defer p.vm.Reset()
	if err := p.run(); err != nil {
		return nil, errors.Wrap(err, "Can't run generator")
	}
	return readDense(p.fakeVal, "generated images")
}

// criticProgram (image, condition) => critic => scores
type criticProgram struct {
	program
	image, condition *gorgonia.Node
	scoresVal        gorgonia.Value
}

func newCriticProgram(disc *DiscriminatorNet, shp tensor.Shape) (*criticProgram, error) {
	p := &criticProgram{}
	p.g = gorgonia.NewGraph()
	bn, err := disc.Network().Bind(p.g)
	if err != nil {
		return nil, err
	}
	p.image = imageInput(p.g, "critic_image", shp)
	p.condition = imageInput(p.g, "critic_condition", shp)
	pass, err := disc.Fwd(bn, p.image, p.condition)
	if err != nil {
		return nil, err
	}
	gorgonia.Read(pass.Scores(), &p.scoresVal)
	p.vm = gorgonia.NewTapeMachine(p.g)
	return p, nil
}

func (p *criticProgram) exec(image, condition *tensor.Dense) ([]float64, error) {
	if err := gorgonia.Let(p.image, image); err != nil {
		return nil, errors.Wrap(err, "Can't set image")
	}
	if err := gorgonia.Let(p.condition, condition); err != nil {
		return nil, errors.Wrap(err, "Can't set condition")
	}
	defer p.vm.Reset()
	if err := p.run(); err != nil {
		return nil, errors.Wrap(err, "Can't run critic")
	}
	return readVector(p.scoresVal, "critic scores")
}

// probeProgram (image, condition) => critic => d(sum(scores))/d(image) and non-activated outputs of layers
type probeProgram struct {
	program
	image, condition *gorgonia.Node
	scoresVal        gorgonia.Value
	gradVal          gorgonia.Value
	preVals          []gorgonia.Value
	derivatives      []DerivativeFunc
}

func newProbeProgram(disc *DiscriminatorNet, shp tensor.Shape) (*probeProgram, error) {
	p := &probeProgram{derivatives: disc.Network().Derivatives()}
	p.g = gorgonia.NewGraph()
	bn, err := disc.Network().Bind(p.g)
	if err != nil {
		return nil, err
	}
	p.image = imageInput(p.g, "probe_image", shp)
	p.condition = imageInput(p.g, "probe_condition", shp)
	pass, err := disc.Fwd(bn, p.image, p.condition)
	if err != nil {
		return nil, err
	}
	total, err := gorgonia.Sum(pass.Scores())
	if err != nil {
		return nil, errors.Wrap(err, "Can't do sum(scores)")
	}
	grads, err := gorgonia.Grad(total, p.image)
	if err != nil {
		return nil, errors.Wrap(err, "Can't differentiate scores with respect to image")
	}
	gorgonia.Read(pass.Scores(), &p.scoresVal)
	gorgonia.Read(grads[0], &p.gradVal)
	pre := pass.PreActivations()
	if len(pre) != len(p.derivatives) {
		return nil, fmt.Errorf("critic has %d activated layers, but %d derivatives", len(pre), len(p.derivatives))
	}
	p.preVals = make([]gorgonia.Value, len(pre))
	for i := range pre {
		gorgonia.Read(pre[i], &p.preVals[i])
	}
	p.vm = gorgonia.NewTapeMachine(p.g)
	return p, nil
}

func (p *probeProgram) exec(image, condition *tensor.Dense) (*InputGradients, error) {
	if err := gorgonia.Let(p.image, image); err != nil {
		return nil, errors.Wrap(err, "Can't set image")
	}
	if err := gorgonia.Let(p.condition, condition); err != nil {
		return nil, errors.Wrap(err, "Can't set condition")
	}
	defer p.vm.Reset()
	if err := p.run(); err != nil {
		return nil, errors.Wrap(err, "Can't run critic probe")
	}
	scores, err := readVector(p.scoresVal, "critic scores")
	if err != nil {
		return nil, err
	}
	grads, err := readDense(p.gradVal, "input gradients")
	if err != nil {
		return nil, err
	}
	slopes := make([]*tensor.Dense, len(p.preVals))
	for i, v := range p.preVals {
		pre, err := readDense(v, "non-activated output")
		if err != nil {
			return nil, err
		}
		// evaluated in place: pre is private copy
		data := pre.Data().([]float64)
		for j := range data {
			data[j] = p.derivatives[i](data[j])
		}
		slopes[i] = pre
	}
	return &InputGradients{Scores: scores, Gradients: grads, Slopes: slopes}, nil
}

// criticTrainProgram Evaluates gradient of WGAN-GP critic loss with respect to critic's parameters.
// Penalty term is represented by surrogate sum(c_i * tangent_i) where tangent_i is directional derivative of
// critic at interpolated image along penalty gradient g_i (see PenaltySurrogate)
type criticTrainProgram struct {
	program
	learnables gorgonia.Nodes

	fake, real, condition *gorgonia.Node
	mixed, direction      *gorgonia.Node
	coeffs                *gorgonia.Node
	slopes                gorgonia.Nodes

	penaltyWeight float64

	fakeScoresVal, realScoresVal, l1Val gorgonia.Value
}

func newCriticTrainProgram(disc *DiscriminatorNet, shp tensor.Shape, penaltyWeight float64) (*criticTrainProgram, error) {
	p := &criticTrainProgram{penaltyWeight: penaltyWeight}
	p.g = gorgonia.NewGraph()
	bn, err := disc.Network().Bind(p.g)
	if err != nil {
		return nil, err
	}
	p.learnables = bn.Learnables()
	p.fake = imageInput(p.g, "train_fake", shp)
	p.real = imageInput(p.g, "train_real", shp)
	p.condition = imageInput(p.g, "train_condition", shp)
	p.mixed = imageInput(p.g, "train_interpolated", shp)
	p.direction = imageInput(p.g, "train_penalty_direction", shp)
	p.coeffs = gorgonia.NewTensor(p.g, gorgonia.Float64, 1, gorgonia.WithShape(shp[0]), gorgonia.WithName(uniqueName("train_penalty_coeffs")))

	fakePass, err := disc.Fwd(bn, p.fake, p.condition)
	if err != nil {
		return nil, errors.Wrap(err, "Can't score fake images")
	}
	realPass, err := disc.Fwd(bn, p.real, p.condition)
	if err != nil {
		return nil, errors.Wrap(err, "Can't score real images")
	}
	mixedPass, err := disc.Fwd(bn, p.mixed, p.condition)
	if err != nil {
		return nil, errors.Wrap(err, "Can't score interpolated images")
	}
	tangent, slopes, err := disc.Tangent(bn, mixedPass, p.direction)
	if err != nil {
		return nil, errors.Wrap(err, "Can't build tangent pass")
	}
	p.slopes = slopes

	adversarial, err := WassersteinCriticLoss(fakePass.Scores(), realPass.Scores())
	if err != nil {
		return nil, err
	}
	surrogate, err := PenaltySurrogate(tangent, p.coeffs, penaltyWeight)
	if err != nil {
		return nil, err
	}
	cost, err := gorgonia.Add(adversarial, surrogate)
	if err != nil {
		return nil, errors.Wrap(err, "Can't add penalty to critic loss")
	}
	l1, err := L1Loss(p.fake, p.real)
	if err != nil {
		return nil, err
	}
	if _, err = gorgonia.Grad(cost, p.learnables...); err != nil {
		return nil, errors.Wrap(err, "Can't differentiate critic loss")
	}
	gorgonia.Read(fakePass.Scores(), &p.fakeScoresVal)
	gorgonia.Read(realPass.Scores(), &p.realScoresVal)
	gorgonia.Read(l1, &p.l1Val)
	p.vm = gorgonia.NewTapeMachine(p.g, gorgonia.BindDualValues(p.learnables...))
	return p, nil
}

type criticTrainOutput struct {
	fakeScores, realScores []float64
	l1, loss               float64
	stepped                bool
}

// feed Sets every input of program
func (p *criticTrainProgram) feed(fake, real, condition *tensor.Dense, terms *PenaltyTerms) error {
	if len(terms.Slopes) != len(p.slopes) {
		return fmt.Errorf("got %d slopes, but tangent pass expects %d", len(terms.Slopes), len(p.slopes))
	}
	lets := []struct {
		node  *gorgonia.Node
		value tensor.Tensor
	}{
		{p.fake, fake},
		{p.real, real},
		{p.condition, condition},
		{p.mixed, terms.Interpolated},
		{p.direction, terms.Gradients},
		{p.coeffs, tensor.New(tensor.WithShape(len(terms.Coefficients)), tensor.WithBacking(terms.Coefficients))},
	}
	for _, l := range lets {
		if err := gorgonia.Let(l.node, l.value); err != nil {
			return errors.Wrap(err, fmt.Sprintf("Can't set '%s'", l.node.Name()))
		}
	}
	for i, s := range p.slopes {
		if err := gorgonia.Let(s, terms.Slopes[i]); err != nil {
			return errors.Wrap(err, "Can't set activation slopes")
		}
	}
	return nil
}

func (p *criticTrainProgram) exec(fake, real, condition *tensor.Dense, terms *PenaltyTerms, solver gorgonia.Solver) (*criticTrainOutput, error) {
	if err := p.feed(fake, real, condition, terms); err != nil {
		return nil, err
	}
	defer p.vm.Reset()
	if err := p.run(); err != nil {
		return nil, errors.Wrap(err, "Can't run critic training")
	}
	var err error
	out := &criticTrainOutput{}
	if out.fakeScores, err = readVector(p.fakeScoresVal, "fake scores"); err != nil {
		return nil, err
	}
	if out.realScores, err = readVector(p.realScoresVal, "real scores"); err != nil {
		return nil, err
	}
	if out.l1, err = readScalar(p.l1Val, "L1 distance"); err != nil {
		return nil, err
	}
	out.loss = CriticLoss(out.fakeScores, out.realScores, p.penaltyWeight, terms.Penalty)
	// Parameters stay untouched when loss is not finite
	if !isFinite(out.loss) {
		return out, nil
	}
	if err := solver.Step(gorgonia.NodesToValueGrads(p.learnables)); err != nil {
		return nil, errors.Wrap(err, "Can't make critic's solver step")
	}
	out.stepped = true
	return out, nil
}

// generatorTrainProgram condition => generator => critic => -mean(scores). Only generator's parameters are differentiated
type generatorTrainProgram struct {
	program
	learnables gorgonia.Nodes
	condition  *gorgonia.Node
	masks      []DropoutMask

	costVal, fakeVal, scoresVal gorgonia.Value
}

func newGeneratorTrainProgram(gen *GeneratorNet, disc *DiscriminatorNet, shp tensor.Shape) (*generatorTrainProgram, error) {
	p := &generatorTrainProgram{}
	p.g = gorgonia.NewGraph()
	genBound, err := gen.Network().Bind(p.g)
	if err != nil {
		return nil, err
	}
	discBound, err := disc.Network().Bind(p.g)
	if err != nil {
		return nil, err
	}
	p.learnables = genBound.Learnables()
	p.condition = imageInput(p.g, "gan_condition", shp)
	genPass, err := gen.Fwd(genBound, p.condition)
	if err != nil {
		return nil, err
	}
	p.masks = genPass.DropoutMasks()
	criticPass, err := disc.Fwd(discBound, genPass.Out(), p.condition)
	if err != nil {
		return nil, err
	}
	cost, err := WassersteinGeneratorLoss(criticPass.Scores())
	if err != nil {
		return nil, err
	}
	if _, err = gorgonia.Grad(cost, p.learnables...); err != nil {
		return nil, errors.Wrap(err, "Can't differentiate generator loss")
	}
	gorgonia.Read(cost, &p.costVal)
	gorgonia.Read(genPass.Out(), &p.fakeVal)
	gorgonia.Read(criticPass.Scores(), &p.scoresVal)
	p.vm = gorgonia.NewTapeMachine(p.g, gorgonia.BindDualValues(p.learnables...))
	return p, nil
}

// feed Sets condition and draws fresh dropout masks
func (p *generatorTrainProgram) feed(condition *tensor.Dense, rng *rand.Rand) error {
	if err := gorgonia.Let(p.condition, condition); err != nil {
		return errors.Wrap(err, "Can't set condition")
	}
	return letMasks(p.masks, ModeTrain, rng)
}

func (p *generatorTrainProgram) exec(condition *tensor.Dense, rng *rand.Rand, solver gorgonia.Solver) (*GeneratorStepResult, error) {
	if err := p.feed(condition, rng); err != nil {
		return nil, err
	}
	defer p.vm.Reset()
	if err := p.run(); err != nil {
		return nil, errors.Wrap(err, "Can't run generator training")
	}
	var err error
	res := &GeneratorStepResult{Condition: condition}
	if res.Loss, err = readScalar(p.costVal, "generator loss"); err != nil {
		return nil, err
	}
	if res.Fake, err = readDense(p.fakeVal, "generated images"); err != nil {
		return nil, err
	}
	if res.Scores, err = readVector(p.scoresVal, "fake scores"); err != nil {
		return nil, err
	}
	if !isFinite(res.Loss) {
		return res, nil
	}
	if err := solver.Step(gorgonia.NodesToValueGrads(p.learnables)); err != nil {
		return nil, errors.Wrap(err, "Can't make generator's solver step")
	}
	res.Stepped = true
	return res, nil
}
