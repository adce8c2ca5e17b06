package cwgan_go

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gorgonia.org/tensor"
)

// Critic Capability of evaluating critic's scores gradients with respect to images
type Critic interface {
	InputGradients(images, conditions *tensor.Dense) (*InputGradients, error)
}

// InputGradients Result of backward pass of critic scores down to images
//
// Scores - one score per sample
// Gradients - d(score_i)/d(image_i), same shape as images
// Slopes - derivatives of critic's activations observed during the pass (needed for tangent pass, may be empty)
//
type InputGradients struct {
	Scores    []float64
	Gradients *tensor.Dense
	Slopes    []*tensor.Dense
}

// PenaltyTerms Everything evaluated for the gradient penalty of single batch
//
// Epsilons - mixing coefficients, one per sample
// Interpolated - eps*real + (1-eps)*fake
// Condition - condition the interpolated images were scored with
// Norms - L2 norms of per-sample gradients
// Penalty - mean((norm-1)^2)
// Coefficients - weights c_i such that sum_i(c_i * <grad_x D(x_i), g_i>) has the same parameter gradient as Penalty (g_i held fixed)
//
type PenaltyTerms struct {
	Epsilons     []float64
	Interpolated *tensor.Dense
	Condition    *tensor.Dense
	Gradients    *tensor.Dense
	Slopes       []*tensor.Dense
	Norms        []float64
	Penalty      float64
	Coefficients []float64
}

// Interpolate Mixes real and fake images per sample: eps[i]*real[i] + (1-eps[i])*fake[i]
func Interpolate(real, fake *tensor.Dense, eps []float64) (*tensor.Dense, error) {
	if !real.Shape().Eq(fake.Shape()) {
		return nil, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("real %v and fake %v", real.Shape(), fake.Shape()))
	}
	n := real.Shape()[0]
	if len(eps) != n {
		return nil, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("got %d mixing coefficients for batch of %d", len(eps), n))
	}
	realData, err := denseData(real)
	if err != nil {
		return nil, err
	}
	fakeData, err := denseData(fake)
	if err != nil {
		return nil, err
	}
	perSample := len(realData) / n
	mixed := make([]float64, len(realData))
	for i := 0; i < n; i++ {
		e := eps[i]
		for j := i * perSample; j < (i+1)*perSample; j++ {
			mixed[j] = e*realData[j] + (1-e)*fakeData[j]
		}
	}
	return tensor.New(tensor.WithShape(real.Shape().Clone()...), tensor.WithBacking(mixed)), nil
}

// PenaltyFromGradients Evaluates mean((||g_i||-1)^2) over per-sample gradients (first axis is batch).
// Also returns norms and surrogate coefficients c_i = 2(||g_i||-1)/(N*||g_i||) (zero for zero gradient).
func PenaltyFromGradients(grads *tensor.Dense) (float64, []float64, []float64, error) {
	data, err := denseData(grads)
	if err != nil {
		return 0, nil, nil, err
	}
	n := grads.Shape()[0]
	if n == 0 {
		return 0, nil, nil, ErrEmptyDataset
	}
	perSample := len(data) / n
	norms := make([]float64, n)
	terms := make([]float64, n)
	coeffs := make([]float64, n)
	for i := 0; i < n; i++ {
		norms[i] = floats.Norm(data[i*perSample:(i+1)*perSample], 2)
		diff := norms[i] - 1
		terms[i] = diff * diff
		if norms[i] > 0 {
			coeffs[i] = 2 * diff / (float64(n) * norms[i])
		}
	}
	return stat.Mean(terms, nil), norms, coeffs, nil
}

// GradientPenalty Evaluates WGAN-GP penalty of critic at images interpolated between real and fake ones.
// Interpolation goes over images only: every interpolated image is scored with the same condition the fakes were generated from.
func GradientPenalty(critic Critic, real, fake, condition *tensor.Dense, rng *rand.Rand) (*PenaltyTerms, error) {
	n := real.Shape()[0]
	eps := make([]float64, n)
	for i := range eps {
		eps[i] = rng.Float64()
	}
	mixed, err := Interpolate(real, fake, eps)
	if err != nil {
		return nil, errors.Wrap(err, "Can't interpolate images")
	}
	if !condition.Shape().Eq(mixed.Shape()) {
		return nil, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("condition %v doesn't match interpolated batch %v", condition.Shape(), mixed.Shape()))
	}
	ig, err := critic.InputGradients(mixed, condition)
	if err != nil {
		return nil, errors.Wrap(err, "Can't evaluate critic gradients")
	}
	if !ig.Gradients.Shape().Eq(mixed.Shape()) {
		return nil, errors.Wrap(ErrShapeMismatch, fmt.Sprintf("gradients %v and images %v", ig.Gradients.Shape(), mixed.Shape()))
	}
	penalty, norms, coeffs, err := PenaltyFromGradients(ig.Gradients)
	if err != nil {
		return nil, err
	}
	return &PenaltyTerms{
		Epsilons:     eps,
		Interpolated: mixed,
		Condition:    condition,
		Gradients:    ig.Gradients,
		Slopes:       ig.Slopes,
		Norms:        norms,
		Penalty:      penalty,
		Coefficients: coeffs,
	}, nil
}
