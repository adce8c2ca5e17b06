package cwgan_go

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
	"gorgonia.org/gorgonia"
)

type LossReduction uint16

const (
	LossReductionSum = LossReduction(iota)
	LossReductionMean
)

// WassersteinCriticLoss mean(fake) - mean(real). Critic minimizes it, so real samples are pushed to higher scores
func WassersteinCriticLoss(fakeScores, realScores *gorgonia.Node) (*gorgonia.Node, error) {
	meanFake, err := gorgonia.Mean(fakeScores)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do mean(fake)")
	}
	meanReal, err := gorgonia.Mean(realScores)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do mean(real)")
	}
	return gorgonia.Sub(meanFake, meanReal)
}

// WassersteinGeneratorLoss -mean(fake)
func WassersteinGeneratorLoss(fakeScores *gorgonia.Node) (*gorgonia.Node, error) {
	meanFake, err := gorgonia.Mean(fakeScores)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do mean(fake)")
	}
	return gorgonia.Neg(meanFake)
}

// PenaltySurrogate sum(coeffs .* tangents) scaled by weight. Has the same gradient with respect to critic's parameters
// as weight*mean((||grad||-1)^2) when coeffs come from PenaltyFromGradients and tangents are directional derivatives along those gradients.
func PenaltySurrogate(tangents, coeffs *gorgonia.Node, weight float64) (*gorgonia.Node, error) {
	hprod, err := gorgonia.HadamardProd(tangents, coeffs)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x.*c)")
	}
	sum, err := gorgonia.Sum(hprod)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do sum(x)")
	}
	weightScalar := gorgonia.NewScalar(tangents.Graph(), gorgonia.Float64, gorgonia.WithValue(weight), gorgonia.WithName(uniqueName("penalty_weight")))
	return gorgonia.Mul(weightScalar, sum)
}

// L1Loss See ref. https://en.wikipedia.org/wiki/Least_absolute_deviations
// Default reduction is 'mean'
func L1Loss(a, b *gorgonia.Node, reduction ...LossReduction) (*gorgonia.Node, error) {
	sub, err := gorgonia.Sub(a, b)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (A-B)")
	}
	abs, err := gorgonia.Abs(sub)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do |x|")
	}
	reductionDefault := LossReductionMean
	if len(reduction) != 0 {
		reductionDefault = reduction[0]
	}
	switch reductionDefault {
	case LossReductionSum:
		return gorgonia.Sum(abs)
	case LossReductionMean:
		return gorgonia.Mean(abs)
	default:
		return nil, fmt.Errorf("Reduction type %d is not supported", reductionDefault)
	}
}

// CriticLoss Value of WGAN-GP critic loss: mean(fake) - mean(real) + weight*penalty
func CriticLoss(fakeScores, realScores []float64, weight, penalty float64) float64 {
	return stat.Mean(fakeScores, nil) - stat.Mean(realScores, nil) + weight*penalty
}

// GeneratorLoss Value of WGAN generator loss: -mean(fake)
func GeneratorLoss(fakeScores []float64) float64 {
	return -stat.Mean(fakeScores, nil)
}

// WassersteinEstimate mean(real) - mean(fake)
func WassersteinEstimate(fakeScores, realScores []float64) float64 {
	return stat.Mean(realScores, nil) - stat.Mean(fakeScores, nil)
}
