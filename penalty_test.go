package cwgan_go

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// constantNormCritic Critic which gradient has the same L2 norm for every sample
type constantNormCritic struct {
	norm float64
	seen *tensor.Dense
}

func (c *constantNormCritic) InputGradients(images, conditions *tensor.Dense) (*InputGradients, error) {
	c.seen = conditions
	shp := images.Shape()
	perSample := shp.TotalSize() / shp[0]
	data := make([]float64, shp.TotalSize())
	for i := range data {
		data[i] = c.norm / math.Sqrt(float64(perSample))
	}
	return &InputGradients{
		Scores:    make([]float64, shp[0]),
		Gradients: tensor.New(tensor.WithShape(shp.Clone()...), tensor.WithBacking(data)),
	}, nil
}

func TestGradientPenaltyKnownNorms(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	real := UniformRandDense(rng, 2, 3, 4, 4)
	fake := UniformRandDense(rng, 2, 3, 4, 4)
	cond := UniformRandDense(rng, 2, 3, 4, 4)
	tests := []struct {
		norm    float64
		penalty float64
	}{
		{1, 0},
		{3, 4},
		{0.5, 0.25},
		{0, 1},
	}
	for _, tt := range tests {
		critic := &constantNormCritic{norm: tt.norm}
		terms, err := GradientPenalty(critic, real, fake, cond, rng)
		if err != nil {
			t.Fatalf("[norm=%v] Can't evaluate penalty: %v", tt.norm, err)
		}
		if math.Abs(terms.Penalty-tt.penalty) > 1e-9 {
			t.Fatalf("[norm=%v] expected penalty %v, got %v", tt.norm, tt.penalty, terms.Penalty)
		}
		if terms.Penalty < 0 {
			t.Fatalf("penalty must be non-negative")
		}
		if critic.seen != cond {
			t.Fatalf("interpolated images must be scored with provided condition")
		}
	}
}

func TestGradientPenaltyConditionMismatch(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	real := UniformRandDense(rng, 2, 3, 4, 4)
	fake := UniformRandDense(rng, 2, 3, 4, 4)
	cond := UniformRandDense(rng, 1, 3, 4, 4)
	_, err := GradientPenalty(&constantNormCritic{norm: 1}, real, fake, cond, rng)
	if errors.Cause(err) != ErrShapeMismatch {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestInterpolate(t *testing.T) {
	real := tensor.New(tensor.WithShape(2, 2), tensor.WithBacking([]float64{1, 1, 2, 2}))
	fake := tensor.New(tensor.WithShape(2, 2), tensor.WithBacking([]float64{0, 0, 4, 4}))
	mixed, err := Interpolate(real, fake, []float64{0.25, 0.5})
	if err != nil {
		t.Fatalf("Can't interpolate: %v", err)
	}
	want := []float64{0.25, 0.25, 3, 3}
	if !almostEqual(mixed.Data().([]float64), want, 1e-12) {
		t.Fatalf("got %v want %v", mixed.Data(), want)
	}
}

func TestPenaltyFromGradientsCoefficients(t *testing.T) {
	grads := tensor.New(tensor.WithShape(2, 2), tensor.WithBacking([]float64{3, 4, 0, 0}))
	penalty, norms, coeffs, err := PenaltyFromGradients(grads)
	if err != nil {
		t.Fatalf("Can't evaluate penalty: %v", err)
	}
	if !almostEqual(norms, []float64{5, 0}, 1e-12) {
		t.Fatalf("unexpected norms %v", norms)
	}
	if math.Abs(penalty-(16+1)/2.0) > 1e-12 {
		t.Fatalf("unexpected penalty %v", penalty)
	}
	// 2*(5-1)/(2*5)
	if !almostEqual(coeffs, []float64{0.8, 0}, 1e-12) {
		t.Fatalf("unexpected coefficients %v", coeffs)
	}
}

func TestInputGradientsFiniteDifferences(t *testing.T) {
	cfg := tinyConfig()
	cfg.Architecture.InitStd = 0.3
	model, rng := tinyModel(t, cfg, 11)
	images := UniformRandDense(rng, 2, 3, 8, 8)
	cond := UniformRandDense(rng, 2, 3, 8, 8)
	ig, err := model.InputGradients(images, cond)
	if err != nil {
		t.Fatalf("Can't evaluate gradients: %v", err)
	}
	grads := ig.Gradients.Data().([]float64)
	data := images.Data().([]float64)
	h := 1e-6
	for _, idx := range []int{0, 17, 100, 191, 250, 383} {
		orig := data[idx]
		data[idx] = orig + h
		plus, err := model.Discriminate(images, cond)
		if err != nil {
			t.Fatalf("Can't discriminate: %v", err)
		}
		data[idx] = orig - h
		minus, err := model.Discriminate(images, cond)
		if err != nil {
			t.Fatalf("Can't discriminate: %v", err)
		}
		data[idx] = orig
		sample := idx / (3 * 8 * 8)
		fd := (plus[sample] - minus[sample]) / (2 * h)
		if math.Abs(fd-grads[idx]) > 1e-5+1e-3*math.Abs(fd) {
			t.Fatalf("gradient #%d: finite differences %v, graph %v", idx, fd, grads[idx])
		}
	}
}

// Gradient of the surrogate with respect to critic's parameters must match finite differences of weight*penalty
func TestPenaltyParameterGradient(t *testing.T) {
	for _, instanceNorm := range []bool{false, true} {
		cfg := tinyConfig()
		cfg.Architecture.InitStd = 0.3
		cfg.Architecture.DiscriminatorInstanceNorm = instanceNorm
		cfg.PenaltyWeight = 10
		model, rng := tinyModel(t, cfg, 13)
		images := UniformRandDense(rng, 2, 3, 8, 8)
		cond := UniformRandDense(rng, 2, 3, 8, 8)

		// real == fake: adversarial part of loss is identically zero, only the penalty is left
		terms, err := GradientPenalty(model, images, images, cond, rng)
		if err != nil {
			t.Fatalf("[in=%v] Can't evaluate penalty: %v", instanceNorm, err)
		}
		p, err := newCriticTrainProgram(model.Discriminator(), images.Shape(), cfg.PenaltyWeight)
		if err != nil {
			t.Fatalf("[in=%v] Can't compile program: %v", instanceNorm, err)
		}
		if err := p.feed(images, images, cond, terms); err != nil {
			t.Fatalf("[in=%v] Can't feed program: %v", instanceNorm, err)
		}
		if err := p.run(); err != nil {
			t.Fatalf("[in=%v] Can't run program: %v", instanceNorm, err)
		}
		analytic := make([][]float64, len(p.learnables))
		for i, n := range p.learnables {
			g, err := n.Grad()
			if err != nil {
				t.Fatalf("[in=%v] Can't read gradient: %v", instanceNorm, err)
			}
			analytic[i], err = readVector(g, "gradient")
			if err != nil {
				t.Fatalf("[in=%v] %v", instanceNorm, err)
			}
		}
		p.vm.Reset()
		p.close()

		penaltyAt := func() float64 {
			ig, err := model.InputGradients(images, cond)
			if err != nil {
				t.Fatalf("[in=%v] Can't evaluate gradients: %v", instanceNorm, err)
			}
			penalty, _, _, err := PenaltyFromGradients(ig.Gradients)
			if err != nil {
				t.Fatalf("[in=%v] %v", instanceNorm, err)
			}
			return penalty
		}
		params := model.Discriminator().Network().Parameters()
		h := 1e-6
		checked := 0
		for i, param := range params {
			data := param.Data().([]float64)
			for _, j := range []int{0, len(data) / 2, len(data) - 1} {
				orig := data[j]
				data[j] = orig + h
				plus := penaltyAt()
				data[j] = orig - h
				minus := penaltyAt()
				data[j] = orig
				fd := cfg.PenaltyWeight * (plus - minus) / (2 * h)
				got := analytic[i][j]
				if math.Abs(fd-got) > 1e-5+1e-3*math.Abs(fd) {
					t.Fatalf("[in=%v] parameter #%d[%d]: finite differences %v, graph %v", instanceNorm, i, j, fd, got)
				}
				checked++
			}
		}
		if checked == 0 {
			t.Fatalf("no parameters were checked")
		}
	}
}
