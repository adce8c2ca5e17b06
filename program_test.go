package cwgan_go

import (
	"math"
	"testing"
)

// Generator's gradient flows through the critic, so every critic layout must give the same gradients as finite differences
func TestGeneratorParameterGradient(t *testing.T) {
	for _, instanceNorm := range []bool{false, true} {
		cfg := tinyConfig()
		cfg.Architecture.InitStd = 0.3
		cfg.Architecture.GeneratorDropout = 0
		cfg.Architecture.DiscriminatorInstanceNorm = instanceNorm
		model, rng := tinyModel(t, cfg, 17)
		cond := UniformRandDense(rng, 2, 3, 8, 8)

		p, err := newGeneratorTrainProgram(model.Generator(), model.Discriminator(), cond.Shape())
		if err != nil {
			t.Fatalf("[in=%v] Can't compile program: %v", instanceNorm, err)
		}
		if err := p.feed(cond, rng); err != nil {
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

		lossAt := func() float64 {
			fake, err := model.Generate(cond, ModeEval)
			if err != nil {
				t.Fatalf("[in=%v] Can't generate: %v", instanceNorm, err)
			}
			scores, err := model.Discriminate(fake, cond)
			if err != nil {
				t.Fatalf("[in=%v] Can't discriminate: %v", instanceNorm, err)
			}
			return GeneratorLoss(scores)
		}
		params := model.Generator().Network().Parameters()
		if len(params) != len(analytic) {
			t.Fatalf("[in=%v] %d parameters, but %d gradients", instanceNorm, len(params), len(analytic))
		}
		h := 1e-6
		for i, param := range params {
			data := param.Data().([]float64)
			for _, j := range []int{0, len(data) / 3, len(data) - 1} {
				orig := data[j]
				data[j] = orig + h
				plus := lossAt()
				data[j] = orig - h
				minus := lossAt()
				data[j] = orig
				fd := (plus - minus) / (2 * h)
				got := analytic[i][j]
				if math.Abs(fd-got) > 1e-5+1e-3*math.Abs(fd) {
					t.Fatalf("[in=%v] parameter #%d[%d]: finite differences %v, graph %v", instanceNorm, i, j, fd, got)
				}
			}
		}
	}
}
