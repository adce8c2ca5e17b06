package cwgan_go

import (
	"math"
	"testing"
)

func TestCriticStepUpdatesCriticOnly(t *testing.T) {
	model, _ := tinyModel(t, tinyConfig(), 21)
	batch, err := LoadBatch(tinyData(t, 2, 22), []int{0, 1})
	if err != nil {
		t.Fatalf("Can't load batch: %v", err)
	}
	genBefore := paramsSnapshot(t, model.Generator().Network())
	criticBefore := paramsSnapshot(t, model.Discriminator().Network())
	res, err := model.CriticStep(batch)
	if err != nil {
		t.Fatalf("Can't make critic step: %v", err)
	}
	if !sameParams(genBefore, paramsSnapshot(t, model.Generator().Network())) {
		t.Fatalf("critic step must not change generator's parameters")
	}
	if sameParams(criticBefore, paramsSnapshot(t, model.Discriminator().Network())) {
		t.Fatalf("critic step must change critic's parameters")
	}
	if !res.Stepped || math.IsNaN(res.Loss) || res.Penalty < 0 {
		t.Fatalf("unexpected step result: loss %v, penalty %v", res.Loss, res.Penalty)
	}
	want := CriticLoss(res.FakeScores, res.RealScores, tinyConfig().PenaltyWeight, res.Penalty)
	if math.Abs(res.Loss-want) > 1e-12 {
		t.Fatalf("loss %v doesn't match its parts %v", res.Loss, want)
	}
	if res.Snapshot.Condition != batch.Conditions || res.Snapshot.Real != batch.Targets || res.Snapshot.Fake == nil {
		t.Fatalf("snapshot must hold tensors of the step")
	}
	if res.L1 < 0 {
		t.Fatalf("L1 distance must be non-negative, got %v", res.L1)
	}
}

func TestGeneratorStepUpdatesGeneratorOnly(t *testing.T) {
	model, _ := tinyModel(t, tinyConfig(), 23)
	batch, err := LoadBatch(tinyData(t, 1, 24), []int{0})
	if err != nil {
		t.Fatalf("Can't load batch: %v", err)
	}
	genBefore := paramsSnapshot(t, model.Generator().Network())
	criticBefore := paramsSnapshot(t, model.Discriminator().Network())
	res, err := model.GeneratorStep(batch.Conditions)
	if err != nil {
		t.Fatalf("Can't make generator step: %v", err)
	}
	if !sameParams(criticBefore, paramsSnapshot(t, model.Discriminator().Network())) {
		t.Fatalf("generator step must not change critic's parameters")
	}
	if sameParams(genBefore, paramsSnapshot(t, model.Generator().Network())) {
		t.Fatalf("generator step must change generator's parameters")
	}
	if !res.Stepped {
		t.Fatalf("finite loss must be stepped")
	}
	if math.Abs(res.Loss-GeneratorLoss(res.Scores)) > 1e-12 {
		t.Fatalf("loss %v doesn't match scores %v", res.Loss, res.Scores)
	}
}

func TestCriticStepShortBatch(t *testing.T) {
	model, _ := tinyModel(t, tinyConfig(), 25)
	data := tinyData(t, 3, 26)
	for _, indices := range [][]int{{0, 1}, {2}, {1, 0}} {
		batch, err := LoadBatch(data, indices)
		if err != nil {
			t.Fatalf("Can't load batch: %v", err)
		}
		if _, err := model.CriticStep(batch); err != nil {
			t.Fatalf("Can't make critic step on batch of %d: %v", len(indices), err)
		}
	}
	if len(model.criticTrainers) != 2 {
		t.Fatalf("expected programs for 2 batch sizes, got %d", len(model.criticTrainers))
	}
}

func TestStepsKeepParametersOnNonFiniteLoss(t *testing.T) {
	model, _ := tinyModel(t, tinyConfig(), 27)
	batch, err := LoadBatch(tinyData(t, 2, 28), []int{0, 1})
	if err != nil {
		t.Fatalf("Can't load batch: %v", err)
	}
	conditions := batch.Conditions.Data().([]float64)
	for i := range conditions {
		conditions[i] = math.NaN()
	}
	genBefore := paramsSnapshot(t, model.Generator().Network())
	criticBefore := paramsSnapshot(t, model.Discriminator().Network())

	critic, err := model.CriticStep(batch)
	if err != nil {
		t.Fatalf("Can't make critic step: %v", err)
	}
	if critic.Stepped || !math.IsNaN(critic.Loss) {
		t.Fatalf("NaN loss must not be stepped, got loss %v stepped %v", critic.Loss, critic.Stepped)
	}
	gen, err := model.GeneratorStep(batch.Conditions)
	if err != nil {
		t.Fatalf("Can't make generator step: %v", err)
	}
	if gen.Stepped || !math.IsNaN(gen.Loss) {
		t.Fatalf("NaN loss must not be stepped, got loss %v stepped %v", gen.Loss, gen.Stepped)
	}
	if !sameParams(criticBefore, paramsSnapshot(t, model.Discriminator().Network())) {
		t.Fatalf("critic's parameters changed on NaN loss")
	}
	if !sameParams(genBefore, paramsSnapshot(t, model.Generator().Network())) {
		t.Fatalf("generator's parameters changed on NaN loss")
	}
}

func TestWrapCGANRejectsNilNetworks(t *testing.T) {
	model, rng := tinyModel(t, tinyConfig(), 29)
	if _, err := WrapCGAN(tinyConfig(), nil, model.Discriminator(), rng); err == nil {
		t.Fatalf("nil generator must be rejected")
	}
	if _, err := WrapCGAN(tinyConfig(), model.Generator(), nil, rng); err == nil {
		t.Fatalf("nil discriminator must be rejected")
	}
}
