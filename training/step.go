package training

import (
	"github.com/pkg/errors"

	"github.com/scenewise/refinery/models"
	"github.com/scenewise/refinery/optimizer"
)

// initialDiscLoss seeds the alternation gate so the discriminator trains
// first on a fresh run.
const initialDiscLoss = 1e6

// StepKind names which network one training step updated.
type StepKind int

const (
	GeneratorStep StepKind = iota
	DiscriminatorStep
)

func (k StepKind) String() string {
	if k == DiscriminatorStep {
		return "discriminator"
	}
	return "generator"
}

// Result is the outcome of one training iteration. A Skipped result carries
// no losses and is not recorded in the running statistics. DiscLoss and
// DiscAcc are populated on every non-skipped step, whichever network was
// updated, so the alternation gate always sees the discriminator's current
// state.
type Result struct {
	Iter     int
	Skipped  bool
	Kind     StepKind
	GenLoss  float64
	DiscLoss float64
	DiscAcc  float64
}

// Trainer owns the trainable networks and their optimizers and applies the
// adversarial alternation rule.
type Trainer struct {
	Cascade    *models.Cascade
	Disc       *models.Discriminator
	Perceptual *models.PerceptualExtractor
	GenOpt     optimizer.Optimizer
	DiscOpt    optimizer.Optimizer

	Weights        LossWeights
	DiscLossThresh float64
}

// TakeDiscStep applies the alternation rule: the discriminator trains on
// even iterations, but only while its previous loss still exceeds the
// threshold. The threshold gate dominates parity; once the discriminator is
// good enough every iteration trains the generator.
func (tr *Trainer) TakeDiscStep(iter int, prevDiscLoss float64) bool {
	return iter%2 == 0 && prevDiscLoss > tr.DiscLossThresh
}

// Step runs one optimization step on a prefetched slot. prevDiscLoss is the
// discriminator loss from the most recent successful step and drives the
// alternation decision.
func (tr *Trainer) Step(iter int, slot *Slot, prevDiscLoss float64) (Result, error) {
	res := Result{Iter: iter}
	if !slot.Ready() {
		res.Skipped = true
		return res, nil
	}

	pred, err := tr.Cascade.RefinePass(slot.RefineInput)
	if err != nil {
		return res, errors.Wrapf(err, "refine pass at iteration %d", iter)
	}

	if tr.TakeDiscStep(iter, prevDiscLoss) {
		res.Kind = DiscriminatorStep
		// The generated image is detached so only discriminator weights
		// receive gradients.
		loss, acc, err := DiscriminatorLoss(slot.RefineInput, pred.Detach(), slot.GT, tr.Disc, tr.Perceptual)
		if err != nil {
			return res, errors.Wrapf(err, "discriminator loss at iteration %d", iter)
		}
		if err := loss.Backward(); err != nil {
			return res, err
		}
		if err := tr.DiscOpt.Step(); err != nil {
			return res, err
		}
		v, err := loss.Item()
		if err != nil {
			return res, err
		}
		res.DiscLoss = float64(v)
		res.DiscAcc = acc
	} else {
		res.Kind = GeneratorStep
		loss, err := GeneratorLoss(pred, slot.GT, slot.RefineInput, tr.Disc, tr.Perceptual, tr.Weights)
		if err != nil {
			return res, errors.Wrapf(err, "generator loss at iteration %d", iter)
		}
		if err := loss.Backward(); err != nil {
			return res, err
		}
		if err := tr.GenOpt.Step(); err != nil {
			return res, err
		}
		v, err := loss.Item()
		if err != nil {
			return res, err
		}
		res.GenLoss = float64(v)

		// Generator iterations still measure the discriminator (no update)
		// so the gate reopens once the improving generator pushes its loss
		// back over the threshold.
		dloss, dacc, err := DiscriminatorLoss(slot.RefineInput, pred.Detach(), slot.GT, tr.Disc, tr.Perceptual)
		if err != nil {
			return res, errors.Wrapf(err, "discriminator measurement at iteration %d", iter)
		}
		dv, err := dloss.Item()
		if err != nil {
			return res, err
		}
		res.DiscLoss = float64(dv)
		res.DiscAcc = dacc
	}

	// The adversarial term leaks gradients into whichever network did not
	// step this iteration; clear both.
	tr.GenOpt.ZeroGrad()
	tr.DiscOpt.ZeroGrad()
	return res, nil
}
