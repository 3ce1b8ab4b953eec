package training

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/scenewise/refinery/dataset"
	"github.com/scenewise/refinery/models"
	"github.com/scenewise/refinery/projection"
)

// Validate runs the trainable networks in Eval mode over iters held-out
// batches and returns a log-line suffix with the averaged figures. Degenerate
// batches are skipped, as in training. Train mode is restored on return.
func (tr *Trainer) Validate(ctx context.Context, loader projection.Loader, source *dataset.BatchSource, iters int) (string, error) {
	tr.Cascade.Refine.SetMode(models.Eval)
	tr.Disc.SetMode(models.Eval)
	defer func() {
		tr.Cascade.Refine.SetMode(models.Train)
		tr.Disc.SetMode(models.Train)
	}()

	// Validation owns its slot pair so a concurrent training prefetch can
	// never be clobbered.
	var buf DoubleBuffer
	var gen, disc, acc []float64
	for i := 0; i < iters; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		err := buf.FetchInto(ctx, tr.Cascade, loader, source.GetBatch())
		if projection.IsDegenerate(err) {
			continue
		}
		if err != nil {
			return "", err
		}
		buf.Swap()
		slot := buf.Current()

		pred, err := tr.Cascade.RefinePass(slot.RefineInput)
		if err != nil {
			return "", err
		}
		gloss, err := GeneratorLoss(pred, slot.GT, slot.RefineInput, tr.Disc, tr.Perceptual, tr.Weights)
		if err != nil {
			return "", err
		}
		gv, err := gloss.Item()
		if err != nil {
			return "", err
		}
		dloss, dacc, err := DiscriminatorLoss(slot.RefineInput, pred.Detach(), slot.GT, tr.Disc, tr.Perceptual)
		if err != nil {
			return "", err
		}
		dv, err := dloss.Item()
		if err != nil {
			return "", err
		}
		gen = append(gen, float64(gv))
		disc = append(disc, float64(dv))
		acc = append(acc, dacc)
	}
	if len(gen) == 0 {
		return " | val skipped (no valid batches)", nil
	}
	return fmt.Sprintf(" | val gloss %.4f dloss %.4f dacc %.3f (%d)",
		stat.Mean(gen, nil), stat.Mean(disc, nil), stat.Mean(acc, nil), len(gen)), nil
}
