package training

import (
	"context"

	"github.com/scenewise/refinery/dataset"
	"github.com/scenewise/refinery/models"
	"github.com/scenewise/refinery/projection"
	"github.com/scenewise/refinery/tensor"
)

// Slot holds one prefetched refine batch: the assembled refine input and
// the ground truth it will be scored against. Slots carry detached tensors,
// so training the refiner never backpropagates into the fixed front of the
// cascade.
type Slot struct {
	RefineInput *tensor.Tensor
	GT          *tensor.Tensor
	ok          bool
}

// Ready reports whether the slot holds a usable batch.
func (s *Slot) Ready() bool {
	return s.ok
}

// DoubleBuffer decouples batch preparation from optimization. While the
// refiner trains on the current slot, the next batch is loaded and pushed
// through the fixed visibility/coarse stages into the next slot. The refiner
// therefore always trains on the batch fetched one iteration earlier. Each
// iteration has exactly one writer (the fetch) and one reader (the step) per
// slot, so no locking is needed.
type DoubleBuffer struct {
	current Slot
	next    Slot
}

// Current returns the slot the optimization step consumes.
func (b *DoubleBuffer) Current() *Slot {
	return &b.current
}

// Swap promotes the next slot to current. The stale current slot becomes
// the next fetch target.
func (b *DoubleBuffer) Swap() {
	b.current, b.next = b.next, b.current
}

// FetchInto loads a batch and runs the fixed front of the cascade, filling
// the next slot. The current slot is never touched. A degenerate batch
// leaves the next slot unusable and returns projection.ErrDegenerateBatch.
func (b *DoubleBuffer) FetchInto(ctx context.Context, c *models.Cascade, loader projection.Loader, samples []dataset.Sample) error {
	b.next.ok = false
	ts, err := loader.LoadBatch(ctx, samples)
	if err != nil {
		return err
	}
	out, err := c.CoarsePass(ts)
	if err != nil {
		return err
	}
	b.next.RefineInput = out.RefineInput.Detach()
	b.next.GT = ts.GT.Detach()
	b.next.ok = true
	return nil
}
