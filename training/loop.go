package training

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/scenewise/refinery/checkpoints"
	"github.com/scenewise/refinery/dataset"
	"github.com/scenewise/refinery/projection"
)

// Loop orchestrates refine training: double-buffered prefetch, adversarial
// alternation, periodic validation, checkpointing with retention and a final
// save on exit.
type Loop struct {
	Cfg     Config
	Log     *zap.SugaredLogger
	Trainer *Trainer

	Loader      projection.Loader
	TrainSource *dataset.BatchSource
	ValSource   *dataset.BatchSource // nil disables validation

	RefineTracker *checkpoints.Tracker
	DiscTracker   *checkpoints.Tracker
	OptTracker    *checkpoints.Tracker

	buf       DoubleBuffer
	stop      atomic.Bool
	lastSaved int
}

// RequestStop asks the loop to exit after the in-flight iteration. Safe to
// call from a signal handler goroutine.
func (l *Loop) RequestStop() {
	l.stop.Store(true)
}

// Resume restores the trainable networks and optimizer state from the newest
// tracked checkpoints and returns the iteration to continue from. With no
// checkpoints on disk it returns 0 and leaves the fresh initialization alone.
func (l *Loop) Resume() (int, error) {
	iter := l.RefineTracker.Iter()
	if iter == 0 {
		return 0, nil
	}
	if err := l.Trainer.Cascade.Refine.Load(l.RefineTracker.Latest()); err != nil {
		return 0, err
	}
	if path := l.DiscTracker.Latest(); path != "" {
		if err := l.Trainer.Disc.Load(path); err != nil {
			return 0, err
		}
	}
	if path := l.OptTracker.Latest(); path != "" {
		st, err := checkpoints.LoadOptimizerState(path)
		if err != nil {
			return 0, err
		}
		if err := l.Trainer.GenOpt.LoadState("refine", st.Slots); err != nil {
			return 0, err
		}
		if err := l.Trainer.DiscOpt.LoadState("discriminator", st.Slots); err != nil {
			return 0, err
		}
		l.Trainer.GenOpt.SetStepCount(st.Step)
		l.Trainer.DiscOpt.SetStepCount(int(st.Hyper["disc_step"]))
	}
	return iter, nil
}

// Run trains from startIter to Cfg.MaxIter.
func (l *Loop) Run(ctx context.Context, startIter int) error {
	st := NewState(startIter)
	l.lastSaved = startIter

	// Prime the pipeline: the first batch is fetched synchronously so the
	// first iteration has a slot to consume.
	if err := l.fetch(ctx, l.TrainSource.GetBatch()); err != nil {
		return err
	}

	for st.Iter < l.Cfg.MaxIter {
		if l.stop.Load() {
			l.Log.Infow("stop requested, exiting after save", "iter", st.Iter)
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		st.Iter++
		niter := st.Iter

		if l.ValSource != nil && l.Cfg.ValFreq > 0 && niter%l.Cfg.ValFreq == 0 {
			suffix, err := l.Trainer.Validate(ctx, l.Loader, l.ValSource, l.Cfg.ValIter)
			if err != nil {
				return errors.Wrapf(err, "validation at iteration %d", niter)
			}
			st.ValSuffix = suffix
		}

		// Promote the prefetched slot and overlap the next fetch with the
		// optimization step.
		l.buf.Swap()
		samples := l.TrainSource.GetBatch()
		fetchDone := make(chan error, 1)
		go func() {
			fetchDone <- l.fetch(ctx, samples)
		}()

		res, err := l.Trainer.Step(niter, l.buf.Current(), st.PrevDiscLoss)
		if err != nil {
			return err
		}
		// Every non-skipped step carries a fresh discriminator loss; the
		// gate must track the latest one, not only discriminator steps,
		// or it would close permanently the first time the loss dips
		// under the threshold.
		if !res.Skipped {
			st.Window.Add(res)
			st.PrevDiscLoss = res.DiscLoss
		}

		if err := <-fetchDone; err != nil {
			return err
		}

		if l.Cfg.LogFreq > 0 && niter%l.Cfg.LogFreq == 0 && st.Window.Len() > 2 {
			l.Log.Infof("iter %d | %s%s", niter, st.Window.Summary(), st.ValSuffix)
			st.Window.Reset()
			st.ValSuffix = ""
		}

		if l.Cfg.ChkptFreq > 0 && niter%l.Cfg.ChkptFreq == 0 {
			if err := l.save(niter); err != nil {
				return err
			}
		}
	}

	if st.Iter > l.lastSaved {
		return l.save(st.Iter)
	}
	return nil
}

// fetch fills the next slot. A degenerate batch is not an error; it leaves
// the slot unusable so the consuming step is skipped.
func (l *Loop) fetch(ctx context.Context, samples []dataset.Sample) error {
	err := l.buf.FetchInto(ctx, l.Trainer.Cascade, l.Loader, samples)
	if projection.IsDegenerate(err) {
		return nil
	}
	return err
}

// save writes the refiner, discriminator and optimizer checkpoints for one
// iteration and applies the retention policy to each artifact kind.
func (l *Loop) save(iter int) error {
	rpath := checkpoints.Path(l.Cfg.ExpDir, iter, checkpoints.KindRefine)
	if err := l.Trainer.Cascade.Refine.Save(rpath, iter); err != nil {
		return err
	}
	l.RefineTracker.Record(iter, rpath)

	dpath := checkpoints.Path(l.Cfg.ExpDir, iter, checkpoints.KindDiscriminator)
	if err := l.Trainer.Disc.Save(dpath, iter); err != nil {
		return err
	}
	l.DiscTracker.Record(iter, dpath)

	opath := checkpoints.Path(l.Cfg.ExpDir, iter, checkpoints.KindOptimizer)
	ost := &checkpoints.OptimizerState{
		Type:      "adam",
		Iteration: iter,
		Step:      l.Trainer.GenOpt.StepCount(),
		Hyper: map[string]float64{
			"lr":        l.Trainer.GenOpt.GetLR(),
			"disc_step": float64(l.Trainer.DiscOpt.StepCount()),
		},
		Slots: append(l.Trainer.GenOpt.State("refine"), l.Trainer.DiscOpt.State("discriminator")...),
	}
	if err := checkpoints.SaveOptimizerState(opath, ost); err != nil {
		return err
	}
	l.OptTracker.Record(iter, opath)

	for _, t := range []*checkpoints.Tracker{l.RefineTracker, l.DiscTracker, l.OptTracker} {
		if err := t.Clean(l.Cfg.SaveFreq, l.Cfg.KeepLast); err != nil {
			return err
		}
	}
	l.lastSaved = iter
	l.Log.Infow("checkpoint saved", "iter", iter, "dir", l.Cfg.ExpDir)
	return nil
}
