package training

import (
	"fmt"

	"gonum.org/v1/gonum/stat"
)

// Accumulator gathers per-step losses between log lines. The discriminator
// loss and accuracy arrive with every step; the generator loss only on
// generator steps.
type Accumulator struct {
	steps int
	gen   []float64
	disc  []float64
	acc   []float64
}

// Add records a non-skipped step result.
func (a *Accumulator) Add(r Result) {
	if r.Skipped {
		return
	}
	a.steps++
	if r.Kind == GeneratorStep {
		a.gen = append(a.gen, r.GenLoss)
	}
	a.disc = append(a.disc, r.DiscLoss)
	a.acc = append(a.acc, r.DiscAcc)
}

// Len returns the number of recorded steps.
func (a *Accumulator) Len() int {
	return a.steps
}

// Reset clears the window.
func (a *Accumulator) Reset() {
	a.steps = 0
	a.gen = a.gen[:0]
	a.disc = a.disc[:0]
	a.acc = a.acc[:0]
}

// Summary formats the smoothed window means for a training log line.
func (a *Accumulator) Summary() string {
	return fmt.Sprintf("gloss %.4f (%d) | dloss %.4f dacc %.3f (%d)",
		mean(a.gen), len(a.gen), mean(a.disc), mean(a.acc), len(a.disc))
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}

// State threads the mutable training bookkeeping through the loop; there is
// no package-level mutable state.
type State struct {
	Iter         int
	PrevDiscLoss float64
	Window       Accumulator
	ValSuffix    string
}

// NewState starts at the given iteration with the alternation gate open.
func NewState(startIter int) *State {
	return &State{Iter: startIter, PrevDiscLoss: initialDiscLoss}
}
