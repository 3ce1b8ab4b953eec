// Package optimizer implements the parameter-update rules for the
// trainable stages. Optimizers operate on named parameter tensors so their
// state can be checkpointed and restored alongside the model weights.
package optimizer

import (
	"github.com/scenewise/refinery/checkpoints"
)

// Optimizer is the contract the training loop drives.
type Optimizer interface {
	Step() error      // Updates parameters from their accumulated gradients
	ZeroGrad()        // Clears gradients on all parameters
	GetLR() float64   // Current learning rate
	SetLR(lr float64) // Adjusts the learning rate
	State(prefix string) []checkpoints.OptimizerSlot
	LoadState(prefix string, slots []checkpoints.OptimizerSlot) error
	StepCount() int
	SetStepCount(step int)
}
