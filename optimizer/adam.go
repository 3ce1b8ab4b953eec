package optimizer

import (
	"math"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/scenewise/refinery/checkpoints"
	"github.com/scenewise/refinery/tensor"
)

// AdamConfig holds the Adam hyperparameters.
type AdamConfig struct {
	LR      float64
	Beta1   float64
	Beta2   float64
	Epsilon float64
}

// DefaultAdamConfig mirrors the training defaults: lr 1e-4, momentum 0.9,
// epsilon 1e-8.
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{LR: 1e-4, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8}
}

// Adam implements the Adam update rule over named parameters. Parameter
// order is fixed by sorted name, so runs are reproducible.
type Adam struct {
	config AdamConfig
	names  []string
	params map[string]*tensor.Tensor
	m      map[string][]float32
	v      map[string][]float32
	step   int
}

// NewAdam creates an Adam optimizer over the given parameters.
func NewAdam(params map[string]*tensor.Tensor, config AdamConfig) *Adam {
	names := make([]string, 0, len(params))
	for n := range params {
		names = append(names, n)
	}
	sort.Strings(names)

	a := &Adam{
		config: config,
		names:  names,
		params: params,
		m:      make(map[string][]float32, len(params)),
		v:      make(map[string][]float32, len(params)),
	}
	for n, p := range params {
		a.m[n] = make([]float32, p.NumElems)
		a.v[n] = make([]float32, p.NumElems)
	}
	return a
}

// Step applies one Adam update using the gradients accumulated on the
// parameters. Parameters without a gradient are left untouched.
func (a *Adam) Step() error {
	a.step++
	bc1 := 1 - math.Pow(a.config.Beta1, float64(a.step))
	bc2 := 1 - math.Pow(a.config.Beta2, float64(a.step))
	b1 := float32(a.config.Beta1)
	b2 := float32(a.config.Beta2)

	for _, n := range a.names {
		p := a.params[n]
		grad := p.Grad()
		if grad == nil {
			continue
		}
		if grad.NumElems != p.NumElems {
			return errors.Errorf("gradient for %s has %d elements, parameter has %d", n, grad.NumElems, p.NumElems)
		}
		m := a.m[n]
		v := a.v[n]
		for i, g := range grad.Data {
			m[i] = b1*m[i] + (1-b1)*g
			v[i] = b2*v[i] + (1-b2)*g*g
			mhat := float64(m[i]) / bc1
			vhat := float64(v[i]) / bc2
			p.Data[i] -= float32(a.config.LR * mhat / (math.Sqrt(vhat) + a.config.Epsilon))
		}
	}
	return nil
}

// ZeroGrad clears the gradients on every parameter.
func (a *Adam) ZeroGrad() {
	for _, p := range a.params {
		p.ZeroGrad()
	}
}

// GetLR returns the current learning rate.
func (a *Adam) GetLR() float64 {
	return a.config.LR
}

// SetLR changes the learning rate for subsequent steps.
func (a *Adam) SetLR(lr float64) {
	a.config.LR = lr
}

// StepCount returns the number of updates taken.
func (a *Adam) StepCount() int {
	return a.step
}

// State exports the moment estimates for checkpointing, names prefixed
// with the owning stage.
func (a *Adam) State(prefix string) []checkpoints.OptimizerSlot {
	var slots []checkpoints.OptimizerSlot
	for _, n := range a.names {
		p := a.params[n]
		shape := append([]int(nil), p.Shape...)
		slots = append(slots,
			checkpoints.OptimizerSlot{Name: prefix + "/" + n, Kind: "m", Shape: shape, Data: append([]float32(nil), a.m[n]...)},
			checkpoints.OptimizerSlot{Name: prefix + "/" + n, Kind: "v", Shape: shape, Data: append([]float32(nil), a.v[n]...)},
		)
	}
	return slots
}

// LoadState restores moment estimates saved by State. Slots for other
// prefixes are ignored; a slot naming an unknown parameter is an error.
func (a *Adam) LoadState(prefix string, slots []checkpoints.OptimizerSlot) error {
	for _, s := range slots {
		if !strings.HasPrefix(s.Name, prefix+"/") {
			continue
		}
		n := strings.TrimPrefix(s.Name, prefix+"/")
		var dst []float32
		switch s.Kind {
		case "m":
			dst = a.m[n]
		case "v":
			dst = a.v[n]
		default:
			return errors.Errorf("unknown optimizer slot kind %q for %s", s.Kind, s.Name)
		}
		if dst == nil {
			return errors.Errorf("optimizer state references unknown parameter %s", s.Name)
		}
		if len(s.Data) != len(dst) {
			return errors.Errorf("optimizer slot %s holds %d values, want %d", s.Name, len(s.Data), len(dst))
		}
		copy(dst, s.Data)
	}
	return nil
}

// SetStepCount restores the update counter from a checkpoint.
func (a *Adam) SetStepCount(step int) {
	a.step = step
}
