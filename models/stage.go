package models

import (
	"math/rand"
	"sort"

	"github.com/pkg/errors"

	"github.com/scenewise/refinery/checkpoints"
	"github.com/scenewise/refinery/tensor"
)

// Mode selects between batch normalization statistics (Train) and frozen
// running statistics (Eval). Pretrained stages held fixed run in Eval; only
// the stage currently being trained runs in Train.
type Mode int

const (
	Train Mode = iota
	Eval
)

func (m Mode) String() string {
	if m == Eval {
		return "eval"
	}
	return "train"
}

// Stage is the uniform contract every model in the cascade satisfies. The
// network internals are opaque to the orchestrator; it only forwards
// tensors, flips modes and moves weights in and out.
type Stage interface {
	Name() string
	Forward(in *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor
	NamedParameters() map[string]*tensor.Tensor
	SetMode(Mode)
	Mode() Mode
	Load(path string) error
	Save(path string, iter int) error
}

// paramStore carries the shared weight bookkeeping for concrete stages.
type paramStore struct {
	name   string
	mode   Mode
	params map[string]*tensor.Tensor
	// extra non-trainable state serialized with the weights
	// (normalization running statistics).
	stats map[string][]float32
}

func newParamStore(name string) *paramStore {
	return &paramStore{
		name:   name,
		mode:   Train,
		params: make(map[string]*tensor.Tensor),
		stats:  make(map[string][]float32),
	}
}

func (ps *paramStore) Name() string {
	return ps.name
}

func (ps *paramStore) register(name string, t *tensor.Tensor, trainable bool) *tensor.Tensor {
	t.SetRequiresGrad(trainable)
	ps.params[name] = t
	return t
}

func (ps *paramStore) SetMode(m Mode) {
	ps.mode = m
}

func (ps *paramStore) Mode() Mode {
	return ps.mode
}

// Parameters returns the trainable tensors in deterministic name order.
func (ps *paramStore) Parameters() []*tensor.Tensor {
	names := make([]string, 0, len(ps.params))
	for n, t := range ps.params {
		if t.RequiresGrad() {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	out := make([]*tensor.Tensor, len(names))
	for i, n := range names {
		out[i] = ps.params[n]
	}
	return out
}

// NamedParameters returns every trainable tensor keyed by name.
func (ps *paramStore) NamedParameters() map[string]*tensor.Tensor {
	out := make(map[string]*tensor.Tensor, len(ps.params))
	for n, t := range ps.params {
		if t.RequiresGrad() {
			out[n] = t
		}
	}
	return out
}

// Save writes all parameters and running statistics as a weight checkpoint.
func (ps *paramStore) Save(path string, iter int) error {
	wf := &checkpoints.WeightFile{Stage: ps.name, Iteration: iter}
	names := make([]string, 0, len(ps.params))
	for n := range ps.params {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		t := ps.params[n]
		wf.Weights = append(wf.Weights, checkpoints.WeightTensor{
			Name:  n,
			Shape: append([]int(nil), t.Shape...),
			Data:  append([]float32(nil), t.Data...),
		})
	}
	statNames := make([]string, 0, len(ps.stats))
	for n := range ps.stats {
		statNames = append(statNames, n)
	}
	sort.Strings(statNames)
	for _, n := range statNames {
		s := ps.stats[n]
		wf.Weights = append(wf.Weights, checkpoints.WeightTensor{
			Name:  n,
			Shape: []int{len(s)},
			Data:  append([]float32(nil), s...),
		})
	}
	return checkpoints.SaveWeights(path, wf)
}

// Load restores parameters and running statistics from a weight checkpoint.
// Every tensor in the store must be present with a matching shape.
func (ps *paramStore) Load(path string) error {
	wf, err := checkpoints.LoadWeights(path)
	if err != nil {
		return errors.Wrapf(err, "loading %s weights", ps.name)
	}
	byName := make(map[string]checkpoints.WeightTensor, len(wf.Weights))
	for _, w := range wf.Weights {
		byName[w.Name] = w
	}
	for n, t := range ps.params {
		w, ok := byName[n]
		if !ok {
			return errors.Errorf("%s: checkpoint %s is missing tensor %s", ps.name, path, n)
		}
		loaded, err := tensor.NewTensor(w.Shape, w.Data)
		if err != nil {
			return errors.Wrapf(err, "%s: tensor %s", ps.name, n)
		}
		if err := t.CopyFrom(loaded); err != nil {
			return errors.Wrapf(err, "%s: tensor %s", ps.name, n)
		}
	}
	for n, s := range ps.stats {
		w, ok := byName[n]
		if !ok {
			return errors.Errorf("%s: checkpoint %s is missing statistics %s", ps.name, path, n)
		}
		if len(w.Data) != len(s) {
			return errors.Errorf("%s: statistics %s hold %d values, want %d", ps.name, n, len(w.Data), len(s))
		}
		copy(s, w.Data)
	}
	return nil
}

func xavierPair(inC, outC int, rng *rand.Rand) (*tensor.Tensor, *tensor.Tensor) {
	w, _ := tensor.XavierUniform([]int{inC, outC}, inC, outC, rng)
	b, _ := tensor.Zeros([]int{outC})
	return w, b
}
