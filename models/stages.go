package models

import (
	"math/rand"

	"github.com/scenewise/refinery/projection"
)

// NewVisibNet builds the per-pixel visibility classifier for the given
// input variant. Output is a [N,H,W,1] probability map.
func NewVisibNet(spec projection.InputSpec, rng *rand.Rand) Stage {
	return newConvNet("visibnet", spec.StageChannels(), []int{16, 16}, 1, actSigmoid, rng)
}

// NewCoarseNet builds the coarse dense-image predictor. Output is a
// [N,H,W,3] image in [-1,1].
func NewCoarseNet(spec projection.InputSpec, rng *rand.Rand) Stage {
	return newConvNet("coarsenet", spec.StageChannels(), []int{32, 32}, 3, actTanh, rng)
}

// NewRefineNet builds the adversarially trained refiner. It consumes the
// coarse prediction concatenated with its conditioning input and outputs
// the final [N,H,W,3] image in [-1,1].
func NewRefineNet(spec projection.InputSpec, rng *rand.Rand) Stage {
	return newConvNet("refinenet", spec.RefineChannels(), []int{32, 32}, 3, actTanh, rng)
}
