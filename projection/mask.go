package projection

import (
	"math/rand"

	"github.com/scenewise/refinery/tensor"
)

// ValidMask returns a [N,H,W,1] mask that is 1 where a 3D point projected
// with positive depth, and the count of valid pixels.
func ValidMask(depth *tensor.Tensor) (*tensor.Tensor, int) {
	mask, _ := tensor.Zeros(depth.Shape)
	valid := 0
	for i, d := range depth.Data {
		if d > 0 {
			mask.Data[i] = 1
			valid++
		}
	}
	return mask, valid
}

// CombineVisibility builds the multiplicative mask for the coarse stage:
// the visibility prediction binarized at 0.5, ANDed with geometric validity.
// A pixel with no valid projection stays masked no matter what the
// visibility stage predicts.
func CombineVisibility(visProb, valid *tensor.Tensor) *tensor.Tensor {
	mask, _ := tensor.Zeros(valid.Shape)
	for i := range mask.Data {
		if visProb.Data[i] > 0.5 && valid.Data[i] > 0 {
			mask.Data[i] = 1
		}
	}
	return mask
}

// ApplyPointDropout randomly drops projected points for augmentation. Each
// sample draws its keep probability from [pctMin,pctMax]/100; a dropped
// pixel is zeroed across depth, SIFT and RGB together (one noise grid per
// sample, shared by all channels). Values already zeroed by the validity
// mask stay zero.
func ApplyPointDropout(ts *TensorSet, pctMin, pctMax float64, rng *rand.Rand) {
	n, h, w := ts.Depth.Shape[0], ts.Depth.Shape[1], ts.Depth.Shape[2]
	pixels := h * w
	for b := 0; b < n; b++ {
		keep := (pctMin + rng.Float64()*(pctMax-pctMin)) / 100.0
		for p := 0; p < pixels; p++ {
			if rng.Float64() < keep {
				continue
			}
			idx := b*pixels + p
			ts.Depth.Data[idx] = 0
			for c := 0; c < 3; c++ {
				ts.RGB.Data[idx*3+c] = 0
			}
			for c := 0; c < 128; c++ {
				ts.SIFT.Data[idx*128+c] = 0
			}
		}
	}
}

// MaskValid zeroes every channel at pixels whose depth is not positive.
// Run before dropout so augmentation only ever removes real points.
func MaskValid(ts *TensorSet) int {
	mask, valid := ValidMask(ts.Depth)
	pixels := mask.NumElems
	for p := 0; p < pixels; p++ {
		if mask.Data[p] != 0 {
			continue
		}
		ts.Depth.Data[p] = 0
		for c := 0; c < 3; c++ {
			ts.RGB.Data[p*3+c] = 0
		}
		for c := 0; c < 128; c++ {
			ts.SIFT.Data[p*128+c] = 0
		}
	}
	return valid
}
