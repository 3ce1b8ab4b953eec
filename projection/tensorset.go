package projection

import (
	"github.com/pkg/errors"

	"github.com/scenewise/refinery/tensor"
)

// TensorSet holds the aligned per-pixel grids for one batch. Depth is
// [N,H,W,1], RGB and GT are [N,H,W,3], SIFT is [N,H,W,128]. RGB and SIFT
// hold raw byte-range values; normalization to [-1,1] happens when a stage
// input is assembled.
type TensorSet struct {
	Depth *tensor.Tensor
	RGB   *tensor.Tensor
	SIFT  *tensor.Tensor
	GT    *tensor.Tensor
}

// BatchSize returns the leading dimension of the set.
func (ts *TensorSet) BatchSize() int {
	return ts.Depth.Shape[0]
}

// CropSize returns the spatial extent of the grids.
func (ts *TensorSet) CropSize() int {
	return ts.Depth.Shape[1]
}

func (ts *TensorSet) validate() error {
	n, h, w := ts.Depth.Shape[0], ts.Depth.Shape[1], ts.Depth.Shape[2]
	check := func(t *tensor.Tensor, c int, name string) error {
		if len(t.Shape) != 4 || t.Shape[0] != n || t.Shape[1] != h || t.Shape[2] != w || t.Shape[3] != c {
			return errors.Errorf("%s grid %v does not align with depth grid [%d %d %d 1]", name, t.Shape, n, h, w)
		}
		return nil
	}
	if err := check(ts.Depth, 1, "depth"); err != nil {
		return err
	}
	if err := check(ts.RGB, 3, "rgb"); err != nil {
		return err
	}
	if err := check(ts.SIFT, 128, "sift"); err != nil {
		return err
	}
	return check(ts.GT, 3, "gt")
}

// ToUnitRange maps byte-range values [0,255] to [-1,1].
func ToUnitRange(t *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Affine(t, 1.0/127.5, -1.0)
}

// ToDisplayRange maps [-1,1] predictions back to byte range.
func ToDisplayRange(t *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Affine(t, 127.5, 127.5)
}

// StageInput assembles the visibility/coarse conditioning tensor for the
// spec: depth followed by normalized SIFT and RGB channels when selected.
func (ts *TensorSet) StageInput(spec InputSpec) (*tensor.Tensor, error) {
	parts := []*tensor.Tensor{ts.Depth}
	if spec.HasSIFT() {
		sift, err := ToUnitRange(ts.SIFT)
		if err != nil {
			return nil, err
		}
		parts = append(parts, sift)
	}
	if spec.HasRGB() {
		rgb, err := ToUnitRange(ts.RGB)
		if err != nil {
			return nil, err
		}
		parts = append(parts, rgb)
	}
	if len(parts) == 1 {
		return ts.Depth, nil
	}
	return tensor.ConcatChannels(parts...)
}

// MaskedStageInput assembles the coarse-stage input: every selected channel
// is multiplied by the visibility mask before normalization, so masked
// pixels carry zero raw values.
func (ts *TensorSet) MaskedStageInput(spec InputSpec, mask *tensor.Tensor) (*tensor.Tensor, error) {
	depth, err := tensor.MulMask(ts.Depth, mask)
	if err != nil {
		return nil, err
	}
	parts := []*tensor.Tensor{depth}
	if spec.HasSIFT() {
		masked, err := tensor.MulMask(ts.SIFT, mask)
		if err != nil {
			return nil, err
		}
		sift, err := ToUnitRange(masked)
		if err != nil {
			return nil, err
		}
		parts = append(parts, sift)
	}
	if spec.HasRGB() {
		masked, err := tensor.MulMask(ts.RGB, mask)
		if err != nil {
			return nil, err
		}
		rgb, err := ToUnitRange(masked)
		if err != nil {
			return nil, err
		}
		parts = append(parts, rgb)
	}
	if len(parts) == 1 {
		return depth, nil
	}
	return tensor.ConcatChannels(parts...)
}
