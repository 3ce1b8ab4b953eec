package projection

import (
	"github.com/pkg/errors"
)

// InputSpec selects which per-point attribute channels feed the cascade.
// Resolved once at configuration time; downstream code only consumes the
// fixed channel counts it reports.
type InputSpec int

const (
	Depth InputSpec = iota
	DepthSIFT
	DepthRGB
	DepthSIFTRGB
)

const (
	depthChannels = 1
	rgbChannels   = 3
	siftChannels  = 128
)

func (s InputSpec) String() string {
	switch s {
	case Depth:
		return "depth"
	case DepthSIFT:
		return "depth_sift"
	case DepthRGB:
		return "depth_rgb"
	case DepthSIFTRGB:
		return "depth_sift_rgb"
	default:
		return "unknown"
	}
}

// ParseInputSpec resolves the CLI string form.
func ParseInputSpec(s string) (InputSpec, error) {
	switch s {
	case "depth":
		return Depth, nil
	case "depth_sift":
		return DepthSIFT, nil
	case "depth_rgb":
		return DepthRGB, nil
	case "depth_sift_rgb":
		return DepthSIFTRGB, nil
	default:
		return 0, errors.Errorf("unknown input_attr %q (want depth, depth_sift, depth_rgb or depth_sift_rgb)", s)
	}
}

// HasSIFT reports whether descriptor channels are part of the input.
func (s InputSpec) HasSIFT() bool {
	return s == DepthSIFT || s == DepthSIFTRGB
}

// HasRGB reports whether per-point color channels are part of the input.
func (s InputSpec) HasRGB() bool {
	return s == DepthRGB || s == DepthSIFTRGB
}

// StageChannels is the channel count of the visibility/coarse stage input.
func (s InputSpec) StageChannels() int {
	c := depthChannels
	if s.HasSIFT() {
		c += siftChannels
	}
	if s.HasRGB() {
		c += rgbChannels
	}
	return c
}

// RefineChannels is the channel count of the refine stage input: the coarse
// RGB prediction concatenated with the conditioning channels.
func (s InputSpec) RefineChannels() int {
	return rgbChannels + s.StageChannels()
}
