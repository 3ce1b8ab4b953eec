package projection

import (
	"context"
	"encoding/binary"
	"hash/fnv"
	"math"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/scenewise/refinery/dataset"
	"github.com/scenewise/refinery/tensor"
)

// ErrDegenerateBatch marks a batch whose projections contain no valid
// points. Training and validation steps skip such batches instead of
// failing; any other load error is a real fault and propagates.
var ErrDegenerateBatch = errors.New("projection batch has no valid points")

// IsDegenerate reports whether err stems from a degenerate batch.
func IsDegenerate(err error) bool {
	return errors.Is(err, ErrDegenerateBatch)
}

// Loader turns a batch of annotation rows into aligned projection grids.
// The colmap parsing and 3D-point projection geometry live behind this
// interface.
type Loader interface {
	LoadBatch(ctx context.Context, samples []dataset.Sample) (*TensorSet, error)
}

// Augmentation controls the point-dropout applied after loading. Zero
// values disable it (validation uses the full point set).
type Augmentation struct {
	PctPointsMin float64
	PctPointsMax float64
	Rng          *rand.Rand
}

// RawGridLoader reads pre-projected grids stored as raw little-endian
// float32 files relative to a data root: the points-xyz column names the
// depth grid [S,S,1], points-rgb and the ground-truth column name [S,S,3]
// grids and points-sift names the [S,S,128] descriptor grid, with S the
// grid size. The camera column is consumed by the upstream projector and
// ignored here. When the stored grids are larger than the crop, training
// takes a random crop per sample and validation/inference the center crop.
type RawGridLoader struct {
	Root     string
	GridSize int // spatial extent of the stored grids; 0 means CropSize
	CropSize int
	Augment  *Augmentation
}

func (l *RawGridLoader) gridSize() int {
	if l.GridSize == 0 {
		return l.CropSize
	}
	return l.GridSize
}

// cropOrigin picks the crop window for one sample.
func (l *RawGridLoader) cropOrigin() (int, int) {
	margin := l.gridSize() - l.CropSize
	if margin == 0 {
		return 0, 0
	}
	if l.Augment != nil && l.Augment.Rng != nil {
		return l.Augment.Rng.Intn(margin + 1), l.Augment.Rng.Intn(margin + 1)
	}
	return margin / 2, margin / 2
}

// LoadBatch implements Loader.
func (l *RawGridLoader) LoadBatch(ctx context.Context, samples []dataset.Sample) (*TensorSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if l.gridSize() < l.CropSize {
		return nil, errors.Errorf("grid size %d is smaller than crop size %d", l.gridSize(), l.CropSize)
	}
	n := len(samples)
	h, w := l.CropSize, l.CropSize
	ts, err := newTensorSet(n, h, w)
	if err != nil {
		return nil, err
	}
	for i, s := range samples {
		// One window per sample, shared by all of its grids so the
		// channels stay aligned.
		oy, ox := l.cropOrigin()
		if err := l.readGrid(s.PointsXYZ, 1, oy, ox, ts.Depth.Data[i*h*w:(i+1)*h*w]); err != nil {
			return nil, err
		}
		if err := l.readGrid(s.PointsRGB, 3, oy, ox, ts.RGB.Data[i*h*w*3:(i+1)*h*w*3]); err != nil {
			return nil, err
		}
		if err := l.readGrid(s.PointsSIFT, 128, oy, ox, ts.SIFT.Data[i*h*w*128:(i+1)*h*w*128]); err != nil {
			return nil, err
		}
		if err := l.readGrid(s.GTImage, 3, oy, ox, ts.GT.Data[i*h*w*3:(i+1)*h*w*3]); err != nil {
			return nil, err
		}
	}
	return finishBatch(ts, l.Augment)
}

// readGrid decodes the crop window of one stored grid into dst.
func (l *RawGridLoader) readGrid(rel string, channels, oy, ox int, dst []float32) error {
	path := filepath.Join(l.Root, rel)
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "reading grid %s", path)
	}
	s := l.gridSize()
	if len(raw) != s*s*channels*4 {
		return errors.Errorf("grid %s holds %d bytes, want %d", path, len(raw), s*s*channels*4)
	}
	crop := l.CropSize
	for y := 0; y < crop; y++ {
		srcBase := ((oy+y)*s + ox) * channels
		dstBase := y * crop * channels
		for i := 0; i < crop*channels; i++ {
			dst[dstBase+i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[(srcBase+i)*4:]))
		}
	}
	return nil
}

// SyntheticLoader fabricates deterministic grids from the sample paths.
// Used by tests and smoke runs where no projection data exists on disk.
// ValidFraction controls how many pixels carry a positive depth; zero makes
// every batch degenerate.
type SyntheticLoader struct {
	CropSize      int
	ValidFraction float64
	Augment       *Augmentation
}

// LoadBatch implements Loader.
func (l *SyntheticLoader) LoadBatch(ctx context.Context, samples []dataset.Sample) (*TensorSet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n := len(samples)
	h, w := l.CropSize, l.CropSize
	ts, err := newTensorSet(n, h, w)
	if err != nil {
		return nil, err
	}
	for i, s := range samples {
		seed := fnv.New64a()
		seed.Write([]byte(s.PointsXYZ))
		rng := rand.New(rand.NewSource(int64(seed.Sum64())))
		base := i * h * w
		for p := 0; p < h*w; p++ {
			if rng.Float64() < l.ValidFraction {
				ts.Depth.Data[base+p] = float32(1 + rng.Float64()*9)
			}
			for c := 0; c < 3; c++ {
				ts.RGB.Data[(base+p)*3+c] = float32(rng.Intn(256))
				ts.GT.Data[(base+p)*3+c] = float32(rng.Intn(256))
			}
			for c := 0; c < 128; c++ {
				ts.SIFT.Data[(base+p)*128+c] = float32(rng.Intn(256))
			}
		}
	}
	return finishBatch(ts, l.Augment)
}

func newTensorSet(n, h, w int) (*TensorSet, error) {
	depth, err := tensor.Zeros([]int{n, h, w, 1})
	if err != nil {
		return nil, err
	}
	rgb, _ := tensor.Zeros([]int{n, h, w, 3})
	sift, _ := tensor.Zeros([]int{n, h, w, 128})
	gt, _ := tensor.Zeros([]int{n, h, w, 3})
	return &TensorSet{Depth: depth, RGB: rgb, SIFT: sift, GT: gt}, nil
}

// finishBatch applies validity masking and augmentation, then rejects
// batches with no surviving points.
func finishBatch(ts *TensorSet, aug *Augmentation) (*TensorSet, error) {
	if err := ts.validate(); err != nil {
		return nil, err
	}
	MaskValid(ts)
	if aug != nil && aug.PctPointsMax > 0 {
		ApplyPointDropout(ts, aug.PctPointsMin, aug.PctPointsMax, aug.Rng)
	}
	if _, valid := ValidMask(ts.Depth); valid == 0 {
		return nil, ErrDegenerateBatch
	}
	return ts, nil
}
