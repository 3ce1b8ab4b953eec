package training

import (
	"os"
	"runtime"
	"strconv"

	"github.com/scenewise/refinery/optimizer"
	"github.com/scenewise/refinery/projection"
)

// LossWeights balances the three generator loss terms.
type LossWeights struct {
	Pixel       float32
	Perceptual  float32
	Adversarial float32
}

// Config collects the hyperparameters driving a refine-training run.
type Config struct {
	Spec      projection.InputSpec
	BatchSize int
	CropSize  int

	Weights        LossWeights
	DiscLossThresh float64

	MaxIter   int
	LogFreq   int
	ChkptFreq int // save cadence in iterations
	SaveFreq  int // iteration multiple kept permanently by retention
	KeepLast  int // recent checkpoints kept besides permanent ones
	ValFreq   int
	ValIter   int

	Adam optimizer.AdamConfig

	ExpDir string
}

// DefaultConfig mirrors the training defaults of the original experiments.
func DefaultConfig() Config {
	return Config{
		Spec:      projection.DepthSIFT,
		BatchSize: 4,
		CropSize:  256,
		Weights: LossWeights{
			Pixel:       1,
			Perceptual:  1,
			Adversarial: 1,
		},
		DiscLossThresh: 0.5,
		MaxIter:        250000,
		LogFreq:        1000,
		ChkptFreq:      10000,
		SaveFreq:       50000,
		KeepLast:       1,
		ValFreq:        10000,
		ValIter:        64,
		Adam:           optimizer.DefaultAdamConfig(),
		ExpDir:         "wts",
	}
}

// ApplyThreadLimit caps Go's compute parallelism from the OMP_NUM_THREADS
// environment variable when set, matching how the original runs were pinned
// on shared machines.
func ApplyThreadLimit() {
	raw := os.Getenv("OMP_NUM_THREADS")
	if raw == "" {
		return
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return
	}
	runtime.GOMAXPROCS(n)
}
