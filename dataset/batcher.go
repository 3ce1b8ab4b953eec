package dataset

import (
	"math/rand"

	"github.com/pkg/errors"
)

// BatchSource yields shuffled fixed-size batches of annotation rows. The
// shuffle order is a pure function of the seed, so constructing a source
// with startIter=K reproduces the batch an uninterrupted run would see at
// iteration K. Once an epoch's rows are exhausted the permutation is redrawn.
type BatchSource struct {
	samples   []Sample
	batchSize int
	rng       *rand.Rand
	perm      []int
	pos       int
}

// NewBatchSource loads the annotation file and fast-forwards to startIter.
func NewBatchSource(annsPath string, batchSize, startIter int, seed int64) (*BatchSource, error) {
	samples, err := LoadAnnotations(annsPath)
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		return nil, errors.Errorf("batch size must be positive, got %d", batchSize)
	}
	if batchSize > len(samples) {
		return nil, errors.Errorf("batch size %d exceeds %d annotation rows in %s", batchSize, len(samples), annsPath)
	}

	b := &BatchSource{
		samples:   samples,
		batchSize: batchSize,
		rng:       rand.New(rand.NewSource(seed)),
	}
	b.reshuffle()
	for i := 0; i < startIter; i++ {
		b.advance()
	}
	return b, nil
}

// Len returns the number of annotation rows.
func (b *BatchSource) Len() int {
	return len(b.samples)
}

// GetBatch returns the next batch of samples.
func (b *BatchSource) GetBatch() []Sample {
	batch := make([]Sample, b.batchSize)
	for i, idx := range b.perm[b.pos : b.pos+b.batchSize] {
		batch[i] = b.samples[idx]
	}
	b.advance()
	return batch
}

// advance moves past the batch at the current position, redrawing the
// permutation when the remaining rows cannot fill another batch.
func (b *BatchSource) advance() {
	b.pos += b.batchSize
	if b.pos+b.batchSize > len(b.perm) {
		b.reshuffle()
	}
}

func (b *BatchSource) reshuffle() {
	b.perm = b.rng.Perm(len(b.samples))
	b.pos = 0
}
