package checkpoints

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
)

// WeightTensor is one named parameter tensor in a checkpoint.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// WeightFile is the on-disk model checkpoint: the stage's parameters plus
// enough training state to resume.
type WeightFile struct {
	Stage     string         `json:"stage"`
	Iteration int            `json:"iteration"`
	SavedAt   time.Time      `json:"saved_at"`
	Weights   []WeightTensor `json:"weights"`
}

// SaveWeights writes a weight checkpoint, creating the directory on demand.
func SaveWeights(path string, wf *WeightFile) error {
	if wf.SavedAt.IsZero() {
		wf.SavedAt = time.Now()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "creating checkpoint directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating checkpoint file %s", path)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	if err := enc.Encode(wf); err != nil {
		return errors.Wrapf(err, "encoding checkpoint %s", path)
	}
	return nil
}

// LoadWeights reads a weight checkpoint.
func LoadWeights(path string) (*WeightFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening checkpoint file %s", path)
	}
	defer f.Close()

	var wf WeightFile
	if err := json.NewDecoder(f).Decode(&wf); err != nil {
		return nil, errors.Wrapf(err, "decoding checkpoint %s", path)
	}
	return &wf, nil
}
