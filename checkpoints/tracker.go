package checkpoints

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

// Artifact kinds saved per checkpoint iteration.
const (
	KindRefine        = "rmodel"
	KindDiscriminator = "dmodel"
	KindOptimizer     = "opt"
)

// Extension per artifact kind: model weights are JSON checkpoints,
// optimizer state is a protobuf blob.
func extForKind(kind string) string {
	if kind == KindOptimizer {
		return "pb"
	}
	return "json"
}

// Path builds the canonical checkpoint file name,
// iter_<7-digit-iteration>.<kind>.<ext>.
func Path(dir string, iter int, kind string) string {
	return filepath.Join(dir, fmt.Sprintf("iter_%07d.%s.%s", iter, kind, extForKind(kind)))
}

// Glob matches every checkpoint of one kind in dir.
func Glob(dir, kind string) string {
	return filepath.Join(dir, fmt.Sprintf("iter_*.%s.%s", kind, extForKind(kind)))
}

// Iterations past 9999999 overflow the zero-padded field, so the pattern
// accepts seven or more digits.
var iterPattern = regexp.MustCompile(`iter_(\d{7,})\.`)

// Tracker discovers on-disk checkpoints for one artifact kind and applies
// the retention policy. Mirrors the saver-side naming exactly, so a fresh
// Tracker over an existing experiment directory resumes where the previous
// run stopped.
type Tracker struct {
	glob  string
	files map[int]string
}

// NewTracker scans for files matching glob. A missing directory is not an
// error; it simply yields no checkpoints.
func NewTracker(glob string) (*Tracker, error) {
	t := &Tracker{glob: glob}
	if err := t.Rescan(); err != nil {
		return nil, err
	}
	return t, nil
}

// Rescan re-reads the directory state.
func (t *Tracker) Rescan() error {
	matches, err := filepath.Glob(t.glob)
	if err != nil {
		return errors.Wrapf(err, "scanning checkpoints %s", t.glob)
	}
	t.files = make(map[int]string)
	for _, m := range matches {
		sub := iterPattern.FindStringSubmatch(filepath.Base(m))
		if sub == nil {
			continue
		}
		iter, err := strconv.Atoi(sub[1])
		if err != nil {
			continue
		}
		t.files[iter] = m
	}
	return nil
}

// Iter returns the highest checkpoint iteration found, 0 if none.
func (t *Tracker) Iter() int {
	max := 0
	for iter := range t.files {
		if iter > max {
			max = iter
		}
	}
	return max
}

// Latest returns the path of the newest checkpoint, "" if none exist.
func (t *Tracker) Latest() string {
	return t.files[t.Iter()]
}

// Record registers a freshly saved checkpoint without rescanning.
func (t *Tracker) Record(iter int, path string) {
	if t.files == nil {
		t.files = make(map[int]string)
	}
	t.files[iter] = path
}

// Clean applies the retention policy: keep the `last` most recent
// checkpoints plus every checkpoint whose iteration is a multiple of
// `every` (permanent milestones, disabled when every <= 0), delete the
// rest. The newest checkpoint is never deleted.
func (t *Tracker) Clean(every, last int) error {
	if last < 1 {
		last = 1
	}
	iters := make([]int, 0, len(t.files))
	for iter := range t.files {
		iters = append(iters, iter)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(iters)))

	for rank, iter := range iters {
		if rank < last {
			continue
		}
		if every > 0 && iter%every == 0 {
			continue
		}
		if err := os.Remove(t.files[iter]); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "removing checkpoint %s", t.files[iter])
		}
		delete(t.files, iter)
	}
	return nil
}
