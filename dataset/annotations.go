package dataset

import (
	"bufio"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Number of columns in an annotation row. Column order is fixed:
// points-xyz, points-rgb, points-sift, camera, ground-truth image.
const annotationColumns = 5

// Sample references the on-disk artifacts for one training example.
// Immutable once read.
type Sample struct {
	PointsXYZ  string
	PointsRGB  string
	PointsSIFT string
	Camera     string
	GTImage    string
}

// LoadAnnotations reads a plain-text annotation file with one sample per
// line. Malformed rows are an error, not silently skipped, and an empty
// file is an error.
func LoadAnnotations(path string) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening annotation file %s", path)
	}
	defer f.Close()

	var samples []Sample
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cols := strings.Fields(line)
		if len(cols) != annotationColumns {
			return nil, errors.Errorf("%s:%d: expected %d columns, got %d", path, lineNo, annotationColumns, len(cols))
		}
		samples = append(samples, Sample{
			PointsXYZ:  cols[0],
			PointsRGB:  cols[1],
			PointsSIFT: cols[2],
			Camera:     cols[3],
			GTImage:    cols[4],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "reading annotation file %s", path)
	}
	if len(samples) == 0 {
		return nil, errors.Errorf("annotation file %s has no usable rows", path)
	}
	return samples, nil
}
