package engine

import (
	"errors"
	"math"

	"github.com/23skdu/longbow-s2s/internal/logger"
	"github.com/23skdu/longbow-s2s/internal/metrics"
)

var ErrEmptyDistribution = errors.New("empty output distribution")

// Greedy returns the index of the highest probability. Ties go to the lowest
// index and NaN entries are skipped; an all-NaN distribution yields 0.
func Greedy(probs []float32) (int, error) {
	if len(probs) == 0 {
		return 0, ErrEmptyDistribution
	}

	maxIdx := 0
	maxVal := probs[0]

	allNaN := true
	for i, v := range probs {
		if !math.IsNaN(float64(v)) {
			allNaN = false
			if v > maxVal || math.IsNaN(float64(maxVal)) {
				maxVal = v
				maxIdx = i
			}
		}
	}

	if allNaN {
		logger.Log.Warn("greedy: all probabilities are NaN, returning index 0", "size", len(probs))
		metrics.RecordNaNDistribution()
		return 0, nil
	}

	return maxIdx, nil
}
