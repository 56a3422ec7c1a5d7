package qsvm

import (
	"fmt"
	"slices"
)

// ConfusionMatrix counts predictions: Counts[i][j] is the number of samples
// of class Labels[i] predicted as Labels[j].
type ConfusionMatrix struct {
	Labels []int
	Counts [][]int
}

// Confusion builds the matrix over the sorted union of the labels in yTrue,
// yPred and extra. Passing the dataset classes as extra keeps the matrix
// k×k when a small test set misses a class.
func Confusion(yTrue, yPred []int, extra ...int) (*ConfusionMatrix, error) {
	if len(yTrue) != len(yPred) {
		return nil, fmt.Errorf("%w: %d labels, %d predictions", ErrDimensionMismatch, len(yTrue), len(yPred))
	}

	labels := slices.Concat(yTrue, yPred, extra)
	slices.Sort(labels)
	labels = slices.Compact(labels)

	cm := &ConfusionMatrix{
		Labels: labels,
		Counts: make([][]int, len(labels)),
	}
	for i := range cm.Counts {
		cm.Counts[i] = make([]int, len(labels))
	}

	for k := range yTrue {
		i, _ := slices.BinarySearch(labels, yTrue[k])
		j, _ := slices.BinarySearch(labels, yPred[k])
		cm.Counts[i][j]++
	}

	return cm, nil
}

func (cm *ConfusionMatrix) Total() int {
	total := 0
	for _, row := range cm.Counts {
		for _, v := range row {
			total += v
		}
	}
	return total
}

// Accuracy is the trace over the total, or 0 for an empty matrix.
func (cm *ConfusionMatrix) Accuracy() float64 {
	total := cm.Total()
	if total == 0 {
		return 0
	}

	correct := 0
	for i := range cm.Counts {
		correct += cm.Counts[i][i]
	}
	return float64(correct) / float64(total)
}
