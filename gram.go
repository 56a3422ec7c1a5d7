package qsvm

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrShapeMismatch is returned when the number of values is not rows*cols.
	ErrShapeMismatch = errors.New("qsvm: kernel values do not match matrix shape")
	// ErrOrderMismatch is returned when a value sits at the wrong flat index.
	ErrOrderMismatch = errors.New("qsvm: kernel value out of row-major order")
)

// KernelValue is one kernel entry tagged with the cell it belongs to.
type KernelValue struct {
	Row   int
	Col   int
	Value float64
}

// AssembleGram lays values out row-major: flat index i*cols+j becomes cell
// (i, j). Each value must carry the cell its flat index implies.
func AssembleGram(values []KernelValue, rows, cols int) (*mat.Dense, error) {
	if rows <= 0 || cols <= 0 || len(values) != rows*cols {
		return nil, fmt.Errorf("%w: %d values for %dx%d", ErrShapeMismatch, len(values), rows, cols)
	}

	data := make([]float64, len(values))
	for k, v := range values {
		if v.Row != k/cols || v.Col != k%cols {
			return nil, fmt.Errorf("%w: index %d holds (%d,%d), want (%d,%d)", ErrOrderMismatch, k, v.Row, v.Col, k/cols, k%cols)
		}
		data[k] = v.Value
	}

	return mat.NewDense(rows, cols, data), nil
}

// ReshapeRowMajor reshapes untagged values, checking only their count.
func ReshapeRowMajor(flat []float64, rows, cols int) (*mat.Dense, error) {
	if rows <= 0 || cols <= 0 || len(flat) != rows*cols {
		return nil, fmt.Errorf("%w: %d values for %dx%d", ErrShapeMismatch, len(flat), rows, cols)
	}
	return mat.NewDense(rows, cols, append([]float64(nil), flat...)), nil
}

// IsSymmetric reports whether a square matrix equals its transpose within tol.
func IsSymmetric(m mat.Matrix, tol float64) bool {
	r, c := m.Dims()
	if r != c {
		return false
	}
	return mat.EqualApprox(m, m.T(), tol)
}
