package qsvm

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrDimensionMismatch is returned for kernel matrices that do not fit
	// the labels or the trained model.
	ErrDimensionMismatch = errors.New("qsvm: kernel matrix dimension mismatch")
	// ErrSingleClass is returned when training labels hold only one class.
	ErrSingleClass = errors.New("qsvm: training data has a single class")
	// ErrNotFitted is returned when predicting with an untrained classifier.
	ErrNotFitted = errors.New("qsvm: classifier is not fitted")
)

// tau replaces a non-positive curvature, which shot noise can produce in an
// estimated kernel.
const tau = 1e-12

/*
SVC is a C-support vector classifier on a precomputed kernel. Binary
problems are solved by SMO with maximal violating pair selection;
multi-class problems train one machine per pair of classes and predict by
vote, ties going to the lower class.
*/
type SVC struct {
	C       float64
	Tol     float64
	MaxIter int

	classes  []int
	machines []binaryMachine
	nTrain   int
}

// binaryMachine separates classes[pos] (+1) from classes[neg] (-1).
type binaryMachine struct {
	pos, neg int
	support  []int
	coef     []float64
	rho      float64
	iters    int
}

func NewSVC(cfg SVMConfig) *SVC {
	return &SVC{C: cfg.C, Tol: cfg.Tol, MaxIter: cfg.MaxIter}
}

// Classes returns the sorted training labels.
func (s *SVC) Classes() []int {
	return slices.Clone(s.classes)
}

// NumSupport is the number of distinct training samples used as support
// vectors by any of the machines.
func (s *SVC) NumSupport() int {
	seen := make(map[int]struct{})
	for _, m := range s.machines {
		for _, i := range m.support {
			seen[i] = struct{}{}
		}
	}
	return len(seen)
}

// Fit trains on the square training kernel K and labels y.
func (s *SVC) Fit(K *mat.Dense, y []int) error {
	r, c := K.Dims()
	if r != c || r != len(y) {
		return fmt.Errorf("%w: kernel %dx%d for %d labels", ErrDimensionMismatch, r, c, len(y))
	}

	classes := slices.Clone(y)
	slices.Sort(classes)
	classes = slices.Compact(classes)
	if len(classes) < 2 {
		return fmt.Errorf("%w: %v", ErrSingleClass, classes)
	}

	C := s.C
	if C <= 0 {
		C = 1
	}
	tol := s.Tol
	if tol <= 0 {
		tol = 1e-3
	}
	maxIter := s.MaxIter
	if maxIter <= 0 {
		maxIter = 10000
	}

	s.classes = classes
	s.nTrain = r
	s.machines = s.machines[:0]

	for a := 0; a < len(classes); a++ {
		for b := a + 1; b < len(classes); b++ {
			var idx []int
			var signs []float64
			for i, label := range y {
				switch label {
				case classes[a]:
					idx = append(idx, i)
					signs = append(signs, 1)
				case classes[b]:
					idx = append(idx, i)
					signs = append(signs, -1)
				}
			}

			m := solveSMO(K, idx, signs, C, tol, maxIter)
			m.pos, m.neg = a, b
			s.machines = append(s.machines, m)

			logger.Debug("trained pair",
				"pos", classes[a], "neg", classes[b],
				"support", len(m.support), "rho", m.rho, "iterations", m.iters,
			)
		}
	}

	return nil
}

// DecisionFunction returns one column per class pair, in (0,1), (0,2), ...
// (1,2) order. K holds kernel values between test rows and training columns.
func (s *SVC) DecisionFunction(K *mat.Dense) (*mat.Dense, error) {
	if len(s.machines) == 0 {
		return nil, ErrNotFitted
	}

	r, c := K.Dims()
	if c != s.nTrain {
		return nil, fmt.Errorf("%w: kernel has %d columns, model has %d training samples", ErrDimensionMismatch, c, s.nTrain)
	}

	out := mat.NewDense(r, len(s.machines), nil)
	for k := 0; k < r; k++ {
		for p, m := range s.machines {
			sum := 0.0
			for t, i := range m.support {
				sum += m.coef[t] * K.At(k, i)
			}
			out.Set(k, p, sum-m.rho)
		}
	}

	return out, nil
}

func (s *SVC) Predict(K *mat.Dense) ([]int, error) {
	dec, err := s.DecisionFunction(K)
	if err != nil {
		return nil, err
	}

	r, _ := dec.Dims()
	out := make([]int, r)
	votes := make([]int, len(s.classes))

	for k := 0; k < r; k++ {
		clear(votes)
		for p, m := range s.machines {
			if dec.At(k, p) > 0 {
				votes[m.pos]++
			} else {
				votes[m.neg]++
			}
		}

		best := 0
		for i := 1; i < len(votes); i++ {
			if votes[i] > votes[best] {
				best = i
			}
		}
		out[k] = s.classes[best]
	}

	return out, nil
}

/*
solveSMO minimises ½αᵀQα − eᵀα subject to 0 ≤ α ≤ C and yᵀα = 0, with
Q_ij = y_i y_j K_ij over the training rows idx. Each step updates the
maximal violating pair; it stops once the violation drops below tol.
*/
func solveSMO(K *mat.Dense, idx []int, y []float64, C, tol float64, maxIter int) binaryMachine {
	n := len(idx)
	alpha := make([]float64, n)
	grad := make([]float64, n)
	for t := range grad {
		grad[t] = -1
	}

	q := func(a, b int) float64 {
		return y[a] * y[b] * K.At(idx[a], idx[b])
	}

	upper := func(t int) bool { return alpha[t] >= C }
	lower := func(t int) bool { return alpha[t] <= 0 }

	iter := 0
	for ; iter < maxIter; iter++ {
		i, j := -1, -1
		gmax, gmin := math.Inf(-1), math.Inf(1)

		for t := 0; t < n; t++ {
			v := -y[t] * grad[t]
			if (y[t] > 0 && !upper(t)) || (y[t] < 0 && !lower(t)) {
				if v >= gmax {
					gmax, i = v, t
				}
			}
			if (y[t] < 0 && !upper(t)) || (y[t] > 0 && !lower(t)) {
				if v <= gmin {
					gmin, j = v, t
				}
			}
		}

		if i < 0 || j < 0 || gmax-gmin < tol {
			break
		}

		oldI, oldJ := alpha[i], alpha[j]

		if y[i] != y[j] {
			quad := q(i, i) + q(j, j) + 2*q(i, j)
			if quad <= 0 {
				quad = tau
			}
			delta := (-grad[i] - grad[j]) / quad
			diff := alpha[i] - alpha[j]
			alpha[i] += delta
			alpha[j] += delta

			if diff > 0 {
				if alpha[j] < 0 {
					alpha[j] = 0
					alpha[i] = diff
				}
			} else if alpha[i] < 0 {
				alpha[i] = 0
				alpha[j] = -diff
			}
			if diff > 0 {
				if alpha[i] > C {
					alpha[i] = C
					alpha[j] = C - diff
				}
			} else if alpha[j] > C {
				alpha[j] = C
				alpha[i] = C + diff
			}
		} else {
			quad := q(i, i) + q(j, j) - 2*q(i, j)
			if quad <= 0 {
				quad = tau
			}
			delta := (grad[i] - grad[j]) / quad
			sum := alpha[i] + alpha[j]
			alpha[i] -= delta
			alpha[j] += delta

			if sum > C {
				if alpha[i] > C {
					alpha[i] = C
					alpha[j] = sum - C
				}
			} else if alpha[j] < 0 {
				alpha[j] = 0
				alpha[i] = sum
			}
			if sum > C {
				if alpha[j] > C {
					alpha[j] = C
					alpha[i] = sum - C
				}
			} else if alpha[i] < 0 {
				alpha[i] = 0
				alpha[j] = sum
			}
		}

		dI, dJ := alpha[i]-oldI, alpha[j]-oldJ
		for t := 0; t < n; t++ {
			grad[t] += q(t, i)*dI + q(t, j)*dJ
		}
	}

	m := binaryMachine{rho: rho(alpha, grad, y, C), iters: iter}
	for t, a := range alpha {
		if a > 0 {
			m.support = append(m.support, idx[t])
			m.coef = append(m.coef, a*y[t])
		}
	}
	return m
}

// rho is the bias: the mean of y·G over free variables, or the midpoint of
// the feasible interval when every variable sits at a bound.
func rho(alpha, grad, y []float64, C float64) float64 {
	ub, lb := math.Inf(1), math.Inf(-1)
	sumFree, nFree := 0.0, 0

	for t := range alpha {
		yG := y[t] * grad[t]
		switch {
		case alpha[t] >= C:
			if y[t] < 0 {
				ub = min(ub, yG)
			} else {
				lb = max(lb, yG)
			}
		case alpha[t] <= 0:
			if y[t] > 0 {
				ub = min(ub, yG)
			} else {
				lb = max(lb, yG)
			}
		default:
			nFree++
			sumFree += yG
		}
	}

	if nFree > 0 {
		return sumFree / float64(nFree)
	}
	return (ub + lb) / 2
}
