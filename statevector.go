package qsvm

import (
	"fmt"
	"math"
	"math/cmplx"
	"math/rand/v2"
	"strings"
)

// StateVector holds the 2^n amplitudes of an n-qubit register. Wire 0 is
// the most significant bit of the basis index, so the bitstring of index k
// reads wire 0 first.
type StateVector struct {
	n    int
	amps []complex128
}

// NewStateVector returns |0...0> on n qubits.
func NewStateVector(n int) *StateVector {
	amps := make([]complex128, 1<<n)
	amps[0] = 1
	return &StateVector{n: n, amps: amps}
}

func (sv *StateVector) NumQubits() int {
	return sv.n
}

// Amplitude returns the amplitude of basis index k.
func (sv *StateVector) Amplitude(k int) complex128 {
	return sv.amps[k]
}

func (sv *StateVector) mask(wire int) int {
	return 1 << (sv.n - 1 - wire)
}

// Apply1 applies a single-qubit unitary m to wire.
func (sv *StateVector) Apply1(wire int, m [2][2]complex128) {
	bit := sv.mask(wire)
	for k := range sv.amps {
		if k&bit != 0 {
			continue
		}
		a0, a1 := sv.amps[k], sv.amps[k|bit]
		sv.amps[k] = m[0][0]*a0 + m[0][1]*a1
		sv.amps[k|bit] = m[1][0]*a0 + m[1][1]*a1
	}
}

// ApplyControlled applies m to target on the subspace where control is |1>.
func (sv *StateVector) ApplyControlled(control, target int, m [2][2]complex128) {
	cbit, tbit := sv.mask(control), sv.mask(target)
	for k := range sv.amps {
		if k&cbit == 0 || k&tbit != 0 {
			continue
		}
		a0, a1 := sv.amps[k], sv.amps[k|tbit]
		sv.amps[k] = m[0][0]*a0 + m[0][1]*a1
		sv.amps[k|tbit] = m[1][0]*a0 + m[1][1]*a1
	}
}

// ApplyZZ applies exp(-i θ/2 Z⊗Z) to wires a and b.
func (sv *StateVector) ApplyZZ(a, b int, theta float64) {
	abit, bbit := sv.mask(a), sv.mask(b)
	same := cmplx.Exp(complex(0, -theta/2))
	diff := cmplx.Exp(complex(0, theta/2))
	for k := range sv.amps {
		if (k&abit != 0) == (k&bbit != 0) {
			sv.amps[k] *= same
		} else {
			sv.amps[k] *= diff
		}
	}
}

// Probabilities returns |amplitude|^2 per basis index, renormalized to
// absorb rounding drift.
func (sv *StateVector) Probabilities() []float64 {
	probs := make([]float64, len(sv.amps))
	total := 0.0
	for i, amplitude := range sv.amps {
		p := cmplx.Abs(amplitude)
		p *= p
		probs[i] = p
		total += p
	}
	if total > 0 {
		for i := range probs {
			probs[i] /= total
		}
	}
	return probs
}

// Sample draws shots measurements of every wire and returns counts keyed by
// bitstring.
func (sv *StateVector) Sample(shots int, rng *rand.Rand) map[string]int {
	probs := sv.Probabilities()
	counts := make(map[string]int)

	for s := 0; s < shots; s++ {
		r := rng.Float64()
		cumulative := 0.0
		measured := len(probs) - 1
		for i, p := range probs {
			cumulative += p
			if r < cumulative {
				measured = i
				break
			}
		}
		counts[sv.Bitstring(measured)]++
	}

	return counts
}

// Bitstring renders basis index k with wire 0 first.
func (sv *StateVector) Bitstring(k int) string {
	var b strings.Builder
	for wire := 0; wire < sv.n; wire++ {
		if k&sv.mask(wire) != 0 {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

// Norm is the L2 norm of the amplitudes; unitary evolution keeps it at 1.
func (sv *StateVector) Norm() float64 {
	total := 0.0
	for _, a := range sv.amps {
		total += real(a)*real(a) + imag(a)*imag(a)
	}
	return math.Sqrt(total)
}

func (sv *StateVector) String() string {
	parts := make([]string, 0, len(sv.amps))
	for k, a := range sv.amps {
		if cmplx.Abs(a) < 1e-12 {
			continue
		}
		parts = append(parts, fmt.Sprintf("(%.4f%+.4fi)|%s>", real(a), imag(a), sv.Bitstring(k)))
	}
	return strings.Join(parts, " + ")
}

func hadamard() [2][2]complex128 {
	h := complex(1/math.Sqrt2, 0)
	return [2][2]complex128{{h, h}, {h, -h}}
}

func pauliX() [2][2]complex128 {
	return [2][2]complex128{{0, 1}, {1, 0}}
}

func pauliZ() [2][2]complex128 {
	return [2][2]complex128{{1, 0}, {0, -1}}
}

func rotationX(theta float64) [2][2]complex128 {
	c, s := complex(math.Cos(theta/2), 0), complex(0, -math.Sin(theta/2))
	return [2][2]complex128{{c, s}, {s, c}}
}

func rotationY(theta float64) [2][2]complex128 {
	c, s := complex(math.Cos(theta/2), 0), complex(math.Sin(theta/2), 0)
	return [2][2]complex128{{c, -s}, {s, c}}
}

func rotationZ(theta float64) [2][2]complex128 {
	return [2][2]complex128{
		{cmplx.Exp(complex(0, -theta/2)), 0},
		{0, cmplx.Exp(complex(0, theta/2))},
	}
}
