package qsvm

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
)

// ErrFeatureCount is returned when a sample does not fit the embedding.
var ErrFeatureCount = errors.New("qsvm: feature count does not match embedding")

// Embedding maps a feature vector to the circuit that prepares its state
// from |0...0>.
type Embedding interface {
	Wires() int
	Encode(x []float64) (*Circuit, error)
}

// AngleEmbedding rotates wire i by x[i] about one axis.
type AngleEmbedding struct {
	wires    int
	rotation string
}

func NewAngleEmbedding(wires int) *AngleEmbedding {
	return &AngleEmbedding{wires: wires, rotation: "RX"}
}

// WithRotation selects "RX", "RY" or "RZ".
func (a *AngleEmbedding) WithRotation(rotation string) *AngleEmbedding {
	a.rotation = rotation
	return a
}

func (a *AngleEmbedding) Wires() int {
	return a.wires
}

func (a *AngleEmbedding) Encode(x []float64) (*Circuit, error) {
	if len(x) != a.wires {
		return nil, fmt.Errorf("%w: %d features on %d wires", ErrFeatureCount, len(x), a.wires)
	}

	c := NewCircuit(a.wires)
	for i, v := range x {
		c.Append(a.rotation, []int{i}, v)
	}
	return c, nil
}

/*
QAOAEmbedding alternates feature layers with trainable-style layers, here
held fixed. Each layer is RX(x_i) on every wire, then a ZZ entangler and RY
local fields; one last feature layer closes the circuit. Weights per layer:

	1 wire:  [ry]
	2 wires: [zz, ry0, ry1]
	n wires: [zz_0..zz_{n-1} on the ring, ry_0..ry_{n-1}]
*/
type QAOAEmbedding struct {
	wires   int
	weights [][]float64
}

// NewQAOAEmbedding draws fixed weights in [0, 2π) from a seeded generator so
// the same seed always yields the same kernel.
func NewQAOAEmbedding(wires, layers int, seed uint64) *QAOAEmbedding {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	weights := make([][]float64, layers)
	for l := range weights {
		weights[l] = make([]float64, qaoaWeightsPerLayer(wires))
		for i := range weights[l] {
			weights[l][i] = rng.Float64() * 2 * math.Pi
		}
	}

	return &QAOAEmbedding{wires: wires, weights: weights}
}

// NewQAOAEmbeddingWithWeights uses caller supplied weights.
func NewQAOAEmbeddingWithWeights(wires int, weights [][]float64) (*QAOAEmbedding, error) {
	for l, layer := range weights {
		if len(layer) != qaoaWeightsPerLayer(wires) {
			return nil, fmt.Errorf("%w: layer %d has %d weights, want %d", ErrFeatureCount, l, len(layer), qaoaWeightsPerLayer(wires))
		}
	}
	return &QAOAEmbedding{wires: wires, weights: weights}, nil
}

func qaoaWeightsPerLayer(wires int) int {
	switch wires {
	case 1:
		return 1
	case 2:
		return 3
	default:
		return 2 * wires
	}
}

func (q *QAOAEmbedding) Wires() int {
	return q.wires
}

func (q *QAOAEmbedding) Layers() int {
	return len(q.weights)
}

func (q *QAOAEmbedding) Encode(x []float64) (*Circuit, error) {
	if len(x) != q.wires {
		return nil, fmt.Errorf("%w: %d features on %d wires", ErrFeatureCount, len(x), q.wires)
	}

	c := NewCircuit(q.wires)
	for _, w := range q.weights {
		q.features(c, x)

		switch q.wires {
		case 1:
			c.Append("RY", []int{0}, w[0])
		case 2:
			c.Append("ZZ", []int{0, 1}, w[0])
			c.Append("RY", []int{0}, w[1])
			c.Append("RY", []int{1}, w[2])
		default:
			for i := 0; i < q.wires; i++ {
				c.Append("ZZ", []int{i, (i + 1) % q.wires}, w[i])
			}
			for i := 0; i < q.wires; i++ {
				c.Append("RY", []int{i}, w[q.wires+i])
			}
		}
	}
	q.features(c, x)

	return c, nil
}

func (q *QAOAEmbedding) features(c *Circuit, x []float64) {
	for i, v := range x {
		c.Append("RX", []int{i}, v)
	}
}

// NewEmbedding builds the embedding named in the device config.
func NewEmbedding(cfg DeviceConfig, wires int) (Embedding, error) {
	switch cfg.Embedding {
	case "", "angle":
		return NewAngleEmbedding(wires), nil
	case "qaoa":
		return NewQAOAEmbedding(wires, max(1, cfg.Layers), cfg.Seed), nil
	default:
		return nil, fmt.Errorf("qsvm: unknown embedding %q", cfg.Embedding)
	}
}
