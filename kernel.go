package qsvm

import (
	"context"
	"fmt"
	"strings"
)

/*
Kernel estimates the overlap |<φ(x2)|φ(x1)>|^2 of two embedded samples by
preparing U(x1), undoing it with U(x2)† and measuring every wire. The
kernel value is the probability of reading all zeros.
*/
type Kernel struct {
	embedding Embedding
	device    Device
	shots     int
}

// NewKernel returns a kernel on device. shots == 0 asks for exact
// probabilities where the device supports them.
func NewKernel(embedding Embedding, device Device, shots int) *Kernel {
	return &Kernel{embedding: embedding, device: device, shots: shots}
}

func (k *Kernel) Embedding() Embedding {
	return k.embedding
}

func (k *Kernel) Device() Device {
	return k.device
}

// Circuit builds the kernel circuit for the pair.
func (k *Kernel) Circuit(x1, x2 []float64) (*Circuit, error) {
	u1, err := k.embedding.Encode(x1)
	if err != nil {
		return nil, err
	}

	u2, err := k.embedding.Encode(x2)
	if err != nil {
		return nil, err
	}

	c := u1.Compose(u2.Adjoint())
	c.Shots = k.shots
	return c, nil
}

func (k *Kernel) Evaluate(ctx context.Context, x1, x2 []float64) (float64, error) {
	if k.device == nil {
		return 0, ErrNoDevice
	}

	c, err := k.Circuit(x1, x2)
	if err != nil {
		return 0, err
	}

	result, err := k.device.Execute(ctx, c)
	if err != nil {
		return 0, fmt.Errorf("kernel on %s: %w", k.device.Name(), err)
	}

	return result.Probability(strings.Repeat("0", c.NumQubits)), nil
}
