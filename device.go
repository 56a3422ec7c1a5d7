package qsvm

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"sync/atomic"
	"time"
)

var (
	// ErrNoDevice is returned when no device is configured or available.
	ErrNoDevice = errors.New("qsvm: no quantum device available")
	// ErrDeviceJobFailed is returned when a device reports a failed job.
	ErrDeviceJobFailed = errors.New("qsvm: device job failed")
)

// Device executes circuits. Implementations must be safe for concurrent use.
type Device interface {
	Name() string
	Execute(ctx context.Context, c *Circuit) (*ExecutionResult, error)
}

// ExecutionResult holds measurement outcomes keyed by bitstring, wire 0
// first. Counts is empty for analytic runs.
type ExecutionResult struct {
	JobID         string             `json:"job_id"`
	Counts        map[string]int     `json:"counts"`
	Probabilities map[string]float64 `json:"probabilities"`
	Shots         int                `json:"shots"`
	TimeUsed      time.Duration      `json:"time_used"`
	BackendName   string             `json:"backend"`
}

// Probability of observing bitstring, from exact probabilities when present
// and from counts otherwise.
func (r *ExecutionResult) Probability(bitstring string) float64 {
	if r.Probabilities != nil {
		return r.Probabilities[bitstring]
	}
	if r.Shots == 0 {
		return 0
	}
	return float64(r.Counts[bitstring]) / float64(r.Shots)
}

// Simulator is an in-process state-vector device.
type Simulator struct {
	name string
	seed uint64
	jobs atomic.Uint64
}

func NewSimulator(name string, seed uint64) *Simulator {
	if name == "" {
		name = "simulator"
	}
	return &Simulator{name: name, seed: seed}
}

func (s *Simulator) Name() string {
	return s.name
}

// Execute simulates c. Sampling draws from a generator seeded by the device
// seed and the circuit itself, so a given circuit always yields the same
// counts regardless of scheduling order.
func (s *Simulator) Execute(ctx context.Context, c *Circuit) (*ExecutionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()

	sv, err := c.Simulate()
	if err != nil {
		return nil, err
	}

	result := &ExecutionResult{
		JobID:       fmt.Sprintf("%s-%d", s.name, s.jobs.Add(1)),
		Shots:       c.Shots,
		BackendName: s.name,
	}

	if c.Shots == 0 {
		probs := sv.Probabilities()
		result.Probabilities = make(map[string]float64, len(probs))
		for k, p := range probs {
			result.Probabilities[sv.Bitstring(k)] = p
		}
	} else {
		h := fnv.New64a()
		h.Write([]byte(c.QASM()))
		circuitSeed := h.Sum64()
		rng := rand.New(rand.NewPCG(s.seed, s.seed^circuitSeed))
		result.Counts = sv.Sample(c.Shots, rng)
	}

	result.TimeUsed = time.Since(start)
	return result, nil
}

// NewDevice builds the device named in cfg: "simulator" or "remote".
func NewDevice(cfg DeviceConfig) (Device, error) {
	switch cfg.Name {
	case "", "simulator":
		return NewSimulator("simulator", cfg.Seed), nil
	case "remote":
		remote := cfg.Remote
		if len(remote.Backends) == 0 {
			return nil, fmt.Errorf("%w: remote device without backends", ErrNoDevice)
		}

		devices := make([]Device, 0, len(remote.Backends))
		for _, backend := range remote.Backends {
			devices = append(devices, NewRemoteDevice(backend, remote))
		}
		if len(devices) == 1 {
			return devices[0], nil
		}
		return NewDeviceBalancer(devices, remote.Capacity), nil
	default:
		return nil, fmt.Errorf("%w: unknown device %q", ErrNoDevice, cfg.Name)
	}
}
