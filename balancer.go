package qsvm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNoAvailableDevices is returned when every device's breaker is open.
var ErrNoAvailableDevices = errors.New("qsvm: no devices available to run circuit")

/*
DeviceBalancer spreads circuits over several devices, picking the one with
the fewest jobs in flight and, on a tie, the lowest recent latency. Devices
whose breaker is open are skipped. When every usable device is at capacity,
Execute waits for a slot instead of failing.

It is a Device itself, so a kernel does not know it is talking to several
backends, and a Regulator, so the dispatcher holds back electrons while
every device is saturated.
*/
type DeviceBalancer struct {
	mu sync.RWMutex

	devices  []Device
	loads    []int
	latency  []time.Duration
	capacity int
	metrics  *Metrics

	// released is closed and replaced whenever a slot frees up.
	released chan struct{}
	recheck  time.Duration
}

func NewDeviceBalancer(devices []Device, capacity int) *DeviceBalancer {
	return &DeviceBalancer{
		devices:  devices,
		loads:    make([]int, len(devices)),
		latency:  make([]time.Duration, len(devices)),
		capacity: max(1, capacity),
		released: make(chan struct{}),
		recheck:  250 * time.Millisecond,
	}
}

func (lb *DeviceBalancer) Name() string {
	return fmt.Sprintf("balancer[%d]", len(lb.devices))
}

// Execute runs c on the selected device.
func (lb *DeviceBalancer) Execute(ctx context.Context, c *Circuit) (*ExecutionResult, error) {
	idx, err := lb.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	result, err := lb.devices[idx].Execute(ctx, c)
	lb.RecordJobComplete(idx, time.Since(start))

	return result, err
}

func (lb *DeviceBalancer) Observe(metrics *Metrics) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.metrics = metrics
}

// Limit reports whether every device is at capacity.
func (lb *DeviceBalancer) Limit() bool {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	for i := range lb.devices {
		if lb.loads[i] < lb.capacity && lb.available(i) {
			return false
		}
	}
	return true
}

// Renormalize clamps loads that drifted past capacity.
func (lb *DeviceBalancer) Renormalize() {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	for i := range lb.loads {
		if lb.loads[i] > lb.capacity {
			lb.loads[i] = lb.capacity
		}
	}
}

// Acquire reserves a slot on the device to use next and returns its index.
// It waits while every usable device is full, rechecking periodically so a
// breaker that has cooled down is noticed. Release the slot with
// RecordJobComplete.
func (lb *DeviceBalancer) Acquire(ctx context.Context) (int, error) {
	for {
		lb.mu.Lock()
		idx, usable := lb.selectDevice()
		if idx >= 0 {
			lb.loads[idx]++
			lb.mu.Unlock()
			return idx, nil
		}
		released := lb.released
		lb.mu.Unlock()

		if !usable {
			return -1, ErrNoAvailableDevices
		}

		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-released:
		case <-time.After(lb.recheck):
		}
	}
}

// SelectDevice returns the index of the device to use next without
// reserving it.
func (lb *DeviceBalancer) SelectDevice() (int, error) {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	if idx, _ := lb.selectDevice(); idx >= 0 {
		return idx, nil
	}
	return -1, ErrNoAvailableDevices
}

// selectDevice must be called with lb.mu held. usable is false when no
// device could take a job even with a free slot.
func (lb *DeviceBalancer) selectDevice() (selected int, usable bool) {
	selected = -1

	for i := range lb.devices {
		if !lb.available(i) {
			continue
		}
		usable = true
		if lb.loads[i] >= lb.capacity {
			continue
		}

		if selected == -1 {
			selected = i
			continue
		}

		if lb.loads[i] < lb.loads[selected] {
			selected = i
		} else if lb.loads[i] == lb.loads[selected] {
			// Zero latency means the device has not run anything yet.
			if lb.latency[selected] == 0 ||
				(lb.latency[i] > 0 && lb.latency[i] < lb.latency[selected]) {
				selected = i
			}
		}
	}

	if selected == -1 {
		return -1, usable
	}

	logger.Debug("device selected", "device", lb.devices[selected].Name(), "load", lb.loads[selected])
	return selected, true
}

func (lb *DeviceBalancer) RecordJobStart(idx int) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if idx >= 0 && idx < len(lb.loads) {
		lb.loads[idx]++
	}
}

// RecordJobComplete releases a slot and folds duration into a moving
// average of the device latency.
func (lb *DeviceBalancer) RecordJobComplete(idx int, duration time.Duration) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	if idx < 0 || idx >= len(lb.loads) {
		return
	}

	lb.loads[idx] = max(0, lb.loads[idx]-1)
	close(lb.released)
	lb.released = make(chan struct{})

	if lb.latency[idx] == 0 {
		lb.latency[idx] = duration
	} else {
		lb.latency[idx] = (lb.latency[idx]*4 + duration) / 5
	}
}

// Regulators returns the breakers of the balanced remote devices.
func (lb *DeviceBalancer) Regulators() []Regulator {
	var out []Regulator
	for _, d := range lb.devices {
		if remote, ok := d.(*RemoteDevice); ok {
			out = append(out, remote.Breaker())
		}
	}
	return out
}

// available must be called with lb.mu held.
func (lb *DeviceBalancer) available(idx int) bool {
	if remote, ok := lb.devices[idx].(*RemoteDevice); ok {
		return remote.Breaker().Ready()
	}
	return true
}
