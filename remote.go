package qsvm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// defaultRemoteShots is used when a circuit asks a hardware backend for
// exact probabilities, which it cannot produce.
const defaultRemoteShots = 1024

type jobStatus string

const (
	jobQueued    jobStatus = "queued"
	jobRunning   jobStatus = "running"
	jobCompleted jobStatus = "completed"
	jobFailed    jobStatus = "failed"
)

type jobRequest struct {
	Backend string `json:"backend"`
	Shots   int    `json:"shots"`
	Format  string `json:"format"`
	Program string `json:"program"`
}

type jobResponse struct {
	ID     string    `json:"id"`
	Status jobStatus `json:"status"`
	Error  string    `json:"error,omitempty"`
}

type jobResults struct {
	Counts   map[string]int `json:"counts"`
	Shots    int            `json:"shots"`
	TimeUsed float64        `json:"time_used"`
}

// RemoteDevice runs circuits on a hosted backend over HTTP: submit the
// program, poll the job until it settles, then fetch counts. Every request
// takes a rate limiter token and transport failures feed a breaker.
type RemoteDevice struct {
	backend  string
	baseURL  string
	token    string
	client   *http.Client
	limiter  *RateLimiter
	breaker  *Breaker
	poll     time.Duration
	inflight atomic.Int64
}

type RemoteOption func(*RemoteDevice)

func WithHTTPClient(client *http.Client) RemoteOption {
	return func(r *RemoteDevice) {
		r.client = client
	}
}

func WithRemoteBreaker(breaker *Breaker) RemoteOption {
	return func(r *RemoteDevice) {
		r.breaker = breaker
	}
}

func NewRemoteDevice(backend string, cfg RemoteConfig, opts ...RemoteOption) *RemoteDevice {
	r := &RemoteDevice{
		backend: backend,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: NewRateLimiter(max(1, cfg.RateLimit), cfg.RefillRate),
		breaker: NewBreaker(5, time.Minute, 1),
		poll:    cfg.PollInterval,
	}
	if r.poll <= 0 {
		r.poll = 500 * time.Millisecond
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

func (r *RemoteDevice) Name() string {
	return r.backend
}

// Breaker exposes the device breaker so callers can register it as a
// dispatcher regulator.
func (r *RemoteDevice) Breaker() *Breaker {
	return r.breaker
}

func (r *RemoteDevice) Limiter() *RateLimiter {
	return r.limiter
}

// InFlight is the number of jobs submitted and not yet settled.
func (r *RemoteDevice) InFlight() int {
	return int(r.inflight.Load())
}

func (r *RemoteDevice) Execute(ctx context.Context, c *Circuit) (*ExecutionResult, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if !r.breaker.Allow() {
		return nil, fmt.Errorf("%w: %s", ErrBreakerOpen, r.backend)
	}

	r.inflight.Add(1)
	defer r.inflight.Add(-1)

	start := time.Now()

	result, err := r.run(ctx, c)
	if err != nil {
		// A job the backend rejected or failed is not a transport fault.
		if ctx.Err() == nil && !isJobFailure(err) {
			r.breaker.RecordFailure()
		}
		return nil, err
	}

	r.breaker.RecordSuccess()
	if result.TimeUsed == 0 {
		result.TimeUsed = time.Since(start)
	}
	return result, nil
}

func (r *RemoteDevice) run(ctx context.Context, c *Circuit) (*ExecutionResult, error) {
	shots := c.Shots
	if shots == 0 {
		shots = defaultRemoteShots
	}

	var job jobResponse
	if err := r.do(ctx, http.MethodPost, "/jobs", jobRequest{
		Backend: r.backend,
		Shots:   shots,
		Format:  "qasm3",
		Program: c.QASM(),
	}, &job); err != nil {
		return nil, fmt.Errorf("submit to %s: %w", r.backend, err)
	}

	logger.Debug("remote job submitted", "backend", r.backend, "job", job.ID, "shots", shots)

	if err := r.wait(ctx, &job); err != nil {
		return nil, err
	}

	var results jobResults
	if err := r.do(ctx, http.MethodGet, "/jobs/"+job.ID+"/results", nil, &results); err != nil {
		return nil, fmt.Errorf("results of %s: %w", job.ID, err)
	}
	if results.Shots == 0 {
		results.Shots = shots
	}

	return &ExecutionResult{
		JobID:       job.ID,
		Counts:      results.Counts,
		Shots:       results.Shots,
		TimeUsed:    time.Duration(results.TimeUsed * float64(time.Second)),
		BackendName: r.backend,
	}, nil
}

func (r *RemoteDevice) wait(ctx context.Context, job *jobResponse) error {
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		switch job.Status {
		case jobCompleted:
			return nil
		case jobFailed:
			return fmt.Errorf("%w: %s on %s: %s", ErrDeviceJobFailed, job.ID, r.backend, job.Error)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", job.ID, ctx.Err())
		case <-ticker.C:
		}

		id := job.ID
		if err := r.do(ctx, http.MethodGet, "/jobs/"+id, nil, job); err != nil {
			return fmt.Errorf("status of %s: %w", id, err)
		}
		if job.ID == "" {
			job.ID = id
		}
	}
}

func (r *RemoteDevice) do(ctx context.Context, method, path string, body, out any) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return fmt.Errorf("%w: %w", ErrDeviceJobFailed, err)
		}
		return err
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func isJobFailure(err error) bool {
	return errors.Is(err, ErrDeviceJobFailed)
}
