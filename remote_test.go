package qsvm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

// fakeProvider is a minimal hosted backend: jobs are queued on submit,
// report completed on the first poll and return fixed counts.
type fakeProvider struct {
	mu       sync.Mutex
	token    string
	fail     string
	programs []string
	polls    atomic.Int64
	status   int
}

func (f *fakeProvider) handler() http.Handler {
	mux := http.NewServeMux()

	auth := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer "+f.token {
				http.Error(w, "bad token", http.StatusUnauthorized)
				return
			}
			if f.status != 0 {
				http.Error(w, "unavailable", f.status)
				return
			}
			next(w, r)
		}
	}

	mux.HandleFunc("POST /jobs", auth(func(w http.ResponseWriter, r *http.Request) {
		var req jobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.programs = append(f.programs, req.Program)
		f.mu.Unlock()

		json.NewEncoder(w).Encode(jobResponse{ID: "job-1", Status: jobQueued})
	}))

	mux.HandleFunc("GET /jobs/{id}", auth(func(w http.ResponseWriter, r *http.Request) {
		f.polls.Add(1)
		if f.fail != "" {
			json.NewEncoder(w).Encode(jobResponse{ID: r.PathValue("id"), Status: jobFailed, Error: f.fail})
			return
		}
		json.NewEncoder(w).Encode(jobResponse{ID: r.PathValue("id"), Status: jobCompleted})
	}))

	mux.HandleFunc("GET /jobs/{id}/results", auth(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(jobResults{
			Counts:   map[string]int{"00": 75, "01": 25},
			Shots:    100,
			TimeUsed: 0.25,
		})
	}))

	return mux
}

func TestRemoteDevice(t *testing.T) {
	ctx := context.Background()
	circuit := NewCircuit(2).Append("RX", []int{0}, 0.5)
	circuit.Shots = 100

	Convey("Given a remote device and a provider", t, func() {
		provider := &fakeProvider{token: "secret"}
		srv := httptest.NewServer(provider.handler())
		defer srv.Close()

		cfg := RemoteConfig{
			BaseURL:      srv.URL + "/",
			Token:        "secret",
			RateLimit:    10,
			RefillRate:   time.Millisecond,
			PollInterval: 5 * time.Millisecond,
			Timeout:      time.Second,
		}
		device := NewRemoteDevice("qpu-1", cfg, WithRemoteBreaker(NewBreaker(1, time.Minute, 1)))

		Convey("It submits, polls and fetches counts", func() {
			res, err := device.Execute(ctx, circuit)
			So(err, ShouldBeNil)
			So(res.JobID, ShouldEqual, "job-1")
			So(res.BackendName, ShouldEqual, "qpu-1")
			So(res.Probability("00"), ShouldEqual, 0.75)
			So(res.TimeUsed, ShouldEqual, 250*time.Millisecond)
			So(provider.polls.Load(), ShouldBeGreaterThanOrEqualTo, 1)
			So(provider.programs[0], ShouldStartWith, "OPENQASM 3.0;")
			So(device.InFlight(), ShouldEqual, 0)
		})

		Convey("A failed job is reported without tripping the breaker", func() {
			provider.fail = "calibration"
			_, err := device.Execute(ctx, circuit)
			So(errors.Is(err, ErrDeviceJobFailed), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "calibration")
			So(device.Breaker().State(), ShouldEqual, BreakerClosed)
		})

		Convey("A wrong token is a rejected job", func() {
			bad := NewRemoteDevice("qpu-1", RemoteConfig{BaseURL: srv.URL, Token: "nope", RateLimit: 1})
			_, err := bad.Execute(ctx, circuit)
			So(errors.Is(err, ErrDeviceJobFailed), ShouldBeTrue)
			So(err.Error(), ShouldContainSubstring, "401")
		})

		Convey("Server errors open the breaker", func() {
			provider.status = http.StatusBadGateway
			_, err := device.Execute(ctx, circuit)
			So(err, ShouldNotBeNil)
			So(errors.Is(err, ErrDeviceJobFailed), ShouldBeFalse)
			So(device.Breaker().State(), ShouldEqual, BreakerOpen)

			_, err = device.Execute(ctx, circuit)
			So(errors.Is(err, ErrBreakerOpen), ShouldBeTrue)
		})

		Convey("An invalid circuit never reaches the provider", func() {
			_, err := device.Execute(ctx, NewCircuit(1).Append("RX", []int{3}, 1))
			So(errors.Is(err, ErrInvalidCircuit), ShouldBeTrue)
			So(len(provider.programs), ShouldEqual, 0)
		})

		Convey("It backs a kernel", func() {
			k := NewKernel(NewAngleEmbedding(2), device, 100)
			v, err := k.Evaluate(ctx, []float64{0.1, 0.2}, []float64{0.3, 0.4})
			So(err, ShouldBeNil)
			So(v, ShouldEqual, 0.75)
			So(strings.Count(provider.programs[0], "rx("), ShouldEqual, 4)
		})
	})
}
