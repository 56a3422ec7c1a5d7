package qsvm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestDispatcher(t *testing.T) {
	Convey("Given a new dispatcher", t, func(c C) {
		ctx, cancel := context.WithCancel(context.Background())
		d := NewDispatcher(ctx, testConfig())

		Reset(func() {
			cancel()
			d.Close()
		})

		Convey("When scheduling a simple electron", func(c C) {
			result := d.Schedule("simple", func(ctx context.Context, _ map[string]any) (any, error) {
				return "success", nil
			})

			value := <-result
			c.So(value.Error, ShouldBeNil)
			c.So(value.Value, ShouldEqual, "success")
		})

		Convey("When scheduling an electron with retries", func(c C) {
			var attempts atomic.Int32
			result := d.Schedule("retry", func(ctx context.Context, _ map[string]any) (any, error) {
				if attempts.Add(1) < 3 {
					return nil, errors.New("temporary error")
				}
				return "success after retry", nil
			}, WithRetry(3, &ExponentialBackoff{Initial: time.Millisecond}))

			value := <-result
			c.So(value.Error, ShouldBeNil)
			c.So(value.Value, ShouldEqual, "success after retry")
			c.So(attempts.Load(), ShouldEqual, int32(3))
		})

		Convey("When a retry filter rejects the error", func(c C) {
			var attempts atomic.Int32
			permanent := errors.New("permanent")
			result := d.Schedule("filtered", func(ctx context.Context, _ map[string]any) (any, error) {
				attempts.Add(1)
				return nil, permanent
			},
				WithRetry(5, &ExponentialBackoff{Initial: time.Millisecond}),
				WithRetryFilter(func(err error) bool { return !errors.Is(err, permanent) }),
			)

			value := <-result
			c.So(errors.Is(value.Error, permanent), ShouldBeTrue)
			c.So(attempts.Load(), ShouldEqual, int32(1))
		})

		Convey("When using a circuit breaker", func(c C) {
			var failures atomic.Int32
			result := d.Schedule("breaker", func(ctx context.Context, _ map[string]any) (any, error) {
				failures.Add(1)
				return nil, errors.New("failure")
			},
				WithRetry(5, &ExponentialBackoff{Initial: time.Millisecond}),
				WithBreaker("test-breaker", 2, time.Minute),
			)

			value := <-result
			c.So(value.Error, ShouldNotBeNil)
			c.So(failures.Load(), ShouldEqual, int32(2))
			c.So(d.Breaker("test-breaker").State(), ShouldEqual, BreakerOpen)

			Convey("Further electrons on the breaker are rejected", func(c C) {
				value := <-d.Schedule("rejected", func(ctx context.Context, _ map[string]any) (any, error) {
					return "unreachable", nil
				}, WithBreaker("test-breaker", 2, time.Minute))

				c.So(errors.Is(value.Error, ErrBreakerOpen), ShouldBeTrue)
			})
		})

		Convey("When scheduling many electrons", func(c C) {
			results := make([]chan Result, 20)
			for i := range results {
				results[i] = d.Schedule(fmt.Sprintf("many-%d", i), func(ctx context.Context, _ map[string]any) (any, error) {
					return i * i, nil
				})
			}

			for i, ch := range results {
				value := <-ch
				c.So(value.Error, ShouldBeNil)
				c.So(value.Value, ShouldEqual, i*i)
			}
		})

		Convey("When the dispatcher is closed", func(c C) {
			d.Close()
			value := <-d.Schedule("late", func(ctx context.Context, _ map[string]any) (any, error) {
				return nil, nil
			})

			c.So(errors.Is(value.Error, ErrDispatcherClosed), ShouldBeTrue)
		})
	})
}

type stubRegulator struct {
	limit    atomic.Bool
	observed atomic.Int32
}

func (s *stubRegulator) Observe(*Metrics) { s.observed.Add(1) }
func (s *stubRegulator) Limit() bool      { return s.limit.Load() }
func (s *stubRegulator) Renormalize()     {}

func TestDispatcherRegulators(t *testing.T) {
	Convey("Given a dispatcher with a regulator", t, func() {
		reg := &stubRegulator{}
		cfg := testConfig()
		cfg.Dispatcher.SchedulingTimeout = 50 * time.Millisecond
		d := NewDispatcher(context.Background(), cfg, reg)
		defer d.Close()

		Convey("It should feed the regulator metrics", func() {
			time.Sleep(600 * time.Millisecond)
			So(reg.observed.Load(), ShouldBeGreaterThan, 0)
		})

		Convey("A limiting regulator should throttle scheduling", func() {
			reg.limit.Store(true)
			value := <-d.Schedule("throttled", func(ctx context.Context, _ map[string]any) (any, error) {
				return nil, nil
			})

			So(errors.Is(value.Error, ErrBackPressure), ShouldBeTrue)
			So(d.Metrics().Export()["throttled"], ShouldEqual, int64(1))
		})
	})
}
