package qsvm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/smartystreets/goconvey/convey"
)

func constant(v any) ElectronFunc {
	return func(ctx context.Context, _ map[string]any) (any, error) {
		return v, nil
	}
}

func sumOf(ids ...string) ElectronFunc {
	return func(ctx context.Context, deps map[string]any) (any, error) {
		total := 0
		for _, id := range ids {
			total += deps[id].(int)
		}
		return total, nil
	}
}

func TestLatticeValidate(t *testing.T) {
	Convey("Given a diamond lattice added out of dependency order", t, func() {
		l := NewLattice("diamond")
		l.MustAdd("top", constant(1))
		l.MustAdd("left", sumOf("top"), WithDependencies("top"))
		l.MustAdd("right", sumOf("top"), WithDependencies("top"))
		l.MustAdd("bottom", sumOf("left", "right"), WithDependencies("left", "right"))

		Convey("It should order dependencies first and keep insertion order otherwise", func() {
			order, err := l.Validate()
			So(err, ShouldBeNil)
			So(order, ShouldResemble, []string{"top", "left", "right", "bottom"})
			So(l.Len(), ShouldEqual, 4)
		})

		Convey("Adding a duplicate id should fail", func() {
			err := l.Add("top", constant(2))
			So(errors.Is(err, ErrInvalidLattice), ShouldBeTrue)
			So(func() { l.MustAdd("top", constant(2)) }, ShouldPanic)
		})
	})

	Convey("Given a lattice with an unknown dependency", t, func() {
		l := NewLattice("dangling")
		l.MustAdd("a", constant(1), WithDependencies("ghost"))

		_, err := l.Validate()
		So(errors.Is(err, ErrInvalidLattice), ShouldBeTrue)
		So(err.Error(), ShouldContainSubstring, "ghost")
	})

	Convey("Given a lattice with a cycle", t, func() {
		l := NewLattice("cycle")
		l.MustAdd("a", constant(1), WithDependencies("b"))
		l.MustAdd("b", constant(2), WithDependencies("a"))

		_, err := l.Validate()
		So(errors.Is(err, ErrInvalidLattice), ShouldBeTrue)
		So(err.Error(), ShouldContainSubstring, "cycle")
	})
}

func TestDispatch(t *testing.T) {
	Convey("Given a dispatcher", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		d := NewDispatcher(ctx, testConfig())

		Reset(func() {
			d.Close()
			cancel()
		})

		Convey("When dispatching a diamond lattice", func() {
			l := NewLattice("diamond")
			l.MustAdd("top", constant(1))
			l.MustAdd("left", sumOf("top"), WithDependencies("top"))
			l.MustAdd("right", func(ctx context.Context, deps map[string]any) (any, error) {
				return deps["top"].(int) * 10, nil
			}, WithDependencies("top"))
			l.MustAdd("bottom", sumOf("left", "right"), WithDependencies("left", "right"))

			res, err := d.DispatchSync(ctx, l)

			Convey("It should complete with every value", func() {
				So(err, ShouldBeNil)
				So(res.Status, ShouldEqual, DispatchCompleted)
				So(res.Name, ShouldEqual, "diamond")
				So(res.Values, ShouldHaveLength, 4)

				v, err := res.Value("bottom")
				So(err, ShouldBeNil)
				So(v, ShouldEqual, 11)
			})

			Convey("An electron outside the lattice should not resolve", func() {
				_, err := res.Value("nowhere")
				So(err, ShouldNotBeNil)
			})
		})

		Convey("When an electron fails", func() {
			boom := errors.New("boom")
			ran := make(chan struct{}, 1)

			l := NewLattice("failing")
			l.MustAdd("ok", constant(1))
			l.MustAdd("bad", func(ctx context.Context, _ map[string]any) (any, error) {
				return nil, boom
			}, WithRetry(1, nil))
			l.MustAdd("after", func(ctx context.Context, _ map[string]any) (any, error) {
				ran <- struct{}{}
				return nil, nil
			}, WithDependencies("bad"))

			res, err := d.DispatchSync(ctx, l)

			Convey("The dispatch should fail with the electron's error", func() {
				So(errors.Is(err, ErrDispatchFailed), ShouldBeTrue)
				So(errors.Is(err, boom), ShouldBeTrue)
				So(res.Status, ShouldEqual, DispatchFailed)
				So(res.Errors, ShouldContainKey, "bad")
				So(res.Errors, ShouldContainKey, "after")
				So(ran, ShouldBeEmpty)

				_, err := res.Value("bad")
				So(errors.Is(err, boom), ShouldBeTrue)
			})
		})

		Convey("When subscribing to a dispatch", func() {
			l := NewLattice("events")
			l.MustAdd("a", func(ctx context.Context, _ map[string]any) (any, error) {
				time.Sleep(50 * time.Millisecond)
				return 1, nil
			})
			l.MustAdd("b", sumOf("a"), WithDependencies("a"))

			id, err := d.Dispatch(ctx, l)
			So(err, ShouldBeNil)

			var events []Event
			for ev := range d.Subscribe(id) {
				events = append(events, ev)
			}

			Convey("It should see every electron and then the end of the dispatch", func() {
				So(events, ShouldHaveLength, 3)
				So(events[0].ElectronID, ShouldEqual, "a")
				So(events[1].ElectronID, ShouldEqual, "b")
				So(events[2].Status, ShouldEqual, EventDone)

				res, err := d.Result(ctx, id)
				So(err, ShouldBeNil)
				So(res.DispatchID, ShouldEqual, id)
			})
		})

		Convey("When dispatching an invalid lattice", func() {
			l := NewLattice("cycle")
			l.MustAdd("a", constant(1), WithDependencies("a"))

			_, err := d.Dispatch(ctx, l)
			So(errors.Is(err, ErrInvalidLattice), ShouldBeTrue)
		})

		Convey("When asking for a dispatch that was never issued", func() {
			_, err := d.Result(ctx, "not-a-dispatch")
			So(errors.Is(err, ErrUnknownDispatch), ShouldBeTrue)

			waitCtx, waitCancel := context.WithTimeout(ctx, 500*time.Millisecond)
			defer waitCancel()

			_, err = d.Result(waitCtx, uuid.NewString())
			So(errors.Is(err, ErrUnknownDispatch), ShouldBeTrue)
		})

		Convey("When a result's TTL runs out before the dispatch is collected", func() {
			l := NewLattice("ttl")
			l.MustAdd("slow", func(ctx context.Context, _ map[string]any) (any, error) {
				time.Sleep(50 * time.Millisecond)
				d.space.mu.Lock()
				d.space.cleanupExpiredValues()
				d.space.mu.Unlock()
				return "slow", nil
			})
			l.MustAdd("fleeting", constant("kept"), WithTTL(time.Nanosecond))

			res, err := d.DispatchSync(ctx, l)

			Convey("The result is held until the dispatch finishes", func() {
				So(err, ShouldBeNil)
				So(res.Values["fleeting"], ShouldEqual, "kept")
			})

			Convey("And expires on its own TTL afterwards", func() {
				time.Sleep(time.Millisecond)
				d.space.mu.Lock()
				d.space.cleanupExpiredValues()
				d.space.mu.Unlock()

				_, ok := d.space.Lookup(res.DispatchID + ":fleeting")
				So(ok, ShouldBeFalse)
			})
		})

		Convey("When an electron panics", func() {
			l := NewLattice("panicking")
			l.MustAdd("bad", func(ctx context.Context, _ map[string]any) (any, error) {
				panic("device driver exploded")
			})

			_, err := d.DispatchSync(ctx, l)

			Convey("The dispatch fails instead of the process", func() {
				So(errors.Is(err, ErrDispatchFailed), ShouldBeTrue)
				So(errors.Is(err, ErrElectronPanic), ShouldBeTrue)
			})
		})
	})
}

func TestDispatchQueuesBehindBusyWorkers(t *testing.T) {
	Convey("Given a single worker and a short scheduling timeout", t, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		cfg := testConfig()
		cfg.Dispatcher.MinWorkers = 1
		cfg.Dispatcher.MaxWorkers = 1
		cfg.Dispatcher.SchedulingTimeout = 100 * time.Millisecond

		d := NewDispatcher(ctx, cfg)
		defer d.Close()

		Convey("Electrons that outnumber the workers wait their turn", func() {
			l := NewLattice("crowded")
			for _, id := range []string{"e1", "e2", "e3"} {
				l.MustAdd(id, func(ctx context.Context, _ map[string]any) (any, error) {
					time.Sleep(300 * time.Millisecond)
					return id, nil
				})
			}

			res, err := d.DispatchSync(ctx, l)
			So(err, ShouldBeNil)
			So(res.Values, ShouldHaveLength, 3)
			So(res.Values["e3"], ShouldEqual, "e3")
		})

		Convey("Scheduled electrons still give up after the timeout", func() {
			busy := d.Schedule("busy", func(ctx context.Context, _ map[string]any) (any, error) {
				time.Sleep(400 * time.Millisecond)
				return nil, nil
			})
			time.Sleep(20 * time.Millisecond)

			value := <-d.Schedule("waiting", func(ctx context.Context, _ map[string]any) (any, error) {
				return nil, nil
			})
			So(errors.Is(value.Error, ErrNoWorkers), ShouldBeTrue)
			<-busy
		})
	})
}
