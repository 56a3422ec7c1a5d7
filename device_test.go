package qsvm

import (
	"context"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestSimulator(t *testing.T) {
	ctx := context.Background()
	bell := NewCircuit(2).Append("H", []int{0}).Append("CNOT", []int{0, 1})

	Convey("Given a simulator", t, func() {
		sim := NewSimulator("", 9)
		So(sim.Name(), ShouldEqual, "simulator")

		Convey("Zero shots gives exact probabilities", func() {
			res, err := sim.Execute(ctx, bell)
			So(err, ShouldBeNil)
			So(res.Counts, ShouldBeNil)
			So(res.Probability("00"), ShouldAlmostEqual, 0.5, 1e-12)
			So(res.Probability("11"), ShouldAlmostEqual, 0.5, 1e-12)
			So(res.Probability("01"), ShouldAlmostEqual, 0.0, 1e-12)
		})

		Convey("Shots are sampled reproducibly", func() {
			shot := *bell
			shot.Shots = 200

			a, err := sim.Execute(ctx, &shot)
			So(err, ShouldBeNil)
			b, err := NewSimulator("other", 9).Execute(ctx, &shot)
			So(err, ShouldBeNil)

			So(a.Counts, ShouldResemble, b.Counts)
			So(a.Counts["00"]+a.Counts["11"], ShouldEqual, 200)
			So(a.Probability("00"), ShouldEqual, float64(a.Counts["00"])/200)
			So(a.JobID, ShouldNotEqual, "")
		})

		Convey("A cancelled context stops execution", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := sim.Execute(cctx, bell)
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
		})
	})

	Convey("Given device configs", t, func() {
		d, err := NewDevice(DeviceConfig{Name: "simulator"})
		So(err, ShouldBeNil)
		So(d, ShouldHaveSameTypeAs, &Simulator{})

		_, err = NewDevice(DeviceConfig{Name: "remote"})
		So(errors.Is(err, ErrNoDevice), ShouldBeTrue)

		d, err = NewDevice(DeviceConfig{Name: "remote", Remote: RemoteConfig{Backends: []string{"a", "b"}, Capacity: 2}})
		So(err, ShouldBeNil)
		So(d, ShouldHaveSameTypeAs, &DeviceBalancer{})

		_, err = NewDevice(DeviceConfig{Name: "gpu"})
		So(errors.Is(err, ErrNoDevice), ShouldBeTrue)
	})
}
