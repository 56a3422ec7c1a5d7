package qsvm

import (
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestSplit(t *testing.T) {
	Convey("Given two wine classes", t, func() {
		wine, err := BuiltinWine()
		So(err, ShouldBeNil)
		ds, err := wine.Select([]string{"color_intensity", "hue"}, []int{0, 1})
		So(err, ShouldBeNil)

		cfg := SplitConfig{TrainSize: 6, TestSize: 2, Seed: 42}

		Convey("It splits 6/2 with both classes on each side", func() {
			train, test, err := Split(ds, cfg)
			So(err, ShouldBeNil)
			So(train.Len(), ShouldEqual, 6)
			So(test.Len(), ShouldEqual, 2)
			So(train.ByClass()[0], ShouldHaveLength, 3)
			So(train.ByClass()[1], ShouldHaveLength, 3)
			So(test.ByClass()[0], ShouldHaveLength, 1)
			So(test.ByClass()[1], ShouldHaveLength, 1)
			So(test.Classes, ShouldResemble, []int{0, 1})
		})

		Convey("The same seed gives the same split", func() {
			a, b, err := Split(ds, cfg)
			So(err, ShouldBeNil)
			c, d, err := Split(ds, cfg)
			So(err, ShouldBeNil)

			So(a.Samples, ShouldResemble, c.Samples)
			So(b.Samples, ShouldResemble, d.Samples)
		})

		Convey("Train and test never share a sample", func() {
			train, test, err := Split(ds, SplitConfig{TrainSize: 20, TestSize: 10, Seed: 3})
			So(err, ShouldBeNil)

			seen := make(map[[2]float64]int)
			for _, s := range append(train.Samples, test.Samples...) {
				seen[[2]float64{s.Features[0], s.Features[1]}]++
			}
			So(len(seen), ShouldBeGreaterThanOrEqualTo, 29)
			So(train.Len()+test.Len(), ShouldEqual, 30)
		})

		Convey("Sizes that do not fit are rejected", func() {
			for _, bad := range []SplitConfig{
				{TrainSize: 0, TestSize: 2},
				{TrainSize: 6, TestSize: 0},
				{TrainSize: 25, TestSize: 6},
			} {
				_, _, err := Split(ds, bad)
				So(errors.Is(err, ErrSplitSize), ShouldBeTrue)
			}
		})
	})

	Convey("Given allocations", t, func() {
		So(allocate(6, []int{15, 15, 15}, []int{15, 15, 15}), ShouldResemble, []int{2, 2, 2})
		So(allocate(2, []int{15, 15, 15}, []int{13, 13, 13}), ShouldResemble, []int{1, 1, 0})
		So(allocate(4, []int{10, 1}, []int{10, 1}), ShouldResemble, []int{3, 1})
		So(allocate(3, []int{5, 5}, []int{1, 5}), ShouldResemble, []int{1, 2})
	})
}
