package qsvm

import (
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestConfusion(t *testing.T) {
	Convey("Given true and predicted labels", t, func() {
		cm, err := Confusion([]int{0, 0, 1, 1}, []int{0, 1, 1, 1})
		So(err, ShouldBeNil)

		So(cm.Labels, ShouldResemble, []int{0, 1})
		So(cm.Counts, ShouldResemble, [][]int{{1, 1}, {0, 2}})
		So(cm.Total(), ShouldEqual, 4)
		So(cm.Accuracy(), ShouldEqual, 0.75)
	})

	Convey("Given a test set that misses a class", t, func() {
		cm, err := Confusion([]int{0, 1}, []int{0, 1}, 0, 1, 2)
		So(err, ShouldBeNil)
		So(cm.Counts, ShouldHaveLength, 3)
		So(cm.Counts[2], ShouldResemble, []int{0, 0, 0})
		So(cm.Accuracy(), ShouldEqual, 1.0)
	})

	Convey("Given mismatched lengths", t, func() {
		_, err := Confusion([]int{0}, []int{0, 1})
		So(errors.Is(err, ErrDimensionMismatch), ShouldBeTrue)
	})

	Convey("Given nothing", t, func() {
		cm, err := Confusion(nil, nil)
		So(err, ShouldBeNil)
		So(cm.Accuracy(), ShouldEqual, 0.0)
	})
}
