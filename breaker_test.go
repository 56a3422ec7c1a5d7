package qsvm

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestBreaker(t *testing.T) {
	Convey("Given a breaker", t, func() {
		cb := NewBreaker(3, 200*time.Millisecond, 2)

		So(cb.State(), ShouldEqual, BreakerClosed)

		for i := 0; i < cb.maxFailures; i++ {
			cb.RecordFailure()
		}

		So(cb.State(), ShouldEqual, BreakerOpen)
		So(cb.Allow(), ShouldBeFalse)
		So(cb.Limit(), ShouldBeTrue)

		Convey("After reset timeout", func() {
			time.Sleep(300 * time.Millisecond)

			Convey("It should be half-open", func() {
				So(cb.Allow(), ShouldBeTrue)
				So(cb.State(), ShouldEqual, BreakerHalfOpen)
			})

			Convey("Successful probes should close it", func() {
				So(cb.Allow(), ShouldBeTrue)
				cb.RecordSuccess()
				cb.RecordSuccess()
				So(cb.State(), ShouldEqual, BreakerClosed)
			})

			Convey("A failed probe should reopen it", func() {
				So(cb.Allow(), ShouldBeTrue)
				cb.RecordFailure()
				So(cb.State(), ShouldEqual, BreakerOpen)
			})
		})

		Convey("Renormalize should not close an open breaker early", func() {
			cb.Renormalize()
			So(cb.State(), ShouldEqual, BreakerOpen)
		})
	})

	Convey("Given a closed breaker with a failure", t, func() {
		cb := NewBreaker(2, time.Minute, 1)
		cb.RecordFailure()

		Convey("A success resets the failure count", func() {
			cb.RecordSuccess()
			cb.RecordFailure()
			So(cb.State(), ShouldEqual, BreakerClosed)
		})
	})
}
