package qsvm

import (
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestResultSpace(t *testing.T) {
	Convey("Given a result space", t, func() {
		rs := NewResultSpace()
		Reset(rs.Close)

		Convey("Await should deliver a later Store", func() {
			ch := rs.Await("later")
			rs.Store("later", 42, nil, time.Minute)

			select {
			case r := <-ch:
				So(r.Value, ShouldEqual, 42)
				So(r.Error, ShouldBeNil)
				So(r.TTL, ShouldEqual, time.Minute)
			case <-time.After(time.Second):
				t.Fatal(timeoutMsg)
			}
		})

		Convey("Await should deliver an earlier Store immediately", func() {
			rs.Store("earlier", "value", nil, time.Minute)
			r := <-rs.Await("earlier")
			So(r.Value, ShouldEqual, "value")
		})

		Convey("Every waiter should be woken", func() {
			a, b := rs.Await("shared"), rs.Await("shared")
			rs.Store("shared", 1, nil, 0)
			So((<-a).Value, ShouldEqual, 1)
			So((<-b).Value, ShouldEqual, 1)
		})

		Convey("The first store should win", func() {
			failure := errors.New("first")
			rs.Store("once", nil, failure, time.Minute)
			rs.Store("once", "second", nil, time.Minute)

			r, ok := rs.Lookup("once")
			So(ok, ShouldBeTrue)
			So(r.Error, ShouldEqual, failure)
			So(r.Value, ShouldBeNil)
		})

		Convey("Lookup should miss unknown ids", func() {
			_, ok := rs.Lookup("missing")
			So(ok, ShouldBeFalse)
		})

		Convey("Expired values should be cleaned up", func() {
			rs.Store("short", 1, nil, time.Nanosecond)
			rs.Store("forever", 2, nil, 0)
			time.Sleep(time.Millisecond)

			rs.mu.Lock()
			rs.cleanupExpiredValues()
			rs.mu.Unlock()

			_, short := rs.Lookup("short")
			_, forever := rs.Lookup("forever")
			So(short, ShouldBeFalse)
			So(forever, ShouldBeTrue)
		})
	})
}

func TestBroadcastGroup(t *testing.T) {
	Convey("Given a broadcast group with two subscribers", t, func() {
		rs := NewResultSpace()
		Reset(rs.Close)

		group := rs.CreateBroadcastGroup("group", time.Minute)
		sub1 := rs.Subscribe("group")
		sub2 := rs.Subscribe("group")

		Convey("Both subscribers should receive a sent event", func() {
			group.Send(Event{DispatchID: "group", ElectronID: "e1", Status: EventCompleted})

			ev1, ev2 := <-sub1, <-sub2
			So(ev1.ElectronID, ShouldEqual, "e1")
			So(ev2.Status, ShouldEqual, EventCompleted)
		})

		Convey("Closing the group should close every subscriber", func() {
			rs.CloseBroadcastGroup("group")

			_, ok1 := <-sub1
			_, ok2 := <-sub2
			So(ok1, ShouldBeFalse)
			So(ok2, ShouldBeFalse)

			Convey("And later sends should be dropped silently", func() {
				So(func() { group.Send(Event{}) }, ShouldNotPanic)
			})
		})

		Convey("A slow subscriber should lose events instead of blocking", func() {
			for i := 0; i < 100; i++ {
				group.Send(Event{ElectronID: "flood"})
			}
			So(len(sub1), ShouldEqual, 64)
			So(group.dropped, ShouldEqual, int64(2*(100-64)))
		})
	})

	Convey("Subscribing to an unknown group", t, func() {
		rs := NewResultSpace()
		defer rs.Close()

		_, ok := <-rs.Subscribe("nobody")
		So(ok, ShouldBeFalse)
	})
}
