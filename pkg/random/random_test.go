package random

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestScripted(t *testing.T) {
	Convey("Given a scripted source", t, func() {
		s := NewScripted(0.1, 0.99, 0.5)

		Convey("Then floats are replayed in order and cycle", func() {
			So(s.Float64(), ShouldEqual, 0.1)
			So(s.Float64(), ShouldEqual, 0.99)
			So(s.Float64(), ShouldEqual, 0.5)
			So(s.Float64(), ShouldEqual, 0.1)
		})

		Convey("Then IntN scales the next value into range", func() {
			So(s.IntN(10), ShouldEqual, 1)
			So(s.IntN(10), ShouldEqual, 9)
			So(s.IntN(4), ShouldEqual, 2)
		})
	})
}

func TestSeededSourceStaysInRange(t *testing.T) {
	src := New(7)
	for i := 0; i < 1000; i++ {
		if f := src.Float64(); f < 0 || f >= 1 {
			t.Fatalf("Float64 out of range: %v", f)
		}
		if n := src.IntN(3); n < 0 || n >= 3 {
			t.Fatalf("IntN out of range: %d", n)
		}
	}
}
