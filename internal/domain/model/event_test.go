package model_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/okian/chorus/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestEvent(t *testing.T) {
	Convey("Given an event envelope", t, func() {
		payload, err := json.Marshal(model.VoteCast{BookID: "b1", UserID: "u1"})
		So(err, ShouldBeNil)
		ev := model.Event{
			Name:      model.EventVoteCast,
			Payload:   payload,
			OriginID:  "node-a",
			Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC).UnixMilli(),
		}

		Convey("When it round-trips through JSON", func() {
			data, err := json.Marshal(ev)
			So(err, ShouldBeNil)
			var decoded model.Event
			So(json.Unmarshal(data, &decoded), ShouldBeNil)

			Convey("Then the wire field names are stable", func() {
				So(string(data), ShouldContainSubstring, `"originId":"node-a"`)
				So(string(data), ShouldContainSubstring, `"name":"vote_cast"`)
			})

			Convey("Then the payload is intact", func() {
				var vote model.VoteCast
				So(decoded.Decode(&vote), ShouldBeNil)
				So(vote.BookID, ShouldEqual, "b1")
				So(decoded.Time().Equal(ev.Time()), ShouldBeTrue)
			})
		})

		Convey("When the payload is missing", func() {
			empty := model.Event{Name: "x", OriginID: "o"}
			var v map[string]any

			Convey("Then Decode reports it", func() {
				So(errors.Is(empty.Decode(&v), model.ErrEmptyPayload), ShouldBeTrue)
			})
		})

		Convey("Then validity requires a name and an origin", func() {
			So(ev.Valid(), ShouldBeTrue)
			So(model.Event{Name: "x"}.Valid(), ShouldBeFalse)
			So(model.Event{OriginID: "o"}.Valid(), ShouldBeFalse)
		})
	})
}

func TestPresenceStatus(t *testing.T) {
	Convey("Presence statuses validate", t, func() {
		So(model.StatusTyping.Valid(), ShouldBeTrue)
		So(model.StatusIdle.Valid(), ShouldBeTrue)
		So(model.PresenceStatus("away").Valid(), ShouldBeFalse)
	})
}
