package model_test

import (
	"testing"
	"time"

	model "github.com/okian/kindred/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestWaitlistJoin_Entry(t *testing.T) {
	convey.Convey("Given a join request with a mixed-case email", t, func() {
		now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		join := model.WaitlistJoin{Email: "  Ada@Example.COM ", Name: " Ada ", Source: "footer"}

		e := join.Entry(now)

		convey.Convey("Then the entry is active and keyed by the normalized email", func() {
			convey.So(e.Email, convey.ShouldEqual, "ada@example.com")
			convey.So(e.Name, convey.ShouldEqual, "Ada")
			convey.So(e.Active, convey.ShouldBeTrue)
			convey.So(e.CreatedAt, convey.ShouldEqual, now)
			convey.So(e.UnsubscribedAt, convey.ShouldBeNil)
		})
	})
}
