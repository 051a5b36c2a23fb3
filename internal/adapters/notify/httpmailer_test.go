package notify_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/okian/kindred/internal/adapters/notify"
	"github.com/okian/kindred/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func TestHTTPMailer(t *testing.T) {
	if err := logger.Init(); err != nil {
		t.Fatalf("init logger: %v", err)
	}
	msg := notify.Message{ID: "survey_confirmation:r-1", Kind: notify.KindSurveyConfirmation, To: "ada@example.com", Subject: "hi", HTML: "<p>hi</p>"}

	Convey("Given an email API that accepts messages", t, func() {
		var got map[string]any
		var auth, idem string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth = r.Header.Get("Authorization")
			idem = r.Header.Get("Idempotency-Key")
			_ = json.NewDecoder(r.Body).Decode(&got)
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		m := notify.NewHTTPMailer(srv.URL, "key-123", "Kindred <hello@kindred.example>")
		err := m.Send(context.Background(), msg)

		Convey("Then the payload and headers are sent", func() {
			So(err, ShouldBeNil)
			So(auth, ShouldEqual, "Bearer key-123")
			So(idem, ShouldEqual, msg.ID)
			So(got["from"], ShouldEqual, "Kindred <hello@kindred.example>")
			So(got["to"], ShouldResemble, []any{"ada@example.com"})
			So(got["subject"], ShouldEqual, "hi")
		})
	})

	Convey("Given an email API that rejects the payload", t, func() {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
		}))
		defer srv.Close()

		m := notify.NewHTTPMailer(srv.URL, "", "from@example.com")

		Convey("Then the failure is permanent and does not trip the breaker", func() {
			for i := 0; i < 6; i++ {
				err := m.Send(context.Background(), msg)
				So(errors.Is(err, notify.ErrPermanent), ShouldBeTrue)
			}
			So(m.State(), ShouldEqual, gobreaker.StateClosed)
		})
	})

	Convey("Given an email API that keeps failing", t, func() {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		m := notify.NewHTTPMailer(srv.URL, "", "from@example.com")
		for i := 0; i < 5; i++ {
			err := m.Send(context.Background(), msg)
			So(err, ShouldNotBeNil)
			So(errors.Is(err, notify.ErrPermanent), ShouldBeFalse)
		}

		Convey("Then the breaker opens and stops calling the API", func() {
			So(m.State(), ShouldEqual, gobreaker.StateOpen)
			err := m.Send(context.Background(), msg)
			So(errors.Is(err, gobreaker.ErrOpenState), ShouldBeTrue)
			So(calls.Load(), ShouldEqual, 5)
		})
	})
}

func TestLogMailer(t *testing.T) {
	if err := logger.Init(); err != nil {
		t.Fatalf("init logger: %v", err)
	}
	Convey("Given a log mailer", t, func() {
		m := notify.NewLogMailer(logger.Get())

		Convey("Then sending always succeeds", func() {
			So(m.Send(context.Background(), notify.Message{ID: "x", To: "a@b.c"}), ShouldBeNil)
		})
	})
}
