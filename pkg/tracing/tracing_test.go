package tracing

import (
	"context"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitDisabled(t *testing.T) {
	Convey("Given no endpoint", t, func() {
		shutdown, err := Init(context.Background(), "")

		Convey("Then a no-op shutdown is returned", func() {
			So(err, ShouldBeNil)
			So(shutdown(context.Background()), ShouldBeNil)
		})
	})
}

func TestInitEnabled(t *testing.T) {
	Convey("Given an endpoint", t, func() {
		prev := otel.GetTracerProvider()
		Reset(func() { otel.SetTracerProvider(prev) })

		shutdown, err := Init(context.Background(), "http://127.0.0.1:4318")

		Convey("Then a provider is installed without dialing", func() {
			So(err, ShouldBeNil)
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_ = shutdown(ctx)
		})
	})
}

func TestSpans(t *testing.T) {
	Convey("Given a recording provider", t, func() {
		rec := tracetest.NewSpanRecorder()
		tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
		prev := otel.GetTracerProvider()
		otel.SetTracerProvider(tp)
		Reset(func() { otel.SetTracerProvider(prev) })

		Convey("When a span ends cleanly", func() {
			_, span := StartSpan(context.Background(), "scoring.apply", AccountID("acct-1"), Score(72))
			End(span, nil)

			Convey("Then it is recorded with its attributes", func() {
				spans := rec.Ended()
				So(spans, ShouldHaveLength, 1)
				So(spans[0].Name(), ShouldEqual, "scoring.apply")
				So(spans[0].Attributes(), ShouldContain, AccountID("acct-1"))
				So(spans[0].Status().Code, ShouldEqual, codes.Unset)
			})
		})

		Convey("When a span ends with an error", func() {
			_, span := StartSpan(context.Background(), "store.commit")
			End(span, errors.New("conflict"))

			Convey("Then the status is an error", func() {
				spans := rec.Ended()
				So(spans, ShouldHaveLength, 1)
				So(spans[0].Status().Code, ShouldEqual, codes.Error)
				So(spans[0].Status().Description, ShouldEqual, "conflict")
			})
		})
	})
}
