package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManagerCreation(t *testing.T) {
	Convey("Given a fresh registry", t, func() {
		registry := prometheus.NewRegistry()

		Convey("When creating a manager with custom options", func() {
			m := NewManager(
				WithNamespace("test"),
				WithSubsystem("engine"),
				WithHistogramBuckets([]float64{1, 5, 10}),
				WithConstLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then collectors are registered under the namespace", func() {
				So(m, ShouldNotBeNil)
				m.eventsApplied.WithLabelValues("LOGIN_FAIL").Inc()

				families, err := registry.Gather()
				So(err, ShouldBeNil)
				found := false
				for _, f := range families {
					if f.GetName() == "test_engine_events_applied_total" {
						found = true
						So(f.GetMetric()[0].GetLabel(), ShouldNotBeEmpty)
					}
				}
				So(found, ShouldBeTrue)
			})
		})

		Convey("When two managers share a registry", func() {
			NewManager(WithPrometheusRegistry(registry))

			Convey("Then the second registration panics", func() {
				So(func() { NewManager(WithPrometheusRegistry(registry)) }, ShouldPanic)
			})
		})
	})
}

func TestGlobalRecorders(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording trust events", func() {
			before := testutil.ToFloat64(globalManager.eventsApplied.WithLabelValues("OTP_REQUEST"))
			RecordEventApplied("OTP_REQUEST")
			RecordRuleFired("otp_burst")
			RecordCommitConflict()
			RecordCommitFailure("store_unavailable")
			RecordCommitAttempts(2)
			RecordApplyLatency(1.5)
			RecordCommittedScore(55)
			RecordRiskTransition("NORMAL", "HIGH")

			Convey("Then the counters move", func() {
				So(testutil.ToFloat64(globalManager.eventsApplied.WithLabelValues("OTP_REQUEST")), ShouldEqual, before+1)
				So(testutil.ToFloat64(globalManager.riskTransitions.WithLabelValues("NORMAL", "HIGH")), ShouldBeGreaterThanOrEqualTo, 1)
			})
		})

		Convey("When recording queue, worker, http and system metrics", func() {
			So(func() {
				RecordAccountRegistered()
				RecordLogin("success")
				RecordDuplicateEvent()
				RecordStoreLatency("memory", "append", 0.2)
				UpdateAlertQueueSize(3)
				UpdateAlertQueueCapacity(10)
				RecordAlertEnqueued()
				RecordAlertDropped("queue_full")
				RecordAlertDelivered()
				RecordAlertWorkerError()
				UpdateAlertWorkers(2)
				RecordHTTPRequest("/events", "POST", "200")
				RecordHTTPRequestDuration("/events", "POST", "200", 4)
				RecordErrorByComponent("engine", "conflict")
				UpdateSystemMemoryUsage(1024)
				UpdateSystemGoroutineCount(12)
				RecordSystemGCPauseTime(0.4)
			}, ShouldNotPanic)

			Convey("Then the registry exposes them", func() {
				So(testutil.ToFloat64(globalManager.alertQueueSize), ShouldEqual, float64(3))
				n, err := testutil.GatherAndCount(GetRegistry())
				So(err, ShouldBeNil)
				So(n, ShouldBeGreaterThan, 10)
			})
		})
	})
}
