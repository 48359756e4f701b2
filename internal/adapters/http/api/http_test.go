package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/okian/trustscore/internal/adapters/http/api"
	service "github.com/okian/trustscore/internal/app"
	"github.com/okian/trustscore/internal/auth/password"
	"github.com/okian/trustscore/internal/domain/model"
	"github.com/okian/trustscore/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func newMux(deps api.Dependencies) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps, api.WithLogger(logger.Nop())).Register(context.Background(), mux)
	return mux
}

func do(mux http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decode(w *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	So(json.Unmarshal(w.Body.Bytes(), &out), ShouldBeNil)
	return out
}

func startService(t *testing.T) *service.Service {
	svc := service.New(
		service.WithLogger(logger.Nop()),
		service.WithTokenSecret("api-test-secret-0123456789"),
		service.WithPasswordParams(password.Params{MemoryKB: 1024, Time: 1, Threads: 1}),
	)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start service: %v", err)
	}
	return svc
}

func login(mux http.Handler, email, pass, device string) *httptest.ResponseRecorder {
	return do(mux, http.MethodPost, "/auth/login",
		fmt.Sprintf(`{"email":%q,"password":%q}`, email, pass),
		map[string]string{api.HeaderDeviceID: device, api.HeaderIP: "10.1.1.1"})
}

func TestAPIFlow(t *testing.T) {
	Convey("Given the API over a running service", t, func() {
		svc := startService(t)
		Reset(svc.Stop)
		mux := newMux(svc)

		w := do(mux, http.MethodPost, "/auth/register", `{"email":"erin@example.com","password":"correct-horse"}`, nil)
		So(w.Code, ShouldEqual, http.StatusCreated)
		accountID := decode(w)["account_id"]

		Convey("When checking health", func() {
			w := do(mux, http.MethodGet, "/health", "", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decode(w)["status"], ShouldEqual, "ok")
		})

		Convey("When scraping metrics", func() {
			w := do(mux, http.MethodGet, "/metrics", "", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "trust_")
		})

		Convey("When registering the same email twice", func() {
			w := do(mux, http.MethodPost, "/auth/register", `{"email":"erin@example.com","password":"correct-horse"}`, nil)
			So(w.Code, ShouldEqual, http.StatusConflict)
		})

		Convey("When registering without a password", func() {
			w := do(mux, http.MethodPost, "/auth/register", `{"email":"x@example.com"}`, nil)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When logging in with an unknown email", func() {
			w := login(mux, "ghost@example.com", "whatever-pw", "phone")
			So(w.Code, ShouldEqual, http.StatusUnauthorized)
			_, hasScore := decode(w)["trust_score"]
			So(hasScore, ShouldBeFalse)
		})

		Convey("When logging in with the wrong password", func() {
			w := login(mux, "erin@example.com", "nope-nope", "phone")

			Convey("Then the response carries the penalized score", func() {
				So(w.Code, ShouldEqual, http.StatusUnauthorized)
				So(decode(w)["trust_score"], ShouldEqual, float64(70))
			})
		})

		Convey("When logging in successfully", func() {
			w := login(mux, "erin@example.com", "correct-horse", "phone")
			So(w.Code, ShouldEqual, http.StatusOK)
			body := decode(w)
			So(body["trust_score"], ShouldEqual, float64(72))
			So(body["risk"], ShouldEqual, "NORMAL")
			So(body["account_id"], ShouldEqual, accountID)
			auth := map[string]string{"Authorization": "Bearer " + body["token"].(string)}

			Convey("Then /trust/me reports the score", func() {
				w := do(mux, http.MethodGet, "/trust/me", "", auth)
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode(w)["trust_score"], ShouldEqual, float64(72))
			})

			Convey("Then events can be posted", func() {
				w := do(mux, http.MethodPost, "/events", `{"type":"OTP_REQUEST","device_id":"phone"}`, auth)
				So(w.Code, ShouldEqual, http.StatusOK)
				body := decode(w)
				So(body["delta"], ShouldEqual, float64(0))
				So(body["trust_score"], ShouldEqual, float64(72))
				So(body["fired_rules"], ShouldBeEmpty)
			})

			Convey("Then a retried event with the same idempotency key is not scored twice", func() {
				h := map[string]string{"Authorization": auth["Authorization"], api.HeaderIdempotencyKey: "abc"}
				first := do(mux, http.MethodPost, "/events", `{"type":"LOGIN_FAIL","device_id":"tablet"}`, h)
				second := do(mux, http.MethodPost, "/events", `{"type":"LOGIN_FAIL","device_id":"tablet"}`, h)
				So(first.Code, ShouldEqual, http.StatusOK)
				So(decode(first)["trust_score"], ShouldEqual, float64(62))
				So(second.Code, ShouldEqual, http.StatusOK)
				So(decode(second)["duplicate"], ShouldEqual, true)
				So(decode(second)["trust_score"], ShouldEqual, float64(62))
			})

			Convey("Then malformed events are rejected", func() {
				So(do(mux, http.MethodPost, "/events", `{}`, auth).Code, ShouldEqual, http.StatusBadRequest)
				So(do(mux, http.MethodPost, "/events", `{"type":"login_fail"}`, auth).Code, ShouldEqual, http.StatusBadRequest)
				So(do(mux, http.MethodPost, "/events", `{"type":`, auth).Code, ShouldEqual, http.StatusBadRequest)
			})

			Convey("Then history lists the newest events first", func() {
				do(mux, http.MethodPost, "/events", `{"type":"OTP_REQUEST","device_id":"phone"}`, auth)
				w := do(mux, http.MethodGet, "/trust/events?limit=1", "", auth)
				So(w.Code, ShouldEqual, http.StatusOK)
				events := decode(w)["events"].([]any)
				So(events, ShouldHaveLength, 1)
				So(events[0].(map[string]any)["type"], ShouldEqual, "OTP_REQUEST")

				So(do(mux, http.MethodGet, "/trust/events?limit=0", "", auth).Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When calling protected routes without a valid token", func() {
			So(do(mux, http.MethodGet, "/trust/me", "", nil).Code, ShouldEqual, http.StatusUnauthorized)
			So(do(mux, http.MethodGet, "/trust/me", "", map[string]string{"Authorization": "Bearer forged"}).Code, ShouldEqual, http.StatusUnauthorized)
			So(do(mux, http.MethodPost, "/events", `{"type":"OTP_REQUEST"}`, map[string]string{"Authorization": "Basic abc"}).Code, ShouldEqual, http.StatusUnauthorized)
		})

		Convey("When reading stats", func() {
			w := do(mux, http.MethodGet, "/stats", "", nil)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decode(w)["accounts"], ShouldEqual, float64(1))
		})

		Convey("When using the wrong method", func() {
			So(do(mux, http.MethodGet, "/events", "", nil).Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

// stubDeps authenticates every token as "acct-1" and fails reads with err.
type stubDeps struct {
	err error
}

func (s stubDeps) Register(context.Context, string, string) (string, error) { return "", s.err }
func (s stubDeps) Login(context.Context, string, string, string, string) (service.LoginResult, error) {
	return service.LoginResult{}, s.err
}
func (s stubDeps) Authenticate(string) (string, error) { return "acct-1", nil }
func (s stubDeps) RecordEvent(context.Context, string, model.EventKind, string, string, string) (service.EventResult, error) {
	return service.EventResult{}, s.err
}
func (s stubDeps) RecentEvents(context.Context, string, int) ([]model.Event, error) {
	return nil, s.err
}
func (s stubDeps) Trust(context.Context, string) (service.TrustView, error) {
	return service.TrustView{}, s.err
}
func (s stubDeps) GetStats(context.Context) map[string]any { return map[string]any{} }

func TestErrorMapping(t *testing.T) {
	auth := map[string]string{"Authorization": "Bearer any"}
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"missing account", fmt.Errorf("%w: gone", service.ErrNotFound), http.StatusNotFound},
		{"store outage", fmt.Errorf("%w: redis down", service.ErrUnavailable), http.StatusServiceUnavailable},
		{"not started", service.ErrNotStarted, http.StatusServiceUnavailable},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	Convey("Given handlers over failing dependencies", t, func() {
		for _, tc := range cases {
			Convey("When the service reports "+tc.name, func() {
				mux := newMux(stubDeps{err: tc.err})
				w := do(mux, http.MethodGet, "/trust/me", "", auth)
				So(w.Code, ShouldEqual, tc.status)
				So(w.Header().Get("Content-Type"), ShouldStartWith, "application/json")
			})
		}

		Convey("When a 5xx occurs, the cause is not leaked", func() {
			w := do(newMux(stubDeps{err: errors.New("secret internals")}), http.MethodGet, "/trust/me", "", auth)
			So(w.Body.String(), ShouldNotContainSubstring, "secret internals")
		})
	})
}

func TestKindError(t *testing.T) {
	Convey("Given a wrapped kind error", t, func() {
		cause := errors.New("missing type")
		err := api.WrapKind("api.post_event", api.ErrBadRequest, cause)

		So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
		So(errors.Is(err, cause), ShouldBeTrue)
		So(err.Error(), ShouldEqual, "api.post_event: bad request: missing type")
		So(api.NewKind("api.auth", api.ErrUnauthorized).Error(), ShouldEqual, "api.auth: unauthorized")
	})
}
