package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/okian/calmmind/internal/adapters/http/api"
	"github.com/okian/calmmind/internal/adapters/repository"
	"github.com/okian/calmmind/internal/config"
	"github.com/okian/calmmind/internal/domain/dedupe"
	"github.com/okian/calmmind/internal/domain/model"
	"github.com/okian/calmmind/internal/domain/tuning"
	"github.com/okian/calmmind/internal/domain/weekly"
	"github.com/okian/calmmind/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	_ = logger.Init()
}

// testDeps backs the handlers with a real aggregator over a memory store.
type testDeps struct {
	dedupe.Deduper
	agg       *tuning.Aggregator
	submitErr error
}

func (d *testDeps) SubmitTuning(ctx context.Context, p model.CohortPayload) (model.TuningResponse, error) {
	if d.submitErr != nil {
		return model.TuningResponse{}, d.submitErr
	}
	return d.agg.Submit(ctx, p)
}

func (d *testDeps) Cohort(ctx context.Context, id string) (model.CohortStats, error) {
	return d.agg.Cohort(ctx, id)
}

func (d *testDeps) Weekly(_ context.Context, days []model.DailyMetrics, weather []model.EnvironmentMetrics, cfg *model.ScoringConfig) model.WeeklySummary {
	risk := config.DefaultRisk()
	if cfg != nil {
		risk = *cfg
	}
	return weekly.Build(days, weather, risk, nil)
}

type staticStats map[string]any

func (s staticStats) GetStats(context.Context) map[string]any { return s }

func newMux(deps *testDeps) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps, staticStats{"store": "memory"}).Register(context.Background(), mux)
	return mux
}

func newDeps() *testDeps {
	store := repository.NewMemoryStore(context.Background())
	return &testDeps{
		Deduper: dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(16)),
		agg:     tuning.NewAggregator(store, tuning.WithBackoff(0, 0)),
	}
}

func do(mux *http.ServeMux, method, path, body string, header ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func decode[T any](w *httptest.ResponseRecorder) T {
	var v T
	So(json.Unmarshal(w.Body.Bytes(), &v), ShouldBeNil)
	return v
}

func TestServer_Register(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		mux := newMux(newDeps())

		Convey("Then /healthz serves the metrics registry", func() {
			w := do(mux, http.MethodGet, "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
		})

		Convey("And /stats serves provider stats as JSON", func() {
			w := do(mux, http.MethodGet, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Header().Get("Content-Type"), ShouldEqual, "application/json; charset=utf-8")
			So(decode[map[string]any](w)["store"], ShouldEqual, "memory")
		})

		Convey("And routes reject the wrong method", func() {
			w := do(mux, http.MethodGet, "/tuning", "")
			So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestTuningHandler(t *testing.T) {
	Convey("Given the tuning endpoint", t, func() {
		deps := newDeps()
		mux := newMux(deps)

		Convey("When the body is empty", func() {
			w := do(mux, http.MethodPost, "/tuning", "")

			Convey("Then every field defaults", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				resp := decode[model.TuningResponse](w)
				So(resp.CohortID, ShouldEqual, "balanced")
				So(resp.CohortStats, ShouldNotBeNil)
				So(*resp.CohortStats, ShouldResemble, model.CohortStats{Count: 1, AvgScreenMinutes: 300, AvgLongestSession: 90, AvgPressureDrop: 5})
				So(resp.ContextNote, ShouldEqual, "Cloud spotted balanced usage across 1 samples in balanced.")
			})
		})

		Convey("When a night-owls submission is posted", func() {
			w := do(mux, http.MethodPost, "/tuning", `{"cohortId":"night-owls","avgScreenMinutes":410}`)

			Convey("Then the response carries the adjusted weights", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				body := decode[map[string]any](w)
				So(body["biasDelta"], ShouldEqual, 0.05)
				So(body["weights"].(map[string]any)["screenMinutes"], ShouldEqual, 0.4)
				So(body["cohortStats"].(map[string]any)["count"], ShouldEqual, 1.0)
				So(body["updated"], ShouldNotBeEmpty)
			})
		})

		Convey("When metrics arrive as numeric strings", func() {
			w := do(mux, http.MethodPost, "/tuning", `{"cohortId":"night-owls","avgScreenMinutes":"410"}`)

			Convey("Then they are read as numbers", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				resp := decode[model.TuningResponse](w)
				So(resp.CohortStats.AvgScreenMinutes, ShouldEqual, 410.0)
				So(resp.BiasDelta, ShouldEqual, 0.05)
			})
		})

		Convey("When a metric is not a number", func() {
			w := do(mux, http.MethodPost, "/tuning", `{"avgScreenMinutes":"lots"}`)

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(decode[map[string]any](w)["message"], ShouldContainSubstring, "avgScreenMinutes")
			})
		})

		Convey("When the body is malformed", func() {
			w := do(mux, http.MethodPost, "/tuning", `{"cohortId":`)

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(decode[map[string]any](w)["error"], ShouldEqual, "bad_request")
			})
		})

		Convey("When the same idempotency key is sent twice", func() {
			first := do(mux, http.MethodPost, "/tuning", `{"avgScreenMinutes":320}`, api.IdempotencyHeader, "k-1")
			second := do(mux, http.MethodPost, "/tuning", `{"avgScreenMinutes":320}`, api.IdempotencyHeader, "k-1")

			Convey("Then the replay returns the identical response", func() {
				So(first.Code, ShouldEqual, http.StatusOK)
				So(second.Code, ShouldEqual, http.StatusOK)
				So(second.Body.String(), ShouldEqual, first.Body.String())
			})

			Convey("And the cohort advanced only once", func() {
				w := do(mux, http.MethodGet, "/cohorts/balanced", "")
				So(w.Code, ShouldEqual, http.StatusOK)
				So(decode[model.CohortStats](w).Count, ShouldEqual, int64(1))
			})
		})

		Convey("When a key is recorded without a cached response", func() {
			deps.SeenAndRecord(context.Background(), "k-2")
			w := do(mux, http.MethodPost, "/tuning", `{}`, api.IdempotencyHeader, "k-2")

			Convey("Then the submission is a conflict", func() {
				So(w.Code, ShouldEqual, http.StatusConflict)
				So(decode[map[string]any](w)["error"], ShouldEqual, "duplicate_submission")
			})
		})

		Convey("When the submission fails", func() {
			deps.submitErr = errors.New("store offline")
			w := do(mux, http.MethodPost, "/tuning", `{}`, api.IdempotencyHeader, "k-3")

			Convey("Then the cause is hidden", func() {
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
				So(w.Body.String(), ShouldNotContainSubstring, "store offline")
				So(decode[map[string]any](w)["error"], ShouldEqual, "internal_error")
			})

			Convey("And the key can be retried", func() {
				deps.submitErr = nil
				w := do(mux, http.MethodPost, "/tuning", `{}`, api.IdempotencyHeader, "k-3")
				So(w.Code, ShouldEqual, http.StatusOK)
			})
		})
	})
}

func TestCohortHandler(t *testing.T) {
	Convey("Given the cohorts endpoint", t, func() {
		mux := newMux(newDeps())

		Convey("When an unknown cohort is requested", func() {
			w := do(mux, http.MethodGet, "/cohorts/ghosts", "")

			Convey("Then it is not found", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
				So(decode[map[string]any](w)["error"], ShouldEqual, "not_found")
			})
		})

		Convey("When a cohort has submissions", func() {
			do(mux, http.MethodPost, "/tuning", `{"cohortId":"night-owls","avgScreenMinutes":410}`)
			do(mux, http.MethodPost, "/tuning", `{"cohortId":"night-owls","avgScreenMinutes":350}`)
			w := do(mux, http.MethodGet, "/cohorts/night-owls", "")

			Convey("Then the running averages are returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				stats := decode[model.CohortStats](w)
				So(stats.Count, ShouldEqual, int64(2))
				So(stats.AvgScreenMinutes, ShouldEqual, 380.0)
			})
		})
	})
}

func TestWeeklyHandler(t *testing.T) {
	Convey("Given the weekly endpoint", t, func() {
		mux := newMux(newDeps())

		Convey("When no days are posted", func() {
			w := do(mux, http.MethodPost, "/weekly", `{"days":[],"weather":[]}`)

			Convey("Then the recap uses the fallbacks", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				summary := decode[model.WeeklySummary](w)
				So(summary.InterventionCount, ShouldEqual, 0)
				So(summary.Recap, ShouldEqual, "CalmMind quietly intervened 0 times this week. Biggest trigger: baseline stability. Most helpful automation: Hydration cue.")
				So(summary.Insights, ShouldBeEmpty)
			})
		})

		Convey("When a day is posted with a zero-threshold config", func() {
			w := do(mux, http.MethodPost, "/weekly",
				`{"days":[{"date":"2024-03-01","screenMinutes":100}],"weather":[],"config":{"weights":{},"bias":0,"riskThreshold":0}}`)

			Convey("Then every day is an intervention", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				summary := decode[model.WeeklySummary](w)
				So(summary.InterventionCount, ShouldEqual, 1)
				So(len(summary.Insights), ShouldEqual, 1)
				So(summary.Insights[0].Score, ShouldEqual, 0.5)
			})
		})

		Convey("When the config threshold is out of range", func() {
			w := do(mux, http.MethodPost, "/weekly", `{"days":[],"config":{"riskThreshold":1.5}}`)

			Convey("Then it is a bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})
	})
}

func TestErrors(t *testing.T) {
	Convey("Given the error helpers", t, func() {
		cause := errors.New("boom")

		Convey("Then WrapKind keeps both the kind and the cause", func() {
			err := api.WrapKind("api.op", api.ErrBadRequest, cause)
			So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
			So(errors.Is(err, cause), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "api.op: bad request: boom")
		})

		Convey("And Wrap leaves nil alone", func() {
			So(api.Wrap("api.op", nil), ShouldBeNil)
			So(errors.Is(api.Wrap("api.op", cause), cause), ShouldBeTrue)
		})

		Convey("And NewKind has no cause", func() {
			err := api.NewKind("api.op", api.ErrDuplicate)
			So(errors.Is(err, api.ErrDuplicate), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "api.op: duplicate submission")
		})
	})
}
