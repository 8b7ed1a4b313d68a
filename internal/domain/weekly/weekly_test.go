package weekly_test

import (
	"testing"

	"github.com/okian/calmmind/internal/domain/model"
	"github.com/okian/calmmind/internal/domain/weekly"
	. "github.com/smartystreets/goconvey/convey"
)

// stubEvaluator replays canned insights keyed by date.
type stubEvaluator struct {
	byDate map[string]model.RiskInsight
	calls  []string
}

func (s *stubEvaluator) Evaluate(day model.DailyMetrics) model.RiskInsight {
	s.calls = append(s.calls, day.Date)
	return s.byDate[day.Date]
}

func days(dates ...string) []model.DailyMetrics {
	out := make([]model.DailyMetrics, len(dates))
	for i, d := range dates {
		out[i] = model.DailyMetrics{Date: d}
	}
	return out
}

func TestBuild(t *testing.T) {
	Convey("Given a week of canned insights", t, func() {
		cfg := model.ScoringConfig{RiskThreshold: 0.7}
		stub := &stubEvaluator{byDate: map[string]model.RiskInsight{
			"d1": {Date: "d1", Score: 0.7, Drivers: []string{"pressure drop", "extended screen time"}, Action: model.ActionEnableDND},
			"d2": {Date: "d2", Score: 0.69, Drivers: []string{"extended screen time", "pressure drop"}, Action: model.ActionDimScreen},
			"d3": {Date: "d3", Score: 0.91, Drivers: []string{"frequent pickups"}, Action: model.ActionDimScreen},
			"d4": {Date: "d4", Score: 0.2, Drivers: nil, Action: model.ActionEnableDND},
		}}

		Convey("When building the summary", func() {
			summary := weekly.Build(days("d3", "d1", "d4", "d2"), nil, cfg, stub)

			Convey("Then days are evaluated and kept in input order", func() {
				So(stub.calls, ShouldResemble, []string{"d3", "d1", "d4", "d2"})
				So(summary.Insights[0].Date, ShouldEqual, "d3")
				So(summary.Insights[3].Date, ShouldEqual, "d2")
			})

			Convey("And a score equal to the threshold counts as an intervention", func() {
				So(summary.InterventionCount, ShouldEqual, 2)
			})

			Convey("And driver ties go to the first label seen", func() {
				// "frequent pickups" is seen first but only once; the two-way tie
				// between "pressure drop" and "extended screen time" goes to the
				// label first recorded, which is "pressure drop" from d1.
				So(summary.StrongestDriver, ShouldEqual, "pressure drop")
			})

			Convey("And automation ties go to the action first seen", func() {
				So(summary.FavoriteAutomation, ShouldEqual, "Screen dimming shield")
			})

			Convey("And the recap is filled from the three values", func() {
				So(summary.Recap, ShouldEqual,
					"CalmMind quietly intervened 2 times this week. Biggest trigger: pressure drop. Most helpful automation: Screen dimming shield.")
			})
		})
	})

	Convey("Given no days at all", t, func() {
		summary := weekly.Build(nil, nil, model.ScoringConfig{RiskThreshold: 0.7}, &stubEvaluator{})

		Convey("Then the fallbacks are used", func() {
			So(summary.InterventionCount, ShouldEqual, 0)
			So(summary.StrongestDriver, ShouldEqual, "baseline stability")
			So(summary.FavoriteAutomation, ShouldEqual, "Hydration cue")
			So(summary.Insights, ShouldNotBeNil)
			So(summary.Insights, ShouldBeEmpty)
		})
	})

	Convey("Given no evaluator", t, func() {
		cfg := model.ScoringConfig{
			Weights:       map[string]float64{"screenMinutes": 2, "pressureDrop": 1},
			Bias:          -1,
			RiskThreshold: 0.7,
		}
		weather := []model.EnvironmentMetrics{
			{Date: "2026-03-01", PressureHpa: 1015},
			{Date: "2026-03-02", PressureHpa: 1000},
		}
		in := []model.DailyMetrics{
			{Date: "2026-03-01", ScreenMinutes: 60, BedtimeModeUsed: true},
			{Date: "2026-03-02", ScreenMinutes: 480, LongestSessionMinutes: 130},
		}

		Convey("When building the summary", func() {
			summary := weekly.Build(in, weather, cfg, nil)

			Convey("Then an engine over the weather series is used", func() {
				So(len(summary.Insights), ShouldEqual, 2)
				So(summary.Insights[1].Action, ShouldEqual, model.ActionDimScreen)
				So(summary.Insights[1].Drivers[0], ShouldEqual, "extended screen time")
				So(summary.Insights[1].Drivers, ShouldContain, "pressure drop")
				So(summary.InterventionCount, ShouldEqual, 1)
			})
		})
	})
}

func TestAutomationLabel(t *testing.T) {
	Convey("Given an unknown action", t, func() {
		Convey("Then its raw value is the label", func() {
			So(weekly.AutomationLabel(model.Action("nap")), ShouldEqual, "nap")
		})
	})
}
