package scoring_test

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/okian/calmmind/internal/domain/model"
	scoring "github.com/okian/calmmind/internal/domain/scoring"
	. "github.com/smartystreets/goconvey/convey"
)

func TestEngine_Evaluate(t *testing.T) {
	Convey("Given an engine with the example config", t, func() {
		engine := scoring.NewEngine(exampleConfig(), weatherSeries())

		Convey("When evaluating a heavy-usage day without a weather match", func() {
			day := model.DailyMetrics{
				Date:                  "2026-02-10",
				ScreenMinutes:         400,
				LongestSessionMinutes: 150,
				Pickups:               80,
				Notifications:         200,
				BedtimeModeUsed:       false,
				DNDMinutes:            0,
				StressMeetings:        3,
			}
			insight := engine.Evaluate(day)

			Convey("Then the long session forces dim_screen", func() {
				So(insight.Action, ShouldEqual, model.ActionDimScreen)
			})

			Convey("And the score and drivers follow the weights", func() {
				So(insight.Date, ShouldEqual, "2026-02-10")
				So(insight.Score, ShouldEqual, 0.66)
				So(insight.Drivers, ShouldResemble, []string{"long continuous session", "extended screen time", "frequent pickups"})
				So(insight.Recommendation, ShouldEqual,
					"Drivers: long continuous session, extended screen time, frequent pickups. Let me dim the display and lower blue light exposure.")
			})
		})

		Convey("When evaluating a calm day with bedtime mode", func() {
			day := model.DailyMetrics{
				Date:                  "2026-03-03",
				ScreenMinutes:         120,
				LongestSessionMinutes: 20,
				Pickups:               20,
				Notifications:         40,
				BedtimeModeUsed:       true,
				DNDMinutes:            90,
			}
			insight := engine.Evaluate(day)

			Convey("Then hydration is recommended and bedtime mode is credited", func() {
				So(insight.Action, ShouldEqual, model.ActionHydrateReminder)
				So(insight.Score, ShouldBeLessThan, 0.7)
				So(len(insight.Drivers), ShouldEqual, 4)
				So(insight.Drivers[3], ShouldEqual, scoring.BedtimeLabel)
			})
		})

		Convey("When evaluating the same day twice", func() {
			day := model.DailyMetrics{Date: "2026-03-02", ScreenMinutes: 300, Pickups: 120, Notifications: 150}
			a, errA := json.Marshal(engine.Evaluate(day))
			b, errB := json.Marshal(engine.Evaluate(day))

			Convey("Then the encoded insights are byte-identical", func() {
				So(errA, ShouldBeNil)
				So(errB, ShouldBeNil)
				So(string(a), ShouldEqual, string(b))
			})
		})

		Convey("When the caller mutates the config after construction", func() {
			cfg := exampleConfig()
			e := scoring.NewEngine(cfg, nil)
			day := model.DailyMetrics{Date: "2026-03-02", ScreenMinutes: 300}
			before := e.Evaluate(day)
			cfg.Weights["screenMinutes"] = 50

			Convey("Then the engine is unaffected", func() {
				So(e.Evaluate(day), ShouldResemble, before)
			})
		})

		Convey("When evaluating concurrently", func() {
			day := model.DailyMetrics{Date: "2026-03-02", ScreenMinutes: 380, LongestSessionMinutes: 70, Pickups: 90}
			want := engine.Evaluate(day)

			var wg sync.WaitGroup
			results := make([]model.RiskInsight, 32)
			for i := range results {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					results[i] = engine.Evaluate(day)
				}(i)
			}
			wg.Wait()

			Convey("Then every goroutine sees the same insight", func() {
				for _, r := range results {
					So(r, ShouldResemble, want)
				}
			})
		})
	})
}

func TestEngine_Features(t *testing.T) {
	Convey("Given an engine with a weather series", t, func() {
		engine := scoring.NewEngine(exampleConfig(), weatherSeries())

		Convey("When asking for the features of a low-pressure day", func() {
			v, drop := engine.Features(model.DailyMetrics{Date: "2026-03-02"})

			Convey("Then the raw drop and the normalized feature agree", func() {
				So(drop, ShouldEqual, 12.0)
				So(v.Get(scoring.KeyPressureDrop), ShouldAlmostEqual, 1.2, 1e-9)
			})
		})
	})
}

func TestRecommendationAndFormat(t *testing.T) {
	Convey("Given an empty driver list", t, func() {
		text := scoring.Recommendation(nil, model.ActionEnableDND)

		Convey("Then the baseline fallback is used", func() {
			So(text, ShouldEqual, "Drivers: baseline stability. I’ll enable DND + bedtime mode for the next hour.")
		})
	})

	Convey("Given an insight", t, func() {
		in := model.RiskInsight{Date: "2026-03-02", Score: 0.83, Recommendation: "Drivers: pressure drop. Take a water break and stretch for two minutes."}

		Convey("Then it formats with a short date", func() {
			So(scoring.FormatInsight(in), ShouldEqual, "[Mar 2] Score 0.83 → Drivers: pressure drop. Take a water break and stretch for two minutes.")
		})

		Convey("And an unparsable date is shown as-is", func() {
			in.Date = "yesterday"
			So(scoring.FormatInsight(in), ShouldStartWith, "[yesterday]")
		})
	})
}
