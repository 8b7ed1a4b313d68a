package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/okian/calmmind/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "data", "calmmind.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	return s
}

func TestSQLiteStore(t *testing.T) {
	Convey("Given a sqlite store", t, func() {
		storeContract(func() CohortStore {
			s := openTestSQLite(t)
			Reset(func() { _ = s.Close() })
			return s
		})
	})

	Convey("Given an in-memory sqlite store", t, func() {
		s, err := OpenSQLite(context.Background(), ":memory:")
		So(err, ShouldBeNil)
		defer s.Close()

		Convey("Then it keeps state across calls", func() {
			ctx := context.Background()
			So(s.Commit(ctx, "balanced", 0, model.CohortStats{Count: 1}), ShouldBeNil)
			_, version, found, err := s.Read(ctx, "balanced")
			So(err, ShouldBeNil)
			So(found, ShouldBeTrue)
			So(version, ShouldEqual, int64(1))
		})
	})

	Convey("Given a sqlite file that was already migrated", t, func() {
		path := filepath.Join(t.TempDir(), "calmmind.db")
		first, err := OpenSQLite(context.Background(), path)
		So(err, ShouldBeNil)
		So(first.Commit(context.Background(), "balanced", 0, model.CohortStats{Count: 1}), ShouldBeNil)
		So(first.Close(), ShouldBeNil)

		Convey("When it is opened again", func() {
			second, err := OpenSQLite(context.Background(), path)
			So(err, ShouldBeNil)
			defer second.Close()

			Convey("Then the data survives", func() {
				stats, _, found, err := second.Read(context.Background(), "balanced")
				So(err, ShouldBeNil)
				So(found, ShouldBeTrue)
				So(stats.Count, ShouldEqual, int64(1))
				So(second.Path(), ShouldEqual, path)
			})
		})
	})
}

func TestSQLiteAudit(t *testing.T) {
	Convey("Given a sqlite store", t, func() {
		s := openTestSQLite(t)
		defer s.Close()
		ctx := context.Background()

		stats := model.CohortStats{Count: 1, AvgScreenMinutes: 410, AvgLongestSession: 90, AvgPressureDrop: 5}
		rec := model.SubmissionRecord{
			ID:      "3f1c",
			Payload: model.CohortPayload{CohortID: "night-owls", AvgScreenMinutes: 410, AvgLongestSession: 90, AvgPressureDrop: 5},
			Response: model.TuningResponse{
				CohortID:    "night-owls",
				Updated:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
				Weights:     model.TuningWeights{ScreenMinutes: 0.4, LongestSessionMinutes: 0.2, PressureDrop: 0.15},
				BiasDelta:   0.05,
				ContextNote: "Cloud spotted late-night screen spikes across 1 samples in night-owls.",
				CohortStats: &stats,
			},
			ReceivedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		}

		Convey("When a submission is written", func() {
			So(s.WriteSubmission(ctx, rec), ShouldBeNil)

			Convey("Then it reads back by cohort", func() {
				got, err := s.Submissions(ctx, "night-owls")
				So(err, ShouldBeNil)
				So(len(got), ShouldEqual, 1)
				So(got[0].ID, ShouldEqual, rec.ID)
				So(got[0].Payload, ShouldResemble, rec.Payload)
				So(got[0].Response.ContextNote, ShouldEqual, rec.Response.ContextNote)
				So(*got[0].Response.CohortStats, ShouldResemble, stats)
				So(got[0].ReceivedAt.Equal(rec.ReceivedAt), ShouldBeTrue)
			})

			Convey("And the same id cannot be written twice", func() {
				So(s.WriteSubmission(ctx, rec), ShouldNotBeNil)
			})
		})

		Convey("When another cohort is queried", func() {
			got, err := s.Submissions(ctx, "balanced")

			Convey("Then nothing is returned", func() {
				So(err, ShouldBeNil)
				So(got, ShouldBeEmpty)
			})
		})
	})
}
