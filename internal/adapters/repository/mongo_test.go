package repository

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/okian/calmmind/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var errMongoDown = errors.New("server selection timeout")

// fakeCollection is an in-process stand-in for a cohort or audit
// collection. It understands the filters and updates MongoStore sends.
type fakeCollection struct {
	mu        sync.Mutex
	docs      map[string]cohortDocument
	inserted  []any
	insertErr error
	updates   int
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{docs: make(map[string]cohortDocument)}
}

func (c *fakeCollection) FindOne(_ context.Context, filter any, _ ...*options.FindOneOptions) *mongo.SingleResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, _ := filter.(bson.M)["_id"].(string)
	doc, ok := c.docs[id]
	if !ok {
		return mongo.NewSingleResultFromDocument(bson.D{}, mongo.ErrNoDocuments, nil)
	}
	return mongo.NewSingleResultFromDocument(doc, nil, nil)
}

func (c *fakeCollection) Find(_ context.Context, _ any, _ ...*options.FindOptions) (*mongo.Cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	docs := make([]any, 0, len(c.docs))
	for _, d := range c.docs {
		docs = append(docs, d)
	}
	return mongo.NewCursorFromDocuments(docs, nil, nil)
}

func (c *fakeCollection) InsertOne(_ context.Context, doc any, _ ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.insertErr != nil {
		return nil, c.insertErr
	}
	if d, ok := doc.(cohortDocument); ok {
		if _, exists := c.docs[d.ID]; exists {
			return nil, mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000, Message: "E11000 duplicate key error"}}}
		}
		c.docs[d.ID] = d
		return &mongo.InsertOneResult{InsertedID: d.ID}, nil
	}
	c.inserted = append(c.inserted, doc)
	return &mongo.InsertOneResult{}, nil
}

func (c *fakeCollection) UpdateOne(_ context.Context, filter, update any, _ ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates++

	f := filter.(bson.M)
	id, _ := f["_id"].(string)
	doc, ok := c.docs[id]
	if !ok || doc.Version != f["version"].(int64) {
		return &mongo.UpdateResult{}, nil
	}

	set := update.(bson.M)["$set"].(bson.M)
	doc.Version = set["version"].(int64)
	doc.Count = set["count"].(int64)
	doc.AvgScreenMinutes = set["avgScreenMinutes"].(float64)
	doc.AvgLongestSession = set["avgLongestSession"].(float64)
	doc.AvgPressureDrop = set["avgPressureDrop"].(float64)
	c.docs[id] = doc
	return &mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
}

func TestMongoStore(t *testing.T) {
	Convey("Given a mongo store", t, func() {
		storeContract(func() CohortStore {
			return newMongoStore(newFakeCollection(), newFakeCollection())
		})
	})

	Convey("Given a cohort another writer inserted first", t, func() {
		ctx := context.Background()
		cohorts := newFakeCollection()
		cohorts.docs["night-owls"] = toDocument("night-owls", 1, model.CohortStats{Count: 1, AvgScreenMinutes: 300})
		s := newMongoStore(cohorts, newFakeCollection())

		Convey("When this writer inserts version 0", func() {
			err := s.Commit(ctx, "night-owls", 0, model.CohortStats{Count: 1, AvgScreenMinutes: 410})

			Convey("Then the duplicate key is reported as a conflict", func() {
				So(errors.Is(err, ErrConflict), ShouldBeTrue)
				So(cohorts.docs["night-owls"].AvgScreenMinutes, ShouldEqual, 300.0)
			})
		})

		Convey("When this writer updates from a version that no longer matches", func() {
			err := s.Commit(ctx, "night-owls", 3, model.CohortStats{Count: 4})

			Convey("Then no document matches and it is a conflict", func() {
				So(errors.Is(err, ErrConflict), ShouldBeTrue)
				So(cohorts.updates, ShouldEqual, 1)
				So(cohorts.docs["night-owls"].Version, ShouldEqual, int64(1))
			})
		})
	})

	Convey("Given a collection that fails inserts", t, func() {
		ctx := context.Background()
		cohorts := newFakeCollection()
		cohorts.insertErr = errMongoDown
		s := newMongoStore(cohorts, cohorts)

		Convey("Then commits and audit writes fail without a conflict", func() {
			err := s.Commit(ctx, "balanced", 0, model.CohortStats{Count: 1})
			So(errors.Is(err, errMongoDown), ShouldBeTrue)
			So(errors.Is(err, ErrConflict), ShouldBeFalse)

			err = s.WriteSubmission(ctx, model.SubmissionRecord{ID: "r-1"})
			So(errors.Is(err, errMongoDown), ShouldBeTrue)
		})
	})

	Convey("Given a mongo store used as an audit sink", t, func() {
		ctx := context.Background()
		audit := newFakeCollection()
		s := newMongoStore(newFakeCollection(), audit)

		Convey("When a submission is written", func() {
			rec := model.SubmissionRecord{ID: "r-1", Payload: model.CohortPayload{CohortID: "balanced"}}
			So(s.WriteSubmission(ctx, rec), ShouldBeNil)

			Convey("Then it lands in the audit collection", func() {
				So(len(audit.inserted), ShouldEqual, 1)
				So(audit.inserted[0].(model.SubmissionRecord).ID, ShouldEqual, "r-1")
			})
		})
	})
}
