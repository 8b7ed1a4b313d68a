package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/okian/calmmind/internal/domain/model"
)

const backendMongo = "mongo"

// cohortDocument is the stored shape of one cohort.
type cohortDocument struct {
	ID                string  `bson:"_id"`
	Version           int64   `bson:"version"`
	Count             int64   `bson:"count"`
	AvgScreenMinutes  float64 `bson:"avgScreenMinutes"`
	AvgLongestSession float64 `bson:"avgLongestSession"`
	AvgPressureDrop   float64 `bson:"avgPressureDrop"`
}

func toDocument(cohortID string, version int64, s model.CohortStats) cohortDocument {
	return cohortDocument{
		ID:                cohortID,
		Version:           version,
		Count:             s.Count,
		AvgScreenMinutes:  s.AvgScreenMinutes,
		AvgLongestSession: s.AvgLongestSession,
		AvgPressureDrop:   s.AvgPressureDrop,
	}
}

func (d cohortDocument) stats() model.CohortStats {
	return model.CohortStats{
		Count:             d.Count,
		AvgScreenMinutes:  d.AvgScreenMinutes,
		AvgLongestSession: d.AvgLongestSession,
		AvgPressureDrop:   d.AvgPressureDrop,
	}
}

// mongoCollection is the part of *mongo.Collection the store uses.
type mongoCollection interface {
	FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) *mongo.SingleResult
	Find(ctx context.Context, filter any, opts ...*options.FindOptions) (*mongo.Cursor, error)
	InsertOne(ctx context.Context, doc any, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	UpdateOne(ctx context.Context, filter, update any, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

// MongoStore keeps one document per cohort and uses the version field as
// the update filter. It is also an AuditSink.
type MongoStore struct {
	cohorts mongoCollection
	audit   mongoCollection
}

// ConnectMongo dials uri and verifies the connection.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	return client, nil
}

// NewMongoStore uses the cohort_stats and cohort_insights collections of db.
func NewMongoStore(db *mongo.Database, opts ...MongoOption) *MongoStore {
	o := mongoOptions{cohorts: "cohort_stats", audit: "cohort_insights"}
	for _, opt := range opts {
		opt(&o)
	}
	return newMongoStore(db.Collection(o.cohorts), db.Collection(o.audit))
}

func newMongoStore(cohorts, audit mongoCollection) *MongoStore {
	return &MongoStore{cohorts: cohorts, audit: audit}
}

// Read returns the stats and version of cohortID.
func (s *MongoStore) Read(ctx context.Context, cohortID string) (model.CohortStats, int64, bool, error) {
	defer observe(backendMongo, "read", time.Now())

	var doc cohortDocument
	err := s.cohorts.FindOne(ctx, bson.M{"_id": cohortID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.CohortStats{}, 0, false, nil
	}
	if err != nil {
		return model.CohortStats{}, 0, false, fmt.Errorf("mongo read %s: %w", cohortID, err)
	}
	return doc.stats(), doc.Version, true, nil
}

// Commit inserts the first version of a cohort or updates the document
// whose version still equals expectedVersion.
func (s *MongoStore) Commit(ctx context.Context, cohortID string, expectedVersion int64, next model.CohortStats) error {
	defer observe(backendMongo, "commit", time.Now())

	doc := toDocument(cohortID, expectedVersion+1, next)
	if expectedVersion == 0 {
		_, err := s.cohorts.InsertOne(ctx, doc)
		if mongo.IsDuplicateKeyError(err) {
			return ErrConflict
		}
		if err != nil {
			return fmt.Errorf("mongo insert %s: %w", cohortID, err)
		}
		return nil
	}

	res, err := s.cohorts.UpdateOne(ctx,
		bson.M{"_id": cohortID, "version": expectedVersion},
		bson.M{"$set": bson.M{
			"version":           doc.Version,
			"count":             doc.Count,
			"avgScreenMinutes":  doc.AvgScreenMinutes,
			"avgLongestSession": doc.AvgLongestSession,
			"avgPressureDrop":   doc.AvgPressureDrop,
		}},
	)
	if err != nil {
		return fmt.Errorf("mongo update %s: %w", cohortID, err)
	}
	if res.MatchedCount == 0 {
		return ErrConflict
	}
	return nil
}

// Snapshot returns every cohort document.
func (s *MongoStore) Snapshot(ctx context.Context) (map[string]model.CohortStats, error) {
	defer observe(backendMongo, "snapshot", time.Now())

	cur, err := s.cohorts.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("mongo find: %w", err)
	}
	var docs []cohortDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo decode: %w", err)
	}

	out := make(map[string]model.CohortStats, len(docs))
	for _, d := range docs {
		out[d.ID] = d.stats()
	}
	return out, nil
}

// WriteSubmission adds rec to the audit collection.
func (s *MongoStore) WriteSubmission(ctx context.Context, rec model.SubmissionRecord) error {
	defer observe(backendMongo, "audit", time.Now())

	if _, err := s.audit.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("mongo audit %s: %w", rec.ID, err)
	}
	return nil
}
