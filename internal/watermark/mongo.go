package watermark

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/BartekS5/elt/pkg/logger"
	"github.com/BartekS5/elt/pkg/models"
	"github.com/BartekS5/elt/pkg/utils"
)

// mongoCollection is the subset of *mongo.Collection the store needs.
type mongoCollection interface {
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	UpdateOne(ctx context.Context, filter interface{}, update interface{}, opts ...*options.UpdateOptions) (*mongo.UpdateResult, error)
}

type watermarkDoc struct {
	PipelineID string    `bson:"_id"`
	CutoffDate string    `bson:"cutoff_date"`
	UpdatedAt  time.Time `bson:"updated_at"`
}

// MongoStore keeps one document per pipeline, keyed by pipeline id.
// A single-document upsert is atomic, so readers see either the old or the
// new cutoff.
type MongoStore struct {
	coll    mongoCollection
	loc     *time.Location
	timeout time.Duration
}

// NewMongoStore returns a store over database.collection.
func NewMongoStore(client *mongo.Client, database, collection string, loc *time.Location) *MongoStore {
	return newMongoStore(client.Database(database).Collection(collection), loc)
}

func newMongoStore(coll mongoCollection, loc *time.Location) *MongoStore {
	if loc == nil {
		loc = time.UTC
	}
	return &MongoStore{coll: coll, loc: loc, timeout: 30 * time.Second}
}

func (s *MongoStore) Get(ctx context.Context, pipelineID string) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var doc watermarkDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": pipelineID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return time.Time{}, models.NewError(models.CodeNotInitialized, "get watermark", fmt.Errorf("pipeline %q", pipelineID))
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read watermark: %w", err)
	}
	return utils.ParseDate(doc.CutoffDate, s.loc)
}

func (s *MongoStore) Set(ctx context.Context, pipelineID string, cutoff time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	filter := bson.M{"_id": pipelineID}
	update := bson.M{"$set": bson.M{
		"cutoff_date": utils.FormatDate(cutoff.In(s.loc)),
		"updated_at":  time.Now().UTC(),
	}}
	res, err := s.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to write watermark: %w", err)
	}
	logger.Debug("mongo watermark upsert", "pipeline", pipelineID, "matched", res.MatchedCount, "upserted", res.UpsertedCount)
	return nil
}
