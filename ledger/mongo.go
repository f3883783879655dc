package ledger

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const mongoConnectTimeout = 10 * time.Second

// mongoRecord is the document shape of the catalog_operations collection
type mongoRecord struct {
	ExecutionID string            `bson:"executionId"`
	FileName    string            `bson:"fileName"`
	Operation   string            `bson:"operation"`
	Status      string            `bson:"status"`
	Timestamp   time.Time         `bson:"timestamp"`
	Details     map[string]string `bson:"details,omitempty"`
}

func toMongo(rec StageRecord) mongoRecord {
	return mongoRecord{
		ExecutionID: rec.ExecutionID,
		FileName:    rec.FileName,
		Operation:   string(rec.Stage),
		Status:      string(rec.Status),
		Timestamp:   rec.Timestamp,
		Details:     rec.Details,
	}
}

func fromMongo(doc mongoRecord) StageRecord {
	details := doc.Details
	if details == nil {
		details = map[string]string{}
	}
	return StageRecord{
		ExecutionID: doc.ExecutionID,
		FileName:    doc.FileName,
		Stage:       Stage(doc.Operation),
		Status:      Status(doc.Status),
		Timestamp:   doc.Timestamp.UTC(),
		Details:     details,
	}
}

// MongoLedger stores one document per stage record
type MongoLedger struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     zerolog.Logger
	closed     atomic.Bool
}

// NewMongoLedger connects, verifies the server is reachable and ensures the
// lookup indexes exist.
func NewMongoLedger(ctx context.Context, uri, database, collection string, logger zerolog.Logger) (*MongoLedger, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Errorf("pinging mongo: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	_, err = coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "executionId", Value: 1}, {Key: "fileName", Value: 1}}},
		{Keys: bson.D{{Key: "timestamp", Value: 1}}},
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, errors.Errorf("creating mongo indexes: %w", err)
	}

	return &MongoLedger{
		client:     client,
		collection: coll,
		logger:     logger.With().Str("component", "ledger").Str("backend", "mongo").Logger(),
	}, nil
}

// RecordStage implements Ledger
func (l *MongoLedger) RecordStage(ctx context.Context, rec StageRecord) error {
	if l.closed.Load() {
		return ErrClosed
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	stamp(&rec)

	if _, err := l.collection.InsertOne(ctx, toMongo(rec)); err != nil {
		return errors.Errorf("inserting stage record: %w", err)
	}
	return nil
}

// Records implements Ledger
func (l *MongoLedger) Records(ctx context.Context, executionID string) ([]StageRecord, error) {
	if l.closed.Load() {
		return nil, ErrClosed
	}

	// ObjectIDs from a single writer increase with insertion order
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	cursor, err := l.collection.Find(ctx, bson.M{"executionId": executionID}, opts)
	if err != nil {
		return nil, errors.Errorf("querying stage records: %w", err)
	}

	var docs []mongoRecord
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, errors.Errorf("reading stage records: %w", err)
	}

	records := make([]StageRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, fromMongo(doc))
	}
	return records, nil
}

// FilesToDelete implements Ledger
func (l *MongoLedger) FilesToDelete(ctx context.Context, executionID string) ([]DeletionCandidate, error) {
	records, err := l.Records(ctx, executionID)
	if err != nil {
		return nil, err
	}
	return Aggregate(executionID, records), nil
}

// Purge implements Ledger
func (l *MongoLedger) Purge(ctx context.Context, executionID, fileName string) error {
	if l.closed.Load() {
		return ErrClosed
	}

	res, err := l.collection.DeleteMany(ctx, bson.M{"executionId": executionID, "fileName": fileName})
	if err != nil {
		return errors.Errorf("purging stage records: %w", err)
	}
	l.logger.Debug().Str("file", fileName).Int64("removed", res.DeletedCount).Msg("Purged stage records")
	return nil
}

// Prune implements Ledger
func (l *MongoLedger) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	if l.closed.Load() {
		return 0, ErrClosed
	}

	res, err := l.collection.DeleteMany(ctx, bson.M{"timestamp": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, errors.Errorf("pruning stage records: %w", err)
	}
	return int(res.DeletedCount), nil
}

// Close implements Ledger
func (l *MongoLedger) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	ctx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	defer cancel()
	return l.client.Disconnect(ctx)
}
