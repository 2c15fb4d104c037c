package implementation

import (
	"context"
	"errors"
	"fmt"
	"time"

	lsmerrors "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Errors"
	lsmmodels "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Models"
	interfaces "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Repository/Interfaces"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// readingDocument is the stored shape of a reading
type readingDocument struct {
	ID            primitive.ObjectID `bson:"_id,omitempty"`
	Timestamp     time.Time          `bson:"timestamp"`
	ExpiresAt     time.Time          `bson:"expires_at"`
	SchemaVersion int                `bson:"schema_version"`
	Fields        map[string]float64 `bson:"fields"`
}

// MongoReadingRepository stores readings in a MongoDB collection. A TTL index on
// expires_at gives passive expiry where the server supports it; reads filter by the
// window regardless.
type MongoReadingRepository struct {
	coll      *mongo.Collection
	window    time.Duration
	opTimeout time.Duration
	now       interfaces.Clock
}

var _ interfaces.ReadingRepository = (*MongoReadingRepository)(nil)

func NewMongoReadingRepository(coll *mongo.Collection, window, opTimeout time.Duration) *MongoReadingRepository {
	return &MongoReadingRepository{
		coll:      coll,
		window:    window,
		opTimeout: opTimeout,
		now:       time.Now,
	}
}

// WithClock replaces the time source
func (r *MongoReadingRepository) WithClock(now interfaces.Clock) *MongoReadingRepository {
	r.now = now
	return r
}

// EnsureIndexes creates the TTL index on expires_at and the timestamp index used for
// latest/history sorting and sweeping
func (r *MongoReadingRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	models := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetName("expires_at_ttl").SetExpireAfterSeconds(0),
		},
		{
			Keys:    bson.D{{Key: "timestamp", Value: 1}},
			Options: options.Index().SetName("timestamp_asc"),
		},
	}

	if _, err := r.coll.Indexes().CreateMany(ctx, models); err != nil {
		return fmt.Errorf("failed to create reading indexes: %w", err)
	}
	return nil
}

func (r *MongoReadingRepository) Append(ctx context.Context, reading lsmmodels.Reading) (lsmmodels.Reading, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	// mongo keeps millisecond precision, the returned record must match what is stored
	now := r.now().UTC().Truncate(time.Millisecond)
	stored := reading.Clone()
	if stored.Timestamp.IsZero() {
		stored.Timestamp = now
	} else {
		stored.Timestamp = stored.Timestamp.UTC().Truncate(time.Millisecond)
	}
	if stored.SchemaVersion == 0 {
		stored.SchemaVersion = lsmmodels.SchemaVersion()
	}

	doc := readingDocument{
		ID:            primitive.NewObjectID(),
		Timestamp:     stored.Timestamp,
		ExpiresAt:     now.Add(r.window),
		SchemaVersion: stored.SchemaVersion,
		Fields:        stored.Fields,
	}

	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return lsmmodels.Reading{}, lsmerrors.WrapPersistence("append", err)
	}

	stored.ID = doc.ID.Hex()
	return stored, nil
}

func (r *MongoReadingRepository) Latest(ctx context.Context) (lsmmodels.Reading, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	opts := options.FindOne().SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}})

	var doc readingDocument
	err := r.coll.FindOne(ctx, r.windowFilter(), opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return lsmmodels.Reading{}, lsmerrors.ErrNotFound
		}
		return lsmmodels.Reading{}, lsmerrors.WrapPersistence("latest", err)
	}

	return doc.toReading(), nil
}

func (r *MongoReadingRepository) WindowAll(ctx context.Context) ([]lsmmodels.Reading, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	// ObjectIDs grow with insertion, breaking ties between readings of the same millisecond
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := r.coll.Find(ctx, r.windowFilter(), opts)
	if err != nil {
		return nil, lsmerrors.WrapPersistence("window", err)
	}
	defer cursor.Close(ctx)

	var docs []readingDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, lsmerrors.WrapPersistence("window", err)
	}

	readings := make([]lsmmodels.Reading, 0, len(docs))
	for _, doc := range docs {
		readings = append(readings, doc.toReading())
	}
	return readings, nil
}

func (r *MongoReadingRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	res, err := r.coll.DeleteMany(ctx, bson.M{"timestamp": bson.M{"$lt": cutoff.UTC()}})
	if err != nil {
		return 0, lsmerrors.WrapPersistence("delete", err)
	}
	return res.DeletedCount, nil
}

func (r *MongoReadingRepository) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	if err := r.coll.Database().Client().Ping(ctx, readpref.Primary()); err != nil {
		return lsmerrors.WrapPersistence("ping", err)
	}
	return nil
}

// windowFilter matches readings inside the window whose deadline has not passed
func (r *MongoReadingRepository) windowFilter() bson.M {
	now := r.now().UTC()
	return bson.M{
		"timestamp":  bson.M{"$gte": now.Add(-r.window)},
		"expires_at": bson.M{"$gt": now},
	}
}

func (d readingDocument) toReading() lsmmodels.Reading {
	fields := d.Fields
	if fields == nil {
		fields = map[string]float64{}
	}
	return lsmmodels.Reading{
		ID:            d.ID.Hex(),
		Timestamp:     d.Timestamp.UTC(),
		SchemaVersion: d.SchemaVersion,
		Fields:        fields,
	}
}
