package implementation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lsmerrors "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func namespace(mt *mtest.T) string {
	return mt.Coll.Database().Name() + "." + mt.Coll.Name()
}

func readingDoc(id primitive.ObjectID, ts time.Time, fields bson.D) bson.D {
	return bson.D{
		{Key: "_id", Value: id},
		{Key: "timestamp", Value: ts},
		{Key: "expires_at", Value: ts.Add(time.Hour)},
		{Key: "schema_version", Value: int32(3)},
		{Key: "fields", Value: fields},
	}
}

// sentCommand pops the next command the client started and checks its name
func sentCommand(mt *mtest.T, name string) bson.Raw {
	mt.Helper()
	evt := mt.GetStartedEvent()
	require.NotNil(mt, evt, "no %s command sent", name)
	require.Equal(mt, name, evt.CommandName)
	return evt.Command
}

func sortOf(mt *mtest.T, cmd bson.Raw) bson.D {
	mt.Helper()
	var sort bson.D
	require.NoError(mt, bson.Unmarshal(cmd.Lookup("sort").Document(), &sort))
	return sort
}

func assertWindowFilter(mt *mtest.T, cmd bson.Raw, now time.Time) {
	mt.Helper()
	from := cmd.Lookup("filter", "timestamp", "$gte").Time()
	deadline := cmd.Lookup("filter", "expires_at", "$gt").Time()
	assert.True(mt, now.Add(-time.Hour).Truncate(time.Millisecond).Equal(from), "window start %s", from)
	assert.True(mt, now.Truncate(time.Millisecond).Equal(deadline), "expiry deadline %s", deadline)
}

func TestMongoRepo(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	now := time.Date(2026, 10, 18, 10, 0, 0, 123456789, time.UTC)
	clock := func() time.Time { return now }

	mt.Run("append assigns id and millisecond timestamp", func(mt *mtest.T) {
		repo := NewMongoReadingRepository(mt.Coll, time.Hour, time.Second).WithClock(clock)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		stored, err := repo.Append(context.Background(), reading(map[string]float64{"temperature": 25, "humidity": 60}))
		require.NoError(mt, err)

		_, err = primitive.ObjectIDFromHex(stored.ID)
		assert.NoError(mt, err)
		assert.Equal(mt, now.Truncate(time.Millisecond), stored.Timestamp)
		assert.Equal(mt, map[string]float64{"temperature": 25, "humidity": 60}, stored.Fields)
	})

	mt.Run("append failure is a persistence error", func(mt *mtest.T) {
		repo := NewMongoReadingRepository(mt.Coll, time.Hour, time.Second).WithClock(clock)
		mt.AddMockResponses(mtest.CreateWriteErrorsResponse(mtest.WriteError{
			Index:   0,
			Code:    11000,
			Message: "duplicate key error",
		}))

		_, err := repo.Append(context.Background(), reading(map[string]float64{"temperature": 25}))
		require.Error(mt, err)
		assert.True(mt, lsmerrors.IsPersistence(err))
	})

	mt.Run("latest on empty window", func(mt *mtest.T) {
		repo := NewMongoReadingRepository(mt.Coll, time.Hour, time.Second).WithClock(clock)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch))

		_, err := repo.Latest(context.Background())
		assert.ErrorIs(mt, err, lsmerrors.ErrNotFound)
	})

	mt.Run("latest decodes stored reading", func(mt *mtest.T) {
		repo := NewMongoReadingRepository(mt.Coll, time.Hour, time.Second).WithClock(clock)
		id := primitive.NewObjectID()
		ts := now.Add(-time.Minute).Truncate(time.Millisecond)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch,
			readingDoc(id, ts, bson.D{{Key: "temperature", Value: 21.5}})))

		latest, err := repo.Latest(context.Background())
		require.NoError(mt, err)
		assert.Equal(mt, id.Hex(), latest.ID)
		assert.True(mt, ts.Equal(latest.Timestamp))
		assert.Equal(mt, 3, latest.SchemaVersion)
		assert.Equal(mt, map[string]float64{"temperature": 21.5}, latest.Fields)
	})

	mt.Run("window returns server order", func(mt *mtest.T) {
		repo := NewMongoReadingRepository(mt.Coll, time.Hour, time.Second).WithClock(clock)
		first := readingDoc(primitive.NewObjectID(), now.Add(-30*time.Minute), bson.D{{Key: "humidity", Value: 40.0}})
		second := readingDoc(primitive.NewObjectID(), now.Add(-5*time.Minute), bson.D{})
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch, first, second))

		all, err := repo.WindowAll(context.Background())
		require.NoError(mt, err)
		require.Len(mt, all, 2)
		assert.True(mt, all[0].Timestamp.Before(all[1].Timestamp))
		assert.Empty(mt, all[1].Fields)
	})

	mt.Run("window failure is a persistence error", func(mt *mtest.T) {
		repo := NewMongoReadingRepository(mt.Coll, time.Hour, time.Second).WithClock(clock)
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code:    2,
			Message: "bad value",
			Name:    "BadValue",
		}))

		_, err := repo.WindowAll(context.Background())
		assert.True(mt, lsmerrors.IsPersistence(err))
	})

	mt.Run("latest queries the window newest first", func(mt *mtest.T) {
		repo := NewMongoReadingRepository(mt.Coll, time.Hour, time.Second).WithClock(clock)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch))
		mt.ClearEvents()

		_, err := repo.Latest(context.Background())
		assert.ErrorIs(mt, err, lsmerrors.ErrNotFound)

		cmd := sentCommand(mt, "find")
		assertWindowFilter(mt, cmd, now)
		assert.Equal(mt, bson.D{{Key: "timestamp", Value: int32(-1)}, {Key: "_id", Value: int32(-1)}}, sortOf(mt, cmd))
	})

	mt.Run("window queries oldest first and hides expired readings", func(mt *mtest.T) {
		repo := NewMongoReadingRepository(mt.Coll, time.Hour, time.Second).WithClock(clock)
		mt.AddMockResponses(mtest.CreateCursorResponse(0, namespace(mt), mtest.FirstBatch))
		mt.ClearEvents()

		all, err := repo.WindowAll(context.Background())
		require.NoError(mt, err)
		assert.Empty(mt, all)

		// a reading stored 61 minutes ago falls before the window start and past its deadline
		cmd := sentCommand(mt, "find")
		assertWindowFilter(mt, cmd, now)
		old := now.Add(-61 * time.Minute)
		assert.True(mt, old.Before(cmd.Lookup("filter", "timestamp", "$gte").Time()))
		assert.True(mt, old.Add(time.Hour).Before(cmd.Lookup("filter", "expires_at", "$gt").Time()))
		assert.Equal(mt, bson.D{{Key: "timestamp", Value: int32(1)}, {Key: "_id", Value: int32(1)}}, sortOf(mt, cmd))
	})

	mt.Run("delete before filters strictly older readings", func(mt *mtest.T) {
		repo := NewMongoReadingRepository(mt.Coll, time.Hour, time.Second).WithClock(clock)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: int32(0)}))
		mt.ClearEvents()

		cutoff := now.Add(-time.Hour)
		_, err := repo.DeleteBefore(context.Background(), cutoff)
		require.NoError(mt, err)

		cmd := sentCommand(mt, "delete")
		lt := cmd.Lookup("deletes", "0", "q", "timestamp", "$lt").Time()
		assert.True(mt, cutoff.Truncate(time.Millisecond).Equal(lt), "cutoff %s", lt)
		assert.Equal(mt, int32(0), cmd.Lookup("deletes", "0", "limit").Int32(), "deletes every match")
	})

	mt.Run("append stores deadline one window after the timestamp", func(mt *mtest.T) {
		repo := NewMongoReadingRepository(mt.Coll, time.Hour, time.Second).WithClock(clock)
		mt.AddMockResponses(mtest.CreateSuccessResponse())
		mt.ClearEvents()

		_, err := repo.Append(context.Background(), reading(map[string]float64{"rain_status": 12}))
		require.NoError(mt, err)

		cmd := sentCommand(mt, "insert")
		doc := cmd.Lookup("documents", "0").Document()
		ts := doc.Lookup("timestamp").Time()
		assert.True(mt, now.Truncate(time.Millisecond).Equal(ts))
		assert.True(mt, ts.Add(time.Hour).Equal(doc.Lookup("expires_at").Time()))
		assert.Equal(mt, 12.0, doc.Lookup("fields", "rain_status").Double())
	})

	mt.Run("delete before reports count", func(mt *mtest.T) {
		repo := NewMongoReadingRepository(mt.Coll, time.Hour, time.Second).WithClock(clock)
		mt.AddMockResponses(mtest.CreateSuccessResponse(bson.E{Key: "n", Value: int32(3)}))

		deleted, err := repo.DeleteBefore(context.Background(), now.Add(-time.Hour))
		require.NoError(mt, err)
		assert.Equal(mt, int64(3), deleted)
	})

	mt.Run("ensure indexes", func(mt *mtest.T) {
		repo := NewMongoReadingRepository(mt.Coll, time.Hour, time.Second)
		mt.AddMockResponses(mtest.CreateSuccessResponse())

		assert.NoError(mt, repo.EnsureIndexes(context.Background()))
	})
}
