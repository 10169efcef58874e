package watermark

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/BartekS5/elt/pkg/models"
)

func date(s string) time.Time {
	t, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func TestFileStore_NotInitialized(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "wm.json"), nil)

	_, err := s.Get(context.Background(), "rental")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrNotInitialized)
}

func TestFileStore_SetAndGet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "wm.json")
	s := NewFileStore(path, nil)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "rental", date("2024-01-01")))
	require.NoError(t, s.Set(ctx, "other", date("2023-05-05")))
	require.NoError(t, s.Set(ctx, "rental", date("2024-06-01")))

	got, err := s.Get(ctx, "rental")
	require.NoError(t, err)
	assert.Equal(t, date("2024-06-01"), got)

	got, err = s.Get(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, date("2023-05-05"), got)

	// survives a new store instance
	got, err = NewFileStore(path, nil).Get(ctx, "rental")
	require.NoError(t, err)
	assert.Equal(t, date("2024-06-01"), got)

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestFileStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wm.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

	s := NewFileStore(path, nil)
	_, err := s.Get(context.Background(), "rental")
	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrNotInitialized)
	assert.Error(t, s.Set(context.Background(), "rental", date("2024-01-01")))
}

func TestFileStore_ConcurrentReadersSeeWholeValues(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "wm.json"), nil)
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "rental", date("2024-01-01")))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				got, err := s.Get(ctx, "rental")
				if assert.NoError(t, err) {
					assert.True(t, got.Equal(date("2024-01-01")) || got.Equal(date("2024-01-02")))
				}
			}
		}()
	}
	for i := 0; i < 20; i++ {
		d := "2024-01-01"
		if i%2 == 1 {
			d = "2024-01-02"
		}
		require.NoError(t, s.Set(ctx, "rental", date(d)))
	}
	close(stop)
	wg.Wait()
}

type fakeRedis struct {
	data map[string]string
	err  error
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func TestRedisStore(t *testing.T) {
	fake := &fakeRedis{data: map[string]string{}}
	s := NewRedisStore(fake, "", nil)
	ctx := context.Background()

	_, err := s.Get(ctx, "rental")
	assert.ErrorIs(t, err, models.ErrNotInitialized)

	require.NoError(t, s.Set(ctx, "rental", date("2024-06-01")))
	assert.Equal(t, "2024-06-01", fake.data["elt:watermark:rental"])

	got, err := s.Get(ctx, "rental")
	require.NoError(t, err)
	assert.Equal(t, date("2024-06-01"), got)

	fake.err = fmt.Errorf("connection refused")
	_, err = s.Get(ctx, "rental")
	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrNotInitialized)
}

type fakeCollection struct {
	docs map[string]bson.M
}

func (f *fakeCollection) FindOne(_ context.Context, filter interface{}, _ ...*options.FindOneOptions) *mongo.SingleResult {
	id := filter.(bson.M)["_id"].(string)
	doc, ok := f.docs[id]
	if !ok {
		return mongo.NewSingleResultFromDocument(bson.M{}, mongo.ErrNoDocuments, nil)
	}
	return mongo.NewSingleResultFromDocument(doc, nil, nil)
}

func (f *fakeCollection) UpdateOne(_ context.Context, filter interface{}, update interface{}, _ ...*options.UpdateOptions) (*mongo.UpdateResult, error) {
	id := filter.(bson.M)["_id"].(string)
	set := update.(bson.M)["$set"].(bson.M)
	doc := bson.M{"_id": id}
	for k, v := range set {
		doc[k] = v
	}
	_, existed := f.docs[id]
	f.docs[id] = doc
	if existed {
		return &mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil
	}
	return &mongo.UpdateResult{UpsertedCount: 1, UpsertedID: id}, nil
}

func TestMongoStore(t *testing.T) {
	coll := &fakeCollection{docs: map[string]bson.M{}}
	s := newMongoStore(coll, nil)
	ctx := context.Background()

	_, err := s.Get(ctx, "rental")
	assert.ErrorIs(t, err, models.ErrNotInitialized)

	require.NoError(t, s.Set(ctx, "rental", date("2024-01-01")))
	require.NoError(t, s.Set(ctx, "rental", date("2024-06-01")))
	assert.Len(t, coll.docs, 1)

	got, err := s.Get(ctx, "rental")
	require.NoError(t, err)
	assert.Equal(t, date("2024-06-01"), got)
}
