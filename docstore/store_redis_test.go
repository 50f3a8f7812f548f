package docstore

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := NewRedisStore(client, "test:doc:")
	require.NoError(t, err)
	return store, mr
}

func TestRedisStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		store, _ := newTestRedisStore(t)
		return store
	}, seedRedisRaw)
}

// TestRedisStoreServer runs the suite against a real Redis, whose Lua
// runtime differs from miniredis.
func TestRedisStoreServer(t *testing.T) {
	addr := os.Getenv("HORIZON_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("HORIZON_TEST_REDIS_ADDR not set; skipping Redis integration test")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("redis ping: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	runStoreTests(t, func(t *testing.T) Store {
		prefix := "horizon_test:" + uuid.NewString() + ":"
		store, err := NewRedisStore(client, prefix)
		require.NoError(t, err)
		t.Cleanup(func() {
			iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
			for iter.Next(ctx) {
				_ = client.Del(ctx, iter.Val()).Err()
			}
		})
		return store
	}, seedRedisRaw)
}

func seedRedisRaw(t *testing.T, store Store, collection, id string, doc Document) {
	t.Helper()
	s, ok := store.(*RedisStore)
	require.True(t, ok)

	fields, err := encodeHashFields(doc, id)
	require.NoError(t, err)
	if version, ok := doc[VersionField]; ok {
		enc, err := json.Marshal(version)
		require.NoError(t, err)
		fields = append(fields, VersionField, string(enc))
	}
	require.NoError(t, s.Client.HSet(context.Background(), s.key(collection, id), fields...).Err())
}

func TestRedisStoreKeys(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	seed(t, store, "widgets", "a", Document{"x": 1, "tags": []any{}})

	key := "test:doc:{widgets}:a"
	assert.True(t, mr.Exists(key))
	assert.Equal(t, "0", mr.HGet(key, VersionField))
	assert.Equal(t, `"a"`, mr.HGet(key, IDField))
	assert.Equal(t, "1", mr.HGet(key, "x"))
	assert.Equal(t, "[]", mr.HGet(key, "tags"))

	_, err := store.Get(ctx, "widgets", "b")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreRejectsNilClient(t *testing.T) {
	_, err := NewRedisStore(nil, "")
	require.Error(t, err)
}

func TestRedisStoreDefaultPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := NewRedisStore(client, "  ")
	require.NoError(t, err)
	assert.Equal(t, defaultRedisDocPrefix, store.Prefix)
}

func TestRedisStoreUndecodableField(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)

	mr.HSet("test:doc:{widgets}:bad", "x", "{not json")
	mr.HSet("test:doc:{widgets}:odd", VersionField, "v2", "x", "1")

	_, err := store.Fetch(ctx, "widgets", []string{"bad"})
	require.Error(t, err)

	docs, err := store.Fetch(ctx, "widgets", []string{"odd"})
	require.NoError(t, err)
	assert.Equal(t, int64(-1), DefaultedVersion(docs[0]))
	assert.Equal(t, "v2", docs[0][VersionField])
}

func TestRedisStoreServerError(t *testing.T) {
	ctx := context.Background()
	store, mr := newTestRedisStore(t)
	mr.Close()

	_, err := store.Fetch(ctx, "widgets", []string{"a"})
	require.Error(t, err)

	_, err = store.BatchConditionalWrite(ctx, "widgets", []WriteSpec{{Kind: WriteInsert, Doc: Document{}}})
	require.Error(t, err)
}
