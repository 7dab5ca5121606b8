package ratelimit

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	entry, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, entry)

	in := &Entry{
		Requests:   []int64{100, 200, 300},
		Violations: 2,
	}
	require.NoError(t, store.Set(ctx, "10.1.2.3", in, time.Minute))

	entry, err = store.Get(ctx, "10.1.2.3")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, in.Requests, entry.Requests)
	assert.Equal(t, 2, entry.Violations)

	// returned entries are copies, mutating them must not leak back
	entry.Requests[0] = 999
	entry, err = store.Get(ctx, "10.1.2.3")
	require.NoError(t, err)
	assert.Equal(t, int64(100), entry.Requests[0])

	require.NoError(t, store.Delete(ctx, "10.1.2.3"))
	entry, err = store.Get(ctx, "10.1.2.3")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "10.1.2.3", &Entry{Violations: 1}, -time.Second))
	entry, err := store.Get(ctx, "10.1.2.3")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

func TestRedisStore(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db)
	ctx := context.Background()

	mock.ExpectGet("ratelimit::missing").RedisNil()
	entry, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, entry)

	in := &Entry{
		Requests:   []int64{100, 200},
		Violations: 1,
	}
	inBytes, err := json.Marshal(in)
	require.NoError(t, err)

	mock.ExpectSet("ratelimit::10.1.2.3", inBytes, time.Minute).SetVal("OK")
	require.NoError(t, store.Set(ctx, "10.1.2.3", in, time.Minute))

	mock.ExpectGet("ratelimit::10.1.2.3").SetVal(string(inBytes))
	entry, err = store.Get(ctx, "10.1.2.3")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, in.Requests, entry.Requests)
	assert.Equal(t, 1, entry.Violations)

	mock.ExpectDel("ratelimit::10.1.2.3").SetVal(1)
	require.NoError(t, store.Delete(ctx, "10.1.2.3"))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisStore_Errors(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db)
	ctx := context.Background()

	mock.ExpectGet("ratelimit::10.1.2.3").SetErr(assert.AnError)
	_, err := store.Get(ctx, "10.1.2.3")
	assert.Error(t, err)

	mock.ExpectGet("ratelimit::10.1.2.3").SetVal("not json")
	_, err = store.Get(ctx, "10.1.2.3")
	assert.Error(t, err)
}

func TestNewStore_FallbackToMemory(t *testing.T) {
	// no redis or postgres clients at all
	store, err := NewStore(context.Background(), "redis", nil, nil, true)
	require.NoError(t, err)
	assert.Equal(t, "memory", store.Name())

	// memory not allowed, startup must fail instead of silently
	// running without persistence
	_, err = NewStore(context.Background(), "redis", nil, nil, false)
	assert.Error(t, err)

	_, err = NewStore(context.Background(), "filesystem", nil, nil, true)
	assert.Error(t, err)
}
