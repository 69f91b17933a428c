package journal

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/postlaunch/internal/domain/launch"
)

func sampleEntry() Entry {
	return Entry{
		PostID:  "post-1",
		AgentID: "agent-1",
		Request: launch.Request{
			Name:               "Foo Token",
			Symbol:             "FOO",
			ImageRef:           "https://img.example/foo.png",
			BeneficiaryAddress: "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
			RequestingAgentID:  "agent-1",
			SourcePostID:       "post-1",
		},
		MetadataURI: "ipfs://meta",
		AssetID:     "Mint1111111111111111111111111111111111111",
		SignedTxs: []launch.SignedTx{
			{Signature: "sigA", Raw: []byte{1, 2, 3}},
			{Signature: "sigB", Raw: []byte{4, 5}},
		},
		CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	j := NewMemory()

	_, err := j.Get(ctx, "post-1")
	assert.ErrorIs(t, err, ErrNotFound)

	e := sampleEntry()
	require.NoError(t, j.Put(ctx, e))

	// the stored batch is not shared with the caller
	e.SignedTxs[0] = launch.SignedTx{Signature: "mutated"}
	got, err := j.Get(ctx, "post-1")
	require.NoError(t, err)
	assert.Equal(t, "sigA", got.SignedTxs[0].Signature)

	require.NoError(t, j.Delete(ctx, "post-1"))
	_, err = j.Get(ctx, "post-1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, j.Put(ctx, Entry{}))
}

func TestRedisPut(t *testing.T) {
	db, mock := redismock.NewClientMock()
	j := NewRedis(db, time.Hour)

	e := sampleEntry()
	payload, err := json.Marshal(e)
	require.NoError(t, err)

	mock.ExpectSet("postlaunch:journal:post-1", payload, time.Hour).SetVal("OK")
	require.NoError(t, j.Put(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisDefaultTTL(t *testing.T) {
	db, mock := redismock.NewClientMock()
	j := NewRedis(db, 0)

	e := sampleEntry()
	payload, _ := json.Marshal(e)
	mock.ExpectSet("postlaunch:journal:post-1", payload, DefaultTTL).SetVal("OK")
	require.NoError(t, j.Put(context.Background(), e))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisGet(t *testing.T) {
	ctx := context.Background()

	t.Run("hit decodes the entry", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		j := NewRedis(db, time.Hour)
		want := sampleEntry()
		payload, _ := json.Marshal(want)
		mock.ExpectGet("postlaunch:journal:post-1").SetVal(string(payload))

		got, err := j.Get(ctx, "post-1")
		require.NoError(t, err)
		assert.Equal(t, want, got)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("miss is ErrNotFound", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		j := NewRedis(db, time.Hour)
		mock.ExpectGet("postlaunch:journal:gone").RedisNil()

		_, err := j.Get(ctx, "gone")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("redis error surfaces", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		j := NewRedis(db, time.Hour)
		mock.ExpectGet("postlaunch:journal:post-1").SetErr(redis.TxFailedErr)

		_, err := j.Get(ctx, "post-1")
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrNotFound))
	})

	t.Run("corrupt payload", func(t *testing.T) {
		db, mock := redismock.NewClientMock()
		j := NewRedis(db, time.Hour)
		mock.ExpectGet("postlaunch:journal:post-1").SetVal("{not json")

		_, err := j.Get(ctx, "post-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "decode journal entry")
	})
}

func TestRedisDelete(t *testing.T) {
	db, mock := redismock.NewClientMock()
	j := NewRedis(db, time.Hour)
	mock.ExpectDel("postlaunch:journal:post-1").SetVal(1)

	require.NoError(t, j.Delete(context.Background(), "post-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEntryNeverCarriesSecret(t *testing.T) {
	payload, err := json.Marshal(sampleEntry())
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "secret")
}
