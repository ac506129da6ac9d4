package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisDeduper_FirstSeen(t *testing.T) {
	client, mock := redismock.NewClientMock()
	d := NewRedisDeduper(client, time.Hour)
	ctx := context.Background()

	t.Run("NewKey", func(t *testing.T) {
		mock.ExpectSetNX(dedupPrefix+"AWB1|PICKED UP|t1", 1, time.Hour).SetVal(true)

		first, err := d.FirstSeen(ctx, "AWB1|PICKED UP|t1")
		require.NoError(t, err)
		assert.True(t, first)
	})

	t.Run("RepeatedKey", func(t *testing.T) {
		mock.ExpectSetNX(dedupPrefix+"AWB1|PICKED UP|t1", 1, time.Hour).SetVal(false)

		first, err := d.FirstSeen(ctx, "AWB1|PICKED UP|t1")
		require.NoError(t, err)
		assert.False(t, first)
	})

	t.Run("RedisDown", func(t *testing.T) {
		mock.ExpectSetNX(dedupPrefix+"k", 1, time.Hour).SetErr(errors.New("connection refused"))

		_, err := d.FirstSeen(ctx, "k")
		assert.Error(t, err)
	})

	t.Run("Forget", func(t *testing.T) {
		mock.ExpectDel(dedupPrefix + "k").SetVal(1)
		assert.NoError(t, d.Forget(ctx, "k"))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLocalDeduper(t *testing.T) {
	d := NewLocalDeduper(time.Minute)
	now := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }
	ctx := context.Background()

	first, _ := d.FirstSeen(ctx, "a")
	assert.True(t, first)
	first, _ = d.FirstSeen(ctx, "a")
	assert.False(t, first)

	now = now.Add(2 * time.Minute)
	first, _ = d.FirstSeen(ctx, "a")
	assert.True(t, first, "expired keys are accepted again")

	require.NoError(t, d.Forget(ctx, "a"))
	first, _ = d.FirstSeen(ctx, "a")
	assert.True(t, first)
}
