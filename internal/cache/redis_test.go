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

func TestCache_InvalidateDropsNestedKeys(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := New(db, "cache:", 0)

	mock.ExpectScan(0, "cache:line:1:*", scanCount).SetVal([]string{"cache:line:1:positions"}, 42)
	mock.ExpectScan(42, "cache:line:1:*", scanCount).SetVal([]string{"cache:line:1:tickets"}, 0)
	mock.ExpectDel("cache:line:1", "cache:line:1:positions", "cache:line:1:tickets").SetVal(2)

	require.NoError(t, c.Invalidate(context.Background(), "line:1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCache_InvalidateScanError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := New(db, "", 0)

	mock.ExpectScan(0, "cache:ticket:3:*", scanCount).SetErr(errors.New("LOADING"))

	err := c.Invalidate(context.Background(), "ticket:3")
	assert.Error(t, err)
}

func TestCache_GetMissAndHit(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := New(db, "cache:", 0)
	ctx := context.Background()

	mock.ExpectGet("cache:line:1:positions").RedisNil()
	mock.ExpectGet("cache:line:1:positions").SetVal(`[1,2,3]`)

	var got []int
	ok, err := c.Get(ctx, "line:1:positions", &got)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.Get(ctx, "line:1:positions", &got)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []int{1, 2, 3}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCache_Set(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := New(db, "cache:", DefaultTTL)

	mock.ExpectSet("cache:line:2:positions", []byte(`{"a":1}`), DefaultTTL).SetVal("OK")

	require.NoError(t, c.Set(context.Background(), "line:2:positions", map[string]int{"a": 1}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCache_SetForCapsTTL(t *testing.T) {
	db, mock := redismock.NewClientMock()
	c := New(db, "cache:", DefaultTTL)
	ctx := context.Background()

	mock.ExpectSet("cache:line:2:positions", []byte(`[]`), 5*time.Second).SetVal("OK")
	mock.ExpectSet("cache:line:3:positions", []byte(`[]`), DefaultTTL).SetVal("OK")

	require.NoError(t, c.SetFor(ctx, "line:2:positions", []int{}, 5*time.Second))
	require.NoError(t, c.SetFor(ctx, "line:3:positions", []int{}, time.Hour))
	assert.NoError(t, mock.ExpectationsWereMet())
}
