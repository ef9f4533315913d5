package redisx

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestPublishToStream(t *testing.T) {
	mr, client := setupMiniredis(t)

	id, err := PublishToStream(context.Background(), client, "hnt:sensor:readings", map[string]interface{}{
		"device_id":   "dev01",
		"value":       "23.5",
		"captured_at": int64(1700000000000),
		"ok":          true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	entries, err := mr.Stream("hnt:sensor:readings")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	values := map[string]string{}
	for i := 0; i+1 < len(entries[0].Values); i += 2 {
		values[entries[0].Values[i]] = entries[0].Values[i+1]
	}
	assert.Equal(t, "dev01", values["device_id"])
	assert.Equal(t, "23.5", values["value"])
	assert.Equal(t, "1700000000000", values["captured_at"])
	assert.Equal(t, "true", values["ok"])
}

func TestPublishJSONToStream(t *testing.T) {
	mr, client := setupMiniredis(t)

	_, err := PublishJSONToStream(context.Background(), client, "events", map[string]string{
		"deviceId": "dev01",
	})
	require.NoError(t, err)

	entries, err := mr.Stream("events")
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
