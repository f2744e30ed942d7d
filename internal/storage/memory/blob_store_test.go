package memory

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutAndGet(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte(`{"job_id":"job"}`)
	uri, err := store.PutObject(context.Background(), "/results/job/result.json", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://results/job/result.json", uri)

	payload[0] = '['
	obj, ok := store.Get("results/job/result.json")
	require.True(t, ok)
	require.Equal(t, `{"job_id":"job"}`, string(obj.Data))
	require.Equal(t, "application/json", obj.ContentType)

	obj.Data[0] = '['
	again, _ := store.Get("results/job/result.json")
	require.Equal(t, byte('{'), again.Data[0], "Get returns a copy")

	_, ok = store.Get("missing")
	require.False(t, ok)
}

func TestBlobStorePutFailures(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	_, err := store.PutObject(context.Background(), "", "", strings.NewReader("{}"))
	require.Error(t, err)

	_, err = store.PutObject(context.Background(), "x", "", iotest.ErrReader(iotest.ErrTimeout))
	require.ErrorIs(t, err, iotest.ErrTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.PutObject(ctx, "x", "", strings.NewReader("{}"))
	require.ErrorIs(t, err, context.Canceled)
	_, ok := store.Get("x")
	require.False(t, ok)
}
