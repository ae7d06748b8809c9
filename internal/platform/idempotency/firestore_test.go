package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSource struct{ err error }

func (f failingSource) Client(context.Context) (*firestore.Client, error) { return nil, f.err }

func TestNewFirestoreStoreRequiresSource(t *testing.T) {
	_, err := NewFirestoreStore(nil)
	require.Error(t, err)
}

func TestFirestoreStoreOptions(t *testing.T) {
	store, err := NewFirestoreStore(failingSource{}, WithCollection("  "), WithTxAttempts(0))
	require.NoError(t, err)
	assert.Equal(t, defaultFirestoreCollection, store.collection)
	assert.Empty(t, store.txOpts)

	store, err = NewFirestoreStore(failingSource{}, WithCollection(" order_keys "), WithTxAttempts(3), nil)
	require.NoError(t, err)
	assert.Equal(t, "order_keys", store.collection)
	assert.Len(t, store.txOpts, 1)
}

func TestFirestoreStoreSurfacesClientErrors(t *testing.T) {
	dialErr := errors.New("dial failed")
	store, err := NewFirestoreStore(failingSource{err: dialErr})
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Date(2024, time.May, 1, 9, 0, 0, 0, time.UTC)

	_, err = store.Reserve(ctx, "key", "fp", now, time.Hour)
	assert.ErrorIs(t, err, dialErr)
	assert.ErrorIs(t, store.SaveResponse(ctx, "key", "fp", Response{Status: 201}, now, time.Hour), dialErr)
	assert.ErrorIs(t, store.Release(ctx, "key", "fp"), dialErr)
	_, err = store.CleanupExpired(ctx, now, 10)
	assert.ErrorIs(t, err, dialErr)
}

func TestFirestoreRecordRoundTripKeepsReplayFields(t *testing.T) {
	now := time.Date(2024, time.May, 1, 9, 0, 0, 0, time.FixedZone("IST", 19800))
	record := newPendingRecord("key|cust_1", "fp", now, time.Hour).complete(Response{
		Status:  201,
		Headers: map[string][]string{"Content-Type": {"application/json"}},
		Body:    []byte(`{"id":"ord_1"}`),
	}, now, time.Hour)

	got := encodeFirestoreRecord(record).record()
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 201, got.ResponseStatus)
	assert.Equal(t, record.ResponseBody, got.ResponseBody)
	assert.Equal(t, time.UTC, got.ExpiresAt.Location())
	assert.True(t, got.ExpiresAt.Equal(record.ExpiresAt))
}
