package audit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupMongo connects to MONGO_TEST_URI and returns a store on a throwaway
// database that is dropped when the test ends.
func setupMongo(t *testing.T) *MongoStore {
	t.Helper()
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := Connect(ctx, uri)
	require.NoError(t, err)
	db := client.Database("shift_engine_test_" + uuid.NewString()[:8])
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = db.Drop(ctx)
		_ = client.Disconnect(ctx)
	})
	return NewMongoStore(db)
}

func TestMongoStore_RecordAndQuery(t *testing.T) {
	store := setupMongo(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, store.EnsureIndexes(ctx))
	require.NoError(t, store.Record(ctx, Event{
		Category: CategoryAssignment, EventType: EventShiftAutoAssigned,
		ShiftID: "s1", ExecutorID: "e1", Success: true,
	}))
	require.NoError(t, store.Record(ctx, Event{
		Category: CategoryTransfer, EventType: EventTransferCreated,
		ShiftID: "s1", ExecutorID: "e2", Success: true,
	}))

	events, err := store.Query(ctx, QueryFilter{ShiftID: "s1"})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	n, err := store.Count(ctx, QueryFilter{EventType: EventTransferCreated})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
