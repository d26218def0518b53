package mongo_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	ta "github.com/panyam/tokenauth"
	"github.com/panyam/tokenauth/stores/mongo"
	"github.com/panyam/tokenauth/stores/storetest"
)

// Runs only when MONGO_TEST_URI points at a reachable server, e.g.
//
//	MONGO_TEST_URI=mongodb://localhost:27017 go test ./stores/mongo/...
func TestMongoStoreConformance(t *testing.T) {
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	ctx := context.Background()
	client, err := mongo.Connect(ctx, uri)
	require.NoError(t, err)
	t.Cleanup(func() { client.Disconnect(context.Background()) })

	storetest.Run(t, func(t *testing.T) ta.Store {
		db := client.Database("tokenauth_test_" + uuid.NewString()[:8])
		t.Cleanup(func() { db.Drop(context.Background()) })
		store := mongo.NewStore(db)
		require.NoError(t, store.EnsureIndexes(ctx))
		return store
	})
}
