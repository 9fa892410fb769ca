package checkpoint

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// These tests need live services and are skipped unless the matching
// environment variable is set.

func TestMongoStore_Live(t *testing.T) {
	uri := os.Getenv("PIPEFLOW_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("PIPEFLOW_TEST_MONGO_URI not set")
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	require.NoError(t, err)
	t.Cleanup(func() { client.Disconnect(context.Background()) })

	db := client.Database("pipeflow_test_" + uuid.NewString()[:8])
	t.Cleanup(func() { db.Drop(context.Background()) })

	s, err := NewMongoStore(db.Collection(DefaultCollection), CodecMsgpack)
	require.NoError(t, err)
	testStore(t, s)
}

func TestObjectStore_Live(t *testing.T) {
	endpoint := os.Getenv("PIPEFLOW_TEST_S3_ENDPOINT")
	if endpoint == "" {
		t.Skip("PIPEFLOW_TEST_S3_ENDPOINT not set")
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds: credentials.NewStaticV4(
			os.Getenv("PIPEFLOW_TEST_S3_ACCESS_KEY"),
			os.Getenv("PIPEFLOW_TEST_S3_SECRET_KEY"),
			"",
		),
	})
	require.NoError(t, err)

	s, err := NewObjectStore(client, "pipeflow-test-"+uuid.NewString()[:8], "", CodecJSON)
	require.NoError(t, err)
	require.NoError(t, s.EnsureBucket(context.Background(), "us-east-1"))
	testStore(t, s)
}
