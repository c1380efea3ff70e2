package provision_test

import (
	"context"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/illmade-knight/go-batchrelay/pkg/provision"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const testProjectID = "provision-project"

func setupTestPubsub(t *testing.T) *pubsub.Client {
	t.Helper()
	srv := pstest.NewServer()
	client, err := pubsub.NewClient(context.Background(), testProjectID,
		option.WithEndpoint(srv.Addr),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, client.Close())
		require.NoError(t, srv.Close())
	})
	return client
}

func TestManager_Setup(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client := setupTestPubsub(t)

	m, err := provision.NewManager(client, zerolog.Nop())
	require.NoError(t, err)

	res := provision.Resources{
		TopicID:             "customer-events",
		SubscriptionID:      "customer-events-sub",
		AckDeadline:         2 * time.Minute,
		MaxDeliveryAttempts: 7,
		DeadLetterTopicID:   "customer-events-dlq",
		CallbackTopicID:     "batch-callbacks",
	}
	require.NoError(t, m.Setup(ctx, res))

	for _, id := range []string{"customer-events", "customer-events-dlq", "batch-callbacks"} {
		exists, err := client.Topic(id).Exists(ctx)
		require.NoError(t, err)
		assert.True(t, exists, "topic %s", id)
	}

	subCfg, err := client.Subscription("customer-events-sub").Config(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, subCfg.AckDeadline)
	require.NotNil(t, subCfg.DeadLetterPolicy)
	assert.Equal(t, 7, subCfg.DeadLetterPolicy.MaxDeliveryAttempts)
	assert.Contains(t, subCfg.DeadLetterPolicy.DeadLetterTopic, "customer-events-dlq")

	t.Run("idempotent and updates the lease", func(t *testing.T) {
		res.AckDeadline = 5 * time.Minute
		require.NoError(t, m.Setup(ctx, res))

		subCfg, err := client.Subscription("customer-events-sub").Config(ctx)
		require.NoError(t, err)
		assert.Equal(t, 5*time.Minute, subCfg.AckDeadline)
	})

	t.Run("teardown", func(t *testing.T) {
		require.NoError(t, m.Teardown(ctx, res))
		exists, err := client.Subscription("customer-events-sub").Exists(ctx)
		require.NoError(t, err)
		assert.False(t, exists)
		exists, err = client.Topic("customer-events").Exists(ctx)
		require.NoError(t, err)
		assert.False(t, exists)

		require.NoError(t, m.Teardown(ctx, res), "missing resources are skipped")
	})
}

func TestManager_SetupRejectsIncompleteResources(t *testing.T) {
	client := setupTestPubsub(t)
	m, err := provision.NewManager(client, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	assert.Error(t, m.Setup(ctx, provision.Resources{SubscriptionID: "s"}))
	assert.Error(t, m.Setup(ctx, provision.Resources{TopicID: "t"}))
	assert.Error(t, m.Setup(ctx, provision.Resources{TopicID: "t", SubscriptionID: "s", MaxDeliveryAttempts: 5}))
}

func TestClampAckDeadline(t *testing.T) {
	assert.Equal(t, provision.MinAckDeadline, provision.ClampAckDeadline(0))
	assert.Equal(t, time.Minute, provision.ClampAckDeadline(time.Minute))
	assert.Equal(t, provision.MaxAckDeadline, provision.ClampAckDeadline(time.Hour))
}

func TestNewManager_NilClient(t *testing.T) {
	_, err := provision.NewManager(nil, zerolog.Nop())
	assert.Error(t, err)
}
