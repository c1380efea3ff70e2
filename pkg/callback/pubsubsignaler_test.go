package callback_test

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/illmade-knight/go-batchrelay/pkg/callback"
	"github.com/illmade-knight/go-batchrelay/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func setupCallbackTopic(t *testing.T) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	client, err := pubsub.NewClient(ctx, "cb-project",
		option.WithEndpoint(srv.Addr),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	topic, err := client.CreateTopic(ctx, "batch-callbacks")
	require.NoError(t, err)
	t.Cleanup(func() {
		topic.Stop()
		_ = client.Close()
		_ = srv.Close()
	})
	return srv, topic
}

func TestPubsubSignaler(t *testing.T) {
	srv, topic := setupCallbackTopic(t)
	s, err := callback.NewPubsubSignaler(topic, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.SendSuccess(ctx, "tok-ok", callback.Result{Success: true, Message: "OK"}))
	require.NoError(t, s.SendFailure(ctx, "tok-fail", string(types.KindPartialFailure), callback.Result{Success: false, Message: "1 of 2 messages failed"}))

	msgs := srv.Messages()
	require.Len(t, msgs, 2)

	byToken := map[string]*pstest.Message{}
	for _, m := range msgs {
		byToken[m.Attributes[callback.AttrCallbackToken]] = m
	}

	ok := byToken["tok-ok"]
	require.NotNil(t, ok)
	assert.Equal(t, "true", ok.Attributes[callback.AttrSuccess])
	_, hasKind := ok.Attributes[callback.AttrErrorKind]
	assert.False(t, hasKind)
	var r callback.Result
	require.NoError(t, json.Unmarshal(ok.Data, &r))
	assert.Equal(t, callback.Result{Success: true, Message: "OK"}, r)

	fail := byToken["tok-fail"]
	require.NotNil(t, fail)
	assert.Equal(t, "false", fail.Attributes[callback.AttrSuccess])
	assert.Equal(t, string(types.KindPartialFailure), fail.Attributes[callback.AttrErrorKind])
	assert.JSONEq(t, `{"success":false,"message":"1 of 2 messages failed"}`, string(fail.Data))
}

func TestNewPubsubSignaler_NilTopic(t *testing.T) {
	_, err := callback.NewPubsubSignaler(nil, zerolog.Nop())
	assert.Error(t, err)
}
