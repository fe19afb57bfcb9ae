package jobworker_test

import (
	"context"
	"errors"
	"testing"

	"github.com/domonda/go-types/nullable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/domonda/go-topicqueue"
	"github.com/domonda/go-topicqueue/jobworker"
)

type greeting struct {
	Name string `json:"name"`
}

func TestRegisterFunc(t *testing.T) {
	ctx := context.Background()

	jobworker.RegisterFunc("greet", func(ctx context.Context, payload *greeting) (string, error) {
		return "Hello " + payload.Name, nil
	})
	jobworker.RegisterFunc("fail", func(payload greeting) error {
		return errors.New("failed for " + payload.Name)
	})
	t.Cleanup(func() { jobworker.Unregister("greet", "fail") })

	assert.True(t, jobworker.IsRegistered("greet"))
	assert.Contains(t, jobworker.RegisteredTopics(), "greet")

	t.Run("result", func(t *testing.T) {
		result, err := jobworker.DoJob(ctx, &topicqueue.Job{Topic: "greet", Payload: nullable.JSON(`{"name":"World"}`)})
		require.NoError(t, err)
		assert.Equal(t, nullable.JSON(`"Hello World"`), result)
	})

	t.Run("error", func(t *testing.T) {
		_, err := jobworker.DoJob(ctx, &topicqueue.Job{Topic: "fail", Payload: nullable.JSON(`{"name":"World"}`)})
		assert.ErrorContains(t, err, "failed for World")
	})

	t.Run("invalid payload", func(t *testing.T) {
		_, err := jobworker.DoJob(ctx, &topicqueue.Job{Topic: "greet", Payload: nullable.JSON(`[1, 2]`)})
		assert.Error(t, err)
	})

	t.Run("no worker", func(t *testing.T) {
		_, err := jobworker.DoJob(ctx, &topicqueue.Job{Topic: "unknown"})
		assert.Error(t, err)

		_, err = jobworker.DoJob(ctx, nil)
		assert.Error(t, err)
	})

	t.Run("duplicate", func(t *testing.T) {
		assert.Panics(t, func() {
			jobworker.RegisterFunc("greet", func(payload *greeting) error { return nil })
		})
	})

	t.Run("invalid functions", func(t *testing.T) {
		assert.Panics(t, func() { jobworker.RegisterFunc("invalid", "not a function") })
		assert.Panics(t, func() { jobworker.RegisterFunc("invalid", func() error { return nil }) })
		assert.Panics(t, func() { jobworker.RegisterFunc("invalid", func(payload *greeting) (string, string) { return "", "" }) })
		assert.Panics(t, func() { jobworker.RegisterFunc("", func(payload *greeting) error { return nil }) })
		assert.False(t, jobworker.IsRegistered("invalid"))
	})
}

func TestRegisterPayloadFunc(t *testing.T) {
	topic := topicqueue.TopicOfPayload(greeting{})

	var got string
	jobworker.RegisterPayloadFunc(func(payload *greeting) {
		got = payload.Name
	})
	t.Cleanup(func() { jobworker.Unregister(topic) })

	require.True(t, jobworker.IsRegistered(topic))

	_, err := jobworker.DoJob(context.Background(), &topicqueue.Job{Topic: topic, Payload: nullable.JSON(`{"name":"Payload"}`)})
	require.NoError(t, err)
	assert.Equal(t, "Payload", got)
}

func TestDoJobRecoversPanic(t *testing.T) {
	jobworker.Register("panic", jobworker.WorkerFunc(func(ctx context.Context, job *topicqueue.Job) (any, error) {
		panic("boom")
	}))
	t.Cleanup(func() { jobworker.Unregister("panic") })

	_, err := jobworker.DoJob(context.Background(), &topicqueue.Job{Topic: "panic"})
	assert.ErrorContains(t, err, "boom")
}
