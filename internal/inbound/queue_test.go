package inbound

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSQS struct {
	sent     []*sqs.SendMessageInput
	received *sqs.ReceiveMessageInput
	deleted  []string
	messages []types.Message
	err      error
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{MessageId: aws.String("m-1")}, nil
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, in *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.received = in
	return &sqs.ReceiveMessageOutput{Messages: f.messages}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func TestSQSQueueRoundTrip(t *testing.T) {
	fake := &fakeSQS{messages: []types.Message{
		{MessageId: aws.String("1"), Body: aws.String(`{"body":"yes"}`), ReceiptHandle: aws.String("rh-1")},
	}}
	q := NewSQSQueue(fake, "https://sqs.us-east-1.amazonaws.com/123/inbound")
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, "hello"))
	require.Len(t, fake.sent, 1)
	assert.Equal(t, "hello", aws.ToString(fake.sent[0].MessageBody))
	assert.Equal(t, "https://sqs.us-east-1.amazonaws.com/123/inbound", aws.ToString(fake.sent[0].QueueUrl))

	msgs, err := q.Receive(ctx, 5, 20)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, Message{ID: "1", Body: `{"body":"yes"}`, ReceiptHandle: "rh-1"}, msgs[0])
	assert.Equal(t, int32(5), fake.received.MaxNumberOfMessages)
	assert.Equal(t, int32(20), fake.received.WaitTimeSeconds)

	require.NoError(t, q.Delete(ctx, "rh-1"))
	require.NoError(t, q.Delete(ctx, ""))
	assert.Equal(t, []string{"rh-1"}, fake.deleted)
}

func TestSQSQueueWrapsErrors(t *testing.T) {
	fake := &fakeSQS{err: errors.New("throttled")}
	q := NewSQSQueue(fake, "url")
	ctx := context.Background()

	assert.ErrorContains(t, q.Send(ctx, "x"), "throttled")
	_, err := q.Receive(ctx, 1, 0)
	assert.ErrorContains(t, err, "receive SQS messages")
	assert.ErrorContains(t, q.Delete(ctx, "rh"), "delete SQS message")
}

func TestNewSQSQueueValidates(t *testing.T) {
	assert.Panics(t, func() { NewSQSQueue(nil, "url") })
	assert.Panics(t, func() { NewSQSQueue(&fakeSQS{}, "") })
}

func TestMemoryQueueBatches(t *testing.T) {
	q := NewMemoryQueue(4)
	ctx := context.Background()
	for _, body := range []string{"a", "b", "c"} {
		require.NoError(t, q.Send(ctx, body))
	}

	msgs, err := q.Receive(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", msgs[0].Body)

	msgs, err = q.Receive(ctx, 2, 1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "c", msgs[0].Body)

	msgs, err = q.Receive(ctx, 2, 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}
