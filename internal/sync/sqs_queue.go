package sync

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSQueue implements queueClient against AWS (or LocalStack) SQS. The
// visibility timeout configured on the queue is what drives redelivery of
// jobs the worker declines to delete.
type SQSQueue struct {
	client   *sqs.Client
	queueURL string
}

func NewSQSQueue(client *sqs.Client, queueURL string) *SQSQueue {
	if client == nil {
		panic("sync: SQS client required")
	}
	if queueURL == "" {
		panic("sync: SQS queue URL required")
	}
	return &SQSQueue{client: client, queueURL: queueURL}
}

func (q *SQSQueue) Send(ctx context.Context, body string) error {
	in := sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(body),
	}
	if _, err := q.client.SendMessage(ctx, &in); err != nil {
		return fmt.Errorf("sync: send sqs message: %w", err)
	}
	return nil
}

func (q *SQSQueue) Receive(ctx context.Context, maxMessages, waitSeconds int) ([]queueMessage, error) {
	in := sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: int32(maxMessages),
		WaitTimeSeconds:     int32(waitSeconds),
	}
	out, err := q.client.ReceiveMessage(ctx, &in)
	if err != nil {
		return nil, fmt.Errorf("sync: receive sqs messages: %w", err)
	}

	msgs := make([]queueMessage, len(out.Messages))
	for i, m := range out.Messages {
		msgs[i] = queueMessage{
			ID:            aws.ToString(m.MessageId),
			Body:          aws.ToString(m.Body),
			ReceiptHandle: aws.ToString(m.ReceiptHandle),
		}
	}
	return msgs, nil
}

func (q *SQSQueue) Delete(ctx context.Context, receiptHandle string) error {
	if receiptHandle == "" {
		return nil
	}
	in := sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(receiptHandle),
	}
	if _, err := q.client.DeleteMessage(ctx, &in); err != nil {
		return fmt.Errorf("sync: delete sqs message: %w", err)
	}
	return nil
}
