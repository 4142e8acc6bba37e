package dispatch

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/samber/lo"
)

// MaxBatchEntries is the SNS and SQS limit on entries per batch request.
const MaxBatchEntries = 10

// SNSAPI is the subset of the SNS client used here.
type SNSAPI interface {
	PublishBatch(ctx context.Context, in *sns.PublishBatchInput, opts ...func(*sns.Options)) (*sns.PublishBatchOutput, error)
}

// SNSSink publishes messages to a topic.
type SNSSink struct {
	Client   SNSAPI
	TopicARN string
}

// SendBatch publishes msgs in requests of at most MaxBatchEntries.
func (s SNSSink) SendBatch(ctx context.Context, msgs []Message) (BatchResult, error) {
	var res BatchResult
	for _, chunk := range lo.Chunk(msgs, MaxBatchEntries) {
		out, err := s.Client.PublishBatch(ctx, &sns.PublishBatchInput{
			TopicArn: aws.String(s.TopicARN),
			PublishBatchRequestEntries: lo.Map(chunk, func(m Message, _ int) snstypes.PublishBatchRequestEntry {
				return snstypes.PublishBatchRequestEntry{Id: aws.String(m.ID), Message: aws.String(m.Body)}
			}),
		})
		if err != nil {
			return res, fmt.Errorf("publish batch: %w", err)
		}

		for _, ok := range out.Successful {
			res.Successful = append(res.Successful, aws.ToString(ok.Id))
		}
		for _, f := range out.Failed {
			res.Failed = append(res.Failed, Failure{
				ID:          aws.ToString(f.Id),
				Code:        aws.ToString(f.Code),
				SenderFault: f.SenderFault,
				Message:     aws.ToString(f.Message),
			})
		}
	}
	return res, nil
}

// SQSAPI is the subset of the SQS client used here.
type SQSAPI interface {
	SendMessageBatch(ctx context.Context, in *sqs.SendMessageBatchInput, opts ...func(*sqs.Options)) (*sqs.SendMessageBatchOutput, error)
}

// SQSSink sends messages to a queue.
type SQSSink struct {
	Client   SQSAPI
	QueueURL string
}

// SendBatch sends msgs in requests of at most MaxBatchEntries.
func (s SQSSink) SendBatch(ctx context.Context, msgs []Message) (BatchResult, error) {
	var res BatchResult
	for _, chunk := range lo.Chunk(msgs, MaxBatchEntries) {
		out, err := s.Client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(s.QueueURL),
			Entries: lo.Map(chunk, func(m Message, _ int) sqstypes.SendMessageBatchRequestEntry {
				return sqstypes.SendMessageBatchRequestEntry{Id: aws.String(m.ID), MessageBody: aws.String(m.Body)}
			}),
		})
		if err != nil {
			return res, fmt.Errorf("send message batch: %w", err)
		}

		for _, ok := range out.Successful {
			res.Successful = append(res.Successful, aws.ToString(ok.Id))
		}
		for _, f := range out.Failed {
			res.Failed = append(res.Failed, Failure{
				ID:          aws.ToString(f.Id),
				Code:        aws.ToString(f.Code),
				SenderFault: f.SenderFault,
				Message:     aws.ToString(f.Message),
			})
		}
	}
	return res, nil
}
