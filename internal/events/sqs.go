package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type sendAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQS sends events to a queue.
type SQS struct {
	client   sendAPI
	queueURL string
}

// NewSQS loads the default AWS config and targets queueURL.
func NewSQS(ctx context.Context, queueURL, region, endpoint string) (*SQS, error) {
	if queueURL == "" {
		return nil, errors.New("sqs queue url required")
	}
	var loadOpts []func(*config.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return &SQS{client: client, queueURL: queueURL}, nil
}

// Publish implements Publisher.
func (s *SQS) Publish(ctx context.Context, event RunCompleted) error {
	body, err := event.Encode()
	if err != nil {
		return err
	}
	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"type": {DataType: aws.String("String"), StringValue: aws.String(EventRunCompleted)},
		},
	})
	if err != nil {
		return fmt.Errorf("sqs publish: %w", err)
	}
	return nil
}

// Close implements Publisher.
func (s *SQS) Close() error { return nil }
