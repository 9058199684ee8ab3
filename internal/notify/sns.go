package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// SNSAPI is the subset of the SNS client used here.
type SNSAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSPublisher publishes to one SNS topic. The action is also sent as a
// message attribute so subscriptions can filter on it.
type SNSPublisher struct {
	client   SNSAPI
	topicARN string
}

// NewSNSPublisher builds a publisher from an AWS config. endpoint
// overrides the service endpoint when set.
func NewSNSPublisher(cfg aws.Config, topicARN, endpoint string) *SNSPublisher {
	client := sns.NewFromConfig(cfg, func(o *sns.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return NewSNSPublisherWithClient(client, topicARN)
}

func NewSNSPublisherWithClient(client SNSAPI, topicARN string) *SNSPublisher {
	return &SNSPublisher{client: client, topicARN: topicARN}
}

func (p *SNSPublisher) Publish(ctx context.Context, n Notification) error {
	body, err := Encode(n)
	if err != nil {
		return err
	}
	_, err = p.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(p.topicARN),
		Message:  aws.String(body),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"action": {
				DataType:    aws.String("String"),
				StringValue: aws.String(n.Action),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish %s: %w", n.Action, err)
	}
	return nil
}
