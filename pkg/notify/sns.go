package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/smithy-go"
)

// Publisher is the subset of the SNS client used here.
type Publisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSNotifier publishes messages to an SNS topic (SMS or email fan-out is
// configured on the topic).
type SNSNotifier struct {
	Client   Publisher
	TopicARN string
}

// NewSNSNotifier builds a notifier from the default AWS credential chain.
func NewSNSNotifier(ctx context.Context, region, topicARN string) (*SNSNotifier, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SNSNotifier{Client: sns.NewFromConfig(cfg), TopicARN: topicARN}, nil
}

func (n *SNSNotifier) Notify(ctx context.Context, msg Message) error {
	if n == nil || n.Client == nil || n.TopicARN == "" {
		return nil
	}
	_, err := n.Client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.TopicARN),
		Subject:  aws.String(msg.Title),
		Message:  aws.String(msg.Title + "\n" + msg.Body),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("sns publish: %s: %s", apiErr.ErrorCode(), apiErr.ErrorMessage())
		}
		return fmt.Errorf("sns publish: %w", err)
	}
	return nil
}
