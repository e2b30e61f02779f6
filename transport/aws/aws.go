// Package aws provides an SNS/SQS transport for flowplan connectors. Each
// resource is an SNS topic; every runtime subscribes through its own SQS
// queue so fan-out across runtimes is handled by SNS.
package aws

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	amazonsqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	smithyendpoints "github.com/aws/smithy-go/endpoints"

	"github.com/drblury/flowplan/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "aws"

const (
	localstackAccountID = "000000000000"
	awsAccountIDLength  = 12
	maxQueueName        = 80
)

// DefaultConfigLoader allows overriding the AWS config loader for testing.
var DefaultConfigLoader = awsconfig.LoadDefaultConfig

// TopicResolverFactory allows overriding the topic resolver creation for testing.
var TopicResolverFactory = sns.NewGenerateArnTopicResolver

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return sns.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return sns.NewSubscriber(cfg, sqsCfg, logger)
}

func init() {
	transport.RegisterTransport(TransportName, Build, transport.AWSCapabilities, transport.SanitizedTopic)
}

// target is the account, region and optional endpoint override the transport
// talks to.
type target struct {
	accountID string
	region    string
	endpoint  *url.URL
}

// Build creates a new SNS/SQS transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("Failed to load AWS config", err, watermill.LogFields{"region": cfg.GetAWSRegion()})
		return transport.Transport{}, err
	}

	tgt, err := resolveTarget(cfg, awsCfg.Region, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	logger.Info("AWS transport target resolved", watermill.LogFields{
		"account_id":      tgt.accountID,
		"region":          tgt.region,
		"custom_endpoint": tgt.endpoint != nil,
	})

	resolver, err := TopicResolverFactory(tgt.accountID, tgt.region)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("aws: topic resolver: %w", err)
	}
	snsOpts, sqsOpts := endpointOptions(tgt.endpoint)

	publisher, err := PublisherFactory(sns.PublisherConfig{
		TopicResolver: resolver,
		AWSConfig:     awsCfg,
		OptFns:        snsOpts,
		Marshaler:     sns.DefaultMarshalerUnmarshaler{},
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		sns.SubscriberConfig{
			AWSConfig:            awsCfg,
			OptFns:               snsOpts,
			TopicResolver:        resolver,
			GenerateSqsQueueName: QueueName(cfg.GetRuntimeID()),
		},
		sqs.SubscriberConfig{
			AWSConfig: awsCfg,
			OptFns:    sqsOpts,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:    publisher,
		Subscriber:   subscriber,
		Topic:        transport.SanitizedTopic,
		Capabilities: transport.AWSCapabilities,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.AWSCapabilities
}

// QueueName derives the SQS queue of a runtime from the SNS topic name.
func QueueName(runtimeID string) func(context.Context, sns.TopicArn) (string, error) {
	return func(_ context.Context, topicArn sns.TopicArn) (string, error) {
		topic, err := sns.ExtractTopicNameFromTopicArn(topicArn)
		if err != nil {
			return "", err
		}
		name := string(topic)
		if runtimeID != "" {
			name += "-" + transport.SanitizedTopic(runtimeID)
		}
		if len(name) > maxQueueName {
			name = name[len(name)-maxQueueName:]
		}
		return name, nil
	}
}

func loadAWSConfig(ctx context.Context, cfg transport.Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region := cfg.GetAWSRegion(); region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if key, secret := cfg.GetAWSAccessKeyID(), cfg.GetAWSSecretAccessKey(); key != "" && secret != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(staticCredentials(key, secret)))
	}

	awsCfg, err := DefaultConfigLoader(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	if region := cfg.GetAWSRegion(); region != "" {
		awsCfg.Region = region
	}
	return awsCfg, nil
}

// resolveTarget fills the account id. A custom endpoint means LocalStack,
// where a missing or malformed account id falls back to its default account.
func resolveTarget(cfg transport.Config, fallbackRegion string, logger watermill.LoggerAdapter) (target, error) {
	tgt := target{
		accountID: strings.Trim(cfg.GetAWSAccountID(), "\"' "),
		region:    cfg.GetAWSRegion(),
	}
	if tgt.region == "" {
		tgt.region = fallbackRegion
	}

	if raw := cfg.GetAWSEndpoint(); raw != "" {
		endpoint, err := url.Parse(raw)
		if err != nil {
			return target{}, fmt.Errorf("aws: parse endpoint: %w", err)
		}
		tgt.endpoint = endpoint
		if len(tgt.accountID) != awsAccountIDLength {
			logger.Info("Using LocalStack default account", watermill.LogFields{"configured": tgt.accountID})
			tgt.accountID = localstackAccountID
		}
	}
	return tgt, nil
}

func endpointOptions(endpoint *url.URL) ([]func(*amazonsns.Options), []func(*amazonsqs.Options)) {
	if endpoint == nil {
		return nil, nil
	}
	override := smithyendpoints.Endpoint{URI: *endpoint}
	return []func(*amazonsns.Options){
			amazonsns.WithEndpointResolverV2(sns.OverrideEndpointResolver{Endpoint: override}),
		}, []func(*amazonsqs.Options){
			amazonsqs.WithEndpointResolverV2(sqs.OverrideEndpointResolver{Endpoint: override}),
		}
}

func staticCredentials(accessKeyID, secretAccessKey string) aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{
			AccessKeyID:     accessKeyID,
			SecretAccessKey: secretAccessKey,
		}, nil
	})
}
