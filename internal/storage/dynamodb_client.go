package storage

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// DynamoConfig selects the DynamoDB region and, for local development, an
// endpoint override with static credentials.
type DynamoConfig struct {
	Region          string
	Endpoint        string // e.g. http://localhost:8000
	AccessKeyID     string
	SecretAccessKey string
	TablePrefix     string
}

// NewDynamoClient builds a DynamoDB client. When an endpoint is set the
// credentials default to "local", which DynamoDB Local accepts.
func NewDynamoClient(ctx context.Context, dc DynamoConfig) (*dynamodb.Client, error) {
	region := dc.Region
	if region == "" {
		region = "us-east-1"
	}

	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	if dc.Endpoint != "" || dc.AccessKeyID != "" {
		key, secret := dc.AccessKeyID, dc.SecretAccessKey
		if key == "" {
			key = "local"
		}
		if secret == "" {
			secret = "local"
		}
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(key, secret, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, err
	}

	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if dc.Endpoint != "" {
			o.BaseEndpoint = aws.String(dc.Endpoint)
		}
	}), nil
}
