// Package delivery implements the stream (CloudWatch Logs) and bucket (S3)
// delivery engines, plus the shared two-hop credential broker both use.
package delivery

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

// buildConfigWithEndpoint creates an AWS config bound to fixed credentials
// and an optional endpoint override, used when assuming roles to build
// clients that talk to LocalStack (endpoint set) or real AWS (endpoint empty).
func buildConfigWithEndpoint(ctx context.Context, region string, creds aws.Credentials, endpointURL string) (aws.Config, error) {
	configOptions := []func(*config.LoadOptions) error{
		config.WithRegion(region),
		config.WithCredentialsProvider(aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			return creds, nil
		})),
	}

	if endpointURL != "" {
		configOptions = append(configOptions, config.WithEndpointResolverWithOptions(
			aws.EndpointResolverWithOptionsFunc(func(service, region string, options ...interface{}) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL:               endpointURL,
					HostnameImmutable: true,
				}, nil
			}),
		))
	}

	return config.LoadDefaultConfig(ctx, configOptions...)
}
