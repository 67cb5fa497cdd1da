package delivery

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	stypes "github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/google/uuid"
)

// STSAssumeRoleAPI is the subset of the STS client the credential broker needs.
type STSAssumeRoleAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// credentialBroker performs the central-role assumption both delivery
// engines start from, with a fresh session name per call. The stream engine
// then takes the second hop to the customer role (assumeCustomerRole, with
// the account ID as ExternalId); the bucket engine uses the central-role
// credentials alone.
type credentialBroker struct {
	stsClient      STSAssumeRoleAPI
	centralRoleArn string
	endpointURL    string
}

// assumeCentralRole assumes the fixed central log-distribution role, and
// returns the caller's account ID alongside the session credentials — the
// account ID becomes the ExternalId for the second hop.
func (b *credentialBroker) assumeCentralRole(ctx context.Context, sessionPrefix string) (*stypes.Credentials, string, error) {
	sessionName := fmt.Sprintf("%s-%s", sessionPrefix, uuid.New().String())
	resp, err := b.stsClient.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(b.centralRoleArn),
		RoleSessionName: aws.String(sessionName),
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to assume central log distribution role: %w", err)
	}

	identity, err := b.stsClient.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return nil, "", fmt.Errorf("failed to get caller identity: %w", err)
	}

	return resp.Credentials, *identity.Account, nil
}

// assumeCustomerRole performs the second hop, using centralCreds to build an
// STS client and assuming customerRoleArn with externalID as ExternalId.
func assumeCustomerRole(ctx context.Context, region string, centralCreds *stypes.Credentials, customerRoleArn, externalID, endpointURL, sessionPrefix string) (*stypes.Credentials, error) {
	centralConfig, err := buildConfigWithEndpoint(ctx, region, aws.Credentials{
		AccessKeyID:     *centralCreds.AccessKeyId,
		SecretAccessKey: *centralCreds.SecretAccessKey,
		SessionToken:    *centralCreds.SessionToken,
	}, endpointURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create STS config: %w", err)
	}

	centralSTS := sts.NewFromConfig(centralConfig)

	resp, err := centralSTS.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String(customerRoleArn),
		RoleSessionName: aws.String(fmt.Sprintf("%s-%s", sessionPrefix, uuid.New().String())),
		ExternalId:      aws.String(externalID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to assume customer role: %w", err)
	}

	return resp.Credentials, nil
}
