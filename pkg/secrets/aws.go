package secrets

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/richxcame/risk-engine/pkg/config"
)

type awsFetcher struct {
	client *secretsmanager.Client
}

func newAWSFetcher(ctx context.Context, cfg config.SecretsConfig) (*awsFetcher, error) {
	if cfg.AWSRegion == "" {
		return nil, fmt.Errorf("secrets: aws provider requires region")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AWSRegion),
	}
	if cfg.AWSAccessKeyID != "" && cfg.AWSSecretAccessKey != "" {
		static := credentials.NewStaticCredentialsProvider(cfg.AWSAccessKeyID, cfg.AWSSecretAccessKey, "")
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(aws.NewCredentialsCache(static)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("secrets: failed to load aws config: %w", err)
	}

	client := secretsmanager.NewFromConfig(awsCfg, func(o *secretsmanager.Options) {
		if cfg.AWSEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.AWSEndpoint)
		}
	})

	return &awsFetcher{client: client}, nil
}

func (a *awsFetcher) Name() ProviderType {
	return ProviderAWS
}

// Fetch reads a secret string. JSON objects are split into keys; anything
// else is stored under "value".
func (a *awsFetcher) Fetch(ctx context.Context, ref Reference) (Secret, error) {
	result, err := a.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(ref.Path),
	})
	if err != nil {
		return Secret{}, fmt.Errorf("secrets: aws fetch failed for %s: %w", ref.Path, err)
	}

	return Secret{
		Data:    parseSecretString(aws.ToString(result.SecretString)),
		Version: aws.ToString(result.VersionId),
	}, nil
}

func parseSecretString(raw string) map[string]string {
	payload := make(map[string]string)
	if raw == "" {
		return payload
	}

	var asMap map[string]string
	if err := json.Unmarshal([]byte(raw), &asMap); err == nil {
		for k, v := range asMap {
			payload[k] = v
		}
		return payload
	}

	payload["value"] = raw
	return payload
}
