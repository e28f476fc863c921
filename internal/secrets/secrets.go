// Package secrets fetches the vector index credentials the pipeline needs
// at startup.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// ErrSecretFetch is returned when the index secret cannot be read or is incomplete.
var ErrSecretFetch = errors.New("secret fetch failed")

// IndexSecret holds vector index credentials.
type IndexSecret struct {
	APIKey    string
	IndexName string
	Region    string
	Address   string
}

// Fetcher reads the index secret identified by id.
type Fetcher interface {
	Fetch(ctx context.Context, id string) (IndexSecret, error)
}

// secretDocument is the JSON layout of the stored secret. The PINECONE_*
// keys are accepted for secrets created by earlier deployments.
type secretDocument struct {
	APIKey    string `json:"INDEX_API_KEY"`
	IndexName string `json:"INDEX_NAME"`
	Region    string `json:"INDEX_REGION"`
	Address   string `json:"INDEX_ADDRESS"`

	LegacyAPIKey    string `json:"PINECONE_API_KEY"`
	LegacyIndexName string `json:"PINECONE_INDEX_NAME"`
	LegacyRegion    string `json:"PINECONE_REGION"`
}

func (d secretDocument) secret() IndexSecret {
	return IndexSecret{
		APIKey:    firstNonEmpty(d.APIKey, d.LegacyAPIKey),
		IndexName: firstNonEmpty(d.IndexName, d.LegacyIndexName),
		Region:    firstNonEmpty(d.Region, d.LegacyRegion),
		Address:   d.Address,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// SecretsManagerAPI is the subset of the Secrets Manager client used here.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSFetcher reads the secret from AWS Secrets Manager.
type AWSFetcher struct {
	client SecretsManagerAPI
}

// NewAWSFetcher wraps a Secrets Manager client.
func NewAWSFetcher(client SecretsManagerAPI) *AWSFetcher {
	return &AWSFetcher{client: client}
}

// LoadAWSFetcher builds a fetcher from the default AWS credential chain.
// An empty region defers to the environment.
func LoadAWSFetcher(ctx context.Context, region string) (*AWSFetcher, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: loading aws config: %w", ErrSecretFetch, err)
	}
	return NewAWSFetcher(secretsmanager.NewFromConfig(cfg)), nil
}

// Fetch reads and decodes the secret's JSON string.
func (f *AWSFetcher) Fetch(ctx context.Context, id string) (IndexSecret, error) {
	if id == "" {
		return IndexSecret{}, fmt.Errorf("%w: secret id is required", ErrSecretFetch)
	}
	out, err := f.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(id)})
	if err != nil {
		return IndexSecret{}, fmt.Errorf("%w: %s: %w", ErrSecretFetch, id, err)
	}
	if out.SecretString == nil {
		return IndexSecret{}, fmt.Errorf("%w: %s has no string value", ErrSecretFetch, id)
	}

	var doc secretDocument
	if err := json.Unmarshal([]byte(aws.ToString(out.SecretString)), &doc); err != nil {
		return IndexSecret{}, fmt.Errorf("%w: decoding %s: %w", ErrSecretFetch, id, err)
	}
	return validate(id, doc.secret())
}

// EnvFetcher reads the secret from INDEX_* environment variables.
type EnvFetcher struct {
	// Getenv defaults to os.Getenv
	Getenv func(string) string
}

// Fetch ignores id; the environment holds a single secret.
func (f EnvFetcher) Fetch(ctx context.Context, id string) (IndexSecret, error) {
	if err := ctx.Err(); err != nil {
		return IndexSecret{}, err
	}
	getenv := f.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	return validate("environment", IndexSecret{
		APIKey:    getenv("INDEX_API_KEY"),
		IndexName: getenv("INDEX_NAME"),
		Region:    getenv("INDEX_REGION"),
		Address:   getenv("INDEX_ADDRESS"),
	})
}

func validate(source string, s IndexSecret) (IndexSecret, error) {
	if s.IndexName == "" {
		return IndexSecret{}, fmt.Errorf("%w: %s: index name is missing", ErrSecretFetch, source)
	}
	return s, nil
}
