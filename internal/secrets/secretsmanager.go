package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"
)

// SecretsManagerAPI defines the AWS API surface required for secret
// retrieval.
type SecretsManagerAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerProvider reads a credential pair from an AWS Secrets Manager
// secret. The secret value is JSON with public_key/private_key fields;
// client_id/client_secret are accepted as aliases.
type SecretsManagerProvider struct {
	client     SecretsManagerAPI
	secretName string
}

// NewSecretsManagerProvider creates a provider using the default AWS
// configuration chain.
func NewSecretsManagerProvider(ctx context.Context, secretName string) (*SecretsManagerProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &SecretsManagerProvider{
		client:     secretsmanager.NewFromConfig(cfg),
		secretName: secretName,
	}, nil
}

func (p *SecretsManagerProvider) Credentials(ctx context.Context) (Credentials, error) {
	result, err := p.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &p.secretName,
	})
	if err != nil {
		return Credentials{}, p.describeError(err)
	}

	if result.SecretString == nil {
		return Credentials{}, fmt.Errorf("secret %q has no string value", p.secretName)
	}

	creds, err := parseCredentialJSON(*result.SecretString)
	if err != nil {
		return Credentials{}, err
	}

	log.Debug().Str("secret", p.secretName).Msg("credentials retrieved from Secrets Manager")
	return creds, nil
}

// describeError maps the AWS error codes seen in practice onto messages that
// make the failure diagnosable from the service logs alone.
func (p *SecretsManagerProvider) describeError(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("getting secret %q: %w", p.secretName, err)
	}

	switch apiErr.ErrorCode() {
	case "ResourceNotFoundException":
		return fmt.Errorf("secret %q not found in Secrets Manager: %w", p.secretName, err)
	case "DecryptionFailureException":
		return fmt.Errorf("Secrets Manager decryption failed, check KMS permissions: %w", err)
	case "InvalidRequestException", "InvalidParameterException":
		return fmt.Errorf("invalid Secrets Manager request for %q: %w", p.secretName, err)
	case "InternalServiceErrorException":
		return fmt.Errorf("Secrets Manager internal error: %w", err)
	default:
		return fmt.Errorf("Secrets Manager error %s: %w", apiErr.ErrorCode(), err)
	}
}

func parseCredentialJSON(value string) (Credentials, error) {
	var fields struct {
		PublicKey    string `json:"public_key"`
		PrivateKey   string `json:"private_key"`
		ClientID     string `json:"client_id"`
		ClientSecret string `json:"client_secret"`
	}

	if err := json.Unmarshal([]byte(value), &fields); err != nil {
		return Credentials{}, fmt.Errorf("secret value is not valid JSON: %w", err)
	}

	creds := Credentials{
		PublicKey:  fields.PublicKey,
		PrivateKey: fields.PrivateKey,
	}
	if creds.PublicKey == "" {
		creds.PublicKey = fields.ClientID
	}
	if creds.PrivateKey == "" {
		creds.PrivateKey = fields.ClientSecret
	}

	if creds.PublicKey == "" || creds.PrivateKey == "" {
		return Credentials{}, errors.New("secret does not contain required public_key and private_key fields")
	}

	return creds, nil
}
