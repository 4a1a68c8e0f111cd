package secrets

import (
	"context"
	"encoding/base64"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// KMSDecrypter defines the AWS API surface required for credential
// decryption.
type KMSDecrypter interface {
	Decrypt(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// KMSProvider decrypts a credential pair supplied as base64-encoded KMS
// ciphertexts, typically via environment variables written by cmd/setup.
// Symmetric ciphertexts carry their key id, so no key ARN is configured here.
type KMSProvider struct {
	client            KMSDecrypter
	publicCiphertext  string
	privateCiphertext string
}

// NewKMSProvider creates a provider using the default AWS configuration
// chain. Ciphertexts are base64-encoded KMS encryption output.
func NewKMSProvider(ctx context.Context, publicCiphertext, privateCiphertext string) (*KMSProvider, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	return &KMSProvider{
		client:            kms.NewFromConfig(cfg),
		publicCiphertext:  publicCiphertext,
		privateCiphertext: privateCiphertext,
	}, nil
}

func (p *KMSProvider) Credentials(ctx context.Context) (Credentials, error) {
	publicKey, err := p.decrypt(ctx, p.publicCiphertext)
	if err != nil {
		return Credentials{}, fmt.Errorf("decrypting public key: %w", err)
	}

	privateKey, err := p.decrypt(ctx, p.privateCiphertext)
	if err != nil {
		return Credentials{}, fmt.Errorf("decrypting private key: %w", err)
	}

	return Credentials{PublicKey: publicKey, PrivateKey: privateKey}, nil
}

func (p *KMSProvider) decrypt(ctx context.Context, ciphertext string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("ciphertext is not valid base64: %w", err)
	}

	out, err := p.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: blob,
	})
	if err != nil {
		return "", fmt.Errorf("KMS decryption failed: %w", err)
	}

	return string(out.Plaintext), nil
}
