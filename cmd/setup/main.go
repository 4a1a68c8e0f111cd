// This command provisions the AWS resources the pricing integration needs:
// a KMS key (with alias) for encrypting the TCGplayer credentials, the
// encrypted environment variable values, and the Secrets Manager secret
// holding the credential JSON. It is run once per environment by an
// operator with the necessary AWS permissions.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	smtypes "github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	PublicKey  string `env:"SETUP_TCGPLAYER_PUBLIC_KEY, required"`
	PrivateKey string `env:"SETUP_TCGPLAYER_PRIVATE_KEY, required"`
	KeyAlias   string `env:"SETUP_KMS_KEY_ALIAS, default=alias/mtgpricer-tcgplayer-credentials"`
	SecretName string `env:"SETUP_SECRET_NAME, default=TCGPLAYER_KEYS"`
}

func main() {
	ctx := context.Background()

	cfg := Config{}
	err := envconfig.Process(ctx, &cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading config: %v\n", err)
		os.Exit(1)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading AWS configuration: %v\n", err)
		os.Exit(1)
	}

	kmsClient := kms.NewFromConfig(awsCfg)

	keyID, err := ensureKey(ctx, kmsClient, cfg.KeyAlias)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error provisioning KMS key: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "using KMS key %s (%s)\n", keyID, cfg.KeyAlias)

	publicEncrypted, err := encryptVerified(ctx, kmsClient, keyID, cfg.PublicKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error encrypting public key: %v\n", err)
		os.Exit(1)
	}

	privateEncrypted, err := encryptVerified(ctx, kmsClient, keyID, cfg.PrivateKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error encrypting private key: %v\n", err)
		os.Exit(1)
	}

	err = storeSecret(ctx, secretsmanager.NewFromConfig(awsCfg), cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error storing secret: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "stored credential secret %s\n", cfg.SecretName)

	// environment values for the kms-env credential source
	fmt.Printf("TCGPLAYER_PUBLIC_KEY_ENCRYPTED=%s\n", publicEncrypted)
	fmt.Printf("TCGPLAYER_PRIVATE_KEY_ENCRYPTED=%s\n", privateEncrypted)
	fmt.Printf("TCGPLAYER_SECRET_NAME=%s\n", cfg.SecretName)
}

// ensureKey returns the key behind the alias, creating the key and alias
// when no key exists yet. Re-running against an existing environment reuses
// the key so previously encrypted values stay decryptable.
func ensureKey(ctx context.Context, client *kms.Client, alias string) (string, error) {
	pager := kms.NewListAliasesPaginator(client, &kms.ListAliasesInput{})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return "", fmt.Errorf("listing aliases: %w", err)
		}

		for _, a := range page.Aliases {
			if aws.ToString(a.AliasName) == alias && a.TargetKeyId != nil {
				return aws.ToString(a.TargetKeyId), nil
			}
		}
	}

	key, err := client.CreateKey(ctx, &kms.CreateKeyInput{
		Description: aws.String("Encrypts TCGplayer API credentials for the card pricing service"),
	})
	if err != nil {
		return "", fmt.Errorf("creating key: %w", err)
	}
	keyID := aws.ToString(key.KeyMetadata.KeyId)

	_, err = client.CreateAlias(ctx, &kms.CreateAliasInput{
		AliasName:   aws.String(alias),
		TargetKeyId: aws.String(keyID),
	})
	if err != nil {
		return "", fmt.Errorf("creating alias: %w", err)
	}

	return keyID, nil
}

// encryptVerified encrypts a value and round-trips it through Decrypt before
// returning, so a misconfigured key policy fails here rather than at service
// startup.
func encryptVerified(ctx context.Context, client *kms.Client, keyID, plaintext string) (string, error) {
	encrypted, err := client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(keyID),
		Plaintext: []byte(plaintext),
	})
	if err != nil {
		return "", fmt.Errorf("encrypting value: %w", err)
	}

	decrypted, err := client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: encrypted.CiphertextBlob,
	})
	if err != nil {
		return "", fmt.Errorf("verifying ciphertext: %w", err)
	}
	if string(decrypted.Plaintext) != plaintext {
		return "", errors.New("decrypted value does not match the original")
	}

	return base64.StdEncoding.EncodeToString(encrypted.CiphertextBlob), nil
}

func storeSecret(ctx context.Context, client *secretsmanager.Client, cfg Config) error {
	payload, err := json.Marshal(map[string]string{
		"public_key":  cfg.PublicKey,
		"private_key": cfg.PrivateKey,
	})
	if err != nil {
		return fmt.Errorf("marshalling secret: %w", err)
	}

	_, err = client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         aws.String(cfg.SecretName),
		Description:  aws.String("TCGplayer API credentials for the card pricing service"),
		SecretString: aws.String(string(payload)),
	})

	var exists *smtypes.ResourceExistsException
	if errors.As(err, &exists) {
		_, err = client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
			SecretId:     aws.String(cfg.SecretName),
			SecretString: aws.String(string(payload)),
		})
	}
	if err != nil {
		return fmt.Errorf("writing secret value: %w", err)
	}

	return nil
}
