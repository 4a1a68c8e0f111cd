package config

import (
	"context"
	"fmt"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Cards   CardsConfig
	Observe ObserveConfig
	Pricing PricingConfig
	Server  ServerConfig
}

type ServerConfig struct {
	Port                   int `env:"SERVER_PORT, default=8080"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	OutgoingHTTPMaxIdleConns    int `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=20"`
}

// CardsConfig specifies the card metadata API (Scryfall) connection.
type CardsConfig struct {
	APIURL string `env:"SCRYFALL_API_URL, default=https://api.scryfall.com"`

	// UserAgent identifies this service to the upstream API, which requires
	// a descriptive agent string.
	UserAgent string `env:"SCRYFALL_USER_AGENT, default=MTGPricer/1.0"`

	TimeoutSeconds int `env:"SCRYFALL_TIMEOUT_SECS, default=30"`

	// CacheTTLSeconds is the lifetime of cached card lookup responses.
	CacheTTLSeconds int `env:"SCRYFALL_CACHE_TTL_SECS, default=300"`
}

// PricingConfig specifies the pricing/catalog API (TCGplayer) connection and
// the source of its OAuth client credentials.
type PricingConfig struct {
	APIURL     string `env:"TCGPLAYER_API_URL, default=https://api.tcgplayer.com"`
	APIVersion string `env:"TCGPLAYER_API_VERSION, default=v1.39.0"`

	TimeoutSeconds int `env:"TCGPLAYER_TIMEOUT_SECS, default=30"`

	// CredentialSource selects the credential provider: "secretsmanager"
	// (default), "kms-env" or "none". With "none" the pricing endpoint is
	// disabled and reported as degraded by the healthcheck.
	CredentialSource string `env:"TCGPLAYER_CREDENTIAL_SOURCE, default=secretsmanager"`

	// SecretName is the Secrets Manager secret holding the credential JSON.
	SecretName string `env:"TCGPLAYER_SECRET_NAME, default=TCGPLAYER_KEYS"`

	// KMS-encrypted credentials, base64-encoded. Used with
	// TCGPLAYER_CREDENTIAL_SOURCE=kms-env.
	PublicKeyEncrypted  string `env:"TCGPLAYER_PUBLIC_KEY_ENCRYPTED"`
	PrivateKeyEncrypted string `env:"TCGPLAYER_PRIVATE_KEY_ENCRYPTED"`
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=card-bridge"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	err = cfg.Pricing.Validate()
	if err != nil {
		return cfg, fmt.Errorf("invalid pricing configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the pricing credential configuration is consistent.
func (c *PricingConfig) Validate() error {
	switch c.CredentialSource {
	case "secretsmanager":
		if c.SecretName == "" {
			return fmt.Errorf("TCGPLAYER_SECRET_NAME required when TCGPLAYER_CREDENTIAL_SOURCE=secretsmanager")
		}
	case "kms-env":
		if c.PublicKeyEncrypted == "" || c.PrivateKeyEncrypted == "" {
			return fmt.Errorf("TCGPLAYER_PUBLIC_KEY_ENCRYPTED and TCGPLAYER_PRIVATE_KEY_ENCRYPTED required when TCGPLAYER_CREDENTIAL_SOURCE=kms-env")
		}
	case "none":
		// pricing disabled
	default:
		return fmt.Errorf("unknown credential source %q", c.CredentialSource)
	}

	return nil
}

// PricingEnabled reports whether a credential source is configured.
func (c *PricingConfig) PricingEnabled() bool {
	return c.CredentialSource != "none"
}
