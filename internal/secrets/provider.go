// Package secrets resolves the client credentials used for the pricing API's
// OAuth client-credentials grant. The Provider interface is the capability
// boundary: token issuance depends only on it, never on a particular secret
// store.
package secrets

import "context"

// Credentials is a public/private API key pair. The pricing provider calls
// these the "public key" (client id) and "private key" (client secret).
type Credentials struct {
	PublicKey  string
	PrivateKey string
}

// Provider retrieves API credentials from a backing store.
type Provider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// Static is a fixed-credential Provider for tests and local development.
type Static struct {
	PublicKey  string
	PrivateKey string
}

func (s Static) Credentials(context.Context) (Credentials, error) {
	return Credentials{PublicKey: s.PublicKey, PrivateKey: s.PrivateKey}, nil
}
