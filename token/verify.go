package token

import (
	"context"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/pkg/errors"
)

// OIDCVerifier validates ID tokens against the provider's published keys.
// Discovery runs once, lazily, so construction never touches the network.
type OIDCVerifier struct {
	issuer   string
	clientID string

	mu       sync.Mutex
	verifier *oidc.IDTokenVerifier
}

func NewOIDCVerifier(issuer, clientID string) *OIDCVerifier {
	return &OIDCVerifier{issuer: issuer, clientID: clientID}
}

func (v *OIDCVerifier) Verify(ctx context.Context, rawIDToken string) error {
	verifier, err := v.idTokenVerifier(ctx)
	if err != nil {
		return err
	}
	if _, err := verifier.Verify(ctx, rawIDToken); err != nil {
		return errors.Wrap(err, "[OIDCVerifier.Verify] verify ID token")
	}
	return nil
}

func (v *OIDCVerifier) idTokenVerifier(ctx context.Context) (*oidc.IDTokenVerifier, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.verifier != nil {
		return v.verifier, nil
	}
	provider, err := oidc.NewProvider(ctx, v.issuer)
	if err != nil {
		return nil, errors.Wrap(err, "[OIDCVerifier] issuer discovery")
	}
	v.verifier = provider.Verifier(&oidc.Config{ClientID: v.clientID})
	return v.verifier, nil
}
