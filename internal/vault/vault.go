// Package vault binds key material to an authenticator credential and keeps
// the resulting handle in plain local storage.
package vault

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/quantumauth-io/gmgn-wallet/internal/authenticator"
	"github.com/quantumauth-io/gmgn-wallet/internal/constants"
)

var (
	ErrCredentialCreation = errors.New("vault: credential creation failed")
	ErrAuthentication     = errors.New("vault: authentication failed")
	ErrHandleNotFound     = errors.New("vault: handle not found")
)

// Handle identifies one sealed secret. It is not secret and callers must
// treat it as opaque.
type Handle []byte

func (h Handle) String() string {
	return protocol.URLEncodedBase64(h).String()
}

type Vault struct {
	auth authenticator.Authenticator
}

func New(auth authenticator.Authenticator) *Vault {
	return &Vault{auth: auth}
}

// Seal creates one new credential holding secret. The handle cache is left
// untouched.
func (v *Vault) Seal(ctx context.Context, label string, secret []byte) (Handle, error) {
	if len(secret) != constants.KeyMaterialSize {
		return nil, fmt.Errorf("%w: secret must be %d bytes", ErrCredentialCreation, constants.KeyMaterialSize)
	}
	id, err := v.auth.Create(ctx, label, secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCredentialCreation, err)
	}
	return Handle(id), nil
}

// Unseal challenges the user for h and returns the secret it holds.
func (v *Vault) Unseal(ctx context.Context, h Handle) ([]byte, error) {
	secret, err := v.auth.Reveal(ctx, h)
	if err != nil {
		if errors.Is(err, authenticator.ErrCredentialNotFound) {
			return nil, fmt.Errorf("%w: %w", ErrHandleNotFound, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	if len(secret) != constants.KeyMaterialSize {
		return nil, fmt.Errorf("%w: unexpected secret length %d", ErrAuthentication, len(secret))
	}
	return secret, nil
}

// Discover asks the authenticator for an existing credential. It reports
// ErrHandleNotFound when the backend cannot list credentials.
func (v *Vault) Discover(ctx context.Context, label string) (Handle, error) {
	d, ok := v.auth.(authenticator.Discoverer)
	if !ok {
		return nil, fmt.Errorf("%w: authenticator does not support discovery", ErrHandleNotFound)
	}
	id, err := d.Discover(ctx, label)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandleNotFound, err)
	}
	return Handle(id), nil
}
