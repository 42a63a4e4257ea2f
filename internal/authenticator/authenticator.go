// Package authenticator implements the platform authenticator capability: a
// user-present credential that holds a sealed secret and reveals it only after
// a fresh presence check.
package authenticator

import (
	"context"
	"errors"
)

var (
	ErrCancelled          = errors.New("authenticator: cancelled by user")
	ErrUnavailable        = errors.New("authenticator: platform authenticator unavailable")
	ErrCredentialExists   = errors.New("authenticator: credential already exists")
	ErrCredentialNotFound = errors.New("authenticator: credential not found")
	ErrVerificationFailed = errors.New("authenticator: verification failed")
)

// Authenticator creates credentials bound to a secret and reveals the secret
// again after the user proves presence. Both calls may block on a prompt.
type Authenticator interface {
	Create(ctx context.Context, label string, secret []byte) ([]byte, error)
	Reveal(ctx context.Context, id []byte) ([]byte, error)
}

// Discoverer is implemented by authenticators that can list their own
// credentials, which lets a lost handle be recovered.
type Discoverer interface {
	Discover(ctx context.Context, label string) ([]byte, error)
}

// Sealer seals a small secret to the device. It matches tpmdevice.Sealer.
type Sealer interface {
	Seal(ctx context.Context, label string, secret []byte) ([]byte, error)
	Unseal(ctx context.Context, label string, blob []byte) ([]byte, error)
}

// Presence asks the user to approve an operation.
type Presence interface {
	Confirm(ctx context.Context, reason string) error
}

// PINSource supplies a PIN for the PIN sealer.
type PINSource interface {
	PIN(ctx context.Context, prompt string, confirm bool) ([]byte, error)
}
