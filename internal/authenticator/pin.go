package authenticator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/quantumauth-io/gmgn-wallet/internal/securefile"
)

// PINSealer seals with a key derived from a user PIN. It stands in for the
// TPM where none is available.
type PINSealer struct {
	Source PINSource
	KDF    securefile.KDFParams
}

func NewPINSealer(source PINSource) *PINSealer {
	return &PINSealer{Source: source, KDF: securefile.DefaultKDF}
}

func (s *PINSealer) Seal(ctx context.Context, label string, secret []byte) ([]byte, error) {
	pin, err := s.Source.PIN(ctx, "Choose a device PIN: ", true)
	if err != nil {
		return nil, err
	}
	defer securefile.ZeroBytes(pin)

	env, err := securefile.SealWithPassword(pin, secret, []byte(label), s.KDF)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func (s *PINSealer) Unseal(ctx context.Context, label string, blob []byte) ([]byte, error) {
	var env securefile.Envelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return nil, fmt.Errorf("decode pin envelope: %w", err)
	}

	pin, err := s.Source.PIN(ctx, "Device PIN: ", false)
	if err != nil {
		return nil, err
	}
	defer securefile.ZeroBytes(pin)

	out, err := securefile.OpenWithPassword(env, pin, []byte(label))
	if errors.Is(err, securefile.ErrInvalidPasswordOrCorrupt) {
		return nil, ErrVerificationFailed
	}
	return out, err
}
