package authenticator

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/quantumauth-io/gmgn-wallet/internal/constants"
	"github.com/quantumauth-io/gmgn-wallet/internal/securefile"
	"github.com/quantumauth-io/quantum-go-utils/log"
)

const credentialIDSize = 32

// credentialRecord is the on-disk form of one credential. The secret is
// encrypted under a random DEK and only the sealed DEK is stored.
type credentialRecord struct {
	Version    int                              `json:"version"`
	ID         protocol.URLEncodedBase64        `json:"id"`
	Label      string                           `json:"label"`
	Attachment protocol.AuthenticatorAttachment `json:"attachment"`
	CreatedAt  string                           `json:"created_at"`

	Payload      securefile.Envelope `json:"payload"`
	SealedDEKB64 string              `json:"sealed_dek_b64"`
}

// Platform is a device-bound authenticator. Credentials live as JSON records
// in Dir, each one unlockable only through Sealer after Presence approves.
type Platform struct {
	Dir      string
	Sealer   Sealer
	Presence Presence

	now func() time.Time
}

func NewPlatform(dir string, sealer Sealer, presence Presence) (*Platform, error) {
	if dir == "" {
		return nil, errors.New("authenticator: credentials dir is required")
	}
	if sealer == nil {
		return nil, errors.New("authenticator: sealer is required")
	}
	if presence == nil {
		return nil, errors.New("authenticator: presence is required")
	}
	return &Platform{Dir: dir, Sealer: sealer, Presence: presence, now: time.Now}, nil
}

// Create registers a new credential holding secret and returns its id.
func (p *Platform) Create(ctx context.Context, label string, secret []byte) ([]byte, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, errors.New("authenticator: label is required")
	}
	if len(secret) != constants.KeyMaterialSize {
		return nil, fmt.Errorf("authenticator: secret must be %d bytes, got %d", constants.KeyMaterialSize, len(secret))
	}

	recs, err := p.records()
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		if r.Label == label {
			return nil, fmt.Errorf("%w: %q", ErrCredentialExists, label)
		}
	}

	if err := p.Presence.Confirm(ctx, fmt.Sprintf("Create a passkey for %q on this device?", label)); err != nil {
		return nil, err
	}

	dek := make([]byte, 32)
	if _, err := rand.Read(dek); err != nil {
		return nil, fmt.Errorf("rand dek: %w", err)
	}
	defer securefile.ZeroBytes(dek)

	id := make([]byte, credentialIDSize)
	if _, err := rand.Read(id); err != nil {
		return nil, fmt.Errorf("rand credential id: %w", err)
	}

	sealed, err := p.Sealer.Seal(ctx, constants.SealerLabel, dek)
	if err != nil {
		if errors.Is(err, ErrCancelled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: seal dek: %v", ErrUnavailable, err)
	}

	env, err := securefile.SealWithKey(dek, secret, payloadAAD(id))
	if err != nil {
		return nil, err
	}

	rec := credentialRecord{
		Version:      constants.SchemaV1,
		ID:           id,
		Label:        label,
		Attachment:   protocol.Platform,
		CreatedAt:    p.now().UTC().Format(time.RFC3339),
		Payload:      env,
		SealedDEKB64: base64.StdEncoding.EncodeToString(sealed),
	}

	path := p.path(id)
	if _, err := os.Stat(path); err == nil {
		return nil, fmt.Errorf("%w: id collision", ErrCredentialExists)
	}
	if err := securefile.WriteJSON(path, rec, constants.FilePerm, constants.DirectoryPerm); err != nil {
		return nil, fmt.Errorf("write credential: %w", err)
	}

	log.Info("credential created", "label", label, "id", protocol.URLEncodedBase64(id).String())
	return id, nil
}

// Reveal re-authenticates the user and returns the secret held by id.
func (p *Platform) Reveal(ctx context.Context, id []byte) ([]byte, error) {
	if len(id) == 0 {
		return nil, ErrCredentialNotFound
	}
	rec, err := p.load(id)
	if err != nil {
		return nil, err
	}

	if err := p.Presence.Confirm(ctx, fmt.Sprintf("Unlock passkey %q?", rec.Label)); err != nil {
		return nil, err
	}

	sealed, err := base64.StdEncoding.DecodeString(rec.SealedDEKB64)
	if err != nil {
		return nil, fmt.Errorf("%w: decode sealed dek: %v", ErrVerificationFailed, err)
	}

	dek, err := p.Sealer.Unseal(ctx, constants.SealerLabel, sealed)
	if err != nil {
		if errors.Is(err, ErrCancelled) || errors.Is(err, ErrVerificationFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: unseal dek: %v", ErrVerificationFailed, err)
	}
	defer securefile.ZeroBytes(dek)

	secret, err := securefile.OpenWithKey(rec.Payload, dek, payloadAAD(id))
	if err != nil {
		return nil, fmt.Errorf("%w: open payload: %v", ErrVerificationFailed, err)
	}
	return secret, nil
}

// Discover returns the id of the newest credential with label. An empty label
// matches any credential.
func (p *Platform) Discover(_ context.Context, label string) ([]byte, error) {
	recs, err := p.records()
	if err != nil {
		return nil, err
	}
	label = strings.TrimSpace(label)

	var match []credentialRecord
	for _, r := range recs {
		if label == "" || r.Label == label {
			match = append(match, r)
		}
	}
	if len(match) == 0 {
		return nil, ErrCredentialNotFound
	}
	sort.Slice(match, func(i, j int) bool { return match[i].CreatedAt > match[j].CreatedAt })
	return []byte(match[0].ID), nil
}

func (p *Platform) path(id []byte) string {
	return filepath.Join(p.Dir, protocol.URLEncodedBase64(id).String()+".json")
}

func (p *Platform) load(id []byte) (credentialRecord, error) {
	rec, err := securefile.ReadJSON[credentialRecord](p.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return credentialRecord{}, ErrCredentialNotFound
		}
		return credentialRecord{}, fmt.Errorf("read credential: %w", err)
	}
	if rec.Version != constants.SchemaV1 {
		return credentialRecord{}, fmt.Errorf("unsupported credential version: %d", rec.Version)
	}
	if rec.Attachment != protocol.Platform {
		return credentialRecord{}, fmt.Errorf("%w: attachment %q", ErrCredentialNotFound, rec.Attachment)
	}
	return rec, nil
}

func (p *Platform) records() ([]credentialRecord, error) {
	entries, err := os.ReadDir(p.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list credentials: %w", err)
	}

	var out []credentialRecord
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		rec, err := securefile.ReadJSON[credentialRecord](filepath.Join(p.Dir, e.Name()))
		if err != nil {
			log.Warn("skipping unreadable credential", "file", e.Name(), "error", err)
			continue
		}
		if rec.Attachment != protocol.Platform {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func payloadAAD(id []byte) []byte {
	return append([]byte(constants.PayloadAAD+":"), id...)
}
