package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quantumauth-io/gmgn-wallet/internal/constants"
)

type WalletStatus string

const (
	WalletCreated WalletStatus = "created"
	WalletAbsent  WalletStatus = "absent"
)

// WalletRecord is non-secret profile metadata. It never holds key material.
type WalletRecord struct {
	Status      WalletStatus `json:"status"`
	DisplayName string       `json:"displayName"`
	IconSeed    string       `json:"iconSeed"`
	CreatedAt   string       `json:"createdAt,omitempty"` // RFC3339
}

func NewWalletRecord(displayName string) WalletRecord {
	return WalletRecord{
		Status:      WalletCreated,
		DisplayName: strings.TrimSpace(displayName),
		IconSeed:    uuid.NewString(),
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	}
}

// Records reads and writes the wallet record.
type Records struct {
	kv KV
}

func NewRecords(kv KV) *Records { return &Records{kv: kv} }

// Load returns the record; a missing record is reported as Status absent.
func (r *Records) Load() (WalletRecord, error) {
	b, ok, err := r.kv.Get(constants.WalletRecordKey)
	if err != nil {
		return WalletRecord{}, err
	}
	if !ok {
		return WalletRecord{Status: WalletAbsent}, nil
	}

	var rec WalletRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return WalletRecord{}, fmt.Errorf("unmarshal wallet record: %w", err)
	}
	if rec.Status == "" {
		rec.Status = WalletAbsent
	}
	return rec, nil
}

func (r *Records) Store(rec WalletRecord) error {
	if rec.Status != WalletCreated {
		return errors.New("wallet record: only created wallets are persisted")
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal wallet record: %w", err)
	}
	return r.kv.Set(constants.WalletRecordKey, b)
}

// Clear removes the record. Only an explicit reset calls this.
func (r *Records) Clear() error {
	return r.kv.Delete(constants.WalletRecordKey)
}
