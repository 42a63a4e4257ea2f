package vault

import (
	"bytes"
	"fmt"

	"github.com/quantumauth-io/gmgn-wallet/internal/constants"
	"github.com/quantumauth-io/gmgn-wallet/internal/storage"
)

// HandleCache keeps the current handle under a fixed key.
type HandleCache struct {
	kv storage.KV
}

func NewHandleCache(kv storage.KV) *HandleCache {
	return &HandleCache{kv: kv}
}

func (c *HandleCache) Store(h Handle) error {
	if len(h) == 0 {
		return fmt.Errorf("handle cache: empty handle")
	}
	return c.kv.Set(constants.HandleCacheKey, bytes.Clone(h))
}

// Load returns ok=false when nothing has been stored.
func (c *HandleCache) Load() (Handle, bool, error) {
	b, ok, err := c.kv.Get(constants.HandleCacheKey)
	if err != nil {
		return nil, false, fmt.Errorf("handle cache: %w", err)
	}
	if !ok || len(b) == 0 {
		return nil, false, nil
	}
	return Handle(b), true, nil
}

func (c *HandleCache) Clear() error {
	return c.kv.Delete(constants.HandleCacheKey)
}
