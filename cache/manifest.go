package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/layer-3/slashauth/core"
	"github.com/layer-3/slashauth/ports"
)

type manifestRecord struct {
	Keys []string `json:"keys"`
}

// Manifest indexes the cache keys of one client so they can be cleared on
// storage that cannot enumerate its own keys. Callers serialize mutations.
type Manifest struct {
	storage  ports.Storage
	clientID string
}

// NewManifest creates the manifest of clientID
func NewManifest(storage ports.Storage, clientID string) *Manifest {
	return &Manifest{storage: storage, clientID: clientID}
}

// StorageKey is the key the manifest record itself lives under
func (m *Manifest) StorageKey() string {
	return core.ManifestKey(m.clientID)
}

// Keys returns the indexed cache keys; a missing record is an empty manifest
func (m *Manifest) Keys(ctx context.Context) ([]string, error) {
	raw, err := m.storage.Get(ctx, m.StorageKey())
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var rec manifestRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("corrupt key manifest: %w", err)
	}
	return rec.Keys, nil
}

// Add indexes key
func (m *Manifest) Add(ctx context.Context, key string) error {
	keys, err := m.Keys(ctx)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if k == key {
			return nil
		}
	}
	return m.write(ctx, append(keys, key))
}

// Remove drops key from the index, deleting the record once empty
func (m *Manifest) Remove(ctx context.Context, key string) error {
	keys, err := m.Keys(ctx)
	if err != nil {
		return err
	}

	kept := keys[:0]
	for _, k := range keys {
		if k != key {
			kept = append(kept, k)
		}
	}
	if len(kept) == len(keys) {
		return nil
	}
	if len(kept) == 0 {
		return m.Clear(ctx)
	}
	return m.write(ctx, kept)
}

// Clear deletes the manifest record
func (m *Manifest) Clear(ctx context.Context) error {
	return m.storage.Remove(ctx, m.StorageKey())
}

func (m *Manifest) write(ctx context.Context, keys []string) error {
	sort.Strings(keys)
	raw, err := json.Marshal(manifestRecord{Keys: keys})
	if err != nil {
		return fmt.Errorf("failed to encode key manifest: %w", err)
	}
	return m.storage.Set(ctx, m.StorageKey(), string(raw), 0)
}
