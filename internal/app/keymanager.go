// Package app implements application-level services for the connector
// execution runtime's control plane.
package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/connectorrt/runtime/internal/connector"
	"github.com/connectorrt/runtime/internal/storage"
	"github.com/google/uuid"
)

// KeyManager handles API key lifecycle (create, delete).
type KeyManager struct {
	store storage.APIKeyStore
}

// NewKeyManager returns a KeyManager backed by store.
func NewKeyManager(store storage.APIKeyStore) *KeyManager {
	return &KeyManager{store: store}
}

// CreateKeyOpts parameterizes CreateKey. OrgID is required; everything else
// defaults the way a freshly minted member key would.
type CreateKeyOpts struct {
	OrgID             string
	UserID            string
	TeamID            string
	Role              string
	AllowedConnectors []string
	MaxBudget         *float64
	ExpiresAt         *time.Time
}

// CreateKey generates a new API key for the given org, stores its hash,
// and returns the plaintext (shown once) along with the persisted APIKey record.
func (km *KeyManager) CreateKey(ctx context.Context, opts CreateKeyOpts) (string, *connector.APIKey, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", nil, err
	}

	role := opts.Role
	if role == "" {
		role = "member"
	}

	plaintext := connector.APIKeyPrefix + base64.RawURLEncoding.EncodeToString(raw)
	hash := connector.HashKey(plaintext)

	key := &connector.APIKey{
		ID:                uuid.New().String(),
		KeyHash:           hash,
		KeyPrefix:         plaintext[:8],
		OrgID:             opts.OrgID,
		UserID:            opts.UserID,
		TeamID:            opts.TeamID,
		Role:              role,
		AllowedConnectors: opts.AllowedConnectors,
		MaxBudget:         opts.MaxBudget,
		ExpiresAt:         opts.ExpiresAt,
		CreatedAt:         time.Now().UTC(),
	}

	if err := km.store.CreateKey(ctx, key); err != nil {
		return "", nil, err
	}

	return plaintext, key, nil
}

// DeleteKey removes the API key with the given ID.
func (km *KeyManager) DeleteKey(ctx context.Context, id string) error {
	return km.store.DeleteKey(ctx, id)
}
