// Package config provides configuration loading and database bootstrapping.
package config

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/connectorrt/runtime/internal/connector"
	"github.com/connectorrt/runtime/internal/storage"
)

// Bootstrap seeds the database from the config file on first run. It is
// idempotent: existing connectors and keys are left untouched.
func Bootstrap(ctx context.Context, cfg *Config, store storage.Store) error {
	for _, c := range cfg.Connectors {
		if !c.IsEnabled() {
			continue
		}
		existing, _ := store.Get(ctx, c.ID)
		if existing != nil {
			continue // already exists, skip
		}
		def, err := loadConnectorDefinition(c)
		if err != nil {
			return fmt.Errorf("load connector %q: %w", c.ID, err)
		}
		if err := store.PutDefinition(ctx, def); err != nil {
			return err
		}
		slog.Info("bootstrapped connector", "id", def.ID, "name", def.Name)
	}

	for _, k := range cfg.Keys {
		if k.Key == "" {
			continue
		}
		hash := connector.HashKey(k.Key)

		existing, _ := store.GetKeyByHash(ctx, hash)
		if existing != nil {
			continue
		}

		prefix := k.Key
		if len(prefix) > 12 {
			prefix = prefix[:12]
		}

		role := k.Role
		if role == "" {
			role = "member"
		}

		key := &connector.APIKey{
			ID:                uuid.New().String(),
			KeyHash:           hash,
			KeyPrefix:         prefix,
			OrgID:             k.OrgID,
			Role:              role,
			AllowedConnectors: k.AllowedConnectors,
			CreatedAt:         time.Now().UTC(),
		}
		if err := store.CreateKey(ctx, key); err != nil {
			return err
		}
		slog.Info("bootstrapped api key", "name", k.Name, "prefix", prefix)
	}

	return nil
}

// loadConnectorDefinition reads the full definition JSON from disk and
// overlays the config-file fields that commonly vary per deployment
// (id, name, version, and base URL and auth type when set) without requiring a full
// definition rewrite for a simple re-point.
func loadConnectorDefinition(c ConnectorEntry) (*connector.ConnectorDefinition, error) {
	var def connector.ConnectorDefinition
	if c.DefPath != "" {
		data, err := os.ReadFile(c.DefPath)
		if err != nil {
			return nil, fmt.Errorf("read definition file: %w", err)
		}
		if err := json.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("parse definition file: %w", err)
		}
	}
	def.ID = c.ID
	def.Name = c.Name
	def.Version = c.Version
	if c.BaseURL != "" {
		def.BaseURL = c.BaseURL
	}
	if c.AuthType != "" {
		def.AuthType = connector.AuthType(c.AuthType)
	}
	return &def, nil
}

// GenerateAdminKey creates a random admin key and returns the plaintext.
func GenerateAdminKey() string {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	return connector.APIKeyPrefix + base64.RawURLEncoding.EncodeToString(raw)
}
