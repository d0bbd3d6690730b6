// Package vault stores and retrieves content decryption keys. Multiple
// vaults stack: lookups walk them in order, and a hit back-fills the vaults
// that missed.
package vault

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Vault is a single content-key store.
type Vault interface {
	Name() string
	// GetKey returns the hex key for a kid, or "" when absent.
	GetKey(ctx context.Context, service, kid string) (string, error)
	// GetKeys returns all kid->key pairs stored for a service. Vaults that
	// cannot enumerate return an empty map.
	GetKeys(ctx context.Context, service string) (map[string]string, error)
	// AddKey stores one key, reporting whether it was newly inserted.
	AddKey(ctx context.Context, service, kid, key string) (bool, error)
	// AddKeys stores many keys, returning the number newly inserted.
	AddKeys(ctx context.Context, service string, keys map[string]string) (int, error)
	// Services lists the service tags the vault holds keys for.
	Services(ctx context.Context) ([]string, error)
}

// ErrNullKey rejects all-zero content keys, which are never real.
var ErrNullKey = fmt.Errorf("refusing to store a NULL content key")

func validateKey(key string) error {
	if key == "" || strings.Count(key, "0") == len(key) {
		return ErrNullKey
	}
	return nil
}

// NormalizeKID lowercases a key id and strips UUID dashes.
func NormalizeKID(kid string) string {
	return strings.ToLower(strings.ReplaceAll(kid, "-", ""))
}

// Vaults walks a prioritized list of vaults.
type Vaults struct {
	vaults []Vault
	logger *slog.Logger
}

// NewVaults stacks vaults in lookup order.
func NewVaults(logger *slog.Logger, vaults ...Vault) *Vaults {
	if logger == nil {
		logger = slog.Default()
	}
	return &Vaults{vaults: vaults, logger: logger}
}

// Len returns the number of stacked vaults.
func (v *Vaults) Len() int { return len(v.vaults) }

// GetKey finds a key in the first vault that has it, then back-fills the
// vaults that were asked and missed.
func (v *Vaults) GetKey(ctx context.Context, service, kid string) (string, error) {
	kid = NormalizeKID(kid)

	var missed []Vault
	for _, vault := range v.vaults {
		key, err := vault.GetKey(ctx, service, kid)
		if err != nil {
			v.logger.Warn("vault lookup failed",
				slog.String("vault", vault.Name()), slog.String("error", err.Error()))
			continue
		}
		if key == "" {
			missed = append(missed, vault)
			continue
		}

		for _, miss := range missed {
			if _, err := miss.AddKey(ctx, service, kid, key); err != nil {
				v.logger.Warn("vault back-fill failed",
					slog.String("vault", miss.Name()), slog.String("error", err.Error()))
			}
		}
		return key, nil
	}
	return "", nil
}

// AddKeys stores keys in every stacked vault, returning the total inserted
// across vaults.
func (v *Vaults) AddKeys(ctx context.Context, service string, keys map[string]string) (int, error) {
	normalized := make(map[string]string, len(keys))
	for kid, key := range keys {
		if err := validateKey(key); err != nil {
			return 0, err
		}
		normalized[NormalizeKID(kid)] = key
	}

	total := 0
	var firstErr error
	for _, vault := range v.vaults {
		n, err := vault.AddKeys(ctx, service, normalized)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("vault %s: %w", vault.Name(), err)
			}
			continue
		}
		total += n
	}
	return total, firstErr
}
