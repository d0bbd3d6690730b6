package vault

import (
	"fmt"
	"log/slog"

	"github.com/sternforth/vantage/internal/config"
	"github.com/sternforth/vantage/pkg/httpclient"
)

// FromConfig builds the vault stack described by the key_vaults config
// section, in configured order.
func FromConfig(cfgs []config.KeyVaultConfig, client *httpclient.Client, logger *slog.Logger) (*Vaults, error) {
	vaults := make([]Vault, 0, len(cfgs))
	for i, cfg := range cfgs {
		name := cfg.Name
		if name == "" {
			name = fmt.Sprintf("%s-%d", cfg.Type, i)
		}

		switch cfg.Type {
		case "sqlite":
			v, err := NewSQLite(name, cfg.Path)
			if err != nil {
				return nil, err
			}
			vaults = append(vaults, v)
		case "mysql":
			cfg.Name = name
			v, err := NewMySQL(cfg)
			if err != nil {
				return nil, err
			}
			vaults = append(vaults, v)
		case "http":
			mode := HTTPModeQuery
			if cfg.APIKey != "" && cfg.Username == "" {
				mode = HTTPModeJSON
			}
			secret := cfg.APIKey
			if secret == "" {
				secret = cfg.Password
			}
			v, err := NewHTTP(name, cfg.URI, mode, cfg.Username, secret, client)
			if err != nil {
				return nil, err
			}
			vaults = append(vaults, v)
		default:
			return nil, fmt.Errorf("unknown vault type %q", cfg.Type)
		}
	}
	return NewVaults(logger, vaults...), nil
}
