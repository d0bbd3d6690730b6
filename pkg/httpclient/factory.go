package httpclient

import (
	"log/slog"
	"sync"
)

// Factory names and caches clients so that a service asking twice for the
// same session gets the same connection pool. Configuration for a named
// client is resolved by merging global config, then the per-name config,
// then the caller's override.
type Factory struct {
	mu           sync.Mutex
	global       Config
	named        map[string]Config
	clients      map[string]*Client
	defaultProxy string
	logger       *slog.Logger
}

// NewFactory creates a factory with the given global defaults and per-name
// configurations.
func NewFactory(global Config, named map[string]Config) *Factory {
	logger := global.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		global:  global,
		named:   named,
		clients: make(map[string]*Client),
		logger:  logger,
	}
}

// SetDefaultProxy sets an outbound proxy injected into every new client
// whose resolved config does not name its own.
func (f *Factory) SetDefaultProxy(proxy string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaultProxy = proxy
}

// Session returns the client registered under name, creating it on first
// use. When the client already exists, the override's headers are applied
// as a live update; immutable fields in the override are ignored for an
// existing client.
func (f *Factory) Session(name string, override Config) (*Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if client, ok := f.clients[name]; ok {
		if len(override.Headers) > 0 {
			if err := client.UpdateConfig(Config{Headers: override.Headers}); err != nil {
				return nil, err
			}
		}
		return client, nil
	}

	cfg := f.global
	if named, ok := f.named[name]; ok {
		cfg = cfg.Merge(named)
	}
	cfg = cfg.Merge(override)
	if cfg.Proxy == "" && f.defaultProxy != "" {
		cfg.Proxy = f.defaultProxy
	}
	if cfg.Logger == nil {
		cfg.Logger = f.logger
	}

	client, err := New(cfg)
	if err != nil {
		return nil, err
	}
	f.clients[name] = client
	f.logger.Debug("created http client",
		slog.String("name", name),
		slog.String("backend", string(client.Config().Backend)),
	)
	return client, nil
}

// Default returns the unnamed client built from global config alone.
func (f *Factory) Default() (*Client, error) {
	return f.Session("default", Config{})
}

// Close closes every client created by the factory.
func (f *Factory) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, client := range f.clients {
		client.Close()
		delete(f.clients, name)
	}
}
