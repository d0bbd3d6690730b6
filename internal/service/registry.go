package service

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// RemotePrefix namespaces discovered remote adapters so a remote tag never
// clashes with a local one.
const RemotePrefix = "remote_"

type registration struct {
	descriptor Descriptor
	builder    Builder
	path       string
	remote     bool
}

// Registry resolves service tags to adapter builders. Local adapters are
// registered at startup; remote adapters are added when a remote host's
// discovery endpoint is first queried. Lookup is case-insensitive over tags
// and aliases. Read-mostly and safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registration
	// byName indexes lowercased tags and aliases to the canonical tag.
	byName map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*registration),
		byName:  make(map[string]string),
	}
}

// Register adds a local adapter. dir is the directory the adapter was
// discovered in; it backs Path lookups.
func (r *Registry) Register(descriptor Descriptor, builder Builder, dir string) error {
	return r.add(descriptor, builder, dir, false)
}

// RegisterRemote adds a dynamically discovered remote adapter. The tag and
// every alias are namespaced with RemotePrefix.
func (r *Registry) RegisterRemote(descriptor Descriptor, builder Builder) error {
	namespaced := descriptor
	namespaced.Tag = RemotePrefix + descriptor.Tag
	aliases := make([]string, 0, len(descriptor.Aliases))
	for _, alias := range descriptor.Aliases {
		aliases = append(aliases, RemotePrefix+alias)
	}
	namespaced.Aliases = aliases
	return r.add(namespaced, builder, "", true)
}

func (r *Registry) add(descriptor Descriptor, builder Builder, dir string, remote bool) error {
	if descriptor.Tag == "" {
		return fmt.Errorf("adapter tag is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	lower := strings.ToLower(descriptor.Tag)
	if existing, ok := r.byName[lower]; ok {
		return fmt.Errorf("tag %q already registered by %s", descriptor.Tag, existing)
	}
	for _, alias := range descriptor.Aliases {
		if existing, ok := r.byName[strings.ToLower(alias)]; ok {
			return fmt.Errorf("alias %q already registered by %s", alias, existing)
		}
	}

	r.entries[descriptor.Tag] = &registration{
		descriptor: descriptor,
		builder:    builder,
		path:       dir,
		remote:     remote,
	}
	r.byName[lower] = descriptor.Tag
	for _, alias := range descriptor.Aliases {
		r.byName[strings.ToLower(alias)] = descriptor.Tag
	}
	return nil
}

// GetTag resolves user input to a canonical tag, matching tags and aliases
// case-insensitively. Unmatched input is returned unchanged.
func (r *Registry) GetTag(input string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if tag, ok := r.byName[strings.ToLower(input)]; ok {
		return tag
	}
	return input
}

// Has reports whether the tag or alias is registered.
func (r *Registry) Has(input string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[strings.ToLower(input)]
	return ok
}

// Descriptor returns the descriptor for a tag or alias.
func (r *Registry) Descriptor(input string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tag, ok := r.byName[strings.ToLower(input)]
	if !ok {
		return Descriptor{}, false
	}
	return r.entries[tag].descriptor, true
}

// Build constructs an adapter instance for a tag or alias.
func (r *Registry) Build(input string, ctx Context, params Params) (Service, error) {
	r.mu.RLock()
	tag, ok := r.byName[strings.ToLower(input)]
	if !ok {
		r.mu.RUnlock()
		return nil, fmt.Errorf("unknown service %q", input)
	}
	entry := r.entries[tag]
	r.mu.RUnlock()
	return entry.builder(ctx, params)
}

// Path returns the local filesystem directory of an adapter. Remote tags
// have no path and return an error.
func (r *Registry) Path(input string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tag, ok := r.byName[strings.ToLower(input)]
	if !ok {
		return "", fmt.Errorf("unknown service %q", input)
	}
	entry := r.entries[tag]
	if entry.remote {
		return "", fmt.Errorf("service %q is remote and has no local path", tag)
	}
	return filepath.Join(entry.path, tag), nil
}

// IsRemote reports whether the tag resolves to a remote binding.
func (r *Registry) IsRemote(input string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tag, ok := r.byName[strings.ToLower(input)]
	if !ok {
		return false
	}
	return r.entries[tag].remote
}

// Tags returns every canonical tag in sorted order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.entries))
	for tag := range r.entries {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Descriptors returns every registered descriptor ordered by tag.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.entries))
	for tag := range r.entries {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	out := make([]Descriptor, 0, len(tags))
	for _, tag := range tags {
		out = append(out, r.entries[tag].descriptor)
	}
	return out
}
