// Package pool owns the in-memory credential pools, one per provider
// type. It selects credentials round-robin among healthy candidates,
// tracks usage and error counters, and resolves bracket-prefixed model
// names to a concrete provider.
package pool

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/modelgate/modelgate/internal/protocol"
)

// Credential is one pool entry: the auth material for a single upstream
// account or endpoint plus its health and usage state.
type Credential struct {
	UUID         string            `json:"uuid"`
	Name         string            `json:"name,omitempty"`
	ProviderType string            `json:"provider_type"`
	APIKey       string            `json:"api_key,omitempty"`
	BaseURL      string            `json:"base_url,omitempty"`
	OAuthFile    string            `json:"oauth_file,omitempty"`
	Healthy      bool              `json:"healthy"`
	Disabled     bool              `json:"disabled"`
	UsageCount   int64             `json:"usage_count"`
	ErrorCount   int64             `json:"error_count"`
	LastUsed     time.Time         `json:"last_used,omitempty"`
	LastError    time.Time         `json:"last_error,omitempty"`
	ModelMapping map[string]string `json:"model_mapping,omitempty"`
}

// servesModel reports whether this credential may serve the requested
// model. An empty mapping serves any model.
func (c *Credential) servesModel(model string) bool {
	if len(c.ModelMapping) == 0 || model == "" {
		return true
	}
	_, ok := c.ModelMapping[model]
	return ok
}

// UpstreamModel applies the credential's per-model rename, if any.
func (c *Credential) UpstreamModel(model string) string {
	if mapped, ok := c.ModelMapping[model]; ok && mapped != "" {
		return mapped
	}
	return model
}

// Manager serializes all pool access behind one mutex. The select-and-mark
// step is O(pool size) and does no I/O, so a single coarse lock is enough.
type Manager struct {
	mu    sync.Mutex
	pools map[string][]*Credential

	now func() time.Time
}

func NewManager() *Manager {
	return &Manager{
		pools: make(map[string][]*Credential),
		now:   time.Now,
	}
}

// Reinitialize swaps the whole pool map atomically. Concurrent selections
// observe either the old pools or the new ones, never a mix.
func (m *Manager) Reinitialize(pools map[string][]*Credential) {
	fresh := make(map[string][]*Credential, len(pools))
	for providerType, creds := range pools {
		list := make([]*Credential, 0, len(creds))
		for _, c := range creds {
			cc := *c
			cc.ProviderType = providerType
			list = append(list, &cc)
		}
		fresh[providerType] = list
	}

	m.mu.Lock()
	m.pools = fresh
	m.mu.Unlock()
}

// Select picks one credential for a provider type. Candidates must be
// enabled and compatible with the requested model; healthy candidates win
// over unhealthy ones. Among equals the least-recently-used credential is
// chosen, ties broken by lowest usage count. A preferred UUID pins the
// selection to that credential while it stays eligible. The returned
// value is a snapshot; counter mutations happen under the lock here.
func (m *Manager) Select(providerType, preferredUUID, requestedModel string) (Credential, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := m.pools[providerType]

	if preferredUUID != "" {
		for _, c := range candidates {
			if c.UUID == preferredUUID && !c.Disabled && c.servesModel(requestedModel) {
				return m.take(c), true
			}
		}
	}

	var best *Credential
	bestHealthy := false
	for _, c := range candidates {
		if c.Disabled || !c.servesModel(requestedModel) {
			continue
		}
		switch {
		case best == nil:
			best, bestHealthy = c, c.Healthy
		case c.Healthy && !bestHealthy:
			best, bestHealthy = c, true
		case c.Healthy == bestHealthy && olderThan(c, best):
			best = c
		}
	}
	if best == nil {
		return Credential{}, false
	}
	return m.take(best), true
}

// take records a selection and returns a snapshot of the credential.
func (m *Manager) take(c *Credential) Credential {
	c.UsageCount++
	c.LastUsed = m.now()
	return *c
}

func olderThan(a, b *Credential) bool {
	if !a.LastUsed.Equal(b.LastUsed) {
		return a.LastUsed.Before(b.LastUsed)
	}
	return a.UsageCount < b.UsageCount
}

// MarkUnhealthy flags a credential after an auth failure or exhausted
// retries.
func (m *Manager) MarkUnhealthy(providerType, uuid string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.pools[providerType] {
		if c.UUID == uuid {
			c.Healthy = false
			c.ErrorCount++
			c.LastError = m.now()
			return true
		}
	}
	return false
}

// MarkHealthy clears the health flag, typically after a successful call
// or an admin reset.
func (m *Manager) MarkHealthy(providerType, uuid string) bool {
	return m.setFlag(providerType, uuid, func(c *Credential) { c.Healthy = true })
}

// Disable takes a credential out of rotation independent of health.
func (m *Manager) Disable(providerType, uuid string) bool {
	return m.setFlag(providerType, uuid, func(c *Credential) { c.Disabled = true })
}

// Enable returns a credential to rotation.
func (m *Manager) Enable(providerType, uuid string) bool {
	return m.setFlag(providerType, uuid, func(c *Credential) { c.Disabled = false })
}

func (m *Manager) setFlag(providerType, uuid string, apply func(*Credential)) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.pools[providerType] {
		if c.UUID == uuid {
			apply(c)
			return true
		}
	}
	return false
}

// ProviderTypes lists the configured provider types in stable order.
func (m *Manager) ProviderTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	types := make([]string, 0, len(m.pools))
	for t := range m.pools {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Snapshot returns a deep copy of every pool, for status and admin views.
func (m *Manager) Snapshot() map[string][]Credential {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string][]Credential, len(m.pools))
	for providerType, creds := range m.pools {
		list := make([]Credential, 0, len(creds))
		for _, c := range creds {
			list = append(list, *c)
		}
		out[providerType] = list
	}
	return out
}

// Resolution is the outcome of routing a model name to a provider.
type Resolution struct {
	ProviderType string
	Credential   Credential
	// Model is the bare model name with any bracket prefix stripped.
	Model string
}

// Resolve routes a client-presented model name, possibly carrying a
// bracket prefix, to a concrete provider and credential. Resolution
// order: prefix alias + vendor, prefix alias alone, a substring
// heuristic on the model name, then the supplied default provider type.
// The returned model never carries a prefix.
func (m *Manager) Resolve(model, defaultProviderType string) (Resolution, bool) {
	bare := protocol.RemoveModelPrefix(model)

	if info, ok := protocol.ParseModelPrefix(model); ok {
		if res, ok := m.resolveAlias(info, bare); ok {
			return res, true
		}
	}

	if providerType, ok := m.providerForModel(bare); ok {
		if cred, ok := m.Select(providerType, "", bare); ok {
			return Resolution{ProviderType: providerType, Credential: cred, Model: bare}, true
		}
	}

	if defaultProviderType != "" {
		if cred, ok := m.Select(defaultProviderType, "", bare); ok {
			return Resolution{ProviderType: defaultProviderType, Credential: cred, Model: bare}, true
		}
	}
	return Resolution{}, false
}

// resolveAlias matches a parsed prefix against configured provider types.
// The alias names a protocol family; the vendor segment, when present,
// matches either a credential name or the provider type itself.
func (m *Manager) resolveAlias(info protocol.PrefixInfo, model string) (Resolution, bool) {
	family := strings.ToLower(info.Alias)
	vendor := strings.ToLower(info.Vendor)

	var aliased []string
	for _, providerType := range m.ProviderTypes() {
		if string(protocol.FromProviderType(providerType)) == family {
			aliased = append(aliased, providerType)
		}
	}

	if vendor != "" {
		for _, providerType := range aliased {
			if strings.Contains(providerType, vendor) {
				if cred, ok := m.Select(providerType, "", model); ok {
					return Resolution{ProviderType: providerType, Credential: cred, Model: model}, true
				}
			}
		}
		for _, providerType := range aliased {
			if cred, ok := m.selectByVendorName(providerType, vendor, model); ok {
				return Resolution{ProviderType: providerType, Credential: cred, Model: model}, true
			}
		}
	}

	for _, providerType := range aliased {
		if cred, ok := m.Select(providerType, "", model); ok {
			return Resolution{ProviderType: providerType, Credential: cred, Model: model}, true
		}
	}
	return Resolution{}, false
}

func (m *Manager) selectByVendorName(providerType, vendor, model string) (Credential, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.pools[providerType] {
		if c.Disabled || !c.servesModel(model) {
			continue
		}
		if strings.EqualFold(c.Name, vendor) {
			return m.take(c), true
		}
	}
	return Credential{}, false
}

// providerForModel guesses a provider family from well-known model name
// substrings and returns the first configured provider type of that
// family.
func (m *Manager) providerForModel(model string) (string, bool) {
	lower := strings.ToLower(model)
	var family protocol.ID
	switch {
	case strings.Contains(lower, "gemini"):
		family = protocol.Gemini
	case strings.Contains(lower, "claude"):
		family = protocol.Claude
	case strings.Contains(lower, "gpt") || strings.HasPrefix(lower, "o1") || strings.HasPrefix(lower, "o3"):
		family = protocol.OpenAI
	default:
		return "", false
	}

	for _, providerType := range m.ProviderTypes() {
		if protocol.FromProviderType(providerType) == family {
			return providerType, true
		}
	}
	return "", false
}
