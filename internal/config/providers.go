package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/modelgate/modelgate/internal/pool"
)

// The provider pool document maps provider type to its credentials.
// Both of these shapes are accepted per provider type:
//
//	"openai-custom": [ {...}, {...} ]
//	"openai-custom": { "providers": [ {...} ] }

type providerGroup struct {
	Providers []*pool.Credential `json:"providers" yaml:"providers"`
}

// LoadProviderPools reads a provider pool document. Credentials get a
// generated UUID when the document omits one and start out healthy
// unless explicitly flagged.
func LoadProviderPools(path string) (map[string][]*pool.Credential, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read providers file: %w", err)
	}

	var doc map[string]json.RawMessage
	if isYAML(path) {
		// Normalize YAML to JSON once so both shapes share one decoding
		// path.
		var tree map[string]any
		if err := unmarshalByExt(path, data, &tree); err != nil {
			return nil, fmt.Errorf("parse providers file: %w", err)
		}
		normalized, err := json.Marshal(tree)
		if err != nil {
			return nil, fmt.Errorf("normalize providers file: %w", err)
		}
		if err := json.Unmarshal(normalized, &doc); err != nil {
			return nil, fmt.Errorf("parse providers file: %w", err)
		}
	} else if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse providers file: %w", err)
	}

	pools := make(map[string][]*pool.Credential, len(doc))
	for providerType, raw := range doc {
		creds, err := decodeCredentials(raw)
		if err != nil {
			return nil, fmt.Errorf("provider type %q: %w", providerType, err)
		}
		for _, c := range creds {
			if c.UUID == "" {
				c.UUID = uuid.NewString()
			}
			c.ProviderType = providerType
			// Health is runtime state; every credential starts healthy.
			c.Healthy = true
		}
		pools[providerType] = creds
	}
	return pools, nil
}

func decodeCredentials(raw json.RawMessage) ([]*pool.Credential, error) {
	var list []*pool.Credential
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var group providerGroup
	if err := json.Unmarshal(raw, &group); err != nil {
		return nil, fmt.Errorf("expected credential array or {providers: array}: %w", err)
	}
	return group.Providers, nil
}

// ModelInfo is one entry in the models catalogue.
type ModelInfo struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// LoadModels reads the models catalogue keyed by provider type.
func LoadModels(path string) (map[string][]ModelInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read models file: %w", err)
	}

	var doc map[string][]ModelInfo
	if err := unmarshalByExt(path, data, &doc); err != nil {
		return nil, fmt.Errorf("parse models file: %w", err)
	}
	return doc, nil
}
