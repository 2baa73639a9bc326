// Package fleet loads the declarative description of the backend instance
// fleet: which instances exist, which model each serves, and where to reach
// them. The file doubles as the model catalog: an instance spec is the
// binding from model id to endpoint.
package fleet

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"gatewayd/pkg/types"
)

// file is the on-disk shape: a single "instances" list.
type file struct {
	Instances []types.InstanceSpec `json:"instances" yaml:"instances" toml:"instances"`
}

// Load reads instance specs from a fleet file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) ([]types.InstanceSpec, error) {
	if path == "" {
		return nil, fmt.Errorf("empty fleet path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f file
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &f); err != nil {
			return nil, err
		}
	case ".json":
		if err := json.Unmarshal(b, &f); err != nil {
			return nil, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &f); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported fleet extension: %s", ext)
	}
	if err := validate(f.Instances); err != nil {
		return nil, err
	}
	return f.Instances, nil
}

func validate(specs []types.InstanceSpec) error {
	seen := make(map[string]bool, len(specs))
	for i, s := range specs {
		if strings.TrimSpace(s.ID) == "" {
			return fmt.Errorf("instance %d: missing id", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("instance %q: duplicate id", s.ID)
		}
		seen[s.ID] = true
		if strings.TrimSpace(s.Model) == "" {
			return fmt.Errorf("instance %q: missing model", s.ID)
		}
		u, err := url.Parse(s.Endpoint)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("instance %q: invalid endpoint %q", s.ID, s.Endpoint)
		}
		if s.MaxLoad < 0 {
			return fmt.Errorf("instance %q: negative max_load", s.ID)
		}
	}
	return nil
}

// EndpointFor resolves the endpoints serving a model, in spec order.
// Empty result means the model is unknown to the fleet.
func EndpointFor(specs []types.InstanceSpec, model string) []string {
	var out []string
	for _, s := range specs {
		if s.Model == model {
			out = append(out, s.Endpoint)
		}
	}
	return out
}
