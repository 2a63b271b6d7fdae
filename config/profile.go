// Copyright 2025 Stratagem
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads named orchestration profiles from yaml, applies
// environment overrides, and hot-swaps the active profile without a
// restart. The router and coordinator never read config files; they see
// only the converted RouterConfig pushed through subscribers on swap.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"stratagem/core/orchestrator/capability"
	"stratagem/core/shared/types"
)

// Duration wraps time.Duration with yaml string parsing ("500ms", "2s").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// CacheSettings configures the multi-level cache tiers.
type CacheSettings struct {
	// MemoryCapacity bounds the memory tier (0 = package default).
	MemoryCapacity int `yaml:"memory_capacity"`

	// DiskPath enables the disk tier when non-empty.
	DiskPath string `yaml:"disk_path"`

	// SharedURL enables the shared redis tier when non-empty.
	SharedURL string `yaml:"shared_url"`

	// ResultTTL is applied to cached orchestration results.
	ResultTTL Duration `yaml:"result_ttl"`
}

// Profile is one named orchestration configuration bundle.
type Profile struct {
	Name string `yaml:"-"`

	// MaxRetries bounds router fallback attempts per query.
	MaxRetries int `yaml:"max_retries"`

	// FanOut is the coordinator's fan-out width.
	FanOut int `yaml:"fan_out"`

	// CoordinationEnabled gates the multi-provider coordination path.
	CoordinationEnabled bool `yaml:"coordination_enabled"`

	// ProviderWeights biases candidate ranking per provider.
	ProviderWeights map[string]float64 `yaml:"provider_weights"`

	// TimeoutOverrides replaces per-complexity soft budgets.
	TimeoutOverrides map[types.ComplexityClass]Duration `yaml:"timeout_overrides"`

	// Cache configures the cache tiers.
	Cache CacheSettings `yaml:"cache"`
}

// Validate checks profile invariants.
func (p *Profile) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("profile %q: max_retries must not be negative", p.Name)
	}
	if p.FanOut < 0 {
		return fmt.Errorf("profile %q: fan_out must not be negative", p.Name)
	}
	for class := range p.TimeoutOverrides {
		if !class.IsValid() {
			return fmt.Errorf("profile %q: unknown complexity class %q in timeout_overrides", p.Name, class)
		}
	}
	for name, w := range p.ProviderWeights {
		if w < 0 {
			return fmt.Errorf("profile %q: negative weight for provider %q", p.Name, name)
		}
	}
	return nil
}

// RouterConfig converts the profile into the router's hot-swappable form.
func (p *Profile) RouterConfig() capability.RouterConfig {
	overrides := make(map[types.ComplexityClass]time.Duration, len(p.TimeoutOverrides))
	for class, d := range p.TimeoutOverrides {
		overrides[class] = time.Duration(d)
	}
	return capability.RouterConfig{
		MaxRetries:          p.MaxRetries,
		Weights:             p.ProviderWeights,
		TimeoutOverrides:    overrides,
		CacheTTL:            time.Duration(p.Cache.ResultTTL),
		FanOut:              p.FanOut,
		CoordinationEnabled: p.CoordinationEnabled,
	}
}

// File is the on-disk layout: the capability providers to register, a
// set of named profiles, and which profile starts active.
type File struct {
	DefaultProfile string                      `yaml:"default_profile"`
	Profiles       map[string]*Profile         `yaml:"profiles"`
	Providers      []capability.ProviderConfig `yaml:"providers"`
}

// parseFile decodes and validates a profile file.
func parseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing profile yaml: %w", err)
	}
	if len(f.Profiles) == 0 {
		return nil, fmt.Errorf("no profiles defined")
	}
	for name, p := range f.Profiles {
		if p == nil {
			return nil, fmt.Errorf("profile %q is empty", name)
		}
		p.Name = name
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	if f.DefaultProfile == "" {
		return nil, fmt.Errorf("default_profile is required")
	}
	if _, ok := f.Profiles[f.DefaultProfile]; !ok {
		return nil, fmt.Errorf("default_profile %q is not defined", f.DefaultProfile)
	}
	for i, pc := range f.Providers {
		if err := capability.ValidateConfig(pc); err != nil {
			return nil, fmt.Errorf("provider %d: %w", i, err)
		}
	}
	return &f, nil
}
