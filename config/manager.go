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

package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"stratagem/core/orchestrator/capability"
)

// Environment variables recognized as overrides. Overrides are applied to
// every profile after parsing, so a swap never silently discards them.
const (
	// EnvProfile selects the starting profile, overriding default_profile.
	EnvProfile = "STRATAGEM_PROFILE"

	// EnvProviderWeights overrides ranking weights, formatted
	// "name:weight,name:weight" (e.g. "pattern-1:50,reasoning-1:30").
	EnvProviderWeights = "STRATAGEM_PROVIDER_WEIGHTS"

	// EnvMaxRetries overrides the router retry bound.
	EnvMaxRetries = "STRATAGEM_MAX_RETRIES"

	// EnvFanOut overrides the coordinator fan-out width.
	EnvFanOut = "STRATAGEM_FAN_OUT"

	// EnvRedisURL overrides the shared cache tier URL.
	EnvRedisURL = "STRATAGEM_REDIS_URL"

	// EnvDiskCachePath overrides the disk cache tier path.
	EnvDiskCachePath = "STRATAGEM_DISK_CACHE_PATH"
)

// Subscriber is notified with the new profile after every swap and once
// at registration with the current one.
type Subscriber func(Profile)

// Manager holds the parsed profiles and the active selection. Reads go
// through an atomic pointer; Swap is the only mutation.
type Manager struct {
	mu          sync.Mutex
	profiles    map[string]*Profile
	providers   []capability.ProviderConfig
	active      atomic.Pointer[Profile]
	subscribers []Subscriber
	logger      *log.Logger
}

// ManagerOption configures the manager.
type ManagerOption func(*Manager)

// WithConfigLogger overrides the default logger.
func WithConfigLogger(logger *log.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// Load reads a profile file, applies environment overrides, and selects
// the starting profile.
func Load(path string, opts ...ManagerOption) (*Manager, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile file: %w", err)
	}
	return LoadBytes(data, opts...)
}

// LoadBytes is Load for in-memory yaml.
func LoadBytes(data []byte, opts ...ManagerOption) (*Manager, error) {
	f, err := parseFile(data)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		profiles:  f.Profiles,
		providers: f.Providers,
		logger:    log.New(os.Stdout, "[CONFIG] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := applyEnvOverrides(f.Profiles); err != nil {
		return nil, err
	}

	start := f.DefaultProfile
	if env := os.Getenv(EnvProfile); env != "" {
		if _, ok := f.Profiles[env]; !ok {
			return nil, fmt.Errorf("%s names unknown profile %q", EnvProfile, env)
		}
		start = env
	}
	m.active.Store(f.Profiles[start])
	m.logger.Printf("loaded %d profiles, active: %s", len(f.Profiles), start)
	return m, nil
}

// Active returns the current profile by value.
func (m *Manager) Active() Profile {
	return *m.active.Load()
}

// Providers returns the capability providers defined by the file.
func (m *Manager) Providers() []capability.ProviderConfig {
	return m.providers
}

// Names lists the defined profile names.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.profiles))
	for name := range m.profiles {
		names = append(names, name)
	}
	return names
}

// Swap activates the named profile and notifies subscribers. The swap is
// atomic: concurrent readers see either the old or the new profile, never
// a mix.
func (m *Manager) Swap(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.profiles[name]
	if !ok {
		return fmt.Errorf("unknown profile %q", name)
	}
	m.active.Store(p)
	m.logger.Printf("swapped active profile to %s", name)
	for _, sub := range m.subscribers {
		sub(*p)
	}
	return nil
}

// Subscribe registers a callback for profile swaps and invokes it
// immediately with the active profile.
func (m *Manager) Subscribe(sub Subscriber) {
	m.mu.Lock()
	m.subscribers = append(m.subscribers, sub)
	m.mu.Unlock()
	sub(m.Active())
}

// applyEnvOverrides mutates every profile in place with recognized
// environment overrides.
func applyEnvOverrides(profiles map[string]*Profile) error {
	if raw := os.Getenv(EnvProviderWeights); raw != "" {
		weights, err := ParseWeights(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvProviderWeights, err)
		}
		for _, p := range profiles {
			p.ProviderWeights = weights
		}
	}
	if raw := os.Getenv(EnvMaxRetries); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return fmt.Errorf("%s: invalid value %q", EnvMaxRetries, raw)
		}
		for _, p := range profiles {
			p.MaxRetries = n
		}
	}
	if raw := os.Getenv(EnvFanOut); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return fmt.Errorf("%s: invalid value %q", EnvFanOut, raw)
		}
		for _, p := range profiles {
			p.FanOut = n
		}
	}
	if raw := os.Getenv(EnvRedisURL); raw != "" {
		for _, p := range profiles {
			p.Cache.SharedURL = raw
		}
	}
	if raw := os.Getenv(EnvDiskCachePath); raw != "" {
		for _, p := range profiles {
			p.Cache.DiskPath = raw
		}
	}
	return nil
}

// ParseWeights parses "name:weight,name:weight" override strings.
func ParseWeights(raw string) (map[string]float64, error) {
	weights := make(map[string]float64)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed weight entry %q", pair)
		}
		name := strings.TrimSpace(parts[0])
		w, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil || name == "" || w < 0 {
			return nil, fmt.Errorf("malformed weight entry %q", pair)
		}
		weights[name] = w
	}
	if len(weights) == 0 {
		return nil, fmt.Errorf("no weight entries found")
	}
	return weights, nil
}
