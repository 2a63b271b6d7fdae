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

// Package types defines the cross-component query and result types used by
// the Stratagem orchestration core. These are the wire-level shapes shared by
// the router, coordinator, cache, and analytics packages.
package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ComplexityClass classifies how expensive a query is expected to be.
// It drives the per-attempt timeout budget in the router.
type ComplexityClass string

const (
	ComplexityLow      ComplexityClass = "low"
	ComplexityMedium   ComplexityClass = "medium"
	ComplexityHigh     ComplexityClass = "high"
	ComplexityCritical ComplexityClass = "critical"
)

// ValidComplexityClasses contains all valid complexity values.
var ValidComplexityClasses = []ComplexityClass{
	ComplexityLow,
	ComplexityMedium,
	ComplexityHigh,
	ComplexityCritical,
}

// IsValid checks if the complexity class is one of the known values.
func (c ComplexityClass) IsValid() bool {
	for _, valid := range ValidComplexityClasses {
		if c == valid {
			return true
		}
	}
	return false
}

// SoftBudget returns the soft timeout budget for this complexity class.
// The hard per-attempt timeout is twice the soft budget.
func (c ComplexityClass) SoftBudget() time.Duration {
	switch c {
	case ComplexityLow:
		return 200 * time.Millisecond
	case ComplexityMedium:
		return 500 * time.Millisecond
	case ComplexityHigh:
		return 1500 * time.Millisecond
	case ComplexityCritical:
		return 3000 * time.Millisecond
	default:
		return 500 * time.Millisecond
	}
}

// QueryDomain identifies which analysis domain a query belongs to.
// This is a closed set: routing and cache-key derivation depend on it
// being deterministic, so arbitrary domains are rejected at validation.
type QueryDomain string

const (
	DomainHistory QueryDomain = "history"
	DomainTrend   QueryDomain = "trend"
	DomainRisk    QueryDomain = "risk"
	DomainROI     QueryDomain = "roi"
	DomainPattern QueryDomain = "pattern"
)

// ValidQueryDomains contains all valid query domain values.
var ValidQueryDomains = []QueryDomain{
	DomainHistory,
	DomainTrend,
	DomainRisk,
	DomainROI,
	DomainPattern,
}

// IsValid checks if the query domain is one of the known values.
func (d QueryDomain) IsValid() bool {
	for _, valid := range ValidQueryDomains {
		if d == valid {
			return true
		}
	}
	return false
}

// QueryRequest is a single strategic-analysis query entering the orchestrator.
// It is immutable once created and lives for the duration of one routing call.
type QueryRequest struct {
	// ID uniquely identifies this request for correlation and logging.
	ID string `json:"id"`

	// Domain is the analysis domain this query targets.
	Domain QueryDomain `json:"domain"`

	// Content is the opaque query payload. The orchestrator never
	// interprets it beyond hashing it for cache-key derivation.
	Content string `json:"content"`

	// Complexity drives the per-attempt timeout budget.
	Complexity ComplexityClass `json:"complexity"`

	// PreferredProviders is an optional ordered list of provider names to
	// try first. Providers with an open circuit are skipped regardless.
	PreferredProviders []string `json:"preferred_providers,omitempty"`

	// Timeout is the overall deadline for the orchestration call.
	// Must be > 0.
	Timeout time.Duration `json:"timeout"`

	// RequireCoordination routes the query through the multi-server
	// coordinator instead of single-provider routing.
	RequireCoordination bool `json:"require_coordination,omitempty"`

	// SessionID links the query to a conversation session, if any.
	SessionID string `json:"session_id,omitempty"`
}

// NewQueryRequest creates a QueryRequest with a generated ID and the
// default overall timeout for its complexity class.
func NewQueryRequest(domain QueryDomain, content string, complexity ComplexityClass) QueryRequest {
	return QueryRequest{
		ID:         uuid.New().String(),
		Domain:     domain,
		Content:    content,
		Complexity: complexity,
		Timeout:    2 * complexity.SoftBudget() * 3, // hard budget x default retries
	}
}

// Validate checks the request is structurally usable by the router.
func (q QueryRequest) Validate() error {
	if q.ID == "" {
		return fmt.Errorf("query request requires an id")
	}
	if !q.Domain.IsValid() {
		return fmt.Errorf("invalid query domain %q", q.Domain)
	}
	if !q.Complexity.IsValid() {
		return fmt.Errorf("invalid complexity class %q", q.Complexity)
	}
	if q.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %v", q.Timeout)
	}
	return nil
}

// CacheKey derives the deterministic cache key for this query: domain,
// complexity, and a content hash. Identical queries always map to the same
// key; the request ID is deliberately excluded.
func (q QueryRequest) CacheKey() string {
	sum := sha256.Sum256([]byte(q.Content))
	return fmt.Sprintf("query:%s:%s:%s", q.Domain, q.Complexity, hex.EncodeToString(sum[:12]))
}

// BranchResult records the outcome of a single coordinator fan-out branch.
type BranchResult struct {
	Provider        string        `json:"provider"`
	Success         bool          `json:"success"`
	Payload         string        `json:"payload,omitempty"`
	Error           string        `json:"error,omitempty"`
	Latency         time.Duration `json:"latency"`
	CompletionOrder int           `json:"completion_order"`
}

// OrchestrationResult is the outcome of one routed or coordinated query.
// It is produced exactly once per QueryRequest.
type OrchestrationResult struct {
	QueryID string `json:"query_id"`

	// Provider is the provider that produced the payload. For coordinated
	// calls this is the winning branch.
	Provider string `json:"provider,omitempty"`

	// AttemptedProviders lists every provider tried, in order.
	AttemptedProviders []string `json:"attempted_providers,omitempty"`

	Success bool   `json:"success"`
	Payload string `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`

	// FallbackUsed is true when the top-ranked candidate did not produce
	// the payload (a fallback provider served it, or all attempts failed).
	FallbackUsed bool `json:"fallback_used"`

	// CacheHit is true when the payload was served from the cache without
	// invoking any provider.
	CacheHit bool `json:"cache_hit,omitempty"`

	Latency time.Duration `json:"latency"`

	// Branches carries per-branch attribution for coordinated calls,
	// ordered by completion.
	Branches []BranchResult `json:"branches,omitempty"`

	// Disagreement is true when coordinated branches returned materially
	// different payloads and the caller should reconcile them.
	Disagreement bool `json:"disagreement,omitempty"`
}
