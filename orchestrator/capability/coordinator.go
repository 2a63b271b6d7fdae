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

package capability

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"stratagem/core/shared/types"
)

// DefaultFanOut is how many providers a coordinated query fans out to.
const DefaultFanOut = 3

// Coordinator fans a query out to several ranked providers concurrently
// and merges the branch results. It is used for queries flagged with
// RequireCoordination.
type Coordinator struct {
	router *Router
	logger *log.Logger
}

// NewCoordinator creates a Coordinator sharing the router's registry,
// cache, metrics sink, and hot-swappable configuration.
func NewCoordinator(router *Router, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.New(os.Stdout, "[COORDINATOR] ", log.LstdFlags)
	}
	return &Coordinator{router: router, logger: logger}
}

// branchOutcome is the raw result of one fan-out branch, tagged with the
// branch's rank so merge logic is deterministic given completion order.
type branchOutcome struct {
	rank     int
	provider string
	resp     *Response
	err      error
	latency  time.Duration
}

// Coordinate fans the request out to the top-N ranked providers, each under
// its own per-attempt timeout derived from the parent context (cancelling
// the parent cancels every in-flight branch). Partial success is success:
// the call succeeds if at least one branch does, with FallbackUsed
// reflecting whether the top-ranked branch won.
func (c *Coordinator) Coordinate(ctx context.Context, req types.QueryRequest) (*types.OrchestrationResult, error) {
	start := time.Now()

	if err := req.Validate(); err != nil {
		return &types.OrchestrationResult{
				QueryID: req.ID,
				Success: false,
				Error:   err.Error(),
			}, &OrchestrationError{
				Code: ErrCodeInvalidRequest, QueryID: req.ID,
				Message: err.Error(), Cause: err,
			}
	}

	cfg := c.router.config.Load()

	if c.router.cache != nil {
		if payload, ok := c.router.cache.Get(ctx, req.CacheKey()); ok {
			return &types.OrchestrationResult{
				QueryID:  req.ID,
				Success:  true,
				Payload:  payload,
				CacheHit: true,
				Latency:  time.Since(start),
			}, nil
		}
	}

	fanout := cfg.FanOut
	if fanout <= 0 {
		fanout = DefaultFanOut
	}

	candidates := rankCandidates(req, c.router.registry.Snapshot(), cfg.Weights)
	if len(candidates) == 0 {
		err := &OrchestrationError{
			Code:    ErrCodeProviderUnavailable,
			QueryID: req.ID,
			Message: "no provider available for coordination",
		}
		return &types.OrchestrationResult{
			QueryID:      req.ID,
			Success:      false,
			Error:        err.Message,
			FallbackUsed: true,
			Latency:      time.Since(start),
		}, err
	}
	if len(candidates) > fanout {
		candidates = candidates[:fanout]
	}

	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	outcomes := make(chan branchOutcome, len(candidates))
	launched := 0

	for rank, name := range candidates {
		circuit, err := c.router.registry.Circuit(name)
		if err != nil || !circuit.Allow() {
			continue
		}
		release, ok := c.router.registry.AcquireSlot(name)
		if !ok {
			c.logger.Printf("Provider %s at capacity, excluded from fan-out (query: %s)", name, req.ID)
			continue
		}

		launched++
		go func(rank int, name string, release func()) {
			defer release()
			branchStart := time.Now()
			resp, err := c.router.attempt(ctx, name, req)
			outcomes <- branchOutcome{
				rank:     rank,
				provider: name,
				resp:     resp,
				err:      err,
				latency:  time.Since(branchStart),
			}
		}(rank, name, release)
	}

	if launched == 0 {
		err := &OrchestrationError{
			Code:    ErrCodeProviderUnavailable,
			QueryID: req.ID,
			Message: "no provider had capacity for coordination",
		}
		return &types.OrchestrationResult{
			QueryID:      req.ID,
			Success:      false,
			Error:        err.Message,
			FallbackUsed: true,
			Latency:      time.Since(start),
		}, err
	}

	// Collect every branch; per-branch timeouts bound the wait.
	collected := make([]branchOutcome, 0, launched)
	for i := 0; i < launched; i++ {
		collected = append(collected, <-outcomes)
	}

	branches := make([]types.BranchResult, 0, launched)
	attempted := make([]string, 0, launched)
	winner := -1       // index into collected
	topRank := -1      // best (lowest) rank among launched branches
	winnerRank := 1 << 30

	for i, out := range collected {
		attempted = append(attempted, out.provider)
		if topRank == -1 || out.rank < topRank {
			topRank = out.rank
		}

		branch := types.BranchResult{
			Provider:        out.provider,
			Latency:         out.latency,
			CompletionOrder: i + 1,
		}
		if out.err != nil {
			branch.Error = out.err.Error()
			c.router.registry.RecordFailure(out.provider)
			if c.router.metrics != nil {
				c.router.metrics.RecordCall(out.provider, out.latency, false, out.rank != 0)
			}
		} else {
			branch.Success = true
			branch.Payload = out.resp.Payload
			c.router.registry.RecordSuccess(out.provider, out.resp.Latency)
			if c.router.metrics != nil {
				c.router.metrics.RecordCall(out.provider, out.latency, true, out.rank != 0)
			}
			if out.rank < winnerRank {
				winnerRank = out.rank
				winner = i
			}
		}
		branches = append(branches, branch)
	}

	if winner == -1 {
		err := &OrchestrationError{
			Code:    ErrCodeAllAttemptsFailed,
			QueryID: req.ID,
			Message: fmt.Sprintf("all %d coordinated branch(es) failed", launched),
		}
		return &types.OrchestrationResult{
			QueryID:            req.ID,
			AttemptedProviders: attempted,
			Success:            false,
			Error:              err.Message,
			FallbackUsed:       true,
			Branches:           branches,
			Latency:            time.Since(start),
		}, err
	}

	win := collected[winner]

	// Material disagreement: successful branches returned payloads that
	// differ after normalization. Surface everything; never silently pick.
	disagreement := false
	winPayload := normalizePayload(win.resp.Payload)
	for _, out := range collected {
		if out.err == nil && normalizePayload(out.resp.Payload) != winPayload {
			disagreement = true
			break
		}
	}

	if c.router.cache != nil && !disagreement {
		ttl := cfg.CacheTTL
		if ttl <= 0 {
			ttl = DefaultCacheTTL
		}
		c.router.cache.Put(ctx, req.CacheKey(), win.resp.Payload, ttl)
	}

	return &types.OrchestrationResult{
		QueryID:            req.ID,
		Provider:           win.provider,
		AttemptedProviders: attempted,
		Success:            true,
		Payload:            win.resp.Payload,
		FallbackUsed:       win.rank != topRank,
		Branches:           branches,
		Disagreement:       disagreement,
		Latency:            time.Since(start),
	}, nil
}

// normalizePayload collapses whitespace variance before structural
// comparison of branch payloads.
func normalizePayload(p string) string {
	return strings.Join(strings.Fields(p), " ")
}
