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

package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"stratagem/core/analytics"
	"stratagem/core/memory"
	"stratagem/core/orchestrator/capability"
	"stratagem/core/shared/types"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

// queryBody is the /api/v1/query request payload.
type queryBody struct {
	Domain              types.QueryDomain     `json:"domain"`
	Content             string                `json:"content"`
	Complexity          types.ComplexityClass `json:"complexity"`
	PreferredProviders  []string              `json:"preferred_providers,omitempty"`
	SessionID           string                `json:"session_id,omitempty"`
	RequireCoordination bool                  `json:"require_coordination,omitempty"`
	TimeoutMS           int                   `json:"timeout_ms,omitempty"`
}

func (s *server) queryHandler(w http.ResponseWriter, r *http.Request) {
	var body queryBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	req := types.NewQueryRequest(body.Domain, body.Content, body.Complexity)
	req.PreferredProviders = body.PreferredProviders
	req.SessionID = body.SessionID
	req.RequireCoordination = body.RequireCoordination
	if body.TimeoutMS > 0 {
		req.Timeout = time.Duration(body.TimeoutMS) * time.Millisecond
	}

	start := time.Now()
	var result *types.OrchestrationResult
	var err error
	if req.RequireCoordination && s.router.Config().CoordinationEnabled {
		result, err = s.coord.Coordinate(r.Context(), req)
	} else {
		result, err = s.router.Route(r.Context(), req)
	}

	if err != nil {
		writeJSON(w, orchestrationStatus(err), result)
		return
	}

	if req.SessionID != "" {
		turn := memory.Turn{
			SessionID: req.SessionID,
			QueryID:   req.ID,
			Domain:    req.Domain,
			Content:   req.Content,
			Response:  result.Payload,
			Provider:  result.Provider,
			Timestamp: time.Now(),
		}
		if storeErr := s.store.StoreTurn(r.Context(), turn); storeErr != nil {
			s.log.Warn(req.ID, "failed to persist conversation turn", map[string]interface{}{
				"session_id": req.SessionID, "error": storeErr.Error(),
			})
		}
	}

	s.log.InfoWithDuration(req.ID, "query answered", float64(time.Since(start).Milliseconds()),
		map[string]interface{}{
			"domain":    string(req.Domain),
			"provider":  result.Provider,
			"cache_hit": result.CacheHit,
			"fallback":  result.FallbackUsed,
		})
	writeJSON(w, http.StatusOK, result)
}

// orchestrationStatus maps orchestration error codes onto HTTP statuses.
func orchestrationStatus(err error) int {
	switch {
	case capability.IsCode(err, capability.ErrCodeInvalidRequest):
		return http.StatusBadRequest
	case capability.IsCode(err, capability.ErrCodeTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// predictBody is the /api/v1/predict request payload.
type predictBody struct {
	Domain   analytics.Domain `json:"domain"`
	Features []float64        `json:"features"`
}

func (s *server) predictHandler(w http.ResponseWriter, r *http.Request) {
	var body predictBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	result, err := s.engine.Predict(body.Domain, body.Features)
	if err != nil {
		writeError(w, http.StatusBadRequest, analytics.ErrCodeInvalidDomain, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// trainBody is the /api/v1/models/{domain}/train request payload.
type trainBody struct {
	Points []analytics.DataPoint `json:"points"`
}

func (s *server) trainHandler(w http.ResponseWriter, r *http.Request) {
	domain := analytics.Domain(mux.Vars(r)["domain"])

	var body trainBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	info, err := s.models.Train(domain, body.Points)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, info)
	case analytics.IsCode(err, analytics.ErrCodeInvalidDomain):
		writeError(w, http.StatusBadRequest, analytics.ErrCodeInvalidDomain, err.Error())
	case analytics.IsCode(err, analytics.ErrCodeInsufficientData):
		writeError(w, http.StatusUnprocessableEntity, analytics.ErrCodeInsufficientData, err.Error())
	case analytics.IsCode(err, analytics.ErrCodeValidationFailed):
		// The rejected model's info is still useful to the caller.
		writeJSON(w, http.StatusUnprocessableEntity, info)
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func (s *server) modelStatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.models.Status())
}

func (s *server) modelHistoryHandler(w http.ResponseWriter, r *http.Request) {
	domain := analytics.Domain(mux.Vars(r)["domain"])
	if !domain.IsValid() {
		writeError(w, http.StatusBadRequest, analytics.ErrCodeInvalidDomain, "unknown prediction domain")
		return
	}
	writeJSON(w, http.StatusOK, s.models.History(domain))
}

func (s *server) providerStatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Snapshot())
}

func (s *server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"providers": s.metrics.Snapshot(),
		"advice":    s.metrics.Advise(),
	})
}

func (s *server) sessionHistoryHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	turns, err := s.store.QueryHistory(r.Context(), sessionID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, turns)
}

func (s *server) sessionContextHandler(w http.ResponseWriter, r *http.Request) {
	sc, err := s.store.GetSessionContext(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// swapBody is the /api/v1/config/profile request payload.
type swapBody struct {
	Profile string `json:"profile"`
}

func (s *server) swapProfileHandler(w http.ResponseWriter, r *http.Request) {
	var body swapBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Profile == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "profile name is required")
		return
	}
	if err := s.cfg.Swap(body.Profile); err != nil {
		writeError(w, http.StatusNotFound, "unknown_profile", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"active_profile": body.Profile})
}

func (s *server) healthHandler(w http.ResponseWriter, r *http.Request) {
	snapshots := s.registry.Snapshot()
	healthy := 0
	for _, snap := range snapshots {
		if snap.Health == capability.HealthStateHealthy {
			healthy++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ok",
		"providers_total":   len(snapshots),
		"providers_healthy": healthy,
		"active_profile":    s.cfg.Active().Name,
	})
}
