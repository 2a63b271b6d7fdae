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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"stratagem/core/shared/types"
)

// DefaultHTTPTimeout bounds provider HTTP calls when the request context
// carries no tighter deadline.
const DefaultHTTPTimeout = 30 * time.Second

// HTTPClient is the interface HTTP providers call through (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// HTTPProvider adapts a remote capability server speaking the execute/health
// HTTP contract into the Provider interface.
type HTTPProvider struct {
	name         string
	ptype        ProviderType
	endpoint     string
	capabilities []string
	client       HTTPClient
}

// executeRequest is the wire form of a query sent to a capability server.
type executeRequest struct {
	QueryID    string `json:"query_id"`
	Domain     string `json:"domain"`
	Content    string `json:"content"`
	Complexity string `json:"complexity"`
	SessionID  string `json:"session_id,omitempty"`
}

// executeResponse is the wire form of a capability server's answer.
type executeResponse struct {
	Payload string `json:"payload"`
	Error   string `json:"error,omitempty"`
}

// healthResponse is the wire form of a capability server's health report.
type healthResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// NewHTTPProvider creates an HTTP-backed provider from its config.
func NewHTTPProvider(config ProviderConfig, client HTTPClient) (*HTTPProvider, error) {
	if config.Endpoint == "" {
		return nil, &OrchestrationError{
			Code:     ErrCodeInvalidConfig,
			Provider: config.Name,
			Message:  "endpoint is required for HTTP providers",
		}
	}
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &HTTPProvider{
		name:         config.Name,
		ptype:        config.Type,
		endpoint:     strings.TrimRight(config.Endpoint, "/"),
		capabilities: config.Capabilities,
		client:       client,
	}, nil
}

// Name returns the provider name.
func (p *HTTPProvider) Name() string {
	return p.name
}

// Type returns the provider type.
func (p *HTTPProvider) Type() ProviderType {
	return p.ptype
}

// Capabilities returns the provider's capability tags.
func (p *HTTPProvider) Capabilities() []string {
	return p.capabilities
}

// Execute sends the query to the capability server and returns its payload.
func (p *HTTPProvider) Execute(ctx context.Context, req types.QueryRequest) (*Response, error) {
	start := time.Now()

	body, err := json.Marshal(executeRequest{
		QueryID:    req.ID,
		Domain:     string(req.Domain),
		Content:    req.Content,
		Complexity: string(req.Complexity),
		SessionID:  req.SessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding execute request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/v1/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building execute request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &OrchestrationError{
			Code: ErrCodeProviderUnavailable, Provider: p.name,
			Message: "execute call failed", Cause: err,
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading execute response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &OrchestrationError{
			Code: ErrCodeProviderUnavailable, Provider: p.name,
			Message: fmt.Sprintf("execute returned status %d", resp.StatusCode),
		}
	}

	var decoded executeResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decoding execute response: %w", err)
	}
	if decoded.Error != "" {
		return nil, &OrchestrationError{
			Code: ErrCodeProviderUnavailable, Provider: p.name,
			Message: decoded.Error,
		}
	}

	return &Response{
		Payload: decoded.Payload,
		Latency: time.Since(start),
	}, nil
}

// HealthCheck probes the capability server's /health endpoint.
func (p *HTTPProvider) HealthCheck(ctx context.Context) (*HealthCheckResult, error) {
	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/health", nil)
	if err != nil {
		return nil, fmt.Errorf("building health request: %w", err)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return &HealthCheckResult{
			Healthy:     false,
			Message:     err.Error(),
			Latency:     time.Since(start),
			LastChecked: time.Now(),
		}, nil
	}
	defer resp.Body.Close()

	result := &HealthCheckResult{
		Latency:     time.Since(start),
		LastChecked: time.Now(),
	}
	if resp.StatusCode != http.StatusOK {
		result.Message = fmt.Sprintf("health returned status %d", resp.StatusCode)
		return result, nil
	}

	var decoded healthResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&decoded); err != nil {
		result.Message = "malformed health response"
		return result, nil
	}
	result.Healthy = decoded.Status == "ok" || decoded.Status == "healthy"
	result.Message = decoded.Message
	return result, nil
}
