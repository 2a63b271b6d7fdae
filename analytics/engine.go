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

package analytics

import (
	"fmt"
	"log"
	"math"
	"os"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

// fallbackHalfWidth is the interval half-width on the degraded path,
// where no trustworthy error distribution backs the result.
const fallbackHalfWidth = 1.0

// Engine answers prediction requests against the manager's active models.
// It never hard-fails on bad input or a missing model: those paths return
// a degraded result with a widened confidence interval so callers always
// get a structurally complete answer.
type Engine struct {
	manager    *Manager
	minQuality float64
	logger     *log.Logger

	// now is overridable for tests.
	now func() time.Time
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithMinQuality overrides the input-quality gate.
func WithMinQuality(min float64) EngineOption {
	return func(e *Engine) {
		e.minQuality = min
	}
}

// WithEngineLogger overrides the default logger.
func WithEngineLogger(logger *log.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// NewEngine creates a prediction engine backed by the given manager.
func NewEngine(manager *Manager, opts ...EngineOption) *Engine {
	e := &Engine{
		manager:    manager,
		minQuality: DefaultMinQuality,
		logger:     log.New(os.Stdout, "[ANALYTICS-ENGINE] ", log.LstdFlags),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Predict evaluates the domain's active model on the feature vector.
//
// The input is quality-gated before inference: incomplete or implausible
// features short-circuit to a degraded result and the model is never
// consulted. A missing model, a feature mismatch, or a non-finite model
// output also degrade. On the healthy path the confidence interval is a
// t-distribution prediction interval from the model's validated error
// distribution; degraded results carry the wide fallback interval.
//
// The only hard error is an unknown domain.
func (e *Engine) Predict(domain Domain, features []float64) (PredictionResult, error) {
	if !domain.IsValid() {
		return PredictionResult{}, &AnalyticsError{
			Code:    ErrCodeInvalidDomain,
			Domain:  domain,
			Message: "unknown prediction domain",
		}
	}

	quality := assessQuality(features)
	res := PredictionResult{
		Domain:       domain,
		InputSummary: fmt.Sprintf("%d features, quality %.2f", len(features), quality.Score),
		QualityScore: quality.Score,
		Timestamp:    e.now(),
	}

	if quality.Score < e.minQuality {
		res.Degraded = true
		res.ConfidenceLow = -fallbackHalfWidth
		res.ConfidenceHigh = fallbackHalfWidth
		e.logger.Printf("degraded prediction for %s: input quality %.2f below gate %.2f, model not consulted",
			domain, quality.Score, e.minQuality)
		return res, nil
	}

	value, metrics, version, err := e.manager.predictActive(domain, features)
	usable := err == nil && !math.IsNaN(value) && !math.IsInf(value, 0)

	if !usable {
		res.Degraded = true
		res.ConfidenceLow = -fallbackHalfWidth
		res.ConfidenceHigh = fallbackHalfWidth
		if err != nil {
			e.logger.Printf("degraded prediction for %s: %v", domain, err)
		} else {
			e.logger.Printf("degraded prediction for %s: non-finite model output", domain)
		}
		return res, nil
	}

	res.Value = value
	res.ModelVersion = version

	half := intervalHalfWidth(metrics)
	res.ConfidenceLow = value - half
	res.ConfidenceHigh = value + half
	return res, nil
}

// intervalHalfWidth computes a 95% t-distribution prediction interval
// half-width from a validated error distribution.
func intervalHalfWidth(m ValidationMetrics) float64 {
	if m.ErrCount < 2 || m.ErrStdDev <= 0 {
		if m.ErrMean > 0 {
			return 2 * m.ErrMean
		}
		return fallbackHalfWidth
	}

	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(m.ErrCount - 1)}
	tq := dist.Quantile(0.975)
	return tq * m.ErrStdDev * math.Sqrt(1.0+1.0/float64(m.ErrCount))
}
