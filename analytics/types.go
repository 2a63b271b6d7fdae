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

// Package analytics layers predictive modeling on top of the orchestration
// data stream. The model manager owns the train/validate/drift-check/retire
// lifecycle per prediction domain; the engine answers prediction requests
// with confidence intervals derived from each model's validated error
// distribution.
package analytics

import (
	"fmt"
	"time"
)

// Domain identifies a prediction domain with its own model lineage.
type Domain string

const (
	DomainTrend   Domain = "trend"
	DomainRisk    Domain = "risk"
	DomainOutcome Domain = "outcome"
	DomainPattern Domain = "pattern"
)

// ValidDomains contains all prediction domains.
var ValidDomains = []Domain{DomainTrend, DomainRisk, DomainOutcome, DomainPattern}

// IsValid checks if the domain is one of the known values.
func (d Domain) IsValid() bool {
	for _, valid := range ValidDomains {
		if d == valid {
			return true
		}
	}
	return false
}

// AccuracyThreshold is the validation accuracy a model must reach before
// promotion to active. Risk and outcome predictions carry the stricter
// data-quality contract.
func (d Domain) AccuracyThreshold() float64 {
	switch d {
	case DomainRisk, DomainOutcome:
		return 0.85
	default:
		return 0.75
	}
}

// ModelStatus is a model's lifecycle state.
type ModelStatus string

const (
	// StatusActive serves inference for its domain.
	StatusActive ModelStatus = "active"

	// StatusRejected failed validation and never served.
	StatusRejected ModelStatus = "rejected"

	// StatusRetired was superseded by a newer validated model. Retired
	// models remain queryable for audit; they are never deleted.
	StatusRetired ModelStatus = "retired"
)

// MinTrainingSamples is the floor below which training fails.
const MinTrainingSamples = 50

// ValidationFolds is the k in k-fold cross-validation.
const ValidationFolds = 5

// HoldoutFraction of the data is reserved as the final test split.
const HoldoutFraction = 0.2

// DriftSignificance is the p-value threshold for drift detection.
const DriftSignificance = 0.05

// DataPoint is one labeled observation: a feature vector and its target.
type DataPoint struct {
	Features  []float64 `json:"features"`
	Target    float64   `json:"target"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// ValidationMetrics captures everything validation learned about a model.
// The error distribution (mean/stddev/count) is what confidence intervals
// and drift tests are computed from.
type ValidationMetrics struct {
	// FoldAccuracies holds the per-fold cross-validation accuracies.
	FoldAccuracies []float64 `json:"fold_accuracies"`

	// HoldoutAccuracy is the accuracy on the held-out test split.
	HoldoutAccuracy float64 `json:"holdout_accuracy"`

	// Accuracy is the promotion criterion: the minimum of the mean fold
	// accuracy and the holdout accuracy.
	Accuracy float64 `json:"accuracy"`

	// ErrMean and ErrStdDev describe the absolute-error distribution on
	// the held-out split.
	ErrMean   float64 `json:"err_mean"`
	ErrStdDev float64 `json:"err_stddev"`
	ErrCount  int     `json:"err_count"`
}

// ModelInfo is the queryable record of one model version.
type ModelInfo struct {
	Domain          Domain            `json:"domain"`
	Version         int               `json:"version"`
	Status          ModelStatus       `json:"status"`
	Metrics         ValidationMetrics `json:"metrics"`
	TrainingSamples int               `json:"training_samples"`
	LastTrained     time.Time         `json:"last_trained"`
	LastValidated   time.Time         `json:"last_validated"`
	DriftDetected   bool              `json:"drift_detected"`
}

// PredictionResult is the engine's answer. It is structurally valid even
// on the degraded path: Degraded=true with a wide uninformative interval
// replaces hard failure.
type PredictionResult struct {
	Domain         Domain    `json:"domain"`
	ModelVersion   int       `json:"model_version,omitempty"`
	InputSummary   string    `json:"input_summary"`
	Value          float64   `json:"value"`
	ConfidenceLow  float64   `json:"confidence_low"`
	ConfidenceHigh float64   `json:"confidence_high"`
	Degraded       bool      `json:"degraded"`
	QualityScore   float64   `json:"quality_score"`
	Timestamp      time.Time `json:"timestamp"`
}

// Analytics error codes.
const (
	// ErrCodeInsufficientData indicates too few samples to train.
	ErrCodeInsufficientData = "insufficient_data"

	// ErrCodeValidationFailed indicates the candidate missed its
	// domain's accuracy threshold.
	ErrCodeValidationFailed = "validation_failed"

	// ErrCodeNoActiveModel indicates no model serves the domain.
	ErrCodeNoActiveModel = "no_active_model"

	// ErrCodeInvalidDomain indicates an unknown prediction domain.
	ErrCodeInvalidDomain = "invalid_domain"

	// ErrCodeInvalidFeatures indicates a feature vector the active model
	// cannot consume.
	ErrCodeInvalidFeatures = "invalid_features"
)

// AnalyticsError represents an error from model lifecycle operations.
type AnalyticsError struct {
	Code    string
	Domain  Domain
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *AnalyticsError) Error() string {
	if e.Domain != "" {
		return fmt.Sprintf("analytics error [%s] for domain %q: %s", e.Code, e.Domain, e.Message)
	}
	return fmt.Sprintf("analytics error [%s]: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AnalyticsError) Unwrap() error {
	return e.Cause
}

// IsCode reports whether err is an AnalyticsError with the given code.
func IsCode(err error, code string) bool {
	ae, ok := err.(*AnalyticsError)
	return ok && ae.Code == code
}
