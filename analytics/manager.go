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
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// minDriftSamples is the floor on recent observations for a drift check.
const minDriftSamples = 10

// modelRecord pairs a model's public info with its fitted parameters.
type modelRecord struct {
	info  ModelInfo
	model *linearModel
}

// Manager owns the model lifecycle per prediction domain. Lifecycle
// mutations (train, validate, drift checks) serialize on a mutex; the
// inference path reads the active model through a lock-free pointer so a
// long retrain never blocks predictions.
//
// Retraining is operator-driven, not automatic: DetectDrift marks the
// active model and surfaces DriftDetected through Status, and a
// subsequent Train call supersedes it once the new candidate passes
// validation. The drifting model keeps serving in the meantime.
type Manager struct {
	mu      sync.Mutex
	history map[Domain][]*modelRecord
	active  map[Domain]*atomic.Pointer[modelRecord]

	rng    *rand.Rand
	logger *log.Logger

	// now is overridable for tests.
	now func() time.Time
}

// ManagerOption configures the manager.
type ManagerOption func(*Manager)

// WithSeed fixes the shuffle seed used when splitting training data.
func WithSeed(seed int64) ManagerOption {
	return func(m *Manager) {
		m.rng = rand.New(rand.NewSource(seed))
	}
}

// WithManagerLogger overrides the default logger.
func WithManagerLogger(logger *log.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a model manager with no models.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		history: make(map[Domain][]*modelRecord),
		active:  make(map[Domain]*atomic.Pointer[modelRecord]),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:  log.New(os.Stdout, "[MODEL-MANAGER] ", log.LstdFlags),
		now:     time.Now,
	}
	for _, d := range ValidDomains {
		m.active[d] = &atomic.Pointer[modelRecord]{}
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Train fits a new model version for the domain, validates it with k-fold
// cross-validation plus a held-out split, and promotes it to active only
// if it meets the domain's accuracy threshold. The previous active model,
// if any, is retired on promotion and remains queryable through History.
//
// A candidate that misses the threshold is recorded as rejected and the
// incumbent keeps serving; the returned error carries code
// validation_failed. Fewer than MinTrainingSamples points fail fast with
// insufficient_data and no model is recorded.
func (m *Manager) Train(domain Domain, data []DataPoint) (ModelInfo, error) {
	if !domain.IsValid() {
		return ModelInfo{}, &AnalyticsError{
			Code:    ErrCodeInvalidDomain,
			Domain:  domain,
			Message: "unknown prediction domain",
		}
	}
	if len(data) < MinTrainingSamples {
		return ModelInfo{}, &AnalyticsError{
			Code:    ErrCodeInsufficientData,
			Domain:  domain,
			Message: fmt.Sprintf("%d samples, need at least %d", len(data), MinTrainingSamples),
		}
	}

	shuffled := append([]DataPoint(nil), data...)
	m.mu.Lock()
	m.rng.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})
	m.mu.Unlock()

	holdoutN := int(float64(len(shuffled)) * HoldoutFraction)
	if holdoutN < 1 {
		holdoutN = 1
	}
	holdout := shuffled[:holdoutN]
	training := shuffled[holdoutN:]

	// Fitting and cross-validation run outside the lock so a retrain
	// never stalls status reads or the inference path.
	foldAccs, err := crossValidate(training)
	if err != nil {
		return ModelInfo{}, &AnalyticsError{
			Code:    ErrCodeValidationFailed,
			Domain:  domain,
			Message: "cross-validation failed",
			Cause:   err,
		}
	}

	model, err := fitLinear(training)
	if err != nil {
		return ModelInfo{}, &AnalyticsError{
			Code:    ErrCodeValidationFailed,
			Domain:  domain,
			Message: "fitting final model failed",
			Cause:   err,
		}
	}

	metrics := buildMetrics(foldAccs, model, holdout)

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	rec := &modelRecord{
		info: ModelInfo{
			Domain:          domain,
			Version:         len(m.history[domain]) + 1,
			Metrics:         metrics,
			TrainingSamples: len(data),
			LastTrained:     now,
			LastValidated:   now,
		},
		model: model,
	}
	m.history[domain] = append(m.history[domain], rec)

	threshold := domain.AccuracyThreshold()
	if metrics.Accuracy < threshold {
		rec.info.Status = StatusRejected
		m.logger.Printf("rejected %s model v%d: accuracy %.3f below threshold %.2f",
			domain, rec.info.Version, metrics.Accuracy, threshold)
		return rec.info, &AnalyticsError{
			Code:    ErrCodeValidationFailed,
			Domain:  domain,
			Message: fmt.Sprintf("accuracy %.3f below threshold %.2f", metrics.Accuracy, threshold),
		}
	}

	rec.info.Status = StatusActive
	if prev := m.active[domain].Swap(rec); prev != nil {
		prev.info.Status = StatusRetired
	}
	m.logger.Printf("promoted %s model v%d: accuracy %.3f (%d samples)",
		domain, rec.info.Version, metrics.Accuracy, len(data))
	return rec.info, nil
}

// crossValidate runs k-fold cross-validation and returns per-fold
// accuracies.
func crossValidate(training []DataPoint) ([]float64, error) {
	k := ValidationFolds
	if len(training) < k {
		k = len(training)
	}

	accs := make([]float64, 0, k)
	foldSize := len(training) / k
	for fold := 0; fold < k; fold++ {
		start := fold * foldSize
		end := start + foldSize
		if fold == k-1 {
			end = len(training)
		}

		eval := training[start:end]
		rest := make([]DataPoint, 0, len(training)-len(eval))
		rest = append(rest, training[:start]...)
		rest = append(rest, training[end:]...)

		model, err := fitLinear(rest)
		if err != nil {
			return nil, fmt.Errorf("fold %d: %w", fold, err)
		}
		accs = append(accs, model.accuracy(eval))
	}
	return accs, nil
}

// buildMetrics scores the final model on the holdout split and records
// its absolute-error distribution.
func buildMetrics(foldAccs []float64, model *linearModel, holdout []DataPoint) ValidationMetrics {
	holdoutAcc := model.accuracy(holdout)
	errs := model.absErrors(holdout)

	var errMean, errStd float64
	if len(errs) > 0 {
		errMean = stat.Mean(errs, nil)
	}
	if len(errs) > 1 {
		errStd = stat.StdDev(errs, nil)
	}

	foldMean := stat.Mean(foldAccs, nil)
	accuracy := math.Min(foldMean, holdoutAcc)

	return ValidationMetrics{
		FoldAccuracies:  foldAccs,
		HoldoutAccuracy: holdoutAcc,
		Accuracy:        accuracy,
		ErrMean:         errMean,
		ErrStdDev:       errStd,
		ErrCount:        len(errs),
	}
}

// Validate re-scores the active model on fresh labeled data, refreshing
// its error distribution and LastValidated timestamp. The refreshed
// distribution is what subsequent drift checks and confidence intervals
// are computed against.
func (m *Manager) Validate(domain Domain, data []DataPoint) (ValidationMetrics, error) {
	rec, err := m.activeRecord(domain)
	if err != nil {
		return ValidationMetrics{}, err
	}
	if len(data) == 0 {
		return ValidationMetrics{}, &AnalyticsError{
			Code:    ErrCodeInsufficientData,
			Domain:  domain,
			Message: "no validation data",
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	metrics := buildMetrics(rec.info.Metrics.FoldAccuracies, rec.model, data)
	rec.info.Metrics = metrics
	rec.info.LastValidated = m.now()
	return metrics, nil
}

// DetectDrift compares the active model's recent prediction errors against
// its validated error distribution using a one-sided Welch's t-test. Drift
// is flagged when recent errors are significantly larger (p below
// DriftSignificance). A drifting model keeps serving; the flag signals
// that a retrain is due.
func (m *Manager) DetectDrift(domain Domain, recent []DataPoint) (bool, error) {
	rec, err := m.activeRecord(domain)
	if err != nil {
		return false, err
	}
	if len(recent) < minDriftSamples {
		return false, &AnalyticsError{
			Code:    ErrCodeInsufficientData,
			Domain:  domain,
			Message: fmt.Sprintf("%d recent samples, need at least %d", len(recent), minDriftSamples),
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	recentErrs := rec.model.absErrors(recent)
	if len(recentErrs) < minDriftSamples {
		return false, &AnalyticsError{
			Code:    ErrCodeInsufficientData,
			Domain:  domain,
			Message: "too few usable recent samples after feature checks",
		}
	}

	base := rec.info.Metrics
	drift := welchDrift(
		stat.Mean(recentErrs, nil), stat.StdDev(recentErrs, nil), len(recentErrs),
		base.ErrMean, base.ErrStdDev, base.ErrCount,
	)
	if drift {
		rec.info.DriftDetected = true
		m.logger.Printf("drift detected for %s model v%d; retrain recommended", domain, rec.info.Version)
	}
	return drift, nil
}

// welchDrift runs a one-sided Welch's t-test asking whether the recent
// error mean significantly exceeds the baseline error mean.
func welchDrift(recentMean, recentStd float64, recentN int, baseMean, baseStd float64, baseN int) bool {
	if recentN < 2 || baseN < 2 {
		return false
	}

	vr := recentStd * recentStd / float64(recentN)
	vb := baseStd * baseStd / float64(baseN)
	pooled := vr + vb
	if pooled < 1e-18 {
		// Both distributions are point masses: any positive shift is drift.
		return recentMean > baseMean+1e-12
	}

	t := (recentMean - baseMean) / math.Sqrt(pooled)
	df := pooled * pooled / (vr*vr/float64(recentN-1) + vb*vb/float64(baseN-1))
	if df < 1 {
		df = 1
	}

	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p := 1.0 - dist.CDF(t)
	return p < DriftSignificance
}

// Status returns the active model info per domain. Domains with no active
// model are omitted.
func (m *Manager) Status() map[Domain]ModelInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[Domain]ModelInfo)
	for _, d := range ValidDomains {
		if rec := m.active[d].Load(); rec != nil {
			out[d] = rec.info
		}
	}
	return out
}

// History returns every model version ever trained for the domain,
// including rejected and retired ones, oldest first.
func (m *Manager) History(domain Domain) []ModelInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	recs := m.history[domain]
	out := make([]ModelInfo, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.info)
	}
	return out
}

// predictActive evaluates the active model on one feature vector and
// returns the value alongside the model's version and current validation
// metrics. The model parameters are immutable after fitting; only the
// metrics read needs the lock.
func (m *Manager) predictActive(domain Domain, features []float64) (float64, ValidationMetrics, int, error) {
	rec, err := m.activeRecord(domain)
	if err != nil {
		return 0, ValidationMetrics{}, 0, err
	}

	value, err := rec.model.predict(features)
	if err != nil {
		return 0, ValidationMetrics{}, 0, &AnalyticsError{
			Code:    ErrCodeInvalidFeatures,
			Domain:  domain,
			Message: "feature vector does not match the active model",
			Cause:   err,
		}
	}

	m.mu.Lock()
	metrics := rec.info.Metrics
	version := rec.info.Version
	m.mu.Unlock()
	return value, metrics, version, nil
}

// activeRecord loads the active model for the domain via the lock-free
// pointer.
func (m *Manager) activeRecord(domain Domain) (*modelRecord, error) {
	if !domain.IsValid() {
		return nil, &AnalyticsError{
			Code:    ErrCodeInvalidDomain,
			Domain:  domain,
			Message: "unknown prediction domain",
		}
	}
	rec := m.active[domain].Load()
	if rec == nil {
		return nil, &AnalyticsError{
			Code:    ErrCodeNoActiveModel,
			Domain:  domain,
			Message: "no model has been promoted for this domain",
		}
	}
	return rec, nil
}
