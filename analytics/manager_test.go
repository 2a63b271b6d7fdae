// Copyright 2025 Stratagem
// SPDX-License-Identifier: BUSL-1.1

package analytics

import (
	"log"
	"math"
	"os"
	"testing"
	"time"
)

func testLogger() *log.Logger {
	return log.New(os.Stderr, "[TEST] ", 0)
}

// linearPoints generates deterministic samples of a learnable linear
// relation y = 2*x1 + 3*x2 + 1 with bounded sinusoidal noise.
func linearPoints(n int, noiseAmp float64) []DataPoint {
	pts := make([]DataPoint, 0, n)
	for i := 0; i < n; i++ {
		x1 := float64(i%17) / 17.0
		x2 := float64(i%5) / 5.0
		noise := noiseAmp * math.Sin(float64(i)*1.7)
		pts = append(pts, DataPoint{
			Features: []float64{x1, x2},
			Target:   2*x1 + 3*x2 + 1 + noise,
		})
	}
	return pts
}

// unlearnablePoints pairs a constant feature with violently alternating
// targets: the best any linear model can do is predict the mean.
func unlearnablePoints(n int) []DataPoint {
	pts := make([]DataPoint, 0, n)
	for i := 0; i < n; i++ {
		pts = append(pts, DataPoint{
			Features: []float64{1.0},
			Target:   float64((i % 2) * 100),
		})
	}
	return pts
}

func TestTrainInsufficientData(t *testing.T) {
	m := NewManager(WithSeed(1), WithManagerLogger(testLogger()))

	_, err := m.Train(DomainRisk, linearPoints(MinTrainingSamples-1, 0))
	if !IsCode(err, ErrCodeInsufficientData) {
		t.Fatalf("expected insufficient_data, got %v", err)
	}
	if got := len(m.History(DomainRisk)); got != 0 {
		t.Errorf("no model should be recorded, history has %d", got)
	}
}

func TestTrainUnknownDomain(t *testing.T) {
	m := NewManager(WithSeed(1), WithManagerLogger(testLogger()))

	_, err := m.Train(Domain("weather"), linearPoints(100, 0))
	if !IsCode(err, ErrCodeInvalidDomain) {
		t.Fatalf("expected invalid_domain, got %v", err)
	}
}

func TestTrainPromotesAccurateModel(t *testing.T) {
	m := NewManager(WithSeed(42), WithManagerLogger(testLogger()))

	info, err := m.Train(DomainRisk, linearPoints(100, 0.01))
	if err != nil {
		t.Fatalf("train failed: %v", err)
	}
	if info.Status != StatusActive {
		t.Errorf("expected active, got %s", info.Status)
	}
	if info.Version != 1 {
		t.Errorf("expected version 1, got %d", info.Version)
	}
	if info.Metrics.Accuracy < DomainRisk.AccuracyThreshold() {
		t.Errorf("accuracy %.3f below promotion threshold", info.Metrics.Accuracy)
	}
	if len(info.Metrics.FoldAccuracies) != ValidationFolds {
		t.Errorf("expected %d fold accuracies, got %d", ValidationFolds, len(info.Metrics.FoldAccuracies))
	}

	status := m.Status()
	active, ok := status[DomainRisk]
	if !ok {
		t.Fatal("expected an active risk model in status")
	}
	if active.Version != 1 {
		t.Errorf("status reports version %d", active.Version)
	}
}

func TestTrainRejectsInaccurateModel(t *testing.T) {
	m := NewManager(WithSeed(7), WithManagerLogger(testLogger()))

	info, err := m.Train(DomainRisk, unlearnablePoints(100))
	if !IsCode(err, ErrCodeValidationFailed) {
		t.Fatalf("expected validation_failed, got %v", err)
	}
	if info.Status != StatusRejected {
		t.Errorf("expected rejected, got %s", info.Status)
	}
	if _, ok := m.Status()[DomainRisk]; ok {
		t.Error("rejected model must not become active")
	}
	if got := len(m.History(DomainRisk)); got != 1 {
		t.Errorf("rejected model must stay queryable, history has %d", got)
	}
}

func TestRetrainRetiresPreviousVersion(t *testing.T) {
	m := NewManager(WithSeed(3), WithManagerLogger(testLogger()))

	if _, err := m.Train(DomainTrend, linearPoints(100, 0.01)); err != nil {
		t.Fatalf("first train failed: %v", err)
	}
	info, err := m.Train(DomainTrend, linearPoints(120, 0.01))
	if err != nil {
		t.Fatalf("second train failed: %v", err)
	}
	if info.Version != 2 {
		t.Errorf("expected version 2, got %d", info.Version)
	}

	history := m.History(DomainTrend)
	if len(history) != 2 {
		t.Fatalf("expected 2 versions in history, got %d", len(history))
	}
	if history[0].Status != StatusRetired {
		t.Errorf("v1 should be retired, got %s", history[0].Status)
	}
	if history[1].Status != StatusActive {
		t.Errorf("v2 should be active, got %s", history[1].Status)
	}
}

func TestRejectedCandidateKeepsIncumbentServing(t *testing.T) {
	m := NewManager(WithSeed(5), WithManagerLogger(testLogger()))

	if _, err := m.Train(DomainRisk, linearPoints(100, 0.01)); err != nil {
		t.Fatalf("train failed: %v", err)
	}
	if _, err := m.Train(DomainRisk, unlearnablePoints(100)); !IsCode(err, ErrCodeValidationFailed) {
		t.Fatalf("expected validation_failed, got %v", err)
	}

	active, ok := m.Status()[DomainRisk]
	if !ok || active.Version != 1 {
		t.Fatalf("incumbent v1 must keep serving, got %+v (ok=%v)", active, ok)
	}
	if got := len(m.History(DomainRisk)); got != 2 {
		t.Errorf("expected 2 versions in history, got %d", got)
	}
}

func TestValidateRefreshesMetrics(t *testing.T) {
	m := NewManager(WithSeed(11), WithManagerLogger(testLogger()))

	now := time.Now()
	m.now = func() time.Time { return now }

	if _, err := m.Train(DomainOutcome, linearPoints(100, 0.02)); err != nil {
		t.Fatalf("train failed: %v", err)
	}

	now = now.Add(time.Hour)
	fresh := linearPoints(40, 0.02)
	metrics, err := m.Validate(DomainOutcome, fresh)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if metrics.ErrCount != len(fresh) {
		t.Errorf("expected error distribution over %d samples, got %d", len(fresh), metrics.ErrCount)
	}

	active := m.Status()[DomainOutcome]
	if !active.LastValidated.Equal(now) {
		t.Errorf("LastValidated not refreshed: %v", active.LastValidated)
	}
}

func TestDetectDriftFlagsShiftedErrors(t *testing.T) {
	m := NewManager(WithSeed(9), WithManagerLogger(testLogger()))

	base := linearPoints(100, 0.05)
	if _, err := m.Train(DomainRisk, base); err != nil {
		t.Fatalf("train failed: %v", err)
	}
	// Pin the baseline error distribution to a known sample.
	if _, err := m.Validate(DomainRisk, base); err != nil {
		t.Fatalf("validate failed: %v", err)
	}

	// Same inputs, targets shifted by 5: errors jump far beyond baseline.
	shifted := linearPoints(30, 0.05)
	for i := range shifted {
		shifted[i].Target += 5
	}

	drift, err := m.DetectDrift(DomainRisk, shifted)
	if err != nil {
		t.Fatalf("drift check failed: %v", err)
	}
	if !drift {
		t.Fatal("expected drift on a shifted target distribution")
	}

	// Drift flags the model but does not take it out of service.
	active, ok := m.Status()[DomainRisk]
	if !ok {
		t.Fatal("drifting model must keep serving")
	}
	if !active.DriftDetected {
		t.Error("drift flag not recorded on the active model")
	}
}

func TestDetectDriftQuietOnStableErrors(t *testing.T) {
	m := NewManager(WithSeed(9), WithManagerLogger(testLogger()))

	base := linearPoints(100, 0.05)
	if _, err := m.Train(DomainRisk, base); err != nil {
		t.Fatalf("train failed: %v", err)
	}
	if _, err := m.Validate(DomainRisk, base); err != nil {
		t.Fatalf("validate failed: %v", err)
	}

	// Recent sample drawn from the identical distribution: no drift.
	drift, err := m.DetectDrift(DomainRisk, base)
	if err != nil {
		t.Fatalf("drift check failed: %v", err)
	}
	if drift {
		t.Error("identical error distribution must not flag drift")
	}
}

func TestDetectDriftRequiresRecentSamples(t *testing.T) {
	m := NewManager(WithSeed(2), WithManagerLogger(testLogger()))

	if _, err := m.Train(DomainRisk, linearPoints(100, 0.01)); err != nil {
		t.Fatalf("train failed: %v", err)
	}
	_, err := m.DetectDrift(DomainRisk, linearPoints(minDriftSamples-1, 0.01))
	if !IsCode(err, ErrCodeInsufficientData) {
		t.Fatalf("expected insufficient_data, got %v", err)
	}
}

func TestDetectDriftWithoutActiveModel(t *testing.T) {
	m := NewManager(WithSeed(2), WithManagerLogger(testLogger()))

	_, err := m.DetectDrift(DomainPattern, linearPoints(30, 0.01))
	if !IsCode(err, ErrCodeNoActiveModel) {
		t.Fatalf("expected no_active_model, got %v", err)
	}
}

func TestWelchDrift(t *testing.T) {
	tests := []struct {
		name                 string
		recentMean, recentSD float64
		recentN              int
		baseMean, baseSD     float64
		baseN                int
		want                 bool
	}{
		{"clear shift", 5.0, 0.1, 30, 0.05, 0.03, 20, true},
		{"identical", 0.05, 0.03, 30, 0.05, 0.03, 20, false},
		{"improvement is not drift", 0.01, 0.01, 30, 0.05, 0.03, 20, false},
		{"too few samples", 5.0, 0.1, 1, 0.05, 0.03, 20, false},
		{"point masses shifted", 5.0, 0, 30, 0.05, 0, 20, true},
		{"point masses equal", 0.05, 0, 30, 0.05, 0, 20, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := welchDrift(tt.recentMean, tt.recentSD, tt.recentN, tt.baseMean, tt.baseSD, tt.baseN)
			if got != tt.want {
				t.Errorf("welchDrift = %v, want %v", got, tt.want)
			}
		})
	}
}
