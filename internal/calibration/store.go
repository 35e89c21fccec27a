// Package calibration rolls up past oracle forecast accuracy into the
// single confidence-adjustment multiplier consumed by the edge evaluator
// and the Kelly sizer.
package calibration

import (
	"context"
	"fmt"
	"time"

	"github.com/edgebot/agent/internal/domain"
	"github.com/edgebot/agent/internal/ports"
)

// MinSampleSize is N, the minimum resolved-record count below which the
// calibration factor is held fixed at 1.
const MinSampleSize = 20

// Store wraps the repository's calibration methods and exposes the
// derived calibration factor as a pure read — computed once at the start
// of a cycle and held fixed for its duration, breaking the apparent
// cyclic dependency between sizing and calibration.
type Store struct {
	repo ports.Repository
}

// New builds a Store over repo.
func New(repo ports.Repository) *Store {
	return &Store{repo: repo}
}

// Open records a fresh prediction ahead of its market resolving.
func (s *Store) Open(ctx context.Context, rec domain.CalibrationRecord) (int64, error) {
	id, err := s.repo.InsertCalibration(ctx, rec)
	if err != nil {
		return 0, fmt.Errorf("calibration.Open: %w", err)
	}
	return id, nil
}

// Close records the resolution outcome for every unresolved calibration
// record on conditionID.
func (s *Store) Close(ctx context.Context, conditionID string, outcome int, at time.Time) error {
	if err := s.repo.UpdateCalibrationOutcome(ctx, conditionID, outcome, at); err != nil {
		return fmt.Errorf("calibration.Close: %w", err)
	}
	return nil
}

// Factor returns the current calibration factor: correct/total once total
// reaches MinSampleSize, else 1 (no adjustment — insufficient history to
// trust the adjustment).
func (s *Store) Factor(ctx context.Context) (float64, error) {
	total, correct, err := s.repo.CalibrationStats(ctx)
	if err != nil {
		return 0, fmt.Errorf("calibration.Factor: %w", err)
	}
	if total < MinSampleSize {
		return 1.0, nil
	}
	return float64(correct) / float64(total), nil
}
