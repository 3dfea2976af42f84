package reviewqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service manages the shared queue. Pushing is fire-and-forget from the
// producer's side; review decisions stamp the reviewer on the row.
type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		logger: logger.With().Str("component", "reviewqueue").Logger(),
	}
}

// Push adds an entry to the queue in the new status.
func (s *Service) Push(ctx context.Context, a *ReviewAlert) error {
	if a.Module == "" {
		return fmt.Errorf("module is required")
	}
	if a.AlertType == "" {
		return fmt.Errorf("alert_type is required")
	}
	if a.PatientMRN == "" {
		return fmt.Errorf("patient_mrn is required")
	}
	if a.Title == "" {
		return fmt.Errorf("title is required")
	}
	a.Status = StatusNew

	if err := s.repo.Create(ctx, a); err != nil {
		return err
	}
	s.logger.Info().
		Str("review_alert_id", a.ID.String()).
		Str("module", a.Module).
		Str("severity", a.Severity).
		Str("patient_mrn", a.PatientMRN).
		Msg("review alert queued")
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*ReviewAlert, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*ReviewAlert, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}

// Review records the reviewer's decision. Only alerts still in the new
// status can be decided; a decision is reviewed or dismissed.
func (s *Service) Review(ctx context.Context, id uuid.UUID, by string, decision Status) (*ReviewAlert, error) {
	if by == "" {
		return nil, fmt.Errorf("performer is required")
	}
	if decision != StatusReviewed && decision != StatusDismissed {
		return nil, fmt.Errorf("invalid review decision: %q", decision)
	}

	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusNew {
		return nil, fmt.Errorf("%w: status is %s", ErrAlreadyReviewed, a.Status)
	}

	now := time.Now()
	a.Status = decision
	a.ReviewedBy = &by
	a.ReviewedAt = &now
	if err := s.repo.Update(ctx, a); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("review_alert_id", a.ID.String()).
		Str("by", by).
		Str("decision", string(decision)).
		Msg("review alert decided")
	return a, nil
}
