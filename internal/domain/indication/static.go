package indication

import (
	"context"
	"sync"
)

// StaticSource is an in-memory indication source for development and tests.
type StaticSource struct {
	mu    sync.RWMutex
	byMRN map[string]*Indication
}

func NewStaticSource() *StaticSource {
	return &StaticSource{byMRN: make(map[string]*Indication)}
}

// Set records the current indication for a patient, replacing any earlier one.
func (s *StaticSource) Set(ind *Indication) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byMRN[ind.PatientMRN] = ind
}

func (s *StaticSource) Current(_ context.Context, patientMRN string) (*Indication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ind, ok := s.byMRN[patientMRN]
	if !ok {
		return nil, nil
	}
	copied := *ind
	return &copied, nil
}
