package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/polisai/safeguards/pkg/domain"
)

// MemoryRunStore is an in-memory implementation of RunStore.
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string][]byte
}

// NewMemoryRunStore creates a new MemoryRunStore.
func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string][]byte)}
}

// SaveRun stores a snapshot of the report; later mutation of report is not observed.
func (s *MemoryRunStore) SaveRun(_ context.Context, report *domain.RunReport) error {
	if report == nil || report.ID == "" {
		return fmt.Errorf("%w: run id is required", domain.ErrConfigInvalid)
	}
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode run %s: %w", report.ID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[report.ID] = data
	return nil
}

// GetRun retrieves a run report by id.
func (s *MemoryRunStore) GetRun(_ context.Context, id string) (*domain.RunReport, error) {
	s.mu.RLock()
	data, ok := s.runs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, id)
	}
	return decodeRun(data)
}

// ListRuns returns matching runs, most recent first.
func (s *MemoryRunStore) ListRuns(_ context.Context, filter RunFilter) ([]*domain.RunReport, error) {
	s.mu.RLock()
	reports := make([]*domain.RunReport, 0, len(s.runs))
	for _, data := range s.runs {
		report, err := decodeRun(data)
		if err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		if filter.matches(report) {
			reports = append(reports, report)
		}
	}
	s.mu.RUnlock()

	sort.Slice(reports, func(i, j int) bool {
		if reports[i].StartedAt.Equal(reports[j].StartedAt) {
			return reports[i].ID > reports[j].ID
		}
		return reports[i].StartedAt.After(reports[j].StartedAt)
	})
	if filter.Limit > 0 && len(reports) > filter.Limit {
		reports = reports[:filter.Limit]
	}
	return reports, nil
}

// Close is a no-op for memory store.
func (s *MemoryRunStore) Close() error {
	return nil
}

func decodeRun(data []byte) (*domain.RunReport, error) {
	var report domain.RunReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decode run: %w", err)
	}
	return &report, nil
}
