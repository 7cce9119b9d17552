// Package storage persists safeguard run reports so past gate decisions can be
// listed and inspected after the fact.
package storage

import (
	"context"
	"time"

	"github.com/polisai/safeguards/pkg/domain"
)

// RunFilter narrows ListRuns results. Zero values match everything.
type RunFilter struct {
	Service string
	Stage   string
	Since   time.Time
	// Limit caps the number of runs returned; zero means no limit.
	Limit int
}

// RunStore exposes persistence operations for run reports.
type RunStore interface {
	SaveRun(ctx context.Context, report *domain.RunReport) error
	GetRun(ctx context.Context, id string) (*domain.RunReport, error)
	// ListRuns returns matching runs, most recent first.
	ListRuns(ctx context.Context, filter RunFilter) ([]*domain.RunReport, error)
	Close() error
}

func (f RunFilter) matches(report *domain.RunReport) bool {
	if f.Service != "" && report.Service != f.Service {
		return false
	}
	if f.Stage != "" && report.Stage != f.Stage {
		return false
	}
	if !f.Since.IsZero() && report.StartedAt.Before(f.Since) {
		return false
	}
	return true
}
