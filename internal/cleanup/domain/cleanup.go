package domain

import (
	"errors"
	"time"
)

// Collection holds one RunRecord per sweep.
const Collection = "cleanupMetrics"

var ErrSweepInProgress = errors.New("cleanup sweep already in progress")

// Step names, in execution order.
const (
	StepAnalytics     = "analytics"
	StepDeliveryLogs  = "deliveryLogs"
	StepScheduled     = "scheduled"
	StepSubscriptions = "subscriptions"
	StepOrphans       = "orphans"
)

const (
	TriggerDaily  = "daily"
	TriggerManual = "manual"
)

// StepResult is the tally of one sweep step. Err is set when the step
// stopped early; items processed before the failure stay committed.
type StepResult struct {
	Deleted int   `json:"deleted"`
	Updated int   `json:"updated"`
	Errors  int   `json:"errors"`
	Err     error `json:"-"`
	// Complete is false when the step stopped at its page limit or the
	// sweep deadline with eligible items left.
	Complete bool `json:"complete"`
}

func (r StepResult) Failed() bool { return r.Err != nil }

// Summary is the outcome of a full sweep.
type Summary struct {
	RunID     string                `json:"run_id"`
	Trigger   string                `json:"trigger"`
	StartedAt time.Time             `json:"started_at"`
	Duration  time.Duration         `json:"duration"`
	Success   bool                  `json:"success"`
	Steps     map[string]StepResult `json:"steps"`
	Deleted   int                   `json:"total_deleted"`
	Updated   int                   `json:"total_updated"`
	Errors    int                   `json:"total_errors"`
	// StepErrors holds the message of each failed step.
	StepErrors map[string]string `json:"step_errors,omitempty"`
}

// RunRecord is the persisted form of a Summary.
type RunRecord struct {
	RunID      string            `json:"run_id"`
	Trigger    string            `json:"trigger"`
	StartedAt  time.Time         `json:"started_at"`
	DurationMS int64             `json:"duration_ms"`
	Success    bool              `json:"success"`
	Deleted    int               `json:"deleted"`
	Updated    int               `json:"updated"`
	Errors     int               `json:"errors"`
	StepErrors map[string]string `json:"step_errors,omitempty"`
}

func (s *Summary) Record() RunRecord {
	return RunRecord{
		RunID:      s.RunID,
		Trigger:    s.Trigger,
		StartedAt:  s.StartedAt,
		DurationMS: s.Duration.Milliseconds(),
		Success:    s.Success,
		Deleted:    s.Deleted,
		Updated:    s.Updated,
		Errors:     s.Errors,
		StepErrors: s.StepErrors,
	}
}

// Stats describes collection sizes and the current cleanup backlog.
type Stats struct {
	Collections map[string]int `json:"collections"`
	Eligible    map[string]int `json:"eligible"`
	LastRun     *RunRecord     `json:"last_run,omitempty"`
}

// HealthReport is the weekly view over recent runs.
type HealthReport struct {
	Runs        int       `json:"runs"`
	Successful  int       `json:"successful"`
	SuccessRate float64   `json:"success_rate"`
	Healthy     bool      `json:"healthy"`
	Warning     string    `json:"warning,omitempty"`
	CheckedAt   time.Time `json:"checked_at"`
}
