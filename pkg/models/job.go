// Package models contains shared data models used across the autopost codebase.
package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a scheduled job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusInFlight  Status = "in_flight"
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// transitions lists every permitted edge. in_flight -> pending is only taken
// by the stalled-job reclaimer; the dispatch path always ends terminal.
var transitions = map[Status][]Status{
	StatusPending:  {StatusInFlight, StatusCancelled},
	StatusInFlight: {StatusCompleted, StatusPartial, StatusFailed, StatusPending},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInFlight, StatusCompleted, StatusPartial, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition may leave s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusPartial, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// CanTransition reports whether s -> to is an edge of the job state machine.
func (s Status) CanTransition(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Job is a scheduled, multi-target publication request. Jobs are created
// pending by the scheduling API and only ever claimed and finalized by the
// scheduler.
type Job struct {
	ID          uuid.UUID      `db:"id"            json:"id"`
	OwnerID     uuid.UUID      `db:"owner_id"      json:"owner_id"`
	ArtifactRef string         `db:"artifact_ref"  json:"artifact_ref"`
	Caption     string         `db:"caption"       json:"caption"`
	Targets     []string       `db:"targets"       json:"targets"`
	DueAt       time.Time      `db:"due_at"        json:"due_at"`
	Status      Status         `db:"status"        json:"status"`
	Results     []TargetResult `db:"results"       json:"results,omitempty"`
	LastError   *string        `db:"last_error"    json:"last_error,omitempty"`
	ProcessedAt *time.Time     `db:"processed_at"  json:"processed_at,omitempty"`
	ClaimedAt   *time.Time     `db:"claimed_at"    json:"claimed_at,omitempty"`
	ClaimCount  int            `db:"claim_count"   json:"claim_count"`
	CreatedAt   time.Time      `db:"created_at"    json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"    json:"updated_at"`
}

// TargetResult is the outcome of publishing a job to one target.
type TargetResult struct {
	Target       string `json:"target"`
	Succeeded    bool   `json:"succeeded"`
	RemotePostID string `json:"remote_post_id,omitempty"`
	Error        string `json:"error,omitempty"`
}

// NormalizeTargets trims and lower-cases target keys, drops empty entries and
// removes duplicates while keeping the first occurrence's position.
// Returns an empty slice (never nil) when nothing survives.
func NormalizeTargets(targets []string) []string {
	out := make([]string, 0, len(targets))
	seen := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		key := strings.ToLower(strings.TrimSpace(t))
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out
}
