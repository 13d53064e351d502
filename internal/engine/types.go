package engine

import (
	"time"

	"github.com/marcus/syncbridge/internal/models"
)

// RunOptions are the per-run flags of a reconciliation run.
type RunOptions struct {
	// Force bypasses the hash short-circuit and re-applies every record.
	Force bool
	// Test runs the full decide path but performs no target writes and
	// no contract mutations.
	Test bool
}

// OutcomeKind classifies what happened to one record.
type OutcomeKind string

const (
	OutcomeCreated    OutcomeKind = "create"
	OutcomeUpdated    OutcomeKind = "update"
	OutcomeDeleted    OutcomeKind = "delete"
	OutcomeSkipped    OutcomeKind = "skip"
	OutcomeVetoed     OutcomeKind = "veto"
	OutcomeSuperseded OutcomeKind = "superseded"
	OutcomeFailed     OutcomeKind = "error"
)

// Outcome is the result for a single record within a run.
type Outcome struct {
	OriginID     string         `json:"origin_id,omitempty"`
	ContractUUID string         `json:"contract_uuid,omitempty"`
	Kind         OutcomeKind    `json:"kind"`
	Action       models.Action  `json:"action,omitempty"`
	Message      string         `json:"message,omitempty"`
	Data         map[string]any `json:"-"`
	// FollowUps are synchronization IDs requested by after-rules.
	FollowUps []string `json:"follow_ups,omitempty"`
}

// Summary is the structured result of a reconciliation run. It is
// attached to the run log and returned to the caller; counts always add
// up to the number of records observed, no record is silently dropped.
type Summary struct {
	SynchronizationID string        `json:"synchronization_id"`
	RunUUID           string        `json:"run_uuid"`
	Test              bool          `json:"test,omitempty"`
	Force             bool          `json:"force,omitempty"`
	Created           int           `json:"created"`
	Updated           int           `json:"updated"`
	Deleted           int           `json:"deleted"`
	Skipped           int           `json:"skipped"`
	Vetoed            int           `json:"vetoed"`
	Superseded        int           `json:"superseded"`
	Failed            int           `json:"failed"`
	Contracts         []string      `json:"contracts,omitempty"`
	FollowUps         []string      `json:"follow_ups,omitempty"`
	Duration          time.Duration `json:"duration_ns"`
	Outcomes          []Outcome     `json:"-"`
}

// add folds one outcome into the summary counts.
func (s *Summary) add(o Outcome) {
	switch o.Kind {
	case OutcomeCreated:
		s.Created++
	case OutcomeUpdated:
		s.Updated++
	case OutcomeDeleted:
		s.Deleted++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeVetoed:
		s.Vetoed++
	case OutcomeSuperseded:
		s.Superseded++
	case OutcomeFailed:
		s.Failed++
	}
	if o.ContractUUID != "" && !containsStr(s.Contracts, o.ContractUUID) {
		s.Contracts = append(s.Contracts, o.ContractUUID)
	}
	for _, f := range o.FollowUps {
		if !containsStr(s.FollowUps, f) {
			s.FollowUps = append(s.FollowUps, f)
		}
	}
	s.Outcomes = append(s.Outcomes, o)
}

// Total returns the number of records the run observed.
func (s *Summary) Total() int {
	return s.Created + s.Updated + s.Deleted + s.Skipped + s.Vetoed + s.Superseded + s.Failed
}

func containsStr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
