package models

import (
	"encoding/json"
	"time"
)

// Action represents the CRUD action taken (or to be taken) on a target object.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionRead, ActionUpdate, ActionDelete:
		return true
	}
	return false
}

// Descriptor identifies an external system endpoint for one side of a
// synchronization. Config carries endpoint-specific settings the origin
// and target clients interpret.
type Descriptor struct {
	Kind     string            `json:"kind" yaml:"kind"`
	Endpoint string            `json:"endpoint" yaml:"endpoint"`
	Config   map[string]string `json:"config,omitempty" yaml:"config,omitempty"`
}

// Synchronization is the configuration for one origin-to-target sync.
// It is immutable during a run; only explicit configuration updates
// mutate it.
type Synchronization struct {
	ID          string     `json:"id" yaml:"id"`
	UUID        string     `json:"uuid" yaml:"-"`
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Source      Descriptor `json:"source" yaml:"source"`
	Target      Descriptor `json:"target" yaml:"target"`
	MappingRef  string     `json:"mapping_ref,omitempty" yaml:"mapping,omitempty"`
	Interval    string     `json:"interval,omitempty" yaml:"interval,omitempty"`
	Enabled     bool       `json:"enabled" yaml:"enabled"`
	CreatedAt   time.Time  `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time  `json:"updated_at" yaml:"-"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty" yaml:"-"`
}

// IntervalDuration parses the schedule interval. Returns 0 when the
// synchronization has no schedule (manual/webhook-triggered only).
func (s *Synchronization) IntervalDuration() (time.Duration, error) {
	if s.Interval == "" {
		return 0, nil
	}
	return time.ParseDuration(s.Interval)
}

// Contract is the per-object reconciliation ledger row linking an origin
// identifier/hash to a target identifier/hash for one synchronization.
// An empty OriginID or TargetID means that side is unknown or has been
// removed upstream. A contract with both sides empty is meaningless and
// is deleted, never retained.
type Contract struct {
	ID                int64     `json:"id"`
	UUID              string    `json:"uuid"`
	SynchronizationID string    `json:"synchronization_id"`
	OriginID          string    `json:"origin_id,omitempty"`
	OriginHash        string    `json:"origin_hash,omitempty"`
	TargetID          string    `json:"target_id,omitempty"`
	TargetHash        string    `json:"target_hash,omitempty"`
	Version           int       `json:"version"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Empty reports whether both sides of the contract are cleared.
func (c *Contract) Empty() bool {
	return c.OriginID == "" && c.TargetID == ""
}

// RunLog is the per-run synchronization log. Append-only; the result is
// attached once when the run completes.
type RunLog struct {
	ID                int64           `json:"id"`
	UUID              string          `json:"uuid"`
	SynchronizationID string          `json:"synchronization_id"`
	Test              bool            `json:"test"`
	Force             bool            `json:"force"`
	Result            json.RawMessage `json:"result,omitempty"`
	Created           time.Time       `json:"created"`
	Expires           time.Time       `json:"expires"`
}

// ContractLog records one per-object outcome within a run. Append-only,
// subject to retention expiry.
type ContractLog struct {
	ID           int64           `json:"id"`
	UUID         string          `json:"uuid"`
	ContractUUID string          `json:"contract_uuid"`
	RunID        int64           `json:"run_id"`
	Source       json.RawMessage `json:"source,omitempty"`
	Target       json.RawMessage `json:"target,omitempty"`
	TargetResult string          `json:"target_result"`
	Message      string          `json:"message,omitempty"`
	Created      time.Time       `json:"created"`
	Expires      time.Time       `json:"expires"`
}

// SubscriptionStyle distinguishes engine-initiated push delivery from
// subscriber-initiated cursor reads.
type SubscriptionStyle string

const (
	StylePush SubscriptionStyle = "push"
	StylePull SubscriptionStyle = "pull"
)

// SubscriptionFilter narrows which run outcomes a subscription receives.
// Empty slices match everything.
type SubscriptionFilter struct {
	Synchronizations []string `json:"synchronizations,omitempty" yaml:"synchronizations,omitempty"`
	Actions          []string `json:"actions,omitempty" yaml:"actions,omitempty"`
}

// Matches reports whether an outcome for the given synchronization and
// action passes the filter.
func (f SubscriptionFilter) Matches(syncID, action string) bool {
	if len(f.Synchronizations) > 0 && !contains(f.Synchronizations, syncID) {
		return false
	}
	if len(f.Actions) > 0 && !contains(f.Actions, action) {
		return false
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// EventSubscription is a subscriber registration. Push subscriptions
// carry a sink URL; pull subscriptions are read via cursor.
type EventSubscription struct {
	ID        int64              `json:"id"`
	UUID      string             `json:"uuid"`
	Reference string             `json:"reference" yaml:"reference"`
	Style     SubscriptionStyle  `json:"style" yaml:"style"`
	Sink      string             `json:"sink,omitempty" yaml:"sink,omitempty"`
	Secret    string             `json:"-" yaml:"secret,omitempty"`
	Filter    SubscriptionFilter `json:"filter" yaml:"filter"`
	Enabled   bool               `json:"enabled" yaml:"enabled"`
	CreatedAt time.Time          `json:"created_at" yaml:"-"`
	UpdatedAt time.Time          `json:"updated_at" yaml:"-"`
}

// MessageStatus is the delivery state of an event message.
type MessageStatus string

const (
	MessagePending   MessageStatus = "pending"
	MessageDelivered MessageStatus = "delivered"
	MessageFailed    MessageStatus = "failed"
)

// EventMessage is one outbound change notification for one subscription.
// Only the delivery engine mutates a message after creation.
type EventMessage struct {
	ID             int64         `json:"id"`
	UUID           string        `json:"uuid"`
	SubscriptionID int64         `json:"subscription_id"`
	RunUUID        string        `json:"run_uuid,omitempty"`
	ContractUUID   string        `json:"contract_uuid,omitempty"`
	Action         string        `json:"action"`
	Payload        []byte        `json:"payload"`
	Status         MessageStatus `json:"status"`
	RetryCount     int           `json:"retry_count"`
	LastAttempt    *time.Time    `json:"last_attempt,omitempty"`
	NextAttempt    *time.Time    `json:"next_attempt,omitempty"`
	LastResponse   string        `json:"last_response,omitempty"`
	Created        time.Time     `json:"created"`
	Expires        time.Time     `json:"expires"`
}

// Mapping is a named field mapping used to reshape origin records into
// target records. Fields maps target field names to origin field names;
// with Passthrough set, unmapped origin fields are copied as-is.
type Mapping struct {
	Name        string            `json:"name" yaml:"name"`
	Fields      map[string]string `json:"fields,omitempty" yaml:"fields,omitempty"`
	Passthrough bool              `json:"passthrough" yaml:"passthrough"`
	CreatedAt   time.Time         `json:"created_at" yaml:"-"`
	UpdatedAt   time.Time         `json:"updated_at" yaml:"-"`
}
