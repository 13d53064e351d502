// Package engine implements the synchronization reconciliation core:
// per-record change detection against the contract ledger, idempotent
// target writes, orphan handling, and run logging. External systems are
// reached only through the collaborator interfaces defined here.
package engine

import (
	"context"
	"encoding/json"
	"time"

	"github.com/marcus/syncbridge/internal/models"
)

// Record is one origin object as delivered by an origin enumeration.
type Record struct {
	ID   string
	Data map[string]any
}

// Hint is the CRUD hint attached to an incremental (webhook-triggered)
// record, when the caller knows what happened upstream.
type Hint string

const (
	HintNone   Hint = ""
	HintCreate Hint = "create"
	HintUpdate Hint = "update"
	HintDelete Hint = "delete"
)

// Mapper reshapes an origin record into its target representation.
// Transform must be pure: same input and mapping, same output.
type Mapper interface {
	Transform(ctx context.Context, input map[string]any, mappingRef string) (map[string]any, error)
}

// RuleEvaluator decides whether a rule's conditions hold for a record.
// The conditions language is opaque to the engine.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, conditions json.RawMessage, context map[string]any) (bool, error)
}

// WriteResult is what the target system reports back after a write.
type WriteResult struct {
	TargetID string
	Response string
}

// TargetClient performs writes against the target system.
type TargetClient interface {
	Write(ctx context.Context, target models.Descriptor, targetID string, record map[string]any, action models.Action) (WriteResult, error)
	Read(ctx context.Context, target models.Descriptor, targetID string) (map[string]any, error)
	Delete(ctx context.Context, target models.Descriptor, targetID string) error
}

// OriginClient enumerates the origin data set. Enumerate streams records
// through fn so a large origin is never materialized in memory; fn
// returning an error stops the enumeration and is returned as-is.
type OriginClient interface {
	Enumerate(ctx context.Context, source models.Descriptor, fn func(Record) error) error
}

// SynchronizationStore is the configuration lookup the engine needs.
type SynchronizationStore interface {
	GetSynchronization(id string) (*models.Synchronization, error)
	ListRules(syncID string) ([]models.Rule, error)
	MarkSynchronizationRan(id string, at time.Time) error
}

// ContractStore is the reconciliation ledger. GetContractByOrigin and
// GetContractByTarget return (nil, nil) when no contract exists.
type ContractStore interface {
	GetContractByOrigin(syncID, originID string) (*models.Contract, error)
	GetContractByTarget(syncID, targetID string) (*models.Contract, error)
	FindContractsByObject(objectID string) ([]models.Contract, error)
	ListContractOriginIDs(syncID string) ([]string, error)
	UpsertContract(c *models.Contract) error
	UpdateContractIfOriginHash(c *models.Contract, expect string) (bool, error)
	DeleteContract(id int64) error
}

// RunLogStore records runs and their per-object outcomes.
type RunLogStore interface {
	CreateRunLog(rl *models.RunLog) error
	AttachRunResult(runID int64, result any) error
	AddContractLog(cl *models.ContractLog) error
}
