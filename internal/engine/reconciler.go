package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/marcus/syncbridge/internal/hash"
	"github.com/marcus/syncbridge/internal/models"
)

// DefaultLogRetention is how long run and contract logs are kept when
// no retention is configured.
const DefaultLogRetention = 30 * 24 * time.Hour

// Reconciler drives reconciliation runs for synchronizations: it
// compares current origin state to the contract ledger and applies the
// minimal necessary target-side change per record.
type Reconciler struct {
	Syncs     SynchronizationStore
	Contracts ContractStore
	Logs      RunLogStore
	Mapper    Mapper
	Rules     RuleEvaluator
	Target    TargetClient
	Origin    OriginClient

	Logger       *slog.Logger
	LogRetention time.Duration

	now func() time.Time
}

// NewReconciler wires a reconciler with defaults filled in.
func NewReconciler(r Reconciler) *Reconciler {
	if r.Logger == nil {
		r.Logger = slog.Default()
	}
	if r.LogRetention <= 0 {
		r.LogRetention = DefaultLogRetention
	}
	if r.now == nil {
		r.now = time.Now
	}
	return &r
}

// Run performs a full reconciliation run: enumerate the origin,
// reconcile every record, then retire contracts whose origin was not
// observed. Record-level failures are logged and counted; only
// configuration and enumeration failures abort the run.
func (r *Reconciler) Run(ctx context.Context, syncID string, opts RunOptions) (*Summary, error) {
	start := r.now()

	s, rules, runLog, summary, err := r.beginRun(syncID, opts)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	enumErr := r.Origin.Enumerate(ctx, s.Source, func(rec Record) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		seen[rec.ID] = true
		out := r.reconcileRecord(ctx, s, rules, rec, HintNone, opts)
		summary.add(out)
		r.logOutcome(runLog, rec, out)
		return nil
	})
	if enumErr != nil {
		// Partial result still gets attached so the run is attributable.
		summary.Duration = r.now().Sub(start)
		r.attachResult(runLog, summary)
		return summary, fmt.Errorf("enumerate origin for %s: %w", syncID, enumErr)
	}

	// Orphan detection: contracts whose origin vanished from the
	// enumeration are retired.
	originIDs, err := r.Contracts.ListContractOriginIDs(syncID)
	if err != nil {
		summary.Duration = r.now().Sub(start)
		r.attachResult(runLog, summary)
		return summary, fmt.Errorf("list contract origins for %s: %w", syncID, err)
	}
	orphans := NewOrphanHandler(r.Contracts, r.Logger)
	for _, originID := range originIDs {
		if seen[originID] {
			continue
		}
		out := r.retireOrphan(orphans, syncID, originID, opts)
		summary.add(out)
		r.logOutcome(runLog, Record{ID: originID}, out)
	}

	summary.Duration = r.now().Sub(start)
	r.attachResult(runLog, summary)

	if !opts.Test {
		if err := r.Syncs.MarkSynchronizationRan(syncID, r.now().UTC()); err != nil {
			r.Logger.Warn("mark synchronization ran", "sync", syncID, "err", err)
		}
	}

	r.Logger.Info("reconciliation run complete",
		"sync", syncID, "run", summary.RunUUID,
		"created", summary.Created, "updated", summary.Updated, "deleted", summary.Deleted,
		"skipped", summary.Skipped, "vetoed", summary.Vetoed, "failed", summary.Failed,
		"test", opts.Test, "force", opts.Force)
	return summary, nil
}

// RunRecord reconciles a single record, the incremental path used by
// webhook-style triggers. No orphan detection is performed.
func (r *Reconciler) RunRecord(ctx context.Context, syncID string, rec Record, hint Hint, opts RunOptions) (*Summary, error) {
	start := r.now()

	s, rules, runLog, summary, err := r.beginRun(syncID, opts)
	if err != nil {
		return nil, err
	}

	out := r.reconcileRecord(ctx, s, rules, rec, hint, opts)
	summary.add(out)
	r.logOutcome(runLog, rec, out)

	summary.Duration = r.now().Sub(start)
	r.attachResult(runLog, summary)
	return summary, nil
}

// beginRun resolves the configuration and opens the run log. A missing
// synchronization is a configuration error and fails the run; it is
// never silently skipped.
func (r *Reconciler) beginRun(syncID string, opts RunOptions) (*models.Synchronization, []models.Rule, *models.RunLog, *Summary, error) {
	s, err := r.Syncs.GetSynchronization(syncID)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("%w: synchronization %s: %v", ErrConfiguration, syncID, err)
	}

	rules, err := r.Syncs.ListRules(syncID)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("%w: rules for %s: %v", ErrConfiguration, syncID, err)
	}

	now := r.now().UTC()
	runLog := &models.RunLog{
		SynchronizationID: syncID,
		Test:              opts.Test,
		Force:             opts.Force,
		Created:           now,
		Expires:           now.Add(r.LogRetention),
	}
	if err := r.Logs.CreateRunLog(runLog); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("create run log for %s: %w", syncID, err)
	}

	summary := &Summary{
		SynchronizationID: syncID,
		RunUUID:           runLog.UUID,
		Test:              opts.Test,
		Force:             opts.Force,
	}
	return s, rules, runLog, summary, nil
}

// reconcileRecord runs the per-record algorithm: hash, short-circuit,
// map, rule hooks, target write, contract upsert. All failures are
// returned as outcomes, never as errors; the contract keeps its
// last-known-good hashes on failure so the next run retries.
func (r *Reconciler) reconcileRecord(ctx context.Context, s *models.Synchronization, rules []models.Rule, rec Record, hint Hint, opts RunOptions) Outcome {
	if rec.ID == "" {
		return Outcome{Kind: OutcomeFailed, Message: (&ValidationError{Field: "id", Err: fmt.Errorf("empty origin id")}).Error()}
	}

	if hint == HintDelete {
		return r.deleteRecord(ctx, s, rules, rec, opts)
	}

	originHash, err := hash.Content(rec.Data)
	if err != nil {
		return Outcome{OriginID: rec.ID, Kind: OutcomeFailed,
			Message: (&ValidationError{Err: fmt.Errorf("hash origin record: %w", err)}).Error()}
	}

	contract, err := r.Contracts.GetContractByOrigin(s.ID, rec.ID)
	if err != nil {
		return Outcome{OriginID: rec.ID, Kind: OutcomeFailed, Message: fmt.Sprintf("load contract: %v", err)}
	}

	// Hash short-circuit: unchanged origin means no work, unless forced.
	if contract != nil && contract.OriginHash == originHash && !opts.Force {
		return Outcome{OriginID: rec.ID, ContractUUID: contract.UUID, Kind: OutcomeSkipped,
			Action: models.ActionRead, Message: "origin unchanged"}
	}

	mapped, err := r.Mapper.Transform(ctx, rec.Data, s.MappingRef)
	if err != nil {
		return Outcome{OriginID: rec.ID, Kind: OutcomeFailed,
			Message: (&TransformationError{Err: err}).Error(), Data: rec.Data}
	}

	targetHash, err := hash.Content(mapped)
	if err != nil {
		return Outcome{OriginID: rec.ID, Kind: OutcomeFailed,
			Message: (&ValidationError{Err: fmt.Errorf("hash mapped record: %w", err)}).Error()}
	}

	action := models.ActionCreate
	if contract != nil && contract.TargetID != "" {
		action = models.ActionUpdate
	}

	// Origin changed but the mapped output did not: persist the fresh
	// origin hash and spare the target a redundant write.
	if contract != nil && contract.TargetHash == targetHash && !opts.Force {
		if !opts.Test {
			updated := *contract
			updated.OriginHash = originHash
			if ok, err := r.Contracts.UpdateContractIfOriginHash(&updated, contract.OriginHash); err != nil {
				return Outcome{OriginID: rec.ID, ContractUUID: contract.UUID, Kind: OutcomeFailed,
					Message: fmt.Sprintf("refresh origin hash: %v", err)}
			} else if !ok {
				return Outcome{OriginID: rec.ID, ContractUUID: contract.UUID, Kind: OutcomeSuperseded,
					Message: "contract advanced by concurrent run"}
			}
		}
		return Outcome{OriginID: rec.ID, ContractUUID: contract.UUID, Kind: OutcomeSkipped,
			Action: models.ActionRead, Message: "mapped output unchanged", Data: mapped}
	}

	// Before-rules may veto the action or reshape the record.
	mapped, out := r.applyRules(ctx, rules, models.TimingBefore, action, rec, mapped, contract, nil)
	if out != nil {
		return *out
	}

	if opts.Test {
		o := Outcome{OriginID: rec.ID, Kind: kindFor(action), Action: action,
			Message: "dry run, no target write", Data: mapped}
		if contract != nil {
			o.ContractUUID = contract.UUID
		}
		return o
	}

	wr, err := r.Target.Write(ctx, s.Target, targetIDOf(contract), mapped, action)
	if err != nil {
		o := Outcome{OriginID: rec.ID, Kind: OutcomeFailed,
			Message: (&TargetWriteError{Action: string(action), Err: err}).Error(), Data: mapped}
		if contract != nil {
			o.ContractUUID = contract.UUID
		}
		return o
	}

	outcome := r.commitContract(s, rec, contract, originHash, targetHash, wr, action, mapped)
	if outcome.Kind == OutcomeSuperseded || outcome.Kind == OutcomeFailed {
		return outcome
	}

	// After-rules observe the committed write. A false condition here
	// is a non-event, never a veto, and evaluation failures only annotate
	// the already-committed outcome.
	if _, ruleOut := r.applyRules(ctx, rules, models.TimingAfter, action, rec, mapped, contract, &outcome); ruleOut != nil {
		outcome.Message = appendNote(outcome.Message, ruleOut.Message)
	}
	return outcome
}

// commitContract upserts the contract with fresh hashes, defending
// against a concurrent run having written the same state first.
func (r *Reconciler) commitContract(s *models.Synchronization, rec Record, contract *models.Contract, originHash, targetHash string, wr WriteResult, action models.Action, mapped map[string]any) Outcome {
	if contract == nil {
		// Re-read just before inserting: an overlapping run may have
		// created the contract while our target write was in flight.
		fresh, err := r.Contracts.GetContractByOrigin(s.ID, rec.ID)
		if err != nil {
			return Outcome{OriginID: rec.ID, Kind: OutcomeFailed, Message: fmt.Sprintf("re-read contract: %v", err)}
		}
		if fresh != nil && fresh.OriginHash == originHash {
			return Outcome{OriginID: rec.ID, ContractUUID: fresh.UUID, Kind: OutcomeSuperseded,
				Message: "contract already written by concurrent run"}
		}

		c := &models.Contract{
			SynchronizationID: s.ID,
			OriginID:          rec.ID,
			OriginHash:        originHash,
			TargetID:          wr.TargetID,
			TargetHash:        targetHash,
		}
		if err := r.Contracts.UpsertContract(c); err != nil {
			return Outcome{OriginID: rec.ID, Kind: OutcomeFailed, Message: fmt.Sprintf("store contract: %v", err)}
		}
		return Outcome{OriginID: rec.ID, ContractUUID: c.UUID, Kind: OutcomeCreated,
			Action: action, Message: wr.Response, Data: mapped}
	}

	updated := *contract
	updated.OriginHash = originHash
	updated.TargetHash = targetHash
	if wr.TargetID != "" {
		updated.TargetID = wr.TargetID
	}
	ok, err := r.Contracts.UpdateContractIfOriginHash(&updated, contract.OriginHash)
	if err != nil {
		return Outcome{OriginID: rec.ID, ContractUUID: contract.UUID, Kind: OutcomeFailed,
			Message: fmt.Sprintf("store contract: %v", err)}
	}
	if !ok {
		return Outcome{OriginID: rec.ID, ContractUUID: contract.UUID, Kind: OutcomeSuperseded,
			Message: "contract advanced by concurrent run"}
	}
	return Outcome{OriginID: rec.ID, ContractUUID: contract.UUID, Kind: kindFor(action),
		Action: action, Message: wr.Response, Data: mapped}
}

// deleteRecord handles an incremental delete hint: veto-able target
// delete followed by contract retirement.
func (r *Reconciler) deleteRecord(ctx context.Context, s *models.Synchronization, rules []models.Rule, rec Record, opts RunOptions) Outcome {
	contract, err := r.Contracts.GetContractByOrigin(s.ID, rec.ID)
	if err != nil {
		return Outcome{OriginID: rec.ID, Kind: OutcomeFailed, Message: fmt.Sprintf("load contract: %v", err)}
	}
	if contract == nil {
		// Deleting something never seen is a no-op, not an error.
		return Outcome{OriginID: rec.ID, Kind: OutcomeSkipped, Message: "no contract for removed origin"}
	}

	_, out := r.applyRules(ctx, rules, models.TimingBefore, models.ActionDelete, rec, nil, contract, nil)
	if out != nil {
		return *out
	}

	if opts.Test {
		return Outcome{OriginID: rec.ID, ContractUUID: contract.UUID, Kind: OutcomeDeleted,
			Action: models.ActionDelete, Message: "dry run, no target delete"}
	}

	if contract.TargetID != "" {
		if err := r.Target.Delete(ctx, s.Target, contract.TargetID); err != nil {
			return Outcome{OriginID: rec.ID, ContractUUID: contract.UUID, Kind: OutcomeFailed,
				Message: (&TargetWriteError{Action: "delete", Err: err}).Error()}
		}
	}
	if err := r.Contracts.DeleteContract(contract.ID); err != nil {
		return Outcome{OriginID: rec.ID, ContractUUID: contract.UUID, Kind: OutcomeFailed,
			Message: fmt.Sprintf("delete contract: %v", err)}
	}
	return Outcome{OriginID: rec.ID, ContractUUID: contract.UUID, Kind: OutcomeDeleted,
		Action: models.ActionDelete}
}

// retireOrphan clears the origin side of a contract whose origin record
// disappeared from the enumeration.
func (r *Reconciler) retireOrphan(orphans *OrphanHandler, syncID, originID string, opts RunOptions) Outcome {
	if opts.Test {
		return Outcome{OriginID: originID, Kind: OutcomeDeleted, Action: models.ActionDelete,
			Message: "dry run, origin vanished"}
	}
	touched, err := orphans.RetireOrigin(syncID, originID)
	if err != nil {
		return Outcome{OriginID: originID, Kind: OutcomeFailed, Message: fmt.Sprintf("retire orphan: %v", err)}
	}
	o := Outcome{OriginID: originID, Kind: OutcomeDeleted, Action: models.ActionDelete,
		Message: "origin removed upstream"}
	if len(touched) > 0 {
		o.ContractUUID = touched[0].UUID
	}
	return o
}

// applyRules evaluates the rules matching timing and action. A before
// rule whose conditions evaluate false vetoes the record. Rule configs
// may reshape the mapped record (mapping), abort it (error), or request
// a follow-up synchronization. Returns the possibly reshaped record and
// a non-nil outcome when processing must stop.
func (r *Reconciler) applyRules(ctx context.Context, rules []models.Rule, timing models.RuleTiming, action models.Action, rec Record, mapped map[string]any, contract *models.Contract, committed *Outcome) (map[string]any, *Outcome) {
	evalCtx := map[string]any{"record": rec.Data, "mapped": mapped}
	if contract != nil {
		evalCtx["contract"] = contract
	}

	for i := range rules {
		rule := &rules[i]
		if !rule.AppliesTo(timing, action) {
			continue
		}

		hold, err := r.Rules.Evaluate(ctx, rule.Conditions, evalCtx)
		if err != nil {
			out := Outcome{OriginID: rec.ID, Kind: OutcomeFailed,
				Message: fmt.Sprintf("rule %s: evaluate conditions: %v", rule.Name, err)}
			return mapped, &out
		}
		if !hold {
			if timing == models.TimingBefore {
				out := Outcome{OriginID: rec.ID, Kind: OutcomeVetoed,
					Message: fmt.Sprintf("skipped by rule %s", rule.Name)}
				if contract != nil {
					out.ContractUUID = contract.UUID
				}
				return mapped, &out
			}
			continue
		}

		switch rule.Config.Type {
		case models.RuleTypeMapping:
			reshaped, err := r.Mapper.Transform(ctx, mapped, rule.Config.Mapping.MappingRef)
			if err != nil {
				out := Outcome{OriginID: rec.ID, Kind: OutcomeFailed,
					Message: (&TransformationError{Err: fmt.Errorf("rule %s: %w", rule.Name, err)}).Error()}
				return mapped, &out
			}
			mapped = reshaped
			evalCtx["mapped"] = mapped
		case models.RuleTypeError:
			out := Outcome{OriginID: rec.ID, Kind: OutcomeFailed,
				Message: fmt.Sprintf("rule %s: %s (code %d)", rule.Name, rule.Config.Error.Message, rule.Config.Error.Code)}
			return mapped, &out
		case models.RuleTypeScript:
			// Script execution is an external collaborator concern; the
			// rule firing is recorded on the outcome.
			r.Logger.Debug("script rule fired", "rule", rule.Name, "script", rule.Config.Script.Script, "origin", rec.ID)
		case models.RuleTypeSynchronization:
			if committed != nil {
				committed.FollowUps = append(committed.FollowUps, rule.Config.Synchronization.SynchronizationID)
			}
		}
	}
	return mapped, nil
}

func (r *Reconciler) logOutcome(runLog *models.RunLog, rec Record, out Outcome) {
	now := r.now().UTC()
	cl := &models.ContractLog{
		ContractUUID: out.ContractUUID,
		RunID:        runLog.ID,
		TargetResult: string(out.Kind),
		Message:      out.Message,
		Created:      now,
		Expires:      now.Add(r.LogRetention),
	}
	if rec.Data != nil {
		if data, err := json.Marshal(rec.Data); err == nil {
			cl.Source = data
		}
	}
	if out.Data != nil {
		if data, err := json.Marshal(out.Data); err == nil {
			cl.Target = data
		}
	}
	if err := r.Logs.AddContractLog(cl); err != nil {
		r.Logger.Warn("append contract log", "run", runLog.UUID, "origin", rec.ID, "err", err)
	}
}

func (r *Reconciler) attachResult(runLog *models.RunLog, summary *Summary) {
	if err := r.Logs.AttachRunResult(runLog.ID, summary); err != nil {
		r.Logger.Warn("attach run result", "run", runLog.UUID, "err", err)
	}
}

func kindFor(action models.Action) OutcomeKind {
	switch action {
	case models.ActionCreate:
		return OutcomeCreated
	case models.ActionUpdate:
		return OutcomeUpdated
	case models.ActionDelete:
		return OutcomeDeleted
	}
	return OutcomeSkipped
}

func targetIDOf(c *models.Contract) string {
	if c == nil {
		return ""
	}
	return c.TargetID
}

func appendNote(msg, note string) string {
	if msg == "" {
		return note
	}
	return msg + "; " + note
}
