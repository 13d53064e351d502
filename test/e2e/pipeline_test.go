package e2e_test

import (
	"context"
	"testing"

	"github.com/marcus/syncbridge/internal/engine"
	"github.com/marcus/syncbridge/test/e2e"
)

// runAndDeliver reconciles once and pushes resulting events until the
// retry queue drains or the budget is spent.
func runAndDeliver(t *testing.T, h *e2e.Harness, syncID string) *engine.Summary {
	t.Helper()
	ctx := context.Background()

	summary, err := h.Reconciler.Run(ctx, syncID, engine.RunOptions{})
	if err != nil {
		t.Fatalf("run %s: %v", syncID, err)
	}
	if _, err := h.Delivery.EmitRun(summary); err != nil {
		t.Fatalf("emit: %v", err)
	}
	for {
		sr, err := h.Delivery.Sweep(ctx, 100)
		if err != nil {
			t.Fatalf("sweep: %v", err)
		}
		if sr.Attempted == 0 {
			return summary
		}
	}
}

func TestPipelinePropagatesChanges(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}
	h := e2e.Setup(t, "crm")
	h.Origin.Put("o1", map[string]any{"name": "alice"})
	h.Origin.Put("o2", map[string]any{"name": "bob"})

	// First run creates both objects downstream and notifies the sink.
	s := runAndDeliver(t, h, "crm")
	if s.Created != 2 {
		t.Fatalf("summary = %+v", s)
	}
	if h.Target.Len() != 2 {
		t.Fatalf("target holds %d objects", h.Target.Len())
	}
	events := h.Sink.Events()
	if len(events) != 2 {
		t.Fatalf("sink saw %d events", len(events))
	}
	for _, ev := range events {
		if ev.Synchronization != "crm" || ev.Action != "create" {
			t.Errorf("event = %+v", ev)
		}
	}

	// An idle rerun touches nothing and emits nothing.
	writesBefore := h.Target.Writes
	s = runAndDeliver(t, h, "crm")
	if s.Skipped != 2 || h.Target.Writes != writesBefore {
		t.Fatalf("idle rerun wrote: summary=%+v writes=%d", s, h.Target.Writes)
	}
	if len(h.Sink.Events()) != 2 {
		t.Error("idle rerun emitted events")
	}

	// A single edit updates exactly one target object.
	h.Origin.Put("o1", map[string]any{"name": "alicia"})
	s = runAndDeliver(t, h, "crm")
	if s.Updated != 1 || s.Skipped != 1 {
		t.Fatalf("edit rerun summary = %+v", s)
	}

	contract, err := h.DB.GetContractByOrigin("crm", "o1")
	if err != nil || contract == nil {
		t.Fatalf("contract: %v", err)
	}
	if got := h.Target.Get(contract.TargetID); got == nil || got["name"] != "alicia" {
		t.Errorf("target object = %v", got)
	}

	events = h.Sink.Events()
	if len(events) != 3 || events[2].Action != "update" || events[2].OriginID != "o1" {
		t.Fatalf("events = %+v", events)
	}
}

func TestPipelineRetiresVanishedOrigins(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}
	h := e2e.Setup(t, "crm")
	h.Origin.Put("o1", map[string]any{"name": "alice"})
	h.Origin.Put("o2", map[string]any{"name": "bob"})
	runAndDeliver(t, h, "crm")

	h.Origin.Remove("o2")
	s := runAndDeliver(t, h, "crm")
	if s.Deleted != 1 {
		t.Fatalf("summary = %+v", s)
	}
	// The origin side is retired; the target object itself stays.
	if h.Target.Len() != 2 {
		t.Errorf("target holds %d objects", h.Target.Len())
	}
	if c, _ := h.DB.GetContractByOrigin("crm", "o2"); c != nil {
		t.Error("contract still addressable by vanished origin")
	}
}

func TestPipelineDeliveryRecoversFromSinkOutage(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test in short mode")
	}
	h := e2e.Setup(t, "crm")
	h.Origin.Put("o1", map[string]any{"name": "alice"})

	// The sink rejects the first attempt; zero backoff lets the next
	// sweep retry immediately and succeed.
	h.Sink.Fail(1)
	runAndDeliver(t, h, "crm")

	events := h.Sink.Events()
	if len(events) != 1 {
		t.Fatalf("sink saw %d events after recovery", len(events))
	}
	if events[0].OriginID != "o1" {
		t.Errorf("event = %+v", events[0])
	}
}
