package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/marcus/syncbridge/internal/engine"
)

// BasicRules evaluates rule conditions expressed as a JSON object of
// dotted field paths to expected values, matched against the evaluation
// context:
//
//	{"record.status": "active", "mapped.kind": "contact"}
//
// All entries must match for the conditions to hold. Empty or absent
// conditions always hold.
type BasicRules struct{}

var _ engine.RuleEvaluator = BasicRules{}

func (BasicRules) Evaluate(ctx context.Context, conditions json.RawMessage, evalCtx map[string]any) (bool, error) {
	if len(conditions) == 0 {
		return true, nil
	}

	var want map[string]any
	if err := json.Unmarshal(conditions, &want); err != nil {
		return false, fmt.Errorf("decode conditions: %w", err)
	}

	for path, expected := range want {
		got, ok := lookup(evalCtx, path)
		if !ok {
			return false, nil
		}
		if !valuesEqual(got, expected) {
			return false, nil
		}
	}
	return true, nil
}

// lookup walks a dotted path through nested maps.
func lookup(m map[string]any, path string) (any, bool) {
	parts := strings.Split(path, ".")
	var cur any = m
	for _, p := range parts {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = node[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// valuesEqual compares via JSON round-trip so numeric types from
// different decoders compare equal.
func valuesEqual(a, b any) bool {
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(aj) == string(bj)
}
