package models

import (
	"errors"
	"strings"
	"testing"
)

func TestSynchronizationFromMap(t *testing.T) {
	s, err := SynchronizationFromMap(map[string]any{
		"id":   "crm-to-billing",
		"name": "CRM to billing",
		"source": map[string]any{
			"kind": "rest", "endpoint": "https://crm.example/contacts",
			"config": map[string]any{"api_key": "k"},
		},
		"target":   map[string]any{"kind": "rest", "endpoint": "https://billing.example/customers"},
		"mapping":  "contact-map",
		"interval": "15m",
	})
	if err != nil {
		t.Fatal(err)
	}
	if s.ID != "crm-to-billing" || s.MappingRef != "contact-map" {
		t.Errorf("fields not populated: %+v", s)
	}
	if !s.Enabled {
		t.Error("enabled should default to true")
	}
	if s.Source.Config["api_key"] != "k" {
		t.Errorf("descriptor config lost: %+v", s.Source)
	}
}

func TestSynchronizationFromMapAggregatesErrors(t *testing.T) {
	_, err := SynchronizationFromMap(map[string]any{
		"name":     7,
		"interval": "soonish",
		"source":   map[string]any{"kind": "rest", "endpoint": "x"},
		"target":   map[string]any{"kind": "rest", "endpoint": "y"},
	})
	if err == nil {
		t.Fatal("expected validation errors")
	}
	var errs FieldErrors
	if !errors.As(err, &errs) {
		t.Fatalf("expected FieldErrors, got %T", err)
	}
	// Every problem is reported at once: bad name type, missing id,
	// missing name value, bad interval.
	msg := err.Error()
	for _, want := range []string{"id", "name", "interval"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error should mention %q: %s", want, msg)
		}
	}
}

func TestSynchronizationFromMapRejectsUnknownFields(t *testing.T) {
	_, err := SynchronizationFromMap(map[string]any{
		"id":      "s",
		"name":    "s",
		"source":  map[string]any{"endpoint": "x"},
		"target":  map[string]any{"endpoint": "y"},
		"cadence": "15m",
	})
	if err == nil || !strings.Contains(err.Error(), "cadence") {
		t.Errorf("unknown field should be rejected by name, got %v", err)
	}
}

func TestSubscriptionFromMapPushRequiresSink(t *testing.T) {
	_, err := SubscriptionFromMap(map[string]any{"reference": "audit", "style": "push"})
	if err == nil || !strings.Contains(err.Error(), "sink") {
		t.Errorf("push without sink should fail, got %v", err)
	}
}

func TestSubscriptionFromMapPullForbidsSink(t *testing.T) {
	_, err := SubscriptionFromMap(map[string]any{
		"reference": "reader", "style": "pull", "sink": "https://x",
	})
	if err == nil || !strings.Contains(err.Error(), "sink") {
		t.Errorf("pull with sink should fail, got %v", err)
	}
}

func TestSubscriptionFromMapWithFilter(t *testing.T) {
	sub, err := SubscriptionFromMap(map[string]any{
		"reference": "audit",
		"style":     "push",
		"sink":      "https://audit.example/hook",
		"secret":    "s3cr3t",
		"filter": map[string]any{
			"synchronizations": []any{"crm-to-billing"},
			"actions":          []any{"delete"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(sub.Filter.Synchronizations) != 1 || sub.Filter.Actions[0] != "delete" {
		t.Errorf("filter not populated: %+v", sub.Filter)
	}
}
