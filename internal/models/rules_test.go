package models

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRuleConfigDecodeMapping(t *testing.T) {
	var rc RuleConfig
	if err := json.Unmarshal([]byte(`{"type":"mapping","mapping":"contact-map"}`), &rc); err != nil {
		t.Fatal(err)
	}
	if rc.Type != RuleTypeMapping {
		t.Errorf("type = %q", rc.Type)
	}
	if rc.Mapping == nil || rc.Mapping.MappingRef != "contact-map" {
		t.Errorf("mapping variant not populated: %+v", rc.Mapping)
	}
}

func TestRuleConfigDecodeError(t *testing.T) {
	var rc RuleConfig
	if err := json.Unmarshal([]byte(`{"type":"error","code":422,"message":"rejected"}`), &rc); err != nil {
		t.Fatal(err)
	}
	if rc.Error == nil || rc.Error.Code != 422 || rc.Error.Message != "rejected" {
		t.Errorf("error variant not populated: %+v", rc.Error)
	}
}

func TestRuleConfigRejectsUnknownType(t *testing.T) {
	var rc RuleConfig
	err := json.Unmarshal([]byte(`{"type":"teleport"}`), &rc)
	if err == nil {
		t.Fatal("expected error for unknown type")
	}
	if !strings.Contains(err.Error(), "teleport") {
		t.Errorf("error should name the type: %v", err)
	}
}

func TestRuleConfigRejectsMissingType(t *testing.T) {
	var rc RuleConfig
	if err := json.Unmarshal([]byte(`{"mapping":"x"}`), &rc); err == nil {
		t.Fatal("expected error for missing type")
	}
}

func TestRuleConfigRejectsIncompleteVariant(t *testing.T) {
	cases := map[string]string{
		"mapping":         `{"type":"mapping"}`,
		"error":           `{"type":"error","code":500}`,
		"script":          `{"type":"script"}`,
		"synchronization": `{"type":"synchronization"}`,
	}
	for name, input := range cases {
		var rc RuleConfig
		if err := json.Unmarshal([]byte(input), &rc); err == nil {
			t.Errorf("%s: expected error for missing payload", name)
		}
	}
}

func TestRuleConfigRoundTrip(t *testing.T) {
	rc := RuleConfig{Type: RuleTypeSynchronization, Synchronization: &SyncRuleConfig{SynchronizationID: "followup"}}
	data, err := json.Marshal(rc)
	if err != nil {
		t.Fatal(err)
	}
	var back RuleConfig
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.Synchronization == nil || back.Synchronization.SynchronizationID != "followup" {
		t.Errorf("round trip lost data: %+v", back)
	}
}

func TestRuleAppliesTo(t *testing.T) {
	r := Rule{Timing: TimingBefore, Action: ActionUpdate, Enabled: true}
	if !r.AppliesTo(TimingBefore, ActionUpdate) {
		t.Error("should apply to matching timing and action")
	}
	if r.AppliesTo(TimingAfter, ActionUpdate) {
		t.Error("should not apply to other timing")
	}
	if r.AppliesTo(TimingBefore, ActionDelete) {
		t.Error("should not apply to other action")
	}
	r.Enabled = false
	if r.AppliesTo(TimingBefore, ActionUpdate) {
		t.Error("disabled rule should never apply")
	}
}

func TestSubscriptionFilterMatches(t *testing.T) {
	f := SubscriptionFilter{Synchronizations: []string{"crm"}, Actions: []string{"create", "delete"}}
	if !f.Matches("crm", "create") {
		t.Error("should match listed sync and action")
	}
	if f.Matches("billing", "create") {
		t.Error("should not match unlisted sync")
	}
	if f.Matches("crm", "update") {
		t.Error("should not match unlisted action")
	}
	if !(SubscriptionFilter{}).Matches("anything", "update") {
		t.Error("empty filter should match everything")
	}
}
