package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// RuleTiming says whether a rule runs before or after the target write.
type RuleTiming string

const (
	TimingBefore RuleTiming = "before"
	TimingAfter  RuleTiming = "after"
)

// RuleType discriminates the rule configuration payload.
type RuleType string

const (
	RuleTypeMapping         RuleType = "mapping"
	RuleTypeError           RuleType = "error"
	RuleTypeScript          RuleType = "script"
	RuleTypeSynchronization RuleType = "synchronization"
)

// MappingRuleConfig applies an extra mapping to the record.
type MappingRuleConfig struct {
	MappingRef string `json:"mapping" yaml:"mapping"`
}

// ErrorRuleConfig aborts the record with a configured error message.
type ErrorRuleConfig struct {
	Code    int    `json:"code" yaml:"code"`
	Message string `json:"message" yaml:"message"`
}

// ScriptRuleConfig hands the record to a named external script.
type ScriptRuleConfig struct {
	Script string `json:"script" yaml:"script"`
}

// SyncRuleConfig triggers a follow-up run of another synchronization.
type SyncRuleConfig struct {
	SynchronizationID string `json:"synchronization" yaml:"synchronization"`
}

// RuleConfig is the per-type rule payload. Exactly one variant is set,
// keyed by Type; unknown types are rejected at decode time rather than
// carried as opaque maps.
type RuleConfig struct {
	Type            RuleType
	Mapping         *MappingRuleConfig
	Error           *ErrorRuleConfig
	Script          *ScriptRuleConfig
	Synchronization *SyncRuleConfig
}

// UnmarshalJSON decodes the tagged union form:
//
//	{"type": "mapping", "mapping": "contact-map"}
func (rc *RuleConfig) UnmarshalJSON(data []byte) error {
	var head struct {
		Type RuleType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("decode rule config: %w", err)
	}

	switch head.Type {
	case RuleTypeMapping:
		var v MappingRuleConfig
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("decode mapping rule: %w", err)
		}
		if v.MappingRef == "" {
			return fmt.Errorf("mapping rule: missing mapping reference")
		}
		*rc = RuleConfig{Type: head.Type, Mapping: &v}
	case RuleTypeError:
		var v ErrorRuleConfig
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("decode error rule: %w", err)
		}
		if v.Message == "" {
			return fmt.Errorf("error rule: missing message")
		}
		*rc = RuleConfig{Type: head.Type, Error: &v}
	case RuleTypeScript:
		var v ScriptRuleConfig
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("decode script rule: %w", err)
		}
		if v.Script == "" {
			return fmt.Errorf("script rule: missing script")
		}
		*rc = RuleConfig{Type: head.Type, Script: &v}
	case RuleTypeSynchronization:
		var v SyncRuleConfig
		if err := json.Unmarshal(data, &v); err != nil {
			return fmt.Errorf("decode synchronization rule: %w", err)
		}
		if v.SynchronizationID == "" {
			return fmt.Errorf("synchronization rule: missing synchronization id")
		}
		*rc = RuleConfig{Type: head.Type, Synchronization: &v}
	case "":
		return fmt.Errorf("rule config: missing type")
	default:
		return fmt.Errorf("rule config: unknown type %q", head.Type)
	}
	return nil
}

// MarshalJSON encodes the active variant with its type tag.
func (rc RuleConfig) MarshalJSON() ([]byte, error) {
	out := map[string]any{"type": rc.Type}
	switch rc.Type {
	case RuleTypeMapping:
		if rc.Mapping != nil {
			out["mapping"] = rc.Mapping.MappingRef
		}
	case RuleTypeError:
		if rc.Error != nil {
			out["code"] = rc.Error.Code
			out["message"] = rc.Error.Message
		}
	case RuleTypeScript:
		if rc.Script != nil {
			out["script"] = rc.Script.Script
		}
	case RuleTypeSynchronization:
		if rc.Synchronization != nil {
			out["synchronization"] = rc.Synchronization.SynchronizationID
		}
	default:
		return nil, fmt.Errorf("rule config: unknown type %q", rc.Type)
	}
	return json.Marshal(out)
}

// Rule is a pre/post hook evaluated around the target write for its
// configured action. A "before" rule whose conditions evaluate false
// vetoes the record (skipped, not an error).
type Rule struct {
	ID                int64           `json:"id"`
	SynchronizationID string          `json:"synchronization_id"`
	Name              string          `json:"name"`
	Timing            RuleTiming      `json:"timing"`
	Action            Action          `json:"action"`
	Conditions        json.RawMessage `json:"conditions,omitempty"`
	Config            RuleConfig      `json:"config"`
	Enabled           bool            `json:"enabled"`
	CreatedAt         time.Time       `json:"created_at"`
}

// AppliesTo reports whether the rule fires for the given timing and action.
func (r *Rule) AppliesTo(timing RuleTiming, action Action) bool {
	return r.Enabled && r.Timing == timing && r.Action == action
}
