package models

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// fieldError reports a problem with one input field.
type fieldError struct {
	Field string
	Msg   string
}

// FieldErrors aggregates per-field validation failures so callers see
// every bad field at once instead of the first one.
type FieldErrors []fieldError

func (e FieldErrors) Error() string {
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fmt.Sprintf("%s: %s", fe.Field, fe.Msg)
	}
	return "invalid fields: " + strings.Join(parts, "; ")
}

func (e *FieldErrors) add(field, msg string) {
	*e = append(*e, fieldError{Field: field, Msg: msg})
}

func stringField(m map[string]any, key string, errs *FieldErrors) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		errs.add(key, fmt.Sprintf("expected string, got %T", v))
		return ""
	}
	return s
}

func boolField(m map[string]any, key string, def bool, errs *FieldErrors) bool {
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		errs.add(key, fmt.Sprintf("expected bool, got %T", v))
		return def
	}
	return b
}

func descriptorField(m map[string]any, key string, errs *FieldErrors) Descriptor {
	v, ok := m[key]
	if !ok || v == nil {
		errs.add(key, "required")
		return Descriptor{}
	}
	sub, ok := v.(map[string]any)
	if !ok {
		errs.add(key, fmt.Sprintf("expected object, got %T", v))
		return Descriptor{}
	}
	var subErrs FieldErrors
	d := Descriptor{
		Kind:     stringField(sub, "kind", &subErrs),
		Endpoint: stringField(sub, "endpoint", &subErrs),
	}
	if cfg, ok := sub["config"].(map[string]any); ok {
		d.Config = make(map[string]string, len(cfg))
		for k, cv := range cfg {
			if s, ok := cv.(string); ok {
				d.Config[k] = s
			} else {
				subErrs.add(key+".config."+k, fmt.Sprintf("expected string, got %T", cv))
			}
		}
	}
	for _, fe := range subErrs {
		errs.add(key+"."+fe.Field, fe.Msg)
	}
	if d.Endpoint == "" {
		errs.add(key+".endpoint", "required")
	}
	return d
}

// rejectUnknown records an error for every key not in allowed. Unknown
// fields are reported, never silently dropped.
func rejectUnknown(m map[string]any, allowed map[string]bool, errs *FieldErrors) {
	keys := make([]string, 0, len(m))
	for k := range m {
		if !allowed[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		errs.add(k, "unknown field")
	}
}

// SynchronizationFromMap builds a Synchronization from untyped input,
// validating required fields and rejecting unknown ones.
func SynchronizationFromMap(m map[string]any) (*Synchronization, error) {
	var errs FieldErrors
	rejectUnknown(m, map[string]bool{
		"id": true, "name": true, "description": true, "source": true,
		"target": true, "mapping": true, "interval": true, "enabled": true,
	}, &errs)

	s := &Synchronization{
		ID:          stringField(m, "id", &errs),
		Name:        stringField(m, "name", &errs),
		Description: stringField(m, "description", &errs),
		Source:      descriptorField(m, "source", &errs),
		Target:      descriptorField(m, "target", &errs),
		MappingRef:  stringField(m, "mapping", &errs),
		Interval:    stringField(m, "interval", &errs),
		Enabled:     boolField(m, "enabled", true, &errs),
	}
	if s.ID == "" {
		errs.add("id", "required")
	}
	if s.Name == "" {
		errs.add("name", "required")
	}
	if s.Interval != "" {
		if _, err := time.ParseDuration(s.Interval); err != nil {
			errs.add("interval", "not a valid duration")
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return s, nil
}

// SubscriptionFromMap builds an EventSubscription from untyped input,
// validating required fields and rejecting unknown ones.
func SubscriptionFromMap(m map[string]any) (*EventSubscription, error) {
	var errs FieldErrors
	rejectUnknown(m, map[string]bool{
		"reference": true, "style": true, "sink": true, "secret": true,
		"filter": true, "enabled": true,
	}, &errs)

	sub := &EventSubscription{
		Reference: stringField(m, "reference", &errs),
		Style:     SubscriptionStyle(stringField(m, "style", &errs)),
		Sink:      stringField(m, "sink", &errs),
		Secret:    stringField(m, "secret", &errs),
		Enabled:   boolField(m, "enabled", true, &errs),
	}
	if sub.Reference == "" {
		errs.add("reference", "required")
	}
	switch sub.Style {
	case StylePush:
		if sub.Sink == "" {
			errs.add("sink", "required for push subscriptions")
		}
	case StylePull:
		if sub.Sink != "" {
			errs.add("sink", "not allowed for pull subscriptions")
		}
	case "":
		errs.add("style", "required")
	default:
		errs.add("style", fmt.Sprintf("unknown style %q", sub.Style))
	}

	if v, ok := m["filter"]; ok && v != nil {
		f, ok := v.(map[string]any)
		if !ok {
			errs.add("filter", fmt.Sprintf("expected object, got %T", v))
		} else {
			var fErrs FieldErrors
			rejectUnknown(f, map[string]bool{"synchronizations": true, "actions": true}, &fErrs)
			sub.Filter.Synchronizations = stringList(f, "synchronizations", &fErrs)
			sub.Filter.Actions = stringList(f, "actions", &fErrs)
			for _, fe := range fErrs {
				errs.add("filter."+fe.Field, fe.Msg)
			}
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return sub, nil
}

func stringList(m map[string]any, key string, errs *FieldErrors) []string {
	v, ok := m[key]
	if !ok || v == nil {
		return nil
	}
	list, ok := v.([]any)
	if !ok {
		errs.add(key, fmt.Sprintf("expected list, got %T", v))
		return nil
	}
	out := make([]string, 0, len(list))
	for i, item := range list {
		s, ok := item.(string)
		if !ok {
			errs.add(fmt.Sprintf("%s[%d]", key, i), fmt.Sprintf("expected string, got %T", item))
			continue
		}
		out = append(out, s)
	}
	return out
}
