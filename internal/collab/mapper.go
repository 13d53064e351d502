// Package collab provides the default collaborator implementations:
// a stored-mapping field mapper and a field-equality rule evaluator.
package collab

import (
	"context"
	"fmt"

	"github.com/marcus/syncbridge/internal/engine"
	"github.com/marcus/syncbridge/internal/models"
)

// MappingStore resolves named mappings.
type MappingStore interface {
	GetMapping(name string) (*models.Mapping, error)
}

// FieldMapper reshapes records using stored field mappings. With an
// empty mapping reference the record passes through unchanged.
type FieldMapper struct {
	Store MappingStore
}

var _ engine.Mapper = (*FieldMapper)(nil)

// Transform applies the named mapping: each target field is copied from
// its configured origin field, and with Passthrough set, unmapped
// origin fields are carried over as-is.
func (m *FieldMapper) Transform(ctx context.Context, input map[string]any, mappingRef string) (map[string]any, error) {
	if mappingRef == "" {
		return input, nil
	}

	mapping, err := m.Store.GetMapping(mappingRef)
	if err != nil {
		return nil, fmt.Errorf("mapping %s: %w", mappingRef, err)
	}

	out := make(map[string]any, len(mapping.Fields))
	if mapping.Passthrough {
		mapped := make(map[string]bool, len(mapping.Fields))
		for _, originField := range mapping.Fields {
			mapped[originField] = true
		}
		for k, v := range input {
			if !mapped[k] {
				out[k] = v
			}
		}
	}
	for targetField, originField := range mapping.Fields {
		if v, ok := input[originField]; ok {
			out[targetField] = v
		}
	}
	return out, nil
}
