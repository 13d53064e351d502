package engine

import (
	"fmt"
	"log/slog"

	"github.com/marcus/syncbridge/internal/models"
)

// OrphanHandler retires contract sides whose external object
// disappeared. A contract only ever loses the side that vanished; the
// row itself is deleted once both sides are empty, since a contract
// with no identifiers ties nothing to nothing.
type OrphanHandler struct {
	contracts ContractStore
	logger    *slog.Logger
}

func NewOrphanHandler(contracts ContractStore, logger *slog.Logger) *OrphanHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrphanHandler{contracts: contracts, logger: logger}
}

// RetireOrigin clears the origin side of the contract for one
// synchronization, after a full enumeration no longer produced the
// origin record. Returns the contracts it touched.
func (h *OrphanHandler) RetireOrigin(syncID, originID string) ([]models.Contract, error) {
	c, err := h.contracts.GetContractByOrigin(syncID, originID)
	if err != nil {
		return nil, fmt.Errorf("load contract for origin %s: %w", originID, err)
	}
	if c == nil {
		return nil, nil
	}
	retired, err := h.retireSide(c, originID)
	if err != nil {
		return nil, err
	}
	return []models.Contract{*retired}, nil
}

// HandleObjectRemoval reacts to an external object being removed,
// wherever it appears: every contract referencing the identifier, on
// either side and in any synchronization, loses that side.
func (h *OrphanHandler) HandleObjectRemoval(objectID string) ([]models.Contract, error) {
	matches, err := h.contracts.FindContractsByObject(objectID)
	if err != nil {
		return nil, fmt.Errorf("find contracts for object %s: %w", objectID, err)
	}

	var touched []models.Contract
	for i := range matches {
		retired, err := h.retireSide(&matches[i], objectID)
		if err != nil {
			return touched, err
		}
		touched = append(touched, *retired)
	}
	return touched, nil
}

// retireSide clears whichever side of the contract carries the removed
// identifier, and deletes the row when both sides end up empty.
func (h *OrphanHandler) retireSide(c *models.Contract, objectID string) (*models.Contract, error) {
	cleared := *c
	if cleared.OriginID == objectID {
		cleared.OriginID = ""
		cleared.OriginHash = ""
	}
	if cleared.TargetID == objectID {
		cleared.TargetID = ""
		cleared.TargetHash = ""
	}

	if cleared.Empty() {
		if err := h.contracts.DeleteContract(c.ID); err != nil {
			return nil, fmt.Errorf("delete emptied contract %s: %w", c.UUID, err)
		}
		h.logger.Info("contract deleted, both sides empty", "contract", c.UUID, "sync", c.SynchronizationID)
		return &cleared, nil
	}

	if err := h.contracts.UpsertContract(&cleared); err != nil {
		return nil, fmt.Errorf("clear contract side %s: %w", c.UUID, err)
	}
	h.logger.Info("contract side retired", "contract", c.UUID, "sync", c.SynchronizationID, "object", objectID)
	return &cleared, nil
}
