package syncengine

import (
	"encoding/json"

	"points_ledger/internal/domain"
	"points_ledger/internal/ledger"
)

// deltaPayload is the queued form of a ledger delta.
type deltaPayload struct {
	AccountID   string         `json:"account_id"`
	Coins       int64          `json:"coins"`
	XP          int64          `json:"xp"`
	Reason      string         `json:"reason"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	OperationID string         `json:"operation_id"`
}

func encodeDelta(d ledger.Delta) (json.RawMessage, error) {
	return json.Marshal(deltaPayload{
		AccountID:   d.AccountID,
		Coins:       d.Coins,
		XP:          d.XP,
		Reason:      d.Reason,
		Metadata:    d.Metadata,
		OperationID: d.OperationID,
	})
}

func decodeDelta(raw json.RawMessage) (ledger.Delta, error) {
	var p deltaPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return ledger.Delta{}, domain.Validation("malformed delta payload: %v", err)
	}
	return ledger.Delta{
		AccountID:   p.AccountID,
		Coins:       p.Coins,
		XP:          p.XP,
		Reason:      p.Reason,
		Metadata:    p.Metadata,
		OperationID: p.OperationID,
	}, nil
}

// Merge applies the pending queued deltas on top of the last authoritative
// snapshot, clamping at zero after each step as the ledger does. Fields other
// than coins, xp and level always come from the authoritative snapshot.
func Merge(authoritative *domain.Account, pending []domain.Operation) *domain.Account {
	if authoritative == nil {
		return nil
	}
	eff := authoritative.Clone()
	for _, op := range pending {
		if op.Type != domain.OpUpdate || op.Path != domain.AccountPath(eff.ID) {
			continue
		}
		d, err := decodeDelta(op.Payload)
		if err != nil {
			continue
		}
		if eff.LastOperationID != nil && *eff.LastOperationID == d.OperationID {
			// already applied by the store, the queue entry just has not been removed yet
			continue
		}
		eff.Coins = max(0, eff.Coins+d.Coins)
		eff.XP = max(0, eff.XP+d.XP)
	}
	eff.Level = domain.LevelFor(eff.XP)
	return eff
}
