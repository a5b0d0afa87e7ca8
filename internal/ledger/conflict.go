package ledger

import (
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/driverhelper/internal/jsonpatch"
	"github.com/MarcoPoloResearchLab/driverhelper/internal/syncqueue"
)

// resolveChange applies last-writer-wins on the item's created_at. Ties go to
// the incoming item, since the device sends intents in the order it made them.
// A rejected item is still acknowledged: the relay already holds a newer state.
func resolveChange(existing *SyncedRecord, item syncqueue.Item, device string, appliedAt time.Time) (Outcome, error) {
	changedAt := item.CreatedAt.UTC()
	receipt := &SyncReceipt{
		ItemID:     item.ID,
		Device:     device,
		Collection: item.Table,
		RecordID:   item.RecordID,
		Action:     item.Action,
		ReceivedAt: appliedAt,
	}

	if existing != nil && changedAt.Before(existing.ChangedAt) {
		stored := *existing
		return Outcome{ItemID: item.ID, Record: &stored, Receipt: receipt}, nil
	}

	updated := SyncedRecord{Collection: item.Table, RecordID: item.RecordID}
	if existing != nil {
		updated = *existing
	}

	switch item.Action {
	case syncqueue.ActionCreate:
		payload, err := jsonpatch.Merge("{}", item.Payload)
		if err != nil {
			return Outcome{}, fmt.Errorf("%w: %v", syncqueue.ErrInvalidItem, err)
		}
		updated.PayloadJSON = payload
		updated.IsDeleted = false
	case syncqueue.ActionUpdate:
		if existing != nil && existing.IsDeleted {
			stored := *existing
			return Outcome{ItemID: item.ID, Record: &stored, Receipt: receipt}, nil
		}
		base := updated.PayloadJSON
		if base == "" {
			base = "{}"
		}
		payload, err := jsonpatch.Merge(base, item.Payload)
		if err != nil {
			return Outcome{}, fmt.Errorf("%w: %v", syncqueue.ErrInvalidItem, err)
		}
		updated.PayloadJSON = payload
	case syncqueue.ActionDelete:
		updated.IsDeleted = true
		if updated.PayloadJSON == "" {
			updated.PayloadJSON = "{}"
		}
	default:
		return Outcome{}, fmt.Errorf("%w: %q", syncqueue.ErrInvalidAction, item.Action)
	}

	updated.ChangedAt = changedAt
	updated.LastWriterDevice = device
	updated.Version++
	if updated.Version <= 0 {
		updated.Version = 1
	}

	receipt.Accepted = true
	return Outcome{ItemID: item.ID, Accepted: true, Record: &updated, Receipt: receipt}, nil
}
