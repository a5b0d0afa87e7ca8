package syncqueue

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/driverhelper/internal/jsonpatch"
)

// Collection is the table holding pending queue items.
const Collection = "sync_queue"

// Action is the mutation kind a queue item asks the remote to apply.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

var (
	ErrInvalidItem   = errors.New("invalid queue item")
	ErrInvalidAction = errors.New("unknown queue action")
)

// ParseAction normalizes a textual action.
func ParseAction(value string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(value))) {
	case ActionCreate:
		return ActionCreate, nil
	case ActionUpdate:
		return ActionUpdate, nil
	case ActionDelete:
		return ActionDelete, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidAction, value)
	}
}

// Item is one pending local mutation awaiting remote acknowledgment.
// RecordID is the logical id of the entity the payload describes; at most one
// item exists per (Table, RecordID).
type Item struct {
	ID        string    `gorm:"column:id;primaryKey" json:"id"`
	Table     string    `gorm:"column:table_name;not null;uniqueIndex:idx_sync_queue_record" json:"table_name"`
	RecordID  string    `gorm:"column:record_id;not null;uniqueIndex:idx_sync_queue_record" json:"record_id"`
	Action    Action    `gorm:"column:action;not null" json:"action"`
	Payload   string    `gorm:"column:payload;not null" json:"payload"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

func (Item) TableName() string {
	return Collection
}

// Validate checks field presence and the action kind.
func (i Item) Validate() error {
	if strings.TrimSpace(i.ID) == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidItem)
	}
	if strings.TrimSpace(i.Table) == "" {
		return fmt.Errorf("%w: table_name is required", ErrInvalidItem)
	}
	if strings.TrimSpace(i.RecordID) == "" {
		return fmt.Errorf("%w: record_id is required", ErrInvalidItem)
	}
	if _, err := ParseAction(string(i.Action)); err != nil {
		return err
	}
	if i.CreatedAt.IsZero() {
		return fmt.Errorf("%w: created_at is required", ErrInvalidItem)
	}
	return nil
}

// supersede folds a newer mutation into the pending one for the same record.
// The result keeps next's id and timestamp so an acknowledgment for the
// pending id can never retire the newer intent.
func supersede(pending, next Item) (Item, error) {
	if next.Action != ActionUpdate {
		return next, nil
	}
	switch pending.Action {
	case ActionCreate, ActionUpdate:
		merged, err := jsonpatch.Merge(pending.Payload, next.Payload)
		if err != nil {
			return Item{}, fmt.Errorf("%w: %v", ErrInvalidItem, err)
		}
		next.Action = pending.Action
		next.Payload = merged
		return next, nil
	default:
		return next, nil
	}
}
