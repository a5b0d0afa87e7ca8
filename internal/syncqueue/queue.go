package syncqueue

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/driverhelper/internal/storage"
	"go.uber.org/zap"
)

const oldestFirst = "created_at ASC, rowid ASC"

var errMissingAdapter = errors.New("storage adapter is required")

// EnqueueResult describes the durable effect of Enqueue.
type EnqueueResult struct {
	// Stored is the item as persisted, after folding in any superseded item.
	Stored Item
	// SupersededID is the id of the pending item that Stored replaced, or "".
	SupersededID string
}

// Queue is the durable log of pending mutations.
type Queue struct {
	adapter *storage.Adapter
	logger  *zap.Logger
}

// New returns a queue persisting through adapter. Pass a transactional adapter
// to make queue writes commit together with entity writes.
func New(adapter *storage.Adapter, logger *zap.Logger) (*Queue, error) {
	if adapter == nil {
		return nil, errMissingAdapter
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{adapter: adapter, logger: logger}, nil
}

// Enqueue durably appends item. A pending item for the same (table_name,
// record_id) is removed and folded into the new one.
func (q *Queue) Enqueue(ctx context.Context, item Item) (EnqueueResult, error) {
	if err := item.Validate(); err != nil {
		return EnqueueResult{}, err
	}

	result := EnqueueResult{Stored: item}
	err := q.adapter.Transaction(ctx, func(tx *storage.Adapter) error {
		pending, err := storage.FindWhere[Item](ctx, tx, Collection, map[string]any{
			"table_name": item.Table,
			"record_id":  item.RecordID,
		})
		if err != nil {
			return err
		}
		for _, existing := range pending {
			merged, err := supersede(existing, result.Stored)
			if err != nil {
				return err
			}
			if err := tx.Delete(ctx, Collection, existing.ID); err != nil {
				return err
			}
			result.Stored = merged
			result.SupersededID = existing.ID
		}
		return tx.Insert(ctx, Collection, &result.Stored)
	})
	if err != nil {
		return EnqueueResult{}, err
	}

	if result.SupersededID != "" {
		q.logger.Debug("queue item superseded",
			zap.String("table_name", item.Table),
			zap.String("record_id", item.RecordID),
			zap.String("superseded_id", result.SupersededID),
			zap.String("queue_item_id", result.Stored.ID))
	}
	return result, nil
}

// ReadAll returns pending items oldest first.
func (q *Queue) ReadAll(ctx context.Context) ([]Item, error) {
	return storage.ReadAllOrdered[Item](ctx, q.adapter, Collection, oldestFirst)
}

// Remove deletes one item. Removing an absent id is not an error.
func (q *Queue) Remove(ctx context.Context, id string) error {
	return q.adapter.Delete(ctx, Collection, id)
}

// RemoveAll deletes every listed item in one write.
func (q *Queue) RemoveAll(ctx context.Context, ids []string) error {
	return q.adapter.Delete(ctx, Collection, ids...)
}
