package driver

import (
	"context"
	"slices"

	"github.com/MarcoPoloResearchLab/driverhelper/internal/syncclient"
	"github.com/MarcoPoloResearchLab/driverhelper/internal/syncqueue"
	"go.uber.org/zap"
)

// SyncNow transmits the whole pending queue, oldest first, as one batch.
//
// It returns nil without doing anything when the queue is empty, the device
// is offline, or another attempt is already in flight. A failed attempt moves
// the store to SyncStatusError, leaves the queue intact, and returns the cause.
func (s *Store) SyncNow(ctx context.Context) error {
	if s.transport == nil {
		return newStoreError(opSyncNow, "missing_transport", errMissingTransport)
	}

	s.mu.Lock()
	if s.inFlight || len(s.state.queue) == 0 || !s.online() {
		s.mu.Unlock()
		return nil
	}
	s.inFlight = true
	s.state.syncStatus = SyncStatusSyncing
	s.state.errMessage = ""
	batch := slices.Clone(s.state.queue)
	s.mu.Unlock()
	s.publishStatus(SyncStatusSyncing)

	s.logger.Debug("sync started", zap.Int("items", len(batch)))
	ack, err := s.transport.Push(ctx, batch)
	if err != nil {
		return s.failSync(err)
	}

	ids, err := s.acknowledgedIDs(batch, ack)
	if err != nil {
		return s.failSync(err)
	}
	if err := s.markSynced(ctx, ids, true); err != nil {
		return s.failSync(err)
	}
	s.logger.Info("sync completed", zap.Int("sent", len(batch)), zap.Int("acknowledged", len(ids)))
	return nil
}

// MarkSynced removes acknowledged items durably, then from memory, and
// returns the store to idle with a fresh lastSyncAt. While a SyncNow attempt
// is in flight the items are removed but the status stays syncing.
func (s *Store) MarkSynced(ctx context.Context, ids []string) error {
	return s.markSynced(ctx, ids, false)
}

// markSynced with finishing set ends the caller's in-flight attempt.
func (s *Store) markSynced(ctx context.Context, ids []string, finishing bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	queue, err := syncqueue.New(s.adapter, s.logger)
	if err != nil {
		return newStoreError(opMarkSynced, "persist_failed", err)
	}
	if err := queue.RemoveAll(ctx, ids); err != nil {
		reason := failureReason(err)
		s.logError(opMarkSynced, reason, err, zap.Int("items", len(ids)))
		return newStoreError(opMarkSynced, reason, err)
	}

	acknowledged := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		acknowledged[id] = struct{}{}
	}
	now := s.clock().UTC()

	s.mu.Lock()
	remaining := make([]syncqueue.Item, 0, len(s.state.queue))
	for _, item := range s.state.queue {
		if _, ok := acknowledged[item.ID]; !ok {
			remaining = append(remaining, item)
		}
	}
	s.state.queue = remaining
	if finishing {
		s.inFlight = false
	}
	status := SyncStatusIdle
	if s.inFlight {
		status = SyncStatusSyncing
	} else {
		s.state.lastSyncAt = &now
		s.state.errMessage = ""
	}
	s.state.syncStatus = status
	pending := len(remaining)
	s.mu.Unlock()

	s.dispatcher.Publish(Event{Kind: EventQueueDrained, RecordIDs: ids, Pending: pending, At: now})
	if status == SyncStatusIdle {
		s.publishStatus(SyncStatusIdle)
	}
	return nil
}

// acknowledgedIDs picks the batch ids the remote confirmed. A response with no
// list at all acknowledges the whole batch unless strict acknowledgment is on.
func (s *Store) acknowledgedIDs(batch []syncqueue.Item, ack syncclient.Acknowledgment) ([]string, error) {
	// An explicit empty list acknowledges nothing; only an absent list falls back.
	if !ack.Listed {
		if s.strictAck {
			return nil, ErrMissingAcknowledgment
		}
		s.logger.Warn("sync response carried no acknowledgment list; treating batch as applied",
			zap.Int("items", len(batch)))
		ids := make([]string, 0, len(batch))
		for _, item := range batch {
			ids = append(ids, item.ID)
		}
		return ids, nil
	}

	sent := make(map[string]struct{}, len(batch))
	for _, item := range batch {
		sent[item.ID] = struct{}{}
	}
	ids := make([]string, 0, len(ack.IDs))
	for _, id := range ack.IDs {
		if _, ok := sent[id]; !ok {
			continue
		}
		delete(sent, id)
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Store) failSync(err error) error {
	s.mu.Lock()
	s.inFlight = false
	s.state.syncStatus = SyncStatusError
	s.state.errMessage = err.Error()
	pending := len(s.state.queue)
	s.mu.Unlock()

	s.logger.Warn("sync attempt failed", zap.Int("pending", pending), zap.Error(err))
	s.publishStatus(SyncStatusError)
	return newStoreError(opSyncNow, failureReason(err), err)
}

func (s *Store) publishStatus(status SyncStatus) {
	s.dispatcher.Publish(Event{Kind: EventStatusChanged, Status: status, Pending: s.PendingCount(), At: s.clock()})
}

// online treats a store without a connectivity source as always online.
func (s *Store) online() bool {
	if s.connectivity == nil {
		return true
	}
	return s.connectivity.Online()
}
