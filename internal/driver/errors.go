package driver

import (
	"errors"
	"fmt"

	"github.com/MarcoPoloResearchLab/driverhelper/internal/records"
	"github.com/MarcoPoloResearchLab/driverhelper/internal/storage"
	"github.com/MarcoPoloResearchLab/driverhelper/internal/syncclient"
	"github.com/MarcoPoloResearchLab/driverhelper/internal/syncqueue"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingTransport  = errors.New("sync transport is required")

	// ErrMissingAcknowledgment is reported in strict mode when the remote
	// answered without listing the ids it applied.
	ErrMissingAcknowledgment = errors.New("sync response omitted acknowledged ids")
)

// StoreError carries an "operation.reason" code and the underlying cause.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

func (e *StoreError) Code() string {
	return e.code
}

const (
	opStoreNew         = "driver.store.new"
	opLoad             = "driver.load"
	opRefreshQueue     = "driver.refresh_queue"
	opSetProfileName   = "driver.set_profile_name"
	opAddIncome        = "driver.add_income"
	opAddExpense       = "driver.add_expense"
	opAddNote          = "driver.add_note"
	opAddHealthRecord  = "driver.add_health_record"
	opAddCommunityPost = "driver.add_community_post"
	opAddReminder      = "driver.add_reminder"
	opToggleReminder   = "driver.toggle_reminder"
	opAddSOSContact    = "driver.add_sos_contact"
	opRecordSOSEvent   = "driver.record_sos_event"
	opSyncNow          = "driver.sync_now"
	opMarkSynced       = "driver.mark_synced"
)

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// failureReason names the error taxonomy bucket a cause belongs to.
func failureReason(err error) string {
	switch {
	case errors.Is(err, records.ErrInvalidRecord), errors.Is(err, syncqueue.ErrInvalidItem):
		return "invalid_record"
	case errors.Is(err, storage.ErrWriteRejected):
		return "write_rejected"
	case errors.Is(err, storage.ErrRecordNotFound):
		return "not_found"
	case errors.Is(err, syncclient.ErrSyncTransport):
		return "transport_failed"
	case errors.Is(err, syncclient.ErrSyncRemoteRejected):
		return "remote_rejected"
	case errors.Is(err, ErrMissingAcknowledgment):
		return "unacknowledged"
	default:
		return "persist_failed"
	}
}
