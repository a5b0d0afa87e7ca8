// Package ledger reconciles device sync batches into the relay's record store.
package ledger

import (
	"time"

	"github.com/MarcoPoloResearchLab/driverhelper/internal/syncqueue"
)

// SyncedRecord is the relay's latest view of one device record.
type SyncedRecord struct {
	Collection       string    `gorm:"column:table_name;primaryKey;size:64;not null" json:"table_name"`
	RecordID         string    `gorm:"column:record_id;primaryKey;size:190;not null" json:"record_id"`
	PayloadJSON      string    `gorm:"column:payload_json;type:text;not null" json:"payload"`
	IsDeleted        bool      `gorm:"column:is_deleted;not null;default:false" json:"is_deleted"`
	Version          int64     `gorm:"column:version;not null;default:1" json:"version"`
	ChangedAt        time.Time `gorm:"column:changed_at;not null;index" json:"changed_at"`
	LastWriterDevice string    `gorm:"column:last_writer_device;size:190;not null;default:''" json:"last_writer_device"`
}

func (SyncedRecord) TableName() string {
	return "synced_records"
}

// SyncReceipt remembers every queue item id the relay has processed, so a
// batch retried after a lost response is acknowledged without reapplying.
type SyncReceipt struct {
	ItemID     string           `gorm:"column:item_id;primaryKey;size:190;not null"`
	ChangeID   string           `gorm:"column:change_id;size:190;not null"`
	Device     string           `gorm:"column:device;size:190;not null;index"`
	Collection string           `gorm:"column:table_name;size:64;not null"`
	RecordID   string           `gorm:"column:record_id;size:190;not null"`
	Action     syncqueue.Action `gorm:"column:action;not null"`
	Accepted   bool             `gorm:"column:accepted;not null"`
	ReceivedAt time.Time        `gorm:"column:received_at;not null"`
}

func (SyncReceipt) TableName() string {
	return "sync_receipts"
}

// Outcome is the decision for one queue item.
type Outcome struct {
	ItemID   string
	Accepted bool
	Replayed bool
	Record   *SyncedRecord
	Receipt  *SyncReceipt
}

// BatchResult lists every item id the device may drop from its queue.
type BatchResult struct {
	SyncedIDs []string
	Outcomes  []Outcome
}
