// Package driver holds the device-side state store. Every mutation is written
// to local storage and the sync queue in one transaction before it becomes
// visible in memory, and SyncNow drains the queue against the remote endpoint.
package driver

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/driverhelper/internal/records"
	"github.com/MarcoPoloResearchLab/driverhelper/internal/repositories"
	"github.com/MarcoPoloResearchLab/driverhelper/internal/storage"
	"github.com/MarcoPoloResearchLab/driverhelper/internal/syncclient"
	"github.com/MarcoPoloResearchLab/driverhelper/internal/syncqueue"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var noOpLogger = zap.NewNop()

// SyncStatus is the sync engine state.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusError   SyncStatus = "error"
)

// Label is the user-facing description of the status.
func (s SyncStatus) Label() string {
	switch s {
	case SyncStatusSyncing:
		return "Syncing with cloud…"
	case SyncStatusError:
		return "Sync failed. Retrying…"
	default:
		return "All changes synced"
	}
}

// Summary is derived from the in-memory collections and never persisted.
type Summary struct {
	TodayIncome      float64 `json:"todayIncome"`
	TodayExpenses    float64 `json:"todayExpenses"`
	PendingReminders int     `json:"pendingReminders"`
}

// Snapshot is a read-only copy of the store state.
type Snapshot struct {
	Ready       bool
	Profile     *records.DriverProfile
	Earnings    []records.MoneyEntry
	Expenses    []records.MoneyEntry
	Notes       []records.Note
	Health      []records.HealthMetric
	Community   []records.CommunityPost
	Reminders   []records.Reminder
	SOSContacts []records.SOSContact
	SOSEvents   []records.SOSEvent
	Queue       []syncqueue.Item
	SyncStatus  SyncStatus
	LastSyncAt  *time.Time
	Error       string
	Summary     Summary
}

// Transport delivers one ordered batch of queue items to the remote.
type Transport interface {
	Push(ctx context.Context, items []syncqueue.Item) (syncclient.Acknowledgment, error)
}

// Connectivity reports whether the device currently has network access.
type Connectivity interface {
	Online() bool
}

type StoreConfig struct {
	Database     *gorm.DB
	Transport    Transport
	Connectivity Connectivity
	Clock        func() time.Time
	// Location decides which calendar day counts as "today". Defaults to time.Local.
	Location   *time.Location
	IDProvider IDProvider
	// StrictAcknowledgment refuses to treat a response without syncedIds as a full acknowledgment.
	StrictAcknowledgment bool
	Logger               *zap.Logger
}

type state struct {
	ready       bool
	profile     *records.DriverProfile
	earnings    []records.MoneyEntry
	expenses    []records.MoneyEntry
	notes       []records.Note
	health      []records.HealthMetric
	community   []records.CommunityPost
	reminders   []records.Reminder
	sosContacts []records.SOSContact
	sosEvents   []records.SOSEvent
	queue       []syncqueue.Item
	syncStatus  SyncStatus
	lastSyncAt  *time.Time
	errMessage  string
}

type Store struct {
	adapter      *storage.Adapter
	transport    Transport
	connectivity Connectivity
	clock        func() time.Time
	location     *time.Location
	idProvider   IDProvider
	strictAck    bool
	logger       *zap.Logger
	dispatcher   *Dispatcher

	// writeMu orders durable writes so memory is updated in commit order.
	writeMu sync.Mutex
	mu      sync.RWMutex
	state   state
	// inFlight is set by SyncNow for the whole attempt and guards against
	// overlapping transmissions. Guarded by mu.
	inFlight bool
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newStoreError(opStoreNew, "missing_id_provider", errMissingIDProvider)
	}
	adapter, err := storage.NewAdapter(cfg.Database)
	if err != nil {
		return nil, newStoreError(opStoreNew, "missing_database", err)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	location := cfg.Location
	if location == nil {
		location = time.Local
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Store{
		adapter:      adapter,
		transport:    cfg.Transport,
		connectivity: cfg.Connectivity,
		clock:        clock,
		location:     location,
		idProvider:   cfg.IDProvider,
		strictAck:    cfg.StrictAcknowledgment,
		logger:       logger,
		dispatcher:   NewDispatcher(),
		state:        state{syncStatus: SyncStatusIdle},
	}, nil
}

// Load hydrates every collection and the queue from durable storage. Calling
// it again re-reads everything; sync status and lastSyncAt are kept.
func (s *Store) Load(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	loaded, err := s.readState(ctx)
	if err != nil {
		s.logError(opLoad, "read_failed", err)
		return newStoreError(opLoad, "read_failed", err)
	}

	s.mu.Lock()
	loaded.ready = true
	loaded.syncStatus = s.state.syncStatus
	loaded.lastSyncAt = s.state.lastSyncAt
	loaded.errMessage = s.state.errMessage
	s.state = loaded
	pending := len(loaded.queue)
	s.mu.Unlock()

	s.logger.Debug("store loaded", zap.Int("pending", pending))
	s.dispatcher.Publish(Event{Kind: EventLoaded, Pending: pending, At: s.clock()})
	return nil
}

func (s *Store) readState(ctx context.Context) (state, error) {
	repos, err := repositories.New(s.adapter)
	if err != nil {
		return state{}, err
	}
	queue, err := syncqueue.New(s.adapter, s.logger)
	if err != nil {
		return state{}, err
	}

	var loaded state
	if loaded.profile, err = repos.Profiles.Get(ctx); err != nil {
		return state{}, err
	}
	if loaded.earnings, err = repos.Money.All(ctx, records.CollectionEarnings); err != nil {
		return state{}, err
	}
	if loaded.expenses, err = repos.Money.All(ctx, records.CollectionExpenses); err != nil {
		return state{}, err
	}
	if loaded.notes, err = repos.Notes.All(ctx); err != nil {
		return state{}, err
	}
	if loaded.health, err = repos.Health.All(ctx); err != nil {
		return state{}, err
	}
	if loaded.community, err = repos.Community.All(ctx); err != nil {
		return state{}, err
	}
	if loaded.reminders, err = repos.Reminders.All(ctx); err != nil {
		return state{}, err
	}
	if loaded.sosContacts, err = repos.SOS.Contacts(ctx); err != nil {
		return state{}, err
	}
	if loaded.sosEvents, err = repos.SOS.Events(ctx); err != nil {
		return state{}, err
	}
	if loaded.queue, err = queue.ReadAll(ctx); err != nil {
		return state{}, err
	}
	return loaded, nil
}

// RefreshQueue re-reads only the sync queue from durable storage.
func (s *Store) RefreshQueue(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	queue, err := syncqueue.New(s.adapter, s.logger)
	if err != nil {
		return newStoreError(opRefreshQueue, "read_failed", err)
	}
	items, err := queue.ReadAll(ctx)
	if err != nil {
		s.logError(opRefreshQueue, "read_failed", err)
		return newStoreError(opRefreshQueue, "read_failed", err)
	}
	s.mu.Lock()
	s.state.queue = items
	s.mu.Unlock()
	return nil
}

// Snapshot copies the current state. Callers may keep and modify the result.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := Snapshot{
		Ready:       s.state.ready,
		Earnings:    slices.Clone(s.state.earnings),
		Expenses:    slices.Clone(s.state.expenses),
		Notes:       slices.Clone(s.state.notes),
		Health:      slices.Clone(s.state.health),
		Community:   slices.Clone(s.state.community),
		Reminders:   slices.Clone(s.state.reminders),
		SOSContacts: slices.Clone(s.state.sosContacts),
		SOSEvents:   slices.Clone(s.state.sosEvents),
		Queue:       slices.Clone(s.state.queue),
		SyncStatus:  s.state.syncStatus,
		Error:       s.state.errMessage,
		Summary:     s.summaryLocked(),
	}
	if s.state.profile != nil {
		profile := *s.state.profile
		snapshot.Profile = &profile
	}
	if s.state.lastSyncAt != nil {
		lastSyncAt := *s.state.lastSyncAt
		snapshot.LastSyncAt = &lastSyncAt
	}
	return snapshot
}

func (s *Store) Ready() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ready
}

func (s *Store) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summaryLocked()
}

// PendingCount is the number of queue items not yet acknowledged.
func (s *Store) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.queue)
}

func (s *Store) SyncStatus() SyncStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.syncStatus
}

func (s *Store) LastSyncAt() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.lastSyncAt == nil {
		return nil
	}
	lastSyncAt := *s.state.lastSyncAt
	return &lastSyncAt
}

// SetError replaces the user-visible error message; an empty message clears it.
func (s *Store) SetError(message string) {
	s.mu.Lock()
	s.state.errMessage = message
	s.mu.Unlock()
}

// Subscribe streams store events of the given kinds (all kinds when none are given).
func (s *Store) Subscribe(ctx context.Context, kinds ...EventKind) (<-chan Event, func()) {
	return s.dispatcher.Subscribe(ctx, kinds...)
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("driver store error", attrs...)
}
