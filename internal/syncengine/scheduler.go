// Package syncengine decides when the driver store attempts a sync.
package syncengine

import (
	"context"
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/driverhelper/internal/driver"
	"go.uber.org/zap"
)

// DefaultInterval is the periodic retry cadence while items are pending.
const DefaultInterval = 20 * time.Second

var errMissingSyncer = errors.New("syncer is required")

// Syncer is the store surface the scheduler drives.
type Syncer interface {
	SyncNow(ctx context.Context) error
	PendingCount() int
	Subscribe(ctx context.Context, kinds ...driver.EventKind) (<-chan driver.Event, func())
}

type Config struct {
	Syncer Syncer
	// Transitions delivers connectivity changes; true means the device came online.
	Transitions <-chan bool
	Interval    time.Duration
	Logger      *zap.Logger
}

// Scheduler triggers SyncNow once at start, on every tick while items are
// pending, whenever connectivity returns, and after each local mutation.
// Triggers run one at a time from a single loop.
type Scheduler struct {
	syncer      Syncer
	transitions <-chan bool
	interval    time.Duration
	logger      *zap.Logger
}

func New(cfg Config) (*Scheduler, error) {
	if cfg.Syncer == nil {
		return nil, errMissingSyncer
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		syncer:      cfg.Syncer,
		transitions: cfg.Transitions,
		interval:    interval,
		logger:      logger,
	}, nil
}

// Run blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	mutations, cleanup := s.syncer.Subscribe(ctx, driver.EventQueueGrown)
	defer cleanup()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.trigger(ctx, "startup")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.syncer.PendingCount() > 0 {
				s.trigger(ctx, "interval")
			}
		case online, ok := <-s.transitions:
			if !ok {
				s.transitions = nil
				continue
			}
			if online {
				s.trigger(ctx, "online")
			}
		case <-mutations:
			s.trigger(ctx, "mutation")
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context, reason string) {
	if err := s.syncer.SyncNow(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("scheduled sync failed", zap.String("trigger", reason), zap.Error(err))
		return
	}
	s.logger.Debug("scheduled sync finished", zap.String("trigger", reason), zap.Int("pending", s.syncer.PendingCount()))
}
