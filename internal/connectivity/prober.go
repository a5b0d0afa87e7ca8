// Package connectivity tracks whether the sync endpoint is reachable.
package connectivity

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	defaultProbeInterval = 5 * time.Second
	defaultProbeTimeout  = 3 * time.Second
)

var errMissingProbeURL = errors.New("probe url is required")

// Static reports a fixed connectivity state. The zero value is offline.
type Static bool

func (s Static) Online() bool {
	return bool(s)
}

type ProberConfig struct {
	URL        string
	Interval   time.Duration
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Prober polls a health URL and flips between online and offline. It starts
// offline until the first successful probe.
type Prober struct {
	url        string
	interval   time.Duration
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger

	online atomic.Bool

	mu          sync.Mutex
	transitions []chan bool
}

func NewProber(cfg ProberConfig) (*Prober, error) {
	if cfg.URL == "" {
		return nil, errMissingProbeURL
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Prober{
		url:        cfg.URL,
		interval:   interval,
		timeout:    timeout,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

func (p *Prober) Online() bool {
	return p.online.Load()
}

// Transitions returns a channel receiving the new state on every change.
// Slow receivers miss intermediate flips but always see a buffered value.
func (p *Prober) Transitions() <-chan bool {
	stream := make(chan bool, 1)
	p.mu.Lock()
	p.transitions = append(p.transitions, stream)
	p.mu.Unlock()
	return stream
}

// Check probes once and returns the resulting state.
func (p *Prober) Check(ctx context.Context) bool {
	online := p.probe(ctx)
	if previous := p.online.Swap(online); previous != online {
		if online {
			p.logger.Info("sync endpoint reachable", zap.String("url", p.url))
		} else {
			p.logger.Warn("sync endpoint unreachable", zap.String("url", p.url))
		}
		p.notify(online)
	}
	return online
}

// Run probes immediately and then on every interval until ctx is done.
func (p *Prober) Run(ctx context.Context) {
	p.Check(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.Check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Prober) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return false
	}
	response, err := p.httpClient.Do(request)
	if err != nil {
		p.logger.Debug("probe failed", zap.Error(err))
		return false
	}
	defer response.Body.Close()
	return response.StatusCode < http.StatusInternalServerError
}

func (p *Prober) notify(online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, stream := range p.transitions {
		select {
		case <-stream:
		default:
		}
		select {
		case stream <- online:
		default:
		}
	}
}
