// Package blockhash implements the TTL-cached, single-flight-deduplicated
// blockhash manager.
package blockhash

import (
	"context"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/solana-tx-kit/txkit/pkg/rpcconn"
	"github.com/solana-tx-kit/txkit/pkg/txerrors"
)

// Record is a cached blockhash plus the last valid block height it
// attaches to and the time it was fetched.
type Record struct {
	Hash                 solana.Hash
	LastValidBlockHeight uint64
	FetchedAt            time.Time
}

// FetchFunc retrieves a fresh blockhash from the RPC layer. Callers
// typically supply a closure over a connection pool's WithFallback.
type FetchFunc func(ctx context.Context) (rpcconn.Blockhash, error)

// BlockHeightFunc retrieves the current block height.
type BlockHeightFunc func(ctx context.Context) (uint64, error)

// Config configures a Manager.
type Config struct {
	TTL               time.Duration
	RefreshInterval   time.Duration
}

// DefaultConfig mirrors spec.md §6's blockhash defaults.
func DefaultConfig() Config {
	return Config{
		TTL:             60 * time.Second,
		RefreshInterval: 30 * time.Second,
	}
}

// Manager holds at most one cached record and at most one in-flight
// fetch, deduplicated via singleflight.
type Manager struct {
	cfg    Config
	fetch  FetchFunc
	height BlockHeightFunc
	log    *logrus.Entry

	group singleflight.Group

	mu     sync.RWMutex
	cached *Record

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	stopped   chan struct{}
}

// New constructs a Manager. fetch and height are the external RPC
// collaborators it delegates to.
func New(fetch FetchFunc, height BlockHeightFunc, cfg Config, log *logrus.Entry) *Manager {
	d := DefaultConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = d.TTL
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = d.RefreshInterval
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{
		cfg:     cfg,
		fetch:   fetch,
		height:  height,
		log:     log,
		stopCh:  make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start schedules a periodic background refresh. Idempotent: calling it
// more than once has no additional effect.
func (m *Manager) Start() {
	select {
	case <-m.stopCh:
		return
	default:
	}
	m.startOnce.Do(func() {
		go m.refreshLoop()
	})
}

func (m *Manager) refreshLoop() {
	defer close(m.stopped)
	ticker := time.NewTicker(m.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if _, err := m.RefreshBlockhash(context.Background()); err != nil {
				m.log.WithError(err).Warn("background blockhash refresh failed; keeping stale cache")
			}
		}
	}
}

// GetBlockhash returns the cached record if present and not stale, else
// delegates to RefreshBlockhash.
func (m *Manager) GetBlockhash(ctx context.Context) (Record, error) {
	if rec, ok := m.GetCachedBlockhash(); ok {
		return rec, nil
	}
	return m.RefreshBlockhash(ctx)
}

// RefreshBlockhash fetches a new blockhash, deduplicating concurrent
// callers via singleflight: all N concurrent callers before the first
// fetch resolves receive the exact same record, and the underlying RPC
// is invoked exactly once.
func (m *Manager) RefreshBlockhash(ctx context.Context) (Record, error) {
	v, err, _ := m.group.Do("refresh", func() (interface{}, error) {
		bh, ferr := m.fetch(ctx)
		if ferr != nil {
			return nil, txerrors.New(txerrors.CodeBlockhashFetchFailed, "failed to fetch latest blockhash").WithCause(ferr)
		}
		rec := Record{
			Hash:                 bh.Hash,
			LastValidBlockHeight: bh.LastValidBlockHeight,
			FetchedAt:            time.Now(),
		}
		m.mu.Lock()
		m.cached = &rec
		m.mu.Unlock()
		return rec, nil
	})
	if err != nil {
		return Record{}, err
	}
	return v.(Record), nil
}

// IsBlockhashValid queries the current block height and reports whether
// it is still below the cached record's last valid block height. RPC
// failures return false rather than raising, per spec.
func (m *Manager) IsBlockhashValid(ctx context.Context) bool {
	rec, ok := m.GetCachedBlockhash()
	if !ok {
		return false
	}
	current, err := m.height(ctx)
	if err != nil {
		return false
	}
	return current < rec.LastValidBlockHeight
}

// GetCachedBlockhash returns the cached record if present and not stale.
// It never triggers a refresh.
func (m *Manager) GetCachedBlockhash() (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cached == nil {
		return Record{}, false
	}
	if time.Since(m.cached.FetchedAt) > m.cfg.TTL {
		return Record{}, false
	}
	return *m.cached, true
}

// Destroy cancels the background refresh interval. Idempotent.
func (m *Manager) Destroy() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
}
