// Package pool implements the multi-endpoint RPC connection pool:
// weighted-round-robin and latency-based selection, ordered failover, and
// the periodic health loop.
package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/solana-tx-kit/txkit/pkg/breaker"
	"github.com/solana-tx-kit/txkit/pkg/health"
	"github.com/solana-tx-kit/txkit/pkg/rpcconn"
	"github.com/solana-tx-kit/txkit/pkg/txerrors"
)

// Strategy selects how getConnection picks among available endpoints.
type Strategy string

const (
	StrategyWeightedRoundRobin Strategy = "weighted-round-robin"
	StrategyLatencyBased       Strategy = "latency-based"
)

// Endpoint is one configured RPC endpoint.
type Endpoint struct {
	Label  string
	Weight int
	Conn   rpcconn.Conn
}

// Config configures a Pool.
type Config struct {
	Strategy              Strategy
	HealthCheckInterval    time.Duration
	HealthCheckCommitment  rpcconn.Commitment
	Breaker                breaker.Config
}

// DefaultConfig mirrors spec.md §6's rpc defaults.
func DefaultConfig() Config {
	return Config{
		Strategy:             StrategyWeightedRoundRobin,
		HealthCheckInterval:   10 * time.Second,
		HealthCheckCommitment: rpcconn.CommitmentConfirmed,
		Breaker:               breaker.DefaultConfig(),
	}
}

// member pairs one endpoint with its tracker and resolved weight.
type member struct {
	label   string
	weight  int
	conn    rpcconn.Conn
	tracker *health.Tracker
}

// Pool dispatches across N endpoints, each wrapped in a health tracker
// and circuit breaker.
type Pool struct {
	cfg     Config
	log     *logrus.Entry
	members []*member

	rrCounter uint64

	mu       sync.Mutex
	stopCh   chan struct{}
	stopped  bool
	loopDone chan struct{}
}

// New constructs a Pool from a list of endpoints.
func New(endpoints []Endpoint, cfg Config, log *logrus.Entry) *Pool {
	d := DefaultConfig()
	if cfg.Strategy == "" {
		cfg.Strategy = d.Strategy
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = d.HealthCheckInterval
	}
	if cfg.HealthCheckCommitment == "" {
		cfg.HealthCheckCommitment = d.HealthCheckCommitment
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	if err := health.RegisterMetrics(nil); err != nil {
		log.WithError(err).Debug("health metrics already registered")
	}

	members := make([]*member, 0, len(endpoints))
	for _, ep := range endpoints {
		weight := ep.Weight
		if weight <= 0 {
			weight = 1
		}
		brk := breaker.New(cfg.Breaker)
		tr := health.New(ep.Label, ep.Conn, brk, cfg.HealthCheckCommitment, log)
		members = append(members, &member{label: ep.Label, weight: weight, conn: ep.Conn, tracker: tr})
	}

	p := &Pool{cfg: cfg, log: log, members: members, stopCh: make(chan struct{}), loopDone: make(chan struct{})}
	go p.healthLoop()
	return p
}

// availableMembers filters to members whose breaker currently allows
// execution.
func (p *Pool) availableMembers() []*member {
	out := make([]*member, 0, len(p.members))
	for _, m := range p.members {
		if m.tracker.Breaker.CanExecute() {
			out = append(out, m)
		}
	}
	return out
}

// GetConnection returns a single connection per the configured strategy.
// If no member is currently available, it logs a warning and falls back
// to the first configured member rather than failing here; withFallback
// is the path responsible for raising a fatal error.
func (p *Pool) GetConnection() rpcconn.Conn {
	avail := p.availableMembers()
	if len(avail) == 0 {
		p.log.Warn("no available endpoints; falling back to first configured endpoint")
		if len(p.members) == 0 {
			return nil
		}
		return p.members[0].conn
	}

	switch p.cfg.Strategy {
	case StrategyLatencyBased:
		return p.selectLatencyBased(avail).conn
	default:
		return p.selectWeightedRoundRobin(avail).conn
	}
}

func (p *Pool) selectWeightedRoundRobin(avail []*member) *member {
	totalWeight := 0
	for _, m := range avail {
		totalWeight += m.weight
	}
	if totalWeight == 0 {
		return avail[0]
	}

	i := atomic.AddUint64(&p.rrCounter, 1) - 1
	position := int(i % uint64(totalWeight))

	cumulative := 0
	for _, m := range avail {
		cumulative += m.weight
		if position < cumulative {
			return m
		}
	}
	return avail[len(avail)-1]
}

func (p *Pool) selectLatencyBased(avail []*member) *member {
	best := avail[0]
	bestEMA := best.tracker.LatencyEMA()
	for _, m := range avail[1:] {
		ema := m.tracker.LatencyEMA()
		if ema < bestEMA {
			best = m
			bestEMA = ema
		}
	}
	return best
}

// WithFallback tries fn against ordered candidates: available members
// first, else every member. On success it records latency on the
// member that served the call and returns. On total exhaustion it raises
// AllEndpointsUnhealthy wrapping the last failure.
func (p *Pool) WithFallback(ctx context.Context, fn func(ctx context.Context, conn rpcconn.Conn) error) error {
	candidates := p.availableMembers()
	if len(candidates) == 0 {
		candidates = p.members
	}
	if len(candidates) == 0 {
		return txerrors.New(txerrors.CodeAllEndpointsUnhealthy, "no endpoints configured")
	}

	var lastErr error
	for _, m := range candidates {
		start := time.Now()
		err := fn(ctx, m.conn)
		if err == nil {
			m.tracker.RecordSuccess(time.Since(start), nil)
			return nil
		}
		m.tracker.RecordFailure(err)
		lastErr = err
	}

	return txerrors.New(txerrors.CodeAllEndpointsUnhealthy, "all endpoints failed").WithCause(lastErr)
}

// Metrics returns a snapshot of every member's health metrics, in
// configuration order.
func (p *Pool) Metrics() []health.Metrics {
	out := make([]health.Metrics, len(p.members))
	for i, m := range p.members {
		out[i] = m.tracker.GetMetrics()
	}
	return out
}

// healthLoop runs every HealthCheckInterval: fans out a health check to
// every member in parallel, lets them settle, then computes the
// pool-wide highest slot and feeds it to every member's slot-lag update.
func (p *Pool) healthLoop() {
	defer close(p.loopDone)
	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.runHealthChecks()
		}
	}
}

func (p *Pool) runHealthChecks() {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.HealthCheckInterval)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range p.members {
		m := m
		g.Go(func() error {
			_ = m.tracker.HealthCheck(gctx)
			return nil
		})
	}
	_ = g.Wait()

	var highest uint64
	for _, m := range p.members {
		if s := m.tracker.LastSlot(); s > highest {
			highest = s
		}
	}
	for _, m := range p.members {
		m.tracker.UpdateSlotLag(highest)
	}
}

// Destroy stops the health loop. Idempotent.
func (p *Pool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	close(p.stopCh)
	<-p.loopDone
}
