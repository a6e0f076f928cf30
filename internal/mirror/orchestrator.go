package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pvolkov/tradecopier/internal/domain"
)

// State is the orchestrator lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Runner is a long-lived loop supervised by the orchestrator.
type Runner interface {
	Run(ctx context.Context) error
}

// StreamRunner is the websocket supervisor, which additionally reports its
// reconnect count.
type StreamRunner interface {
	Runner
	Reconnects() int64
}

// TimeProbe checks venue connectivity by fetching the server clock.
type TimeProbe interface {
	ServerTime(ctx context.Context) (time.Time, error)
}

// Alerter delivers operational alarms. Implementations must not block for
// long; delivery failures are the implementation's problem.
type Alerter interface {
	Alert(ctx context.Context, event, message string)
}

// EventStreamExhausted is the alarm raised when the websocket gives up its
// reconnect budget.
const EventStreamExhausted = "stream_exhausted"

// OrchestratorConfig holds supervision parameters.
type OrchestratorConfig struct {
	// ProbeTimeout bounds each connectivity probe at startup.
	ProbeTimeout time.Duration
	// StreamFloorInterval is the pause before restarting an exhausted stream.
	StreamFloorInterval time.Duration
}

// Orchestrator owns the lifecycle of the mirroring loops: connectivity
// probing at startup, supervision while running, and an orderly shutdown.
type Orchestrator struct {
	probes   map[domain.AccountRole]TimeProbe
	stream   StreamRunner
	runners  []Runner
	counters *Counters
	alerter  Alerter
	cfg      OrchestratorConfig
	logger   *slog.Logger

	state    atomic.Int32
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// NewOrchestrator creates an Orchestrator. stream may be nil when no
// websocket is used; alerter may be nil.
func NewOrchestrator(probes map[domain.AccountRole]TimeProbe, stream StreamRunner, runners []Runner, counters *Counters, alerter Alerter, cfg OrchestratorConfig, logger *slog.Logger) *Orchestrator {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.StreamFloorInterval <= 0 {
		cfg.StreamFloorInterval = 2 * time.Minute
	}
	return &Orchestrator{
		probes:   probes,
		stream:   stream,
		runners:  runners,
		counters: counters,
		alerter:  alerter,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "orchestrator")),
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Counters returns a snapshot of engine activity.
func (o *Orchestrator) Counters() CounterSnapshot {
	var reconnects int64
	if o.stream != nil {
		reconnects = o.stream.Reconnects()
	}
	return o.counters.Snapshot(reconnects)
}

// Run probes both venues, starts every loop, and blocks until ctx is
// cancelled or Stop is called. It returns ErrConnectivity without starting
// anything when a probe fails. Run may be called at most once.
func (o *Orchestrator) Run(ctx context.Context) error {
	if !o.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("orchestrator: already started (state %s)", o.State())
	}

	if err := o.probe(ctx); err != nil {
		o.state.Store(int32(StateStopped))
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	defer cancel()

	g, gCtx := errgroup.WithContext(runCtx)
	if o.stream != nil {
		g.Go(func() error { return o.superviseStream(gCtx) })
	}
	for _, r := range o.runners {
		r := r
		g.Go(func() error { return r.Run(gCtx) })
	}

	o.logger.Info("engine running", slog.Int("loops", len(o.runners)))
	err := g.Wait()

	o.state.Store(int32(StateStopped))
	snap := o.Counters()
	o.logger.Info("engine stopped",
		slog.Int64("events_seen", snap.EventsSeen),
		slog.Int64("replicated", snap.Replicated),
		slog.Int64("failed", snap.Failed),
		slog.Int64("duplicates", snap.Duplicates),
		slog.Int64("reconnects", snap.Reconnects),
	)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Stop requests shutdown. It is safe to call multiple times and before Run
// has spawned anything.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		o.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
		if o.cancel != nil {
			o.cancel()
		}
	})
}

// probe verifies both accounts answer before any loop starts, so a dead
// venue or bad credentials fail fast instead of surfacing mid-replication.
func (o *Orchestrator) probe(ctx context.Context) error {
	for account, p := range o.probes {
		probeCtx, cancel := context.WithTimeout(ctx, o.cfg.ProbeTimeout)
		serverTime, err := p.ServerTime(probeCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("%w: %s account: %v", domain.ErrConnectivity, account, err)
		}
		o.logger.Info("venue reachable",
			slog.String("account", string(account)),
			slog.Time("server_time", serverTime))
	}
	return nil
}

// superviseStream keeps the websocket alive for the life of the engine. When
// the stream client exhausts its reconnect budget the orchestrator raises an
// alarm and keeps retrying at a floor interval rather than giving up.
func (o *Orchestrator) superviseStream(ctx context.Context) error {
	for {
		err := o.stream.Run(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !errors.Is(err, domain.ErrExhausted) {
			return err
		}

		o.logger.Error("stream exhausted reconnect budget, backing off",
			slog.Duration("floor", o.cfg.StreamFloorInterval))
		if o.alerter != nil {
			o.alerter.Alert(ctx, EventStreamExhausted, fmt.Sprintf("source stream down, retrying every %s", o.cfg.StreamFloorInterval))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.cfg.StreamFloorInterval):
		}
	}
}
