package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pvolkov/tradecopier/internal/domain"
	"github.com/pvolkov/tradecopier/internal/platform/binance"
)

// Pub/Sub channels the executor publishes replication outcomes on.
const (
	ChannelTradeMirrored = "signals:trade_mirrored"
	ChannelTradeFailed   = "signals:trade_failed"
)

// EventTradeFailed is the alarm raised when a replication reaches its failed
// terminal state.
const EventTradeFailed = "replication_failed"

// orderRateKey is the rate limiter key shared by all target order placement.
const orderRateKey = "target_orders"

// terminalGrace bounds the detached context used to record an outcome after
// the run context is cancelled, so a shutdown mid-replication cannot leave a
// record stuck in pending.
const terminalGrace = 10 * time.Second

// drainGrace bounds how long a stopping executor keeps replicating events
// that were admitted but still queued.
const drainGrace = 30 * time.Second

// OrderPlacer places market orders on the target account.
type OrderPlacer interface {
	NewMarketOrder(ctx context.Context, symbol string, side domain.Side, qty decimal.Decimal, clientOrderID string) (binance.OrderAck, error)
}

// ExecutorConfig holds order placement pacing and retry parameters.
type ExecutorConfig struct {
	InterOrderDelay time.Duration
	Retries         int
	RetryDelay      time.Duration
	RateLimit       int
	RateWindow      time.Duration
	QueueSize       int
}

// Executor replicates admitted source fills onto the target account. A single
// worker drains the queue so orders reach the venue in admission order.
type Executor struct {
	orders   OrderPlacer
	store    domain.ReplicationStore
	limiter  domain.RateLimiter
	bus      domain.SignalBus
	alerter  Alerter
	counters *Counters
	cfg      ExecutorConfig
	logger   *slog.Logger
	queue    chan domain.TradeEvent
}

// NewExecutor creates an Executor. bus, limiter and alerter may be nil, in
// which case signal publishing, distributed rate limiting and operator
// alarms are skipped.
func NewExecutor(orders OrderPlacer, store domain.ReplicationStore, limiter domain.RateLimiter, bus domain.SignalBus, alerter Alerter, counters *Counters, cfg ExecutorConfig, logger *slog.Logger) *Executor {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Executor{
		orders:   orders,
		store:    store,
		limiter:  limiter,
		bus:      bus,
		alerter:  alerter,
		counters: counters,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "executor")),
		queue:    make(chan domain.TradeEvent, cfg.QueueSize),
	}
}

// Submit admits a source fill and, when it has not been seen before,
// enqueues it for replication. Admission is synchronous: once Submit returns
// nil the fill is durably recorded, so producers may advance their own state
// (the poller's cursor) without risking a lost event. Enqueueing blocks
// while the queue is full, so backpressure reaches the producers instead of
// dropping fills.
func (e *Executor) Submit(ctx context.Context, ev domain.TradeEvent) error {
	e.counters.EventsSeen.Add(1)

	result, err := e.store.Admit(ctx, ev)
	if err != nil {
		return fmt.Errorf("executor: admit %s: %w", ev.SourceTradeID, err)
	}
	if result == domain.AlreadyProcessed {
		e.counters.Duplicates.Add(1)
		e.logger.Debug("duplicate fill skipped", slog.String("trade_id", ev.SourceTradeID))
		return nil
	}
	e.counters.Admitted.Add(1)

	select {
	case e.queue <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run replicates queued fills until ctx is cancelled, then drains whatever
// was admitted but not yet placed before returning.
func (e *Executor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			e.drain(ctx)
			return ctx.Err()
		}
		select {
		case <-ctx.Done():
			e.drain(ctx)
			return ctx.Err()
		case ev := <-e.queue:
			e.handle(ctx, ev)
		}
	}
}

// drain replicates the remaining queued events under a bounded grace period
// detached from the cancelled run context. Every queued event already has a
// pending record; abandoning it here would strand that record forever, since
// neither producer will re-deliver an admitted trade.
func (e *Executor) drain(ctx context.Context) {
	graceCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), drainGrace)
	defer cancel()
	for {
		select {
		case ev := <-e.queue:
			e.logger.Info("draining queued fill on shutdown",
				slog.String("trade_id", ev.SourceTradeID))
			e.handle(graceCtx, ev)
		default:
			return
		}
	}
}

func (e *Executor) handle(ctx context.Context, ev domain.TradeEvent) {
	outcome := e.replicate(ctx, ev)

	// The terminal write must survive run-context cancellation or the record
	// stays pending forever.
	completeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminalGrace)
	defer cancel()
	if err := e.store.Complete(completeCtx, ev.SourceTradeID, outcome); err != nil {
		e.logger.Error("recording outcome failed",
			slog.String("trade_id", ev.SourceTradeID),
			slog.String("error", err.Error()))
		return
	}

	switch outcome.Status {
	case domain.ReplicationSuccess:
		e.counters.Replicated.Add(1)
		e.logger.Info("trade mirrored",
			slog.String("trade_id", ev.SourceTradeID),
			slog.String("symbol", ev.Symbol),
			slog.String("side", string(ev.Side)),
			slog.String("qty", ev.Quantity.String()),
			slog.String("order_id", outcome.TargetOrderID))
		e.publish(completeCtx, ChannelTradeMirrored, ev, outcome)
	case domain.ReplicationFailed:
		e.counters.Failed.Add(1)
		e.logger.Error("trade replication failed",
			slog.String("trade_id", ev.SourceTradeID),
			slog.String("symbol", ev.Symbol),
			slog.Int("attempts", outcome.AttemptCount),
			slog.String("error", outcome.ErrorDetail))
		e.publish(completeCtx, ChannelTradeFailed, ev, outcome)
		if e.alerter != nil {
			e.alerter.Alert(completeCtx, EventTradeFailed, fmt.Sprintf(
				"trade %s (%s %s %s) failed after %d attempt(s): %s",
				ev.SourceTradeID, ev.Symbol, ev.Side, ev.Quantity, outcome.AttemptCount, outcome.ErrorDetail))
		}
	}
}

// replicate places the mirrored order, retrying transient faults a bounded
// number of times. The client order ID stays fixed across retries so a
// delivered-but-unacknowledged order is not placed twice.
func (e *Executor) replicate(ctx context.Context, ev domain.TradeEvent) domain.Outcome {
	clientOrderID := "copier-" + uuid.NewString()
	attempts := 0
	var lastErr error

	for attempts <= e.cfg.Retries {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		attempts++

		if e.limiter != nil && e.cfg.RateLimit > 0 {
			if err := e.limiter.Wait(ctx, orderRateKey, e.cfg.RateLimit, e.cfg.RateWindow); err != nil {
				lastErr = err
				break
			}
		}

		ack, err := e.orders.NewMarketOrder(ctx, ev.Symbol, ev.Side, ev.Quantity, clientOrderID)
		if err == nil {
			e.pause(ctx, e.cfg.InterOrderDelay)
			return domain.Outcome{
				Status:        domain.ReplicationSuccess,
				TargetOrderID: strconv.FormatInt(ack.OrderID, 10),
				AttemptCount:  attempts,
			}
		}
		lastErr = err

		if !domain.IsRetriable(err) {
			break
		}
		e.logger.Warn("order attempt failed, retrying",
			slog.String("trade_id", ev.SourceTradeID),
			slog.Int("attempt", attempts),
			slog.String("error", err.Error()))
		e.pause(ctx, e.cfg.RetryDelay)
	}

	detail := "replication failed"
	if lastErr != nil {
		var venueErr *domain.VenueError
		if errors.As(lastErr, &venueErr) {
			detail = venueErr.Message
		} else {
			detail = lastErr.Error()
		}
	}
	return domain.Outcome{
		Status:       domain.ReplicationFailed,
		ErrorDetail:  detail,
		AttemptCount: attempts,
	}
}

func (e *Executor) pause(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (e *Executor) publish(ctx context.Context, channel string, ev domain.TradeEvent, out domain.Outcome) {
	if e.bus == nil {
		return
	}
	payload, err := json.Marshal(signalPayload{
		SourceTradeID: ev.SourceTradeID,
		Symbol:        ev.Symbol,
		Side:          string(ev.Side),
		Quantity:      ev.Quantity.String(),
		TargetOrderID: out.TargetOrderID,
		ErrorDetail:   out.ErrorDetail,
		EventTime:     ev.EventTime,
	})
	if err != nil {
		return
	}
	if err := e.bus.Publish(ctx, channel, payload); err != nil {
		e.logger.Warn("signal publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()))
	}
}

type signalPayload struct {
	SourceTradeID string    `json:"source_trade_id"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Quantity      string    `json:"quantity"`
	TargetOrderID string    `json:"target_order_id,omitempty"`
	ErrorDetail   string    `json:"error_detail,omitempty"`
	EventTime     time.Time `json:"event_time"`
}
