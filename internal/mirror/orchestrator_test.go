package mirror

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pvolkov/tradecopier/internal/domain"
)

type fakeProbe struct {
	err   error
	calls int
}

func (p *fakeProbe) ServerTime(ctx context.Context) (time.Time, error) {
	p.calls++
	if p.err != nil {
		return time.Time{}, p.err
	}
	return time.Now(), nil
}

type blockingRunner struct{ started chan struct{} }

func (r *blockingRunner) Run(ctx context.Context) error {
	if r.started != nil {
		close(r.started)
	}
	<-ctx.Done()
	return ctx.Err()
}

type fakeStream struct {
	errs       chan error
	reconnects int64
}

func (f *fakeStream) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-f.errs:
		return err
	}
}

func (f *fakeStream) Reconnects() int64 { return f.reconnects }

type recordAlerter struct {
	mu     sync.Mutex
	events []string
}

func (a *recordAlerter) Alert(ctx context.Context, event, message string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

func (a *recordAlerter) Events() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.events...)
}

func newTestOrchestrator(probes map[domain.AccountRole]TimeProbe, stream StreamRunner, runners []Runner, alerter Alerter) *Orchestrator {
	return NewOrchestrator(probes, stream, runners, &Counters{}, alerter, OrchestratorConfig{
		ProbeTimeout:        100 * time.Millisecond,
		StreamFloorInterval: 5 * time.Millisecond,
	}, testLogger())
}

func TestRunFailsFastOnDeadVenue(t *testing.T) {
	probes := map[domain.AccountRole]TimeProbe{
		domain.AccountSource: &fakeProbe{},
		domain.AccountTarget: &fakeProbe{err: errors.New("connection refused")},
	}
	started := make(chan struct{})
	orch := newTestOrchestrator(probes, nil, []Runner{&blockingRunner{started: started}}, nil)

	err := orch.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConnectivity)
	assert.Equal(t, StateStopped, orch.State())

	select {
	case <-started:
		t.Fatal("runner must not start when a probe fails")
	default:
	}
}

func TestRunAndStopLifecycle(t *testing.T) {
	probes := map[domain.AccountRole]TimeProbe{
		domain.AccountSource: &fakeProbe{},
	}
	started := make(chan struct{})
	orch := newTestOrchestrator(probes, nil, []Runner{&blockingRunner{started: started}}, nil)

	assert.Equal(t, StateIdle, orch.State())

	done := make(chan error, 1)
	go func() { done <- orch.Run(context.Background()) }()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("runner did not start")
	}
	assert.Equal(t, StateRunning, orch.State())

	orch.Stop()
	orch.Stop() // idempotent

	select {
	case err := <-done:
		assert.NoError(t, err, "cancellation is a clean shutdown")
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
	assert.Equal(t, StateStopped, orch.State())
}

func TestRunRejectsSecondStart(t *testing.T) {
	probes := map[domain.AccountRole]TimeProbe{
		domain.AccountSource: &fakeProbe{err: errors.New("down")},
	}
	orch := newTestOrchestrator(probes, nil, nil, nil)

	_ = orch.Run(context.Background())
	err := orch.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")
}

func TestExhaustedStreamAlertsAndRetries(t *testing.T) {
	probes := map[domain.AccountRole]TimeProbe{
		domain.AccountSource: &fakeProbe{},
	}
	stream := &fakeStream{errs: make(chan error, 2)}
	stream.errs <- domain.ErrExhausted
	stream.errs <- domain.ErrExhausted
	alerter := &recordAlerter{}
	orch := newTestOrchestrator(probes, stream, nil, alerter)

	done := make(chan error, 1)
	go func() { done <- orch.Run(context.Background()) }()

	assert.Eventually(t, func() bool {
		return len(alerter.Events()) >= 2
	}, time.Second, 5*time.Millisecond, "each exhaustion raises an alarm and the stream is retried")

	for _, ev := range alerter.Events() {
		assert.Equal(t, EventStreamExhausted, ev)
	}

	orch.Stop()
	assert.NoError(t, <-done)
}
