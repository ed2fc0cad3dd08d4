package relay

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/zhouzirui/ai-show/backend/internal/config"
	"github.com/zhouzirui/ai-show/backend/internal/model/persona"
	"github.com/zhouzirui/ai-show/backend/internal/observe"
	"github.com/zhouzirui/ai-show/backend/internal/service/agent"
)

var errFakeClosed = errors.New("fake conn closed")

// fakeConn is an in-memory peer. Frames pushed with push are returned by
// ReadMessage; everything the session writes is recorded.
type fakeConn struct {
	incoming  chan inbound
	closed    chan struct{}
	closeOnce sync.Once

	mu         sync.Mutex
	writes     []inbound
	closeCodes []int
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan inbound, 64),
		closed:   make(chan struct{}),
	}
}

func (c *fakeConn) push(messageType int, data string) {
	c.incoming <- inbound{messageType: messageType, data: []byte(data)}
}

func (c *fakeConn) pushClose(code int) {
	c.incoming <- inbound{err: &websocket.CloseError{Code: code}}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case in := <-c.incoming:
		return in.messageType, in.data, in.err
	case <-c.closed:
		return 0, nil, &websocket.CloseError{Code: websocket.CloseAbnormalClosure}
	}
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	if c.isClosed() {
		return errFakeClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, inbound{messageType: messageType, data: append([]byte(nil), data...)})
	return nil
}

func (c *fakeConn) WriteControl(messageType int, data []byte, _ time.Time) error {
	if c.isClosed() {
		return errFakeClosed
	}
	if messageType == websocket.CloseMessage && len(data) >= 2 {
		c.mu.Lock()
		c.closeCodes = append(c.closeCodes, int(binary.BigEndian.Uint16(data)))
		c.mu.Unlock()
	}
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) Writes() []inbound {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]inbound(nil), c.writes...)
}

func (c *fakeConn) CloseCodes() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.closeCodes...)
}

// manualClock fires tickers and timers only when Advance is called.
type manualClock struct {
	mu      sync.Mutex
	now     time.Duration
	tickers []*manualTicker
	timers  []*manualTimer
}

type manualTicker struct {
	clock   *manualClock
	c       chan time.Time
	every   time.Duration
	next    time.Duration
	stopped bool
}

type manualTimer struct {
	clock   *manualClock
	c       chan time.Time
	at      time.Duration
	fired   bool
	stopped bool
}

func (m *manualClock) NewTicker(d time.Duration) Ticker {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTicker{clock: m, c: make(chan time.Time, 1), every: d, next: m.now + d}
	m.tickers = append(m.tickers, t)
	return t
}

func (m *manualClock) NewTimer(d time.Duration) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{clock: m, c: make(chan time.Time, 1), at: m.now + d}
	m.timers = append(m.timers, t)
	return t
}

func (m *manualClock) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now += d
	for _, t := range m.tickers {
		for !t.stopped && t.next <= m.now {
			select {
			case t.c <- time.Time{}:
			default:
			}
			t.next += t.every
		}
	}
	for _, t := range m.timers {
		if !t.stopped && !t.fired && t.at <= m.now {
			t.fired = true
			t.c <- time.Time{}
		}
	}
}

func (m *manualClock) counts() (tickers, timers int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tickers), len(m.timers)
}

func (t *manualTicker) C() <-chan time.Time { return t.c }

func (t *manualTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	t.stopped = true
}

func (t *manualTimer) C() <-chan time.Time { return t.c }

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasActive := !t.stopped && !t.fired
	t.stopped = true
	return wasActive
}

type fakePrompts struct {
	mu    sync.Mutex
	text  string
	err   error
	calls []string
}

func (f *fakePrompts) Generate(_ context.Context, role, interviewerName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, role+"|"+interviewerName)
	return f.text, f.err
}

func (f *fakePrompts) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestBuilder(t *testing.T) *agent.Builder {
	t.Helper()
	catalogue, err := persona.NewCatalogue(persona.Seed())
	if err != nil {
		t.Fatalf("NewCatalogue: %v", err)
	}
	return agent.NewBuilder(catalogue, config.AgentConfig{})
}

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func counterSum(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
