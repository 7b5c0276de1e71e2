package abuse

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/creditgate/backend/internal/models"
)

// clock is a controllable time source shared by the collector under test
// and its mock trace store.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type mockTraces struct {
	mu     sync.Mutex
	clock  *clock
	traces []*models.FrequencyTrace
	err    error
}

func (m *mockTraces) Insert(_ context.Context, t *models.FrequencyTrace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	cp := *t
	cp.CreatedAt = m.clock.now()
	m.traces = append(m.traces, &cp)
	return nil
}

func (m *mockTraces) CountSince(_ context.Context, address, endpoint string, since time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	n := 0
	for _, t := range m.traces {
		if t.Address == address && t.Endpoint == endpoint && !t.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *mockTraces) MarkBlockedSince(_ context.Context, address, endpoint string, since time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, t := range m.traces {
		if t.Address == address && t.Endpoint == endpoint && !t.CreatedAt.Before(since) {
			t.Blocked = true
		}
	}
	return nil
}

func (m *mockTraces) blockedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.traces {
		if t.Blocked {
			n++
		}
	}
	return n
}

func newTestCollector(clk *clock) (*Collector, *mockTraces) {
	traces := &mockTraces{clock: clk}
	c := NewCollector(traces, time.Hour)
	c.now = clk.now
	return c, traces
}

const browserUA = "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0"

// ---------------------------------------------------------------------------

func TestQuietTrafficAllowed(t *testing.T) {
	clk := newClock()
	c, _ := newTestCollector(clk)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cl, err := c.RecordAndClassify(ctx, "198.51.100.1", "redeem", browserUA)
		if err != nil {
			t.Fatalf("RecordAndClassify: %v", err)
		}
		if cl.Suspicious {
			t.Fatalf("request %d flagged suspicious: %+v", i+1, cl)
		}
		clk.advance(15 * time.Second)
	}
}

// Burst scenario: rapid requests trip the 10-second threshold from the
// third request onward, with an hour-long recommended block.
func TestBurstTrips10sThreshold(t *testing.T) {
	clk := newClock()
	c, traces := newTestCollector(clk)
	ctx := context.Background()

	var last Classification
	for i := 0; i < 10; i++ {
		var err error
		last, err = c.RecordAndClassify(ctx, "198.51.100.2", "redeem", browserUA)
		if err != nil {
			t.Fatalf("RecordAndClassify: %v", err)
		}
		if i >= 2 && !last.Suspicious {
			t.Fatalf("request %d not flagged during burst", i+1)
		}
		clk.advance(500 * time.Millisecond)
	}
	if last.Reason != ReasonBurst10s {
		t.Errorf("reason: got %q, want %q", last.Reason, ReasonBurst10s)
	}
	if last.BlockFor != time.Hour {
		t.Errorf("recommended block: got %v, want 1h", last.BlockFor)
	}
	if traces.blockedCount() == 0 {
		t.Error("burst traces were not retroactively marked blocked")
	}
}

func TestSlowDripTrips60sThreshold(t *testing.T) {
	clk := newClock()
	c, _ := newTestCollector(clk)
	ctx := context.Background()

	// One request every 9s stays under the 10s cap but accumulates in
	// the 60s window: the seventh within a minute crosses 5.
	var cl Classification
	for i := 0; i < 7; i++ {
		var err error
		cl, err = c.RecordAndClassify(ctx, "198.51.100.3", "redeem", browserUA)
		if err != nil {
			t.Fatalf("RecordAndClassify: %v", err)
		}
		clk.advance(9 * time.Second)
	}
	if !cl.Suspicious || cl.Reason != ReasonBurst60s {
		t.Errorf("classification: got %+v, want suspicious with %q", cl, ReasonBurst60s)
	}
}

func TestToolSignatureDetection(t *testing.T) {
	clk := newClock()
	c, _ := newTestCollector(clk)
	ctx := context.Background()

	for _, sig := range []string{"curl/8.4.0", "python-requests/2.31", "Sqlmap/1.7", "", "-", "unknown"} {
		cl, err := c.RecordAndClassify(ctx, "198.51.100.4", "redeem", sig)
		if err != nil {
			t.Fatalf("RecordAndClassify(%q): %v", sig, err)
		}
		if !cl.Suspicious || cl.Reason != ReasonToolSignature {
			t.Errorf("signature %q: got %+v, want tool_signature", sig, cl)
		}
		// Keep the counting windows clear between probes.
		clk.advance(2 * time.Minute)
	}
}

func TestCollectorFailsOpen(t *testing.T) {
	clk := newClock()
	c, traces := newTestCollector(clk)
	traces.err = errors.New("trace store down")

	cl, err := c.RecordAndClassify(context.Background(), "198.51.100.5", "redeem", "curl/8.4.0")
	if err == nil {
		t.Fatal("expected the store error to surface for logging")
	}
	if cl.Suspicious {
		t.Error("store failure must classify as not suspicious (fail open)")
	}
}
