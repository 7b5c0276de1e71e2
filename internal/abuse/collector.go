package abuse

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/creditgate/backend/internal/models"
)

// Classification reasons.
const (
	ReasonBurst10s      = "burst_10s"
	ReasonBurst60s      = "burst_60s"
	ReasonToolSignature = "tool_signature"
)

// Burst thresholds: more than burstCap10s requests in 10 seconds or more
// than burstCap60s in 60 seconds flags the pair.
const (
	burstCap10s = 2
	burstCap60s = 5
)

// toolSignatures are matched case-insensitively as substrings against the
// client signature. Absent or placeholder signatures also classify as
// tool-like.
var toolSignatures = []string{
	"curl", "wget", "python", "go-http-client", "httpclient", "okhttp",
	"scrapy", "bot", "spider", "crawl", "scanner", "sqlmap", "nikto",
	"masscan", "hydra",
}

var placeholderSignatures = map[string]bool{
	"": true, "-": true, "unknown": true,
}

// Classification is the collector's verdict for one observed request.
type Classification struct {
	Suspicious bool
	Reason     string
	Count10s   int
	Count60s   int
	BlockFor   time.Duration
}

// TraceStore is the minimal frequency-trace interface for the collector.
type TraceStore interface {
	Insert(ctx context.Context, t *models.FrequencyTrace) error
	CountSince(ctx context.Context, address, endpoint string, since time.Time) (int, error)
	MarkBlockedSince(ctx context.Context, address, endpoint string, since time.Time) error
}

// Collector records one frequency trace per request and classifies bursts
// characteristic of automated tools. It is advisory: every error path
// returns a not-suspicious classification alongside the error so callers
// can log it and proceed (fail open).
type Collector struct {
	Traces    TraceStore
	ToolBlock time.Duration

	now func() time.Time
}

func NewCollector(traces TraceStore, toolBlock time.Duration) *Collector {
	return &Collector{Traces: traces, ToolBlock: toolBlock, now: time.Now}
}

// RecordAndClassify appends a trace for (address, endpoint) and reports
// whether recent traffic from the pair looks automated. On suspicion it
// retroactively marks the last minute of traces blocked and recommends a
// block duration.
func (c *Collector) RecordAndClassify(ctx context.Context, address, endpoint, clientSignature string) (Classification, error) {
	now := c.now().UTC()

	trace := &models.FrequencyTrace{
		ID:              uuid.New(),
		Address:         address,
		Endpoint:        endpoint,
		ClientSignature: clientSignature,
	}
	if err := c.Traces.Insert(ctx, trace); err != nil {
		return Classification{}, err
	}

	count10s, err := c.Traces.CountSince(ctx, address, endpoint, now.Add(-10*time.Second))
	if err != nil {
		return Classification{}, err
	}
	count60s, err := c.Traces.CountSince(ctx, address, endpoint, now.Add(-60*time.Second))
	if err != nil {
		return Classification{}, err
	}

	cl := Classification{Count10s: count10s, Count60s: count60s}
	switch {
	case toolLike(clientSignature):
		cl.Suspicious, cl.Reason = true, ReasonToolSignature
	case count10s > burstCap10s:
		cl.Suspicious, cl.Reason = true, ReasonBurst10s
	case count60s > burstCap60s:
		cl.Suspicious, cl.Reason = true, ReasonBurst60s
	}
	if !cl.Suspicious {
		return cl, nil
	}

	cl.BlockFor = c.ToolBlock
	if err := c.Traces.MarkBlockedSince(ctx, address, endpoint, now.Add(-60*time.Second)); err != nil {
		// The verdict stands; only the audit marking failed.
		return cl, err
	}
	return cl, nil
}

func toolLike(signature string) bool {
	sig := strings.ToLower(strings.TrimSpace(signature))
	if placeholderSignatures[sig] {
		return true
	}
	for _, t := range toolSignatures {
		if strings.Contains(sig, t) {
			return true
		}
	}
	return false
}
