package abuse

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/creditgate/backend/internal/config"
	"github.com/creditgate/backend/internal/models"
)

// Decision reasons shared by the limiter and the lockout machine.
const (
	ReasonRateLimited  = "rate_limited"
	ReasonToolDetected = "tool_detected"
	ReasonLocked       = "account_locked"
)

// Decision is an allow/deny verdict with a retry-after hint.
type Decision struct {
	Allowed          bool
	Reason           string
	RemainingMinutes int
}

var allow = Decision{Allowed: true}

// WindowStore is the minimal rate-window interface for the limiter. All
// mutations run under a row lock so concurrent bursts never lose updates.
type WindowStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, address, endpoint string) (*models.RateWindow, error)
	Insert(ctx context.Context, tx pgx.Tx, w *models.RateWindow) (inserted bool, err error)
	Update(ctx context.Context, tx pgx.Tx, w *models.RateWindow) error
}

// Policy holds the block durations and the repeat-offender escalation
// parameters. Durations are configuration, not law; see config defaults.
type Policy struct {
	MinuteBlock          time.Duration
	TenMinuteBlock       time.Duration
	HourlyBlock          time.Duration
	RepeatOffenderBlock  time.Duration
	EscalationMultiplier float64
}

// Limiter is the IP-keyed escalating-window machine. A (address, endpoint)
// pair moves Unseen -> Tracking -> Blocked and back to Tracking only after
// the block expires or the hourly window rolls over; within a dirty window
// the state only escalates.
type Limiter struct {
	Windows   WindowStore
	LimitsFor func(endpoint string) config.EndpointLimits
	Policy    Policy

	now func() time.Time
}

func NewLimiter(windows WindowStore, limitsFor func(string) config.EndpointLimits, policy Policy) *Limiter {
	return &Limiter{Windows: windows, LimitsFor: limitsFor, Policy: policy, now: time.Now}
}

// Check records one request against the pair's window and decides whether
// to allow it. Errors are returned for logging; callers treat them as
// "allowed" (fail open).
func (l *Limiter) Check(ctx context.Context, address, endpoint string) (Decision, error) {
	tx, err := l.Windows.Begin(ctx)
	if err != nil {
		return allow, err
	}
	defer tx.Rollback(ctx)

	now := l.now().UTC()

	w, err := l.Windows.GetForUpdate(ctx, tx, address, endpoint)
	if errors.Is(err, pgx.ErrNoRows) {
		fresh := &models.RateWindow{
			Address:      address,
			Endpoint:     endpoint,
			RequestCount: 1,
			WindowStart:  now,
			LastSeen:     now,
		}
		inserted, err := l.Windows.Insert(ctx, tx, fresh)
		if err != nil {
			return allow, err
		}
		if inserted {
			return allow, tx.Commit(ctx)
		}
		// Lost the insert race; re-read under lock.
		if w, err = l.Windows.GetForUpdate(ctx, tx, address, endpoint); err != nil {
			return allow, err
		}
	} else if err != nil {
		return allow, err
	}

	// Active block: deny without advancing any counter.
	if w.BlockedUntil != nil && w.BlockedUntil.After(now) {
		d := deny(w.Suspicious, *w.BlockedUntil, now)
		return d, tx.Commit(ctx)
	}

	// Stale window: reset and allow.
	if now.Sub(w.WindowStart) > time.Hour {
		w.RequestCount = 1
		w.WindowStart = now
		w.LastSeen = now
		w.Suspicious = false
		w.BlockedUntil = nil
		if err := l.Windows.Update(ctx, tx, w); err != nil {
			return allow, err
		}
		return allow, tx.Commit(ctx)
	}

	w.RequestCount++
	w.LastSeen = now

	// The suspicious flag is owned by the collector (tool detection);
	// a plain rate block leaves it untouched so deny reasons stay honest.
	if d := l.evaluate(w, now); d != 0 {
		until := now.Add(d)
		w.BlockedUntil = &until
		if err := l.Windows.Update(ctx, tx, w); err != nil {
			return allow, err
		}
		return deny(false, until, now), tx.Commit(ctx)
	}

	if err := l.Windows.Update(ctx, tx, w); err != nil {
		return allow, err
	}
	return allow, tx.Commit(ctx)
}

// evaluate applies the caps strictest-first and returns the block duration
// to impose, or 0 to allow.
func (l *Limiter) evaluate(w *models.RateWindow, now time.Time) time.Duration {
	limits := l.LimitsFor(w.Endpoint)
	age := now.Sub(w.WindowStart)

	if age <= time.Minute && w.RequestCount > limits.PerMinute {
		return l.Policy.MinuteBlock
	}
	if age <= 10*time.Minute && w.RequestCount > limits.Per10Min {
		return l.Policy.TenMinuteBlock
	}
	if w.RequestCount > limits.PerHour {
		over := float64(w.RequestCount) > l.Policy.EscalationMultiplier*float64(limits.PerHour)
		if w.Suspicious && over {
			return l.Policy.RepeatOffenderBlock
		}
		return l.Policy.HourlyBlock
	}
	return 0
}

func deny(toolDetected bool, until, now time.Time) Decision {
	reason := ReasonRateLimited
	if toolDetected {
		reason = ReasonToolDetected
	}
	return Decision{Reason: reason, RemainingMinutes: remainingMinutes(until, now)}
}

func remainingMinutes(until, now time.Time) int {
	m := int(math.Ceil(until.Sub(now).Minutes()))
	if m < 1 {
		m = 1
	}
	return m
}
