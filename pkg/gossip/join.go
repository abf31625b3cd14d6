package gossip

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// JoinRetry resends an unanswered JoinRequest with exponential backoff,
// measured on the engine's clock and checked once per tick.
type JoinRetry struct {
	InitialWait time.Duration // first wait; defaults to 2 ticks
	MaxWait     time.Duration // cap on the doubled wait; 0 means no cap
	MaxAttempts int           // total requests including the first; 0 means unbounded
}

func (r *JoinRetry) setDefaults(tick time.Duration) error {
	if r.InitialWait < 0 || r.MaxWait < 0 || r.MaxAttempts < 0 {
		return fmt.Errorf("%w: join retry values must not be negative", ErrInvalidConfig)
	}
	if r.InitialWait == 0 {
		r.InitialWait = 2 * tick
	}
	if r.MaxWait > 0 && r.MaxWait < r.InitialWait {
		r.MaxWait = r.InitialWait
	}
	return nil
}

type joinTracker struct {
	attempts  int
	wait      time.Duration
	nextAt    time.Duration
	exhausted bool
}

func (e *Engine) sendJoinRequest(now time.Duration) {
	e.join.attempts++
	e.send(e.cfg.Introducer, JoinRequest{From: e.cfg.Self, Heartbeat: e.heartbeat})

	r := e.cfg.JoinRetry
	if r == nil {
		return
	}
	switch {
	case e.join.wait == 0:
		e.join.wait = r.InitialWait
	default:
		e.join.wait *= 2
		if r.MaxWait > 0 && e.join.wait > r.MaxWait {
			e.join.wait = r.MaxWait
		}
	}
	e.join.nextAt = now + e.join.wait
}

// maybeRetryJoin is the only work a Joining node does on tick.
func (e *Engine) maybeRetryJoin(now time.Duration) {
	r := e.cfg.JoinRetry
	if r == nil || e.join.exhausted || now < e.join.nextAt {
		return
	}
	if r.MaxAttempts > 0 && e.join.attempts >= r.MaxAttempts {
		e.join.exhausted = true
		e.log.Warn("join attempts exhausted, staying out of the group",
			zap.Int("attempts", e.join.attempts), zap.Stringer("introducer", e.cfg.Introducer))
		return
	}
	e.log.Info("retrying join", zap.Int("attempt", e.join.attempts+1))
	e.sendJoinRequest(now)
}

// JoinAttempts reports how many JoinRequests this node has sent.
func (e *Engine) JoinAttempts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.join.attempts
}
