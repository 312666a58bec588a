// Package keeper cranks the time-driven round transitions. It only invokes
// instructions; every timing and status rule stays with the processor, which
// rejects anything premature.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/stepychdev/winny/program/pkg/ledger"
	"github.com/stepychdev/winny/program/pkg/metrics"
	"github.com/stepychdev/winny/program/pkg/state"
	"github.com/stepychdev/winny/utils/pkg/retry"
)

const (
	actionLock     = "lock"
	actionRequest  = "request_randomness"
	actionResend   = "resend_randomness"
	actionFulfill  = "fulfill"
	statusOK       = "ok"
	statusRejected = "rejected"
	statusError    = "error"
)

type Keeper struct {
	log     *slog.Logger
	cfg     Config
	limiter *rate.Limiter

	scanMu sync.Mutex
	// watermark is the lowest round id that may still need a crank. Rounds
	// are scanned from here upward until the first missing id.
	watermark uint64

	readyOnce sync.Once
	readyCh   chan struct{}
}

func New(cfg Config) (*Keeper, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Keeper{
		log:       cfg.Logger,
		cfg:       cfg,
		limiter:   rate.NewLimiter(cfg.RequestRate, cfg.RequestBurst),
		watermark: cfg.FirstRoundID,
		readyCh:   make(chan struct{}),
	}, nil
}

// Ready reports whether at least one scan has completed.
func (k *Keeper) Ready() bool {
	select {
	case <-k.readyCh:
		return true
	default:
		return false
	}
}

// Watermark returns the lowest round id still being watched.
func (k *Keeper) Watermark() uint64 {
	k.scanMu.Lock()
	defer k.scanMu.Unlock()
	return k.watermark
}

// Run scans once immediately and then every Interval until ctx is done.
func (k *Keeper) Run(ctx context.Context) error {
	k.log.Info("keeper: starting crank loop", "interval", k.cfg.Interval, "identity", k.cfg.Identity, "first_round_id", k.cfg.FirstRoundID)

	k.safeScan(ctx)

	ticker := k.cfg.Clock.NewTicker(k.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			k.log.Info("keeper: stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			k.safeScan(ctx)
		}
	}
}

func (k *Keeper) safeScan(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			k.log.Error("keeper: scan panicked", "panic", r)
			k.report(fmt.Errorf("keeper: scan panicked: %v", r))
		}
	}()

	if err := k.Scan(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		k.log.Error("keeper: scan failed", "error", err)
		k.report(err)
	}
}

// Scan walks the watched rounds once, locking elapsed Open rounds and
// requesting randomness for Locked ones, then delivers any local oracle
// answers.
func (k *Keeper) Scan(ctx context.Context) error {
	k.scanMu.Lock()
	defer k.scanMu.Unlock()

	start := k.cfg.Clock.Now()
	defer func() {
		metrics.KeeperScanDuration.Observe(k.cfg.Clock.Since(start).Seconds())
	}()

	now := start.Unix()
	low := k.watermark
	advancing := true
	scanned := 0
	for id := low; id < low+uint64(k.cfg.MaxRoundsPerScan); id++ {
		var r state.Round
		err := retry.Do(ctx, k.cfg.Retry, func() error {
			var err error
			r, err = k.cfg.Processor.Round(ctx, id)
			return err
		})
		if errors.Is(err, state.ErrNotFound) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to load round %d: %w", id, err)
		}
		scanned++

		r.Status = k.crank(ctx, now, r)
		if advancing && settledOrDone(r.Status) {
			k.watermark = id + 1
		} else {
			advancing = false
		}
	}

	if k.cfg.LocalOracle != nil {
		if err := k.deliver(ctx); err != nil {
			return err
		}
	}

	k.readyOnce.Do(func() { close(k.readyCh) })
	k.log.Debug("keeper: scan completed", "rounds", scanned, "watermark", k.watermark, "duration", k.cfg.Clock.Since(start).String())
	return ctx.Err()
}

// settledOrDone reports whether the keeper has nothing left to do for a
// round. Claims after settlement are driven by the winner.
func settledOrDone(s state.RoundStatus) bool {
	return s == state.RoundStatusSettled || s.Terminal()
}

// crank issues the next crank for r and returns the status r is expected
// to have afterwards.
func (k *Keeper) crank(ctx context.Context, now int64, r state.Round) state.RoundStatus {
	id := r.RoundID
	switch r.Status {
	case state.RoundStatusOpen:
		if r.EndTime == 0 || now < r.EndTime {
			return r.Status
		}
		if !k.invoke(ctx, actionLock, id, func() error {
			return k.cfg.Processor.Lock(ctx, k.cfg.Identity, id)
		}) {
			return r.Status
		}
		fallthrough

	case state.RoundStatusLocked:
		if !k.request(ctx, actionRequest, id) {
			return state.RoundStatusLocked
		}
		return state.RoundStatusRandomnessRequested

	case state.RoundStatusRandomnessRequested:
		if k.cfg.ResendAfter > 0 && now-r.RandomnessRequestedAt >= int64(k.cfg.ResendAfter/time.Second) {
			k.request(ctx, actionResend, id)
		}
	}
	return r.Status
}

func (k *Keeper) request(ctx context.Context, action string, id uint64) bool {
	if err := k.limiter.Wait(ctx); err != nil {
		return false
	}
	return k.invoke(ctx, action, id, func() error {
		return k.cfg.Processor.RequestRandomness(ctx, id)
	})
}

// invoke runs one instruction with retries and reports whether it
// succeeded. Rejections are expected when another caller got there first.
func (k *Keeper) invoke(ctx context.Context, action string, id uint64, fn func() error) bool {
	err := retry.Do(ctx, k.cfg.Retry, fn)
	switch {
	case err == nil:
		metrics.KeeperCranksTotal.WithLabelValues(action, statusOK).Inc()
		k.log.Info("keeper: crank succeeded", "action", action, "round_id", id)
		return true
	case state.KindOf(err) != 0:
		metrics.KeeperCranksTotal.WithLabelValues(action, statusRejected).Inc()
		k.log.Debug("keeper: crank rejected", "action", action, "round_id", id, "kind", state.KindOf(err), "error", err)
		return false
	case ctx.Err() != nil:
		return false
	default:
		metrics.KeeperCranksTotal.WithLabelValues(action, statusError).Inc()
		k.log.Error("keeper: crank failed", "action", action, "round_id", id, "error", err)
		k.report(fmt.Errorf("keeper: %s round %d: %w", action, id, err))
		return false
	}
}

// deliver answers queued local oracle requests. Rejected answers are
// dropped; infrastructure failures leave the request queued for the next
// scan.
func (k *Keeper) deliver(ctx context.Context) error {
	err := k.cfg.LocalOracle.Deliver(ctx, func(ctx context.Context, f ledger.Fulfillment) error {
		err := retry.Do(ctx, k.cfg.Retry, func() error {
			return k.cfg.Processor.HandleFulfillment(ctx, k.cfg.OracleAuthority, f)
		})
		switch {
		case err == nil:
			metrics.KeeperCranksTotal.WithLabelValues(actionFulfill, statusOK).Inc()
			k.log.Info("keeper: fulfillment delivered", "kind", f.Request.Kind, "round_id", f.Request.RoundID)
			return nil
		case state.KindOf(err) != 0:
			metrics.KeeperCranksTotal.WithLabelValues(actionFulfill, statusRejected).Inc()
			k.log.Warn("keeper: fulfillment rejected", "kind", f.Request.Kind, "round_id", f.Request.RoundID, "error", err)
			return nil
		default:
			metrics.KeeperCranksTotal.WithLabelValues(actionFulfill, statusError).Inc()
			return err
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to deliver fulfillments: %w", err)
	}
	return nil
}

func (k *Keeper) report(err error) {
	if k.cfg.Reporter == nil {
		return
	}
	k.cfg.Reporter.CaptureException(err)
}
