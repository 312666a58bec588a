package keeper

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/getsentry/sentry-go"
	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/stepychdev/winny/program/pkg/ledger"
	"github.com/stepychdev/winny/program/pkg/state"
	"github.com/stepychdev/winny/utils/pkg/retry"
)

// Processor is the part of the instruction processor the keeper cranks.
type Processor interface {
	Round(ctx context.Context, roundID uint64) (state.Round, error)
	Lock(ctx context.Context, caller solana.PublicKey, roundID uint64) error
	RequestRandomness(ctx context.Context, roundID uint64) error
	HandleFulfillment(ctx context.Context, caller solana.PublicKey, f ledger.Fulfillment) error
}

// ErrorReporter receives crank failures that survived every retry.
// *sentry.Hub satisfies it.
type ErrorReporter interface {
	CaptureException(err error) *sentry.EventID
}

type Config struct {
	Logger    *slog.Logger
	Clock     clockwork.Clock
	Processor Processor

	// Identity signs Lock and is recorded as the reimbursement payer.
	Identity solana.PublicKey

	Interval     time.Duration
	FirstRoundID uint64
	// MaxRoundsPerScan bounds one scan; the rest wait for the next tick.
	MaxRoundsPerScan int
	// ResendAfter re-sends a randomness request that has not been answered
	// after this long. Zero disables re-sending.
	ResendAfter time.Duration

	Retry retry.Config

	// RequestRate limits instructions that emit oracle requests. Zero means
	// unlimited.
	RequestRate  rate.Limit
	RequestBurst int

	// LocalOracle, when set, is drained every scan and its answers are
	// delivered as OracleAuthority.
	LocalOracle     *ledger.LocalOracle
	OracleAuthority solana.PublicKey

	Reporter ErrorReporter // optional
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Processor == nil {
		return errors.New("processor is required")
	}
	if cfg.Identity.IsZero() {
		return errors.New("keeper identity is required")
	}
	if cfg.Interval <= 0 {
		return errors.New("interval must be greater than 0")
	}
	if cfg.ResendAfter < 0 {
		return errors.New("resend after must not be negative")
	}
	if cfg.LocalOracle != nil && cfg.OracleAuthority.IsZero() {
		return errors.New("oracle authority is required with a local oracle")
	}
	if cfg.MaxRoundsPerScan <= 0 {
		cfg.MaxRoundsPerScan = 256
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Retry.Clock == nil {
		cfg.Retry.Clock = cfg.Clock
	}
	if cfg.RequestRate == 0 {
		cfg.RequestRate = rate.Inf
	}
	if cfg.RequestBurst <= 0 {
		cfg.RequestBurst = 1
	}
	return nil
}
