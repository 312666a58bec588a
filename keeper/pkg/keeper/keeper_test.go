package keeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/getsentry/sentry-go"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/stepychdev/winny/program/pkg/accounts"
	"github.com/stepychdev/winny/program/pkg/ledger"
	"github.com/stepychdev/winny/program/pkg/processor"
	"github.com/stepychdev/winny/program/pkg/state"
	"github.com/stepychdev/winny/utils/pkg/retry"
	winnytesting "github.com/stepychdev/winny/utils/pkg/testing"
)

type countingOracle struct {
	mu       sync.Mutex
	requests []ledger.RandomnessRequest
}

func (o *countingOracle) Request(_ context.Context, req ledger.RandomnessRequest) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.requests = append(o.requests, req)
	return nil
}

func (o *countingOracle) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.requests)
}

type fakeReporter struct {
	mu     sync.Mutex
	errors []error
}

func (r *fakeReporter) CaptureException(err error) *sentry.EventID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, err)
	return nil
}

func (r *fakeReporter) captured() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errors...)
}

// flakyProcessor fails the first failures calls to Lock and
// RequestRandomness with err.
type flakyProcessor struct {
	Processor
	mu       sync.Mutex
	failures int
	err      error
	calls    int
}

func (f *flakyProcessor) fail() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		return f.err
	}
	return nil
}

func (f *flakyProcessor) Lock(ctx context.Context, caller solana.PublicKey, roundID uint64) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.Processor.Lock(ctx, caller, roundID)
}

func (f *flakyProcessor) RequestRandomness(ctx context.Context, roundID uint64) error {
	if err := f.fail(); err != nil {
		return err
	}
	return f.Processor.RequestRandomness(ctx, roundID)
}

type harness struct {
	p     *processor.Processor
	store *accounts.MemoryStore
	bank  *ledger.TokenBank
	clock *clockwork.FakeClock

	admin, oracleAuth, identity, mint solana.PublicKey
}

func newHarness(t *testing.T, oracle ledger.Oracle) *harness {
	t.Helper()
	h := &harness{
		store:      accounts.NewMemoryStore(),
		bank:       ledger.NewTokenBank(),
		clock:      clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0)),
		admin:      solana.NewWallet().PublicKey(),
		oracleAuth: solana.NewWallet().PublicKey(),
		identity:   solana.NewWallet().PublicKey(),
		mint:       solana.NewWallet().PublicKey(),
	}
	var err error
	h.p, err = processor.New(processor.Config{
		Logger:    winnytesting.NewLogger(),
		Clock:     h.clock,
		Store:     h.store,
		Bank:      h.bank,
		Oracle:    oracle,
		ProgramID: solana.NewWallet().PublicKey(),
	})
	require.NoError(t, err)
	require.NoError(t, h.p.InitConfig(t.Context(), h.admin, state.Config{
		Admin:           h.admin,
		Treasury:        solana.NewWallet().PublicKey(),
		StableMint:      h.mint,
		OracleAuthority: h.oracleAuth,
		FeeBps:          25,
		TicketUnit:      5_000,
		RoundDuration:   60,
		MinParticipants: 2,
	}, state.DegenConfig{Executor: solana.NewWallet().PublicKey(), FallbackTimeout: 300}))
	return h
}

// openRound starts roundID and, when funded, adds two contributors so the
// countdown starts.
func (h *harness) openRound(t *testing.T, roundID uint64, funded bool) {
	t.Helper()
	ctx := t.Context()
	require.NoError(t, h.p.StartRound(ctx, h.admin, roundID))
	if !funded {
		return
	}
	for range 2 {
		owner := solana.NewWallet().PublicKey()
		acct, err := ledger.TokenAccount(owner, h.mint)
		require.NoError(t, err)
		require.NoError(t, h.store.Update(ctx, func(tx accounts.Tx) error {
			return h.bank.Mint(ctx, tx, acct, owner, h.mint, 100_000)
		}))
		require.NoError(t, h.p.Contribute(ctx, owner, roundID, 100_000))
	}
}

func (h *harness) status(t *testing.T, roundID uint64) state.RoundStatus {
	t.Helper()
	r, err := h.p.Round(t.Context(), roundID)
	require.NoError(t, err)
	return r.Status
}

func (h *harness) keeperConfig(p Processor) Config {
	return Config{
		Logger:    winnytesting.NewLogger(),
		Clock:     h.clock,
		Processor: p,
		Identity:  h.identity,
		Interval:  10 * time.Second,
		Retry: retry.Config{
			MaxAttempts: 3,
			BaseBackoff: time.Millisecond,
			MaxBackoff:  time.Millisecond,
			Clock:       clockwork.NewRealClock(),
		},
	}
}

func TestWinny_Keeper_Config_Validate(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		return Config{
			Logger:    winnytesting.NewLogger(),
			Processor: &flakyProcessor{},
			Identity:  solana.NewWallet().PublicKey(),
			Interval:  time.Second,
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing logger", func(c *Config) { c.Logger = nil }, "logger is required"},
		{"missing processor", func(c *Config) { c.Processor = nil }, "processor is required"},
		{"missing identity", func(c *Config) { c.Identity = solana.PublicKey{} }, "keeper identity is required"},
		{"zero interval", func(c *Config) { c.Interval = 0 }, "interval must be greater than 0"},
		{"negative resend", func(c *Config) { c.ResendAfter = -time.Second }, "resend after must not be negative"},
		{"oracle without authority", func(c *Config) { c.LocalOracle = ledger.NewLocalOracle(winnytesting.NewLogger()) }, "oracle authority is required with a local oracle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tt.mutate(&cfg)
			require.EqualError(t, cfg.Validate(), tt.wantErr)
		})
	}

	cfg := valid()
	require.NoError(t, cfg.Validate())
	require.NotNil(t, cfg.Clock)
	require.Equal(t, 256, cfg.MaxRoundsPerScan)
	require.Equal(t, retry.DefaultConfig().MaxAttempts, cfg.Retry.MaxAttempts)
	require.NotNil(t, cfg.Retry.Clock)
}

func TestWinny_Keeper_Scan_LocksRequestsAndSettles(t *testing.T) {
	t.Parallel()

	oracle := ledger.NewLocalOracle(winnytesting.NewLogger())
	h := newHarness(t, oracle)
	h.openRound(t, 1, true)
	h.openRound(t, 2, false)

	cfg := h.keeperConfig(h.p)
	cfg.FirstRoundID = 1
	cfg.LocalOracle = oracle
	cfg.OracleAuthority = h.oracleAuth
	k, err := New(cfg)
	require.NoError(t, err)
	require.False(t, k.Ready())

	// Countdown still running.
	require.NoError(t, k.Scan(t.Context()))
	require.True(t, k.Ready())
	require.Equal(t, state.RoundStatusOpen, h.status(t, 1))
	require.Equal(t, uint64(1), k.Watermark())

	h.clock.Advance(60 * time.Second)
	require.NoError(t, k.Scan(t.Context()))

	r, err := h.p.Round(t.Context(), 1)
	require.NoError(t, err)
	require.Equal(t, state.RoundStatusSettled, r.Status)
	require.Equal(t, h.identity, r.ReimbursementPayer)
	require.False(t, r.Winner.IsZero())
	require.Empty(t, oracle.Pending())

	// The settlement landed after the round was visited, so the watermark
	// moves on the next scan. Round 2 never started its countdown.
	require.Equal(t, uint64(1), k.Watermark())
	require.NoError(t, k.Scan(t.Context()))
	require.Equal(t, state.RoundStatusOpen, h.status(t, 2))
	require.Equal(t, uint64(2), k.Watermark())
}

func TestWinny_Keeper_Scan_StopsAtMissingRound(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &countingOracle{})
	cfg := h.keeperConfig(h.p)
	cfg.FirstRoundID = 5
	k, err := New(cfg)
	require.NoError(t, err)

	require.NoError(t, k.Scan(t.Context()))
	require.True(t, k.Ready())
	require.Equal(t, uint64(5), k.Watermark())
}

func TestWinny_Keeper_Scan_WatermarkSkipsFinishedRounds(t *testing.T) {
	t.Parallel()

	oracle := &countingOracle{}
	h := newHarness(t, oracle)
	h.openRound(t, 1, false)
	h.openRound(t, 2, true)
	require.NoError(t, h.p.Cancel(t.Context(), h.admin, 1))

	cfg := h.keeperConfig(h.p)
	cfg.FirstRoundID = 1
	k, err := New(cfg)
	require.NoError(t, err)

	require.NoError(t, k.Scan(t.Context()))
	require.Equal(t, uint64(2), k.Watermark())

	h.clock.Advance(60 * time.Second)
	require.NoError(t, k.Scan(t.Context()))
	require.Equal(t, state.RoundStatusRandomnessRequested, h.status(t, 2))
	require.Equal(t, 1, oracle.count())
	// Waiting on the oracle keeps round 2 watched.
	require.Equal(t, uint64(2), k.Watermark())
}

func TestWinny_Keeper_Scan_RetriesInfrastructureErrors(t *testing.T) {
	t.Parallel()

	oracle := &countingOracle{}
	h := newHarness(t, oracle)
	h.openRound(t, 1, true)
	h.clock.Advance(60 * time.Second)

	flaky := &flakyProcessor{Processor: h.p, failures: 2, err: errors.New("connection reset by peer")}
	reporter := &fakeReporter{}
	cfg := h.keeperConfig(flaky)
	cfg.FirstRoundID = 1
	cfg.Reporter = reporter
	k, err := New(cfg)
	require.NoError(t, err)

	require.NoError(t, k.Scan(t.Context()))
	require.Equal(t, state.RoundStatusRandomnessRequested, h.status(t, 1))
	require.Equal(t, 1, oracle.count())
	require.Empty(t, reporter.captured())
}

func TestWinny_Keeper_Scan_ReportsExhaustedFailures(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &countingOracle{})
	h.openRound(t, 1, true)
	h.clock.Advance(60 * time.Second)

	boom := errors.New("service unavailable")
	flaky := &flakyProcessor{Processor: h.p, failures: -1, err: boom}
	reporter := &fakeReporter{}
	cfg := h.keeperConfig(flaky)
	cfg.FirstRoundID = 1
	cfg.Reporter = reporter
	k, err := New(cfg)
	require.NoError(t, err)

	require.NoError(t, k.Scan(t.Context()))
	require.Equal(t, state.RoundStatusOpen, h.status(t, 1))
	require.Equal(t, 3, flaky.calls)

	captured := reporter.captured()
	require.Len(t, captured, 1)
	require.ErrorIs(t, captured[0], boom)
}

func TestWinny_Keeper_Scan_RejectionsAreNotRetried(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &countingOracle{})
	h.openRound(t, 1, true)
	h.clock.Advance(60 * time.Second)

	rejecting := &rejectingLock{Processor: h.p}
	reporter := &fakeReporter{}
	cfg := h.keeperConfig(rejecting)
	cfg.FirstRoundID = 1
	cfg.Reporter = reporter
	k, err := New(cfg)
	require.NoError(t, err)

	require.NoError(t, k.Scan(t.Context()))
	require.Equal(t, 1, rejecting.calls)
	require.Equal(t, state.RoundStatusOpen, h.status(t, 1))
	require.Empty(t, reporter.captured())
}

// rejectingLock rejects every Lock as if another caller got there first.
type rejectingLock struct {
	Processor
	calls int
}

func (r *rejectingLock) Lock(context.Context, solana.PublicKey, uint64) error {
	r.calls++
	return state.Errorf(state.KindStateMismatch, "round/lock", "round 1 is locked")
}

func TestWinny_Keeper_Scan_ResendsStaleRequests(t *testing.T) {
	t.Parallel()

	oracle := &countingOracle{}
	h := newHarness(t, oracle)
	h.openRound(t, 1, true)
	h.clock.Advance(60 * time.Second)

	cfg := h.keeperConfig(h.p)
	cfg.FirstRoundID = 1
	cfg.ResendAfter = 30 * time.Second
	k, err := New(cfg)
	require.NoError(t, err)

	require.NoError(t, k.Scan(t.Context()))
	require.Equal(t, 1, oracle.count())

	h.clock.Advance(29 * time.Second)
	require.NoError(t, k.Scan(t.Context()))
	require.Equal(t, 1, oracle.count())

	h.clock.Advance(time.Second)
	require.NoError(t, k.Scan(t.Context()))
	require.Equal(t, 2, oracle.count())

	oracle.mu.Lock()
	defer oracle.mu.Unlock()
	require.Equal(t, oracle.requests[0].Seed, oracle.requests[1].Seed)
}

func TestWinny_Keeper_Run_TicksUntilCancelled(t *testing.T) {
	t.Parallel()

	oracle := &countingOracle{}
	h := newHarness(t, oracle)
	h.openRound(t, 1, true)

	cfg := h.keeperConfig(h.p)
	cfg.FirstRoundID = 1
	k, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- k.Run(ctx) }()

	// First scan runs before the ticker is created.
	require.NoError(t, h.clock.BlockUntilContext(ctx, 1))
	require.True(t, k.Ready())
	require.Equal(t, 0, oracle.count())

	h.clock.Advance(60 * time.Second)
	require.Eventually(t, func() bool { return oracle.count() == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
