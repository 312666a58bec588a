package processor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/stepychdev/winny/program/pkg/accounts"
	"github.com/stepychdev/winny/program/pkg/degen"
	"github.com/stepychdev/winny/program/pkg/ledger"
	"github.com/stepychdev/winny/program/pkg/ranker"
	"github.com/stepychdev/winny/program/pkg/state"
	winnytesting "github.com/stepychdev/winny/utils/pkg/testing"
)

type harness struct {
	p      *Processor
	store  *accounts.MemoryStore
	bank   *ledger.TokenBank
	oracle *ledger.LocalOracle
	clock  *clockwork.FakeClock
	audit  *fakeAudit

	admin, treasury, oracleAuth, executor, keeper solana.PublicKey
	mint                                          solana.PublicKey
}

type fakeAudit struct {
	mu     sync.Mutex
	rounds []state.Round
	claims []state.DegenClaim
}

func (a *fakeAudit) RecordRound(_ context.Context, _ solana.PublicKey, r state.Round) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rounds = append(a.rounds, r)
	return nil
}

func (a *fakeAudit) RecordClaim(_ context.Context, _ solana.PublicKey, c state.DegenClaim) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.claims = append(a.claims, c)
	return nil
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := winnytesting.NewLogger()
	h := &harness{
		store:      accounts.NewMemoryStore(),
		bank:       ledger.NewTokenBank(),
		oracle:     ledger.NewLocalOracle(log),
		clock:      clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0)),
		audit:      &fakeAudit{},
		admin:      solana.NewWallet().PublicKey(),
		treasury:   solana.NewWallet().PublicKey(),
		oracleAuth: solana.NewWallet().PublicKey(),
		executor:   solana.NewWallet().PublicKey(),
		keeper:     solana.NewWallet().PublicKey(),
		mint:       solana.NewWallet().PublicKey(),
	}
	var err error
	h.p, err = New(Config{
		Logger:    log,
		Clock:     h.clock,
		Store:     h.store,
		Bank:      h.bank,
		Oracle:    h.oracle,
		ProgramID: solana.NewWallet().PublicKey(),
		Audit:     h.audit,
	})
	require.NoError(t, err)
	require.NoError(t, h.p.InitConfig(t.Context(), h.admin, h.config(), h.degenConfig()))
	return h
}

func (h *harness) config() state.Config {
	return state.Config{
		Admin:           h.admin,
		Treasury:        h.treasury,
		StableMint:      h.mint,
		OracleAuthority: h.oracleAuth,
		FeeBps:          25,
		TicketUnit:      5_000,
		RoundDuration:   60,
		MinParticipants: 2,
	}
}

func (h *harness) degenConfig() state.DegenConfig {
	return state.DegenConfig{Executor: h.executor, FallbackTimeout: 300, Enabled: true}
}

func (h *harness) wallet(t *testing.T, amount uint64) solana.PublicKey {
	t.Helper()
	owner := solana.NewWallet().PublicKey()
	h.mintTo(t, owner, h.mint, amount)
	return owner
}

func (h *harness) mintTo(t *testing.T, owner, mint solana.PublicKey, amount uint64) {
	t.Helper()
	acct, err := ledger.TokenAccount(owner, mint)
	require.NoError(t, err)
	ctx := t.Context()
	require.NoError(t, h.store.Update(ctx, func(tx accounts.Tx) error {
		return h.bank.Mint(ctx, tx, acct, owner, mint, amount)
	}))
}

func (h *harness) balance(t *testing.T, owner solana.PublicKey) uint64 {
	t.Helper()
	b, err := h.p.Balance(t.Context(), owner, h.mint)
	require.NoError(t, err)
	return b
}

func (h *harness) deliver(t *testing.T) {
	t.Helper()
	require.NoError(t, h.oracle.Deliver(t.Context(), func(ctx context.Context, f ledger.Fulfillment) error {
		return h.p.HandleFulfillment(ctx, h.oracleAuth, f)
	}))
}

// settle runs round 1 with alice and bob at 500,000 each through to Settled.
func (h *harness) settle(t *testing.T) (alice, bob solana.PublicKey) {
	t.Helper()
	ctx := t.Context()
	alice = h.wallet(t, 500_000)
	bob = h.wallet(t, 500_000)

	require.NoError(t, h.p.StartRound(ctx, h.admin, 1))
	require.NoError(t, h.p.Contribute(ctx, alice, 1, 500_000))
	require.NoError(t, h.p.Contribute(ctx, bob, 1, 500_000))

	h.clock.Advance(60 * time.Second)
	require.NoError(t, h.p.Lock(ctx, h.keeper, 1))
	require.NoError(t, h.p.RequestRandomness(ctx, 1))
	h.deliver(t)

	r, err := h.p.Round(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, state.RoundStatusSettled, r.Status)
	return alice, bob
}

func (h *harness) vaultBalance(t *testing.T) uint64 {
	t.Helper()
	addr, err := h.p.Addresses().Round(1)
	require.NoError(t, err)
	return h.balance(t, addr)
}

func TestWinny_Processor_Config_Validate(t *testing.T) {
	t.Parallel()
	log := winnytesting.NewLogger()

	_, err := New(Config{})
	require.EqualError(t, err, "logger is required")
	_, err = New(Config{Logger: log})
	require.EqualError(t, err, "account store is required")
	_, err = New(Config{Logger: log, Store: accounts.NewMemoryStore()})
	require.EqualError(t, err, "bank is required")
	_, err = New(Config{Logger: log, Store: accounts.NewMemoryStore(), Bank: ledger.NewTokenBank()})
	require.EqualError(t, err, "oracle is required")
	_, err = New(Config{Logger: log, Store: accounts.NewMemoryStore(), Bank: ledger.NewTokenBank(), Oracle: ledger.NewLocalOracle(log)})
	require.EqualError(t, err, "program id is required")

	cfg := Config{
		Logger:    log,
		Store:     accounts.NewMemoryStore(),
		Bank:      ledger.NewTokenBank(),
		Oracle:    ledger.NewLocalOracle(log),
		ProgramID: solana.NewWallet().PublicKey(),
	}
	require.NoError(t, cfg.Validate())
	require.NotNil(t, cfg.Clock)
}

func TestWinny_Processor_InitConfig(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := t.Context()

	cfg, dcfg, err := h.p.Config(ctx)
	require.NoError(t, err)
	require.Equal(t, h.config(), cfg)
	require.Equal(t, h.degenConfig(), dcfg)

	err = h.p.InitConfig(ctx, h.admin, h.config(), h.degenConfig())
	require.ErrorIs(t, err, state.ErrStateMismatch)

	fresh := &harness{}
	*fresh = *h
	fresh.store = accounts.NewMemoryStore()
	fresh.p, err = New(Config{Logger: winnytesting.NewLogger(), Store: fresh.store, Bank: h.bank, Oracle: h.oracle, ProgramID: solana.NewWallet().PublicKey()})
	require.NoError(t, err)

	err = fresh.p.InitConfig(ctx, h.keeper, h.config(), h.degenConfig())
	require.ErrorIs(t, err, state.ErrAuthorizationFailure)

	bad := h.config()
	bad.FeeBps = 10_001
	require.ErrorIs(t, fresh.p.InitConfig(ctx, h.admin, bad, h.degenConfig()), state.ErrInvalidArgument)
	bad = h.config()
	bad.MinParticipants = 0
	require.ErrorIs(t, fresh.p.InitConfig(ctx, h.admin, bad, h.degenConfig()), state.ErrInvalidArgument)
	badDegen := h.degenConfig()
	badDegen.Executor = solana.PublicKey{}
	require.ErrorIs(t, fresh.p.InitConfig(ctx, h.admin, h.config(), badDegen), state.ErrInvalidArgument)

	require.Empty(t, fresh.store.Snapshot())

	err = fresh.p.StartRound(ctx, h.admin, 1)
	require.ErrorIs(t, err, state.ErrNotFound)
}

func TestWinny_Processor_DirectClaim(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := t.Context()
	alice, bob := h.settle(t)

	r, err := h.p.Round(ctx, 1)
	require.NoError(t, err)
	require.Contains(t, []solana.PublicKey{alice, bob}, r.Winner)
	loser := alice
	if r.Winner == alice {
		loser = bob
	}
	require.Equal(t, uint64(1_000_000), h.vaultBalance(t))

	require.ErrorIs(t, h.p.Claim(ctx, loser, 1), state.ErrAuthorizationFailure)
	require.NoError(t, h.p.Claim(ctx, r.Winner, 1))

	require.Zero(t, h.vaultBalance(t))
	require.Equal(t, uint64(200_000), h.balance(t, h.keeper))
	require.Equal(t, uint64(2_000), h.balance(t, h.treasury))
	require.Equal(t, uint64(798_000), h.balance(t, r.Winner))
	require.Zero(t, h.balance(t, loser))

	before := h.store.Snapshot()
	require.ErrorIs(t, h.p.Claim(ctx, r.Winner, 1), state.ErrStateMismatch)
	require.Equal(t, before, h.store.Snapshot())

	r, err = h.p.Round(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, state.RoundStatusClaimed, r.Status)
	require.True(t, r.Reimbursed)
	require.Len(t, h.audit.rounds, 1)
	require.Equal(t, state.RoundStatusClaimed, h.audit.rounds[0].Status)
}

func TestWinny_Processor_RejectionsLeaveStoreUnchanged(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := t.Context()

	poor := h.wallet(t, 4_000)
	rich := h.wallet(t, 10_000_000)
	require.NoError(t, h.p.StartRound(ctx, h.admin, 1))

	check := func(name string, err error, want error) {
		t.Helper()
		require.ErrorIs(t, err, want, name)
	}
	snapshot := h.store.Snapshot()
	assertUnchanged := func() {
		t.Helper()
		require.Equal(t, snapshot, h.store.Snapshot())
	}

	// Open round.
	check("start twice", h.p.StartRound(ctx, h.admin, 1), state.ErrStateMismatch)
	check("start by non-admin", h.p.StartRound(ctx, rich, 2), state.ErrAuthorizationFailure)
	check("below ticket unit", h.p.Contribute(ctx, poor, 1, 4_000), state.ErrInvalidArgument)
	check("unfunded wallet", h.p.Contribute(ctx, solana.NewWallet().PublicKey(), 1, 5_000), state.ErrNotFound)
	check("unknown round", h.p.Contribute(ctx, rich, 7, 5_000), state.ErrNotFound)
	check("lock early", h.p.Lock(ctx, h.keeper, 1), state.ErrTimingViolation)
	check("admin lock empty", h.p.Lock(ctx, h.admin, 1), state.ErrStateMismatch)
	check("request while open", h.p.RequestRandomness(ctx, 1), state.ErrStateMismatch)
	check("settle while open", h.p.Settle(ctx, h.oracleAuth, 1, [32]byte{}, [32]byte{}), state.ErrStateMismatch)
	check("claim while open", h.p.Claim(ctx, rich, 1), state.ErrStateMismatch)
	check("degen while open", h.p.RequestDegen(ctx, rich, 1), state.ErrStateMismatch)
	check("cancel by non-admin", h.p.Cancel(ctx, rich, 1), state.ErrAuthorizationFailure)
	assertUnchanged()

	// Locked with randomness requested.
	require.NoError(t, h.p.Contribute(ctx, rich, 1, 500_000))
	require.NoError(t, h.p.Lock(ctx, h.admin, 1))
	require.NoError(t, h.p.RequestRandomness(ctx, 1))
	r, err := h.p.Round(ctx, 1)
	require.NoError(t, err)
	snapshot = h.store.Snapshot()

	check("contribute after lock", h.p.Contribute(ctx, rich, 1, 5_000), state.ErrStateMismatch)
	check("lock twice", h.p.Lock(ctx, h.admin, 1), state.ErrStateMismatch)
	check("cancel after lock", h.p.Cancel(ctx, h.admin, 1), state.ErrStateMismatch)
	check("settle by stranger", h.p.Settle(ctx, rich, 1, r.RandomnessSeed, [32]byte{1}), state.ErrAuthorizationFailure)
	check("settle wrong seed", h.p.Settle(ctx, h.oracleAuth, 1, [32]byte{1}, [32]byte{1}), state.ErrStateMismatch)
	check("claim before settle", h.p.Claim(ctx, rich, 1), state.ErrStateMismatch)
	check("fallback before settle", h.p.ClaimDegenFallback(ctx, rich, 1), state.ErrStateMismatch)
	require.NoError(t, h.p.RequestRandomness(ctx, 1), "re-request is accepted")
	assertUnchanged()

	// Settled.
	h.deliver(t)
	snapshot = h.store.Snapshot()
	check("settle twice", h.p.Settle(ctx, h.oracleAuth, 1, r.RandomnessSeed, [32]byte{2}), state.ErrStateMismatch)
	check("fulfill without claim", h.p.FulfillDegen(ctx, h.oracleAuth, 1, [32]byte{}, [32]byte{}), state.ErrStateMismatch)
	check("begin without claim", h.p.BeginDegenExecution(ctx, h.executor, 1, degen.Execution{MinOut: 1}), state.ErrStateMismatch)
	check("finalize without claim", h.p.FinalizeDegen(ctx, h.executor, 1), state.ErrStateMismatch)
	check("fallback without claim", h.p.ClaimDegenFallback(ctx, rich, 1), state.ErrStateMismatch)
	check("claim by stranger", h.p.Claim(ctx, poor, 1), state.ErrAuthorizationFailure)
	assertUnchanged()
}

func TestWinny_Processor_ContributeIsAtomic(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := t.Context()
	require.NoError(t, h.p.StartRound(ctx, h.admin, 1))

	alice := h.wallet(t, 10_000)
	before := h.store.Snapshot()
	require.Error(t, h.p.Contribute(ctx, alice, 1, 20_000))
	require.Equal(t, before, h.store.Snapshot())

	require.NoError(t, h.p.Contribute(ctx, alice, 1, 10_000))
	part, err := h.p.Participant(ctx, 1, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(2), part.Weight)
	require.Equal(t, uint16(1), part.Index)
	require.Zero(t, h.balance(t, alice))
	require.Equal(t, uint64(10_000), h.vaultBalance(t))
}

func TestWinny_Processor_Paused(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := t.Context()
	alice := h.wallet(t, 10_000)
	require.NoError(t, h.p.StartRound(ctx, h.admin, 1))

	require.ErrorIs(t, h.p.SetPaused(ctx, alice, true), state.ErrAuthorizationFailure)
	require.NoError(t, h.p.SetPaused(ctx, h.admin, true))
	require.ErrorIs(t, h.p.StartRound(ctx, h.admin, 2), state.ErrPaused)
	require.ErrorIs(t, h.p.Contribute(ctx, alice, 1, 5_000), state.ErrPaused)

	require.NoError(t, h.p.SetPaused(ctx, h.admin, false))
	require.NoError(t, h.p.Contribute(ctx, alice, 1, 5_000))
}

func TestWinny_Processor_Cancel(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := t.Context()
	require.NoError(t, h.p.StartRound(ctx, h.admin, 1))
	require.NoError(t, h.p.Cancel(ctx, h.admin, 1))

	r, err := h.p.Round(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, state.RoundStatusCancelled, r.Status)
	require.Equal(t, state.DegenStatusNone, r.DegenStatus)
	require.Len(t, h.audit.rounds, 1)
}

func (h *harness) degenReady(t *testing.T) (state.Round, state.DegenClaim) {
	t.Helper()
	ctx := t.Context()
	h.settle(t)
	r, err := h.p.Round(ctx, 1)
	require.NoError(t, err)

	require.NoError(t, h.p.RequestDegen(ctx, r.Winner, 1))
	require.NoError(t, h.p.RequestDegen(ctx, r.Winner, 1), "retry re-sends the request")
	require.Len(t, h.oracle.Pending(), 1)

	h.clock.Advance(5 * time.Second)
	h.deliver(t)

	c, err := h.p.DegenClaim(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, state.ClaimStatusReady, c.Status)
	require.Equal(t, h.p.Now()+300, c.FallbackAfter)
	return r, c
}

func execution(t *testing.T, c state.DegenClaim, rank uint8) degen.Execution {
	t.Helper()
	idx, err := ranker.Derive(c.Randomness, c.Generation, int(rank))
	require.NoError(t, err)
	mint, ok := ranker.Mint(idx)
	require.True(t, ok)
	return degen.Execution{Rank: rank, TokenIndex: idx, TokenMint: mint, MinOut: 1_000, RouteHash: [32]byte{0xab}}
}

func TestWinny_Processor_DegenSwap(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := t.Context()
	r, c := h.degenReady(t)

	ex := execution(t, c, 0)
	h.mintTo(t, r.Winner, ex.TokenMint, 50)

	require.ErrorIs(t, h.p.BeginDegenExecution(ctx, r.Winner, 1, ex), state.ErrAuthorizationFailure)
	require.NoError(t, h.p.BeginDegenExecution(ctx, h.executor, 1, ex))

	require.Zero(t, h.vaultBalance(t))
	require.Equal(t, uint64(798_000), h.balance(t, h.executor))
	require.Equal(t, uint64(200_000), h.balance(t, h.keeper))
	require.Equal(t, uint64(2_000), h.balance(t, h.treasury))

	before := h.store.Snapshot()
	require.NoError(t, h.p.BeginDegenExecution(ctx, h.executor, 1, ex))
	require.Equal(t, before, h.store.Snapshot(), "identical retry is a no-op")

	other := execution(t, c, 1)
	require.ErrorIs(t, h.p.BeginDegenExecution(ctx, h.executor, 1, other), state.ErrStateMismatch)

	require.ErrorIs(t, h.p.FinalizeDegen(ctx, h.executor, 1), state.ErrInvalidArgument, "nothing delivered yet")

	h.mintTo(t, r.Winner, ex.TokenMint, 1_000)
	require.NoError(t, h.p.FinalizeDegen(ctx, h.executor, 1))
	before = h.store.Snapshot()
	require.NoError(t, h.p.FinalizeDegen(ctx, h.executor, 1), "identical retry is a no-op")
	require.Equal(t, before, h.store.Snapshot())

	r, err := h.p.Round(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, state.RoundStatusClaimed, r.Status)
	require.Equal(t, state.DegenStatusClaimed, r.DegenStatus)
	c, err = h.p.DegenClaim(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, state.ClaimStatusClaimedSwapped, c.Status)
	require.Equal(t, uint64(50), c.ReceiverPreBalance)

	require.ErrorIs(t, h.p.ClaimDegenFallback(ctx, r.Winner, 1), state.ErrStateMismatch)
	require.ErrorIs(t, h.p.Claim(ctx, r.Winner, 1), state.ErrStateMismatch)
	require.Len(t, h.audit.claims, 1)
	require.Len(t, h.audit.rounds, 1)
}

func TestWinny_Processor_DegenFallback(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := t.Context()
	r, c := h.degenReady(t)

	h.clock.Advance(time.Duration(c.FallbackAfter-h.p.Now()-1) * time.Second)
	require.Equal(t, c.FallbackAfter-1, h.p.Now())
	before := h.store.Snapshot()
	require.ErrorIs(t, h.p.ClaimDegenFallback(ctx, r.Winner, 1), state.ErrTimingViolation)
	require.Equal(t, before, h.store.Snapshot())

	h.clock.Advance(time.Second)
	require.ErrorIs(t, h.p.BeginDegenExecution(ctx, h.executor, 1, execution(t, c, 0)), state.ErrTimingViolation)
	require.NoError(t, h.p.ClaimDegenFallback(ctx, r.Winner, 1))

	c, err := h.p.DegenClaim(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, state.ClaimStatusClaimedFallback, c.Status)
	require.Equal(t, uint64(798_000), h.balance(t, r.Winner))
	require.Equal(t, uint64(200_000), h.balance(t, h.keeper))
	require.Zero(t, h.vaultBalance(t))

	require.Len(t, h.audit.claims, 1)
	require.Len(t, h.audit.rounds, 1)

	before = h.store.Snapshot()
	require.NoError(t, h.p.ClaimDegenFallback(ctx, r.Winner, 1), "identical retry is a no-op")
	require.Equal(t, uint64(798_000), h.balance(t, r.Winner))
	require.Equal(t, before, h.store.Snapshot())
	require.Len(t, h.audit.claims, 1, "retry is not audited again")
	require.Len(t, h.audit.rounds, 1, "retry is not audited again")
}

func TestWinny_Processor_DegenDisabled(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := t.Context()

	// Rebuild on a store whose degen config is disabled.
	h.store = accounts.NewMemoryStore()
	var err error
	h.p, err = New(Config{Logger: winnytesting.NewLogger(), Clock: h.clock, Store: h.store, Bank: h.bank, Oracle: h.oracle, ProgramID: solana.NewWallet().PublicKey()})
	require.NoError(t, err)
	dcfg := h.degenConfig()
	dcfg.Enabled = false
	require.NoError(t, h.p.InitConfig(ctx, h.admin, h.config(), dcfg))

	h.settle(t)
	r, err := h.p.Round(ctx, 1)
	require.NoError(t, err)
	require.ErrorIs(t, h.p.RequestDegen(ctx, r.Winner, 1), state.ErrPaused)
	require.NoError(t, h.p.Claim(ctx, r.Winner, 1))
}

type failingOracle struct {
	mu    sync.Mutex
	fail  bool
	calls []ledger.RandomnessRequest
}

func (o *failingOracle) Request(_ context.Context, req ledger.RandomnessRequest) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, req)
	if o.fail {
		return errors.New("oracle unavailable")
	}
	return nil
}

func TestWinny_Processor_OracleFailureIsRetryable(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := t.Context()
	oracle := &failingOracle{fail: true}
	var err error
	h.p, err = New(Config{Logger: winnytesting.NewLogger(), Clock: h.clock, Store: h.store, Bank: h.bank, Oracle: oracle, ProgramID: h.p.cfg.ProgramID})
	require.NoError(t, err)

	alice := h.wallet(t, 5_000)
	require.NoError(t, h.p.StartRound(ctx, h.admin, 1))
	require.NoError(t, h.p.Contribute(ctx, alice, 1, 5_000))
	require.NoError(t, h.p.Lock(ctx, h.admin, 1))

	err = h.p.RequestRandomness(ctx, 1)
	require.Error(t, err)
	require.Zero(t, state.KindOf(err))

	r, err := h.p.Round(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, state.RoundStatusRandomnessRequested, r.Status, "state commits before the request goes out")

	oracle.fail = false
	require.NoError(t, h.p.RequestRandomness(ctx, 1))
	require.Len(t, oracle.calls, 2)
	require.Equal(t, oracle.calls[0], oracle.calls[1])
}

func TestWinny_Processor_HandleFulfillment_UnknownKind(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	err := h.p.HandleFulfillment(t.Context(), h.oracleAuth, ledger.Fulfillment{})
	require.ErrorIs(t, err, state.ErrInvalidArgument)
}

func TestWinny_Processor_PutRound(t *testing.T) {
	t.Parallel()

	addr := solana.NewWallet().PublicKey()
	claimAddr := solana.NewWallet().PublicKey()
	settled := state.Round{RoundID: 1, Status: state.RoundStatusSettled}

	t.Run("unchanged round is not rewritten", func(t *testing.T) {
		t.Parallel()
		u := &unit{}
		require.NoError(t, u.putRound(addr, settled, settled))
		require.Empty(t, u.writes)
		require.Empty(t, u.rounds)
	})

	t.Run("terminal transition is audited once", func(t *testing.T) {
		t.Parallel()
		u := &unit{}
		claimed := settled
		claimed.Status = state.RoundStatusClaimed
		require.NoError(t, u.putRound(addr, settled, claimed))
		require.Len(t, u.writes, 1)
		require.Len(t, u.rounds, 1)

		again := claimed
		again.Reimbursed = true
		require.NoError(t, u.putRound(addr, claimed, again))
		require.Len(t, u.writes, 2)
		require.Len(t, u.rounds, 1)
	})

	t.Run("terminal round with degen in progress is rejected", func(t *testing.T) {
		t.Parallel()
		u := &unit{}
		for _, ds := range []state.DegenStatus{state.DegenStatusRandomnessRequested, state.DegenStatusReady, state.DegenStatusExecuting} {
			bad := settled
			bad.Status = state.RoundStatusClaimed
			bad.DegenStatus = ds
			require.ErrorIs(t, u.putRound(addr, settled, bad), state.ErrStateMismatch, ds.String())
		}
		require.Empty(t, u.writes)
	})

	t.Run("claim audited on first terminal status", func(t *testing.T) {
		t.Parallel()
		u := &unit{}
		ready := state.DegenClaim{RoundID: 1, Status: state.ClaimStatusReady}
		u.putClaim(claimAddr, ready, ready)
		require.Empty(t, u.writes)

		done := ready
		done.Status = state.ClaimStatusClaimedFallback
		u.putClaim(claimAddr, ready, done)
		u.putClaim(claimAddr, done, done)
		require.Len(t, u.writes, 1)
		require.Len(t, u.claims, 1)
	})
}
