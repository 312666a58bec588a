// Package degen implements the degen resolution of a settled round: a
// second randomness draw picks a candidate token, the executor swaps the
// payout into it, and a timeout fallback pays the stable token instead.
package degen

import (
	"github.com/gagliardetto/solana-go"

	"github.com/stepychdev/winny/program/pkg/ledger"
	"github.com/stepychdev/winny/program/pkg/payout"
	"github.com/stepychdev/winny/program/pkg/ranker"
	"github.com/stepychdev/winny/program/pkg/round"
	"github.com/stepychdev/winny/program/pkg/state"
)

// Env is the context a degen transition runs in.
type Env struct {
	Config state.Config
	Degen  state.DegenConfig
	Round  solana.PublicKey // round account
	Claim  solana.PublicKey // degen claim account
	Vault  solana.PublicKey // round token account for Config.StableMint
	Now    int64
}

func (env Env) round() round.Env {
	return round.Env{Config: env.Config, Address: env.Round, Vault: env.Vault, Now: env.Now}
}

// Execution is what the executor commits to when it takes custody.
type Execution struct {
	Rank       uint8
	TokenIndex uint16
	TokenMint  solana.PublicKey
	MinOut     uint64
	RouteHash  [32]byte
}

func (e Execution) matches(c state.DegenClaim) bool {
	return e.Rank == c.Rank &&
		e.TokenIndex == c.TokenIndex &&
		e.TokenMint == c.TokenMint &&
		e.MinOut == c.MinOut &&
		e.RouteHash == c.RouteHash
}

// Receiver is the winner's token account an execution must pay into.
func Receiver(winner, mint solana.PublicKey) (solana.PublicKey, error) {
	return ledger.TokenAccount(winner, mint)
}

func request(env Env, c state.DegenClaim) ledger.RandomnessRequest {
	return ledger.RandomnessRequest{
		Kind:        ledger.RequestKindDegen,
		RoundID:     c.RoundID,
		Target:      env.Claim,
		Seed:        c.RandomnessSeed,
		RequestedAt: c.RequestedAt,
	}
}

// Request starts a degen resolution for the winner. A retry while the
// claim still waits on randomness re-sends the same request.
func Request(env Env, r state.Round, c state.DegenClaim, caller solana.PublicKey) (state.Round, state.DegenClaim, ledger.Effects, error) {
	const op = "degen/request"
	var fx ledger.Effects

	if !env.Degen.Enabled {
		return r, c, fx, state.Errorf(state.KindPaused, op, "degen resolution is disabled")
	}
	if r.Status != state.RoundStatusSettled {
		return r, c, fx, state.Errorf(state.KindStateMismatch, op, "round %d is %s", r.RoundID, r.Status)
	}
	if caller != r.Winner {
		return r, c, fx, state.Errorf(state.KindAuthorizationFailure, op, "%s is not the winner", caller)
	}

	if r.DegenStatus == state.DegenStatusRandomnessRequested && c.Status == state.ClaimStatusRandomnessRequested {
		fx.Requests = append(fx.Requests, request(env, c))
		return r, c, fx, nil
	}
	if r.DegenStatus != state.DegenStatusNone || c.Status.Terminal() {
		return r, c, fx, state.Errorf(state.KindStateMismatch, op, "degen resolution is %s", r.DegenStatus)
	}

	fallbackAfter, err := state.CheckedAddTime(op, env.Now, env.Degen.FallbackTimeout)
	if err != nil {
		return r, c, fx, err
	}
	c = state.DegenClaim{
		Round:          env.Round,
		Winner:         r.Winner,
		RoundID:        r.RoundID,
		Status:         state.ClaimStatusRandomnessRequested,
		Generation:     ranker.Generation,
		Window:         ranker.Window,
		RandomnessSeed: ledger.ClaimSeed(env.Claim, r.RoundID, env.Now),
		RequestedAt:    env.Now,
		FallbackAfter:  fallbackAfter,
	}
	r.DegenStatus = state.DegenStatusRandomnessRequested
	fx.Requests = append(fx.Requests, request(env, c))
	return r, c, fx, nil
}

// Fulfill records the oracle randomness and restarts the fallback clock.
func Fulfill(env Env, r state.Round, c state.DegenClaim, caller solana.PublicKey, seed, randomness [32]byte) (state.Round, state.DegenClaim, error) {
	const op = "degen/fulfill"
	if caller != env.Config.OracleAuthority {
		return r, c, state.Errorf(state.KindAuthorizationFailure, op, "%s is not the oracle authority", caller)
	}
	if c.Status == state.ClaimStatusReady && c.RandomnessSeed == seed && c.Randomness == randomness {
		return r, c, nil
	}
	if c.Status != state.ClaimStatusRandomnessRequested || r.DegenStatus != state.DegenStatusRandomnessRequested {
		return r, c, state.Errorf(state.KindStateMismatch, op, "claim is %s", c.Status)
	}
	if seed != c.RandomnessSeed {
		return r, c, state.Errorf(state.KindStateMismatch, op, "callback seed does not match claim for round %d", c.RoundID)
	}

	fallbackAfter, err := state.CheckedAddTime(op, env.Now, env.Degen.FallbackTimeout)
	if err != nil {
		return r, c, err
	}
	split, err := payout.Compute(r.TotalValue, env.Config.FeeBps, r.ReimbursementDue())
	if err != nil {
		return r, c, err
	}

	c.Randomness = randomness
	c.FulfilledAt = env.Now
	c.FallbackAfter = fallbackAfter
	c.Payout = split.Payout
	c.Status = state.ClaimStatusReady
	r.DegenStatus = state.DegenStatusReady
	return r, c, nil
}

// BeginExecution moves the payout into the executor's custody once the
// executor proves its chosen candidate against the claim randomness.
// receiverBalance is the current balance of Receiver(winner, ex.TokenMint).
func BeginExecution(env Env, r state.Round, c state.DegenClaim, caller solana.PublicKey, ex Execution, receiverBalance uint64) (state.Round, state.DegenClaim, ledger.Effects, error) {
	const op = "degen/begin-execution"
	var fx ledger.Effects

	if caller != env.Degen.Executor {
		return r, c, fx, state.Errorf(state.KindAuthorizationFailure, op, "%s is not the executor", caller)
	}
	if c.Status == state.ClaimStatusExecuting && caller == c.Executor && ex.matches(c) {
		return r, c, fx, nil
	}
	if c.Status != state.ClaimStatusReady || r.DegenStatus != state.DegenStatusReady {
		return r, c, fx, state.Errorf(state.KindStateMismatch, op, "claim is %s", c.Status)
	}
	if env.Now >= c.FallbackAfter {
		return r, c, fx, state.Errorf(state.KindTimingViolation, op, "fallback window opened at %d", c.FallbackAfter)
	}
	if ex.MinOut == 0 {
		return r, c, fx, state.Errorf(state.KindInvalidArgument, op, "min out is zero")
	}
	if err := ranker.Verify(c.Randomness, c.Generation, int(ex.Rank), ex.TokenIndex, ex.TokenMint); err != nil {
		return r, c, fx, err
	}

	receiver, err := Receiver(r.Winner, ex.TokenMint)
	if err != nil {
		return r, c, fx, err
	}
	custody, err := ledger.TokenAccount(caller, env.Config.StableMint)
	if err != nil {
		return r, c, fx, err
	}
	var split payout.Split
	r, split, fx.Transfers, err = round.Disburse(env.round(), r, custody, caller)
	if err != nil {
		return r, c, fx, err
	}

	c.Rank = ex.Rank
	c.TokenIndex = ex.TokenIndex
	c.TokenMint = ex.TokenMint
	c.MinOut = ex.MinOut
	c.RouteHash = ex.RouteHash
	c.Executor = caller
	c.Receiver = receiver
	c.ReceiverPreBalance = receiverBalance
	c.Payout = split.Payout
	c.Status = state.ClaimStatusExecuting
	r.DegenStatus = state.DegenStatusExecuting
	return r, c, fx, nil
}

// FinalizeSuccess closes the claim once the receiver holds at least the
// committed minimum output. receiverBalance is the current balance of
// c.Receiver.
func FinalizeSuccess(env Env, r state.Round, c state.DegenClaim, caller solana.PublicKey, receiverBalance uint64) (state.Round, state.DegenClaim, error) {
	const op = "degen/finalize"
	if caller != env.Degen.Executor {
		return r, c, state.Errorf(state.KindAuthorizationFailure, op, "%s is not the executor", caller)
	}
	if c.Status == state.ClaimStatusClaimedSwapped && caller == c.Executor {
		return r, c, nil
	}
	if c.Status != state.ClaimStatusExecuting || r.DegenStatus != state.DegenStatusExecuting {
		return r, c, state.Errorf(state.KindStateMismatch, op, "claim is %s", c.Status)
	}
	if caller != c.Executor {
		return r, c, state.Errorf(state.KindAuthorizationFailure, op, "%s did not begin this execution", caller)
	}
	need, err := state.CheckedAdd(op, c.ReceiverPreBalance, c.MinOut)
	if err != nil {
		return r, c, err
	}
	if receiverBalance < need {
		return r, c, state.Errorf(state.KindInvalidArgument, op, "receiver holds %d, need at least %d", receiverBalance, need)
	}

	c.Status = state.ClaimStatusClaimedSwapped
	c.ClaimedAt = env.Now
	r.DegenStatus = state.DegenStatusClaimed
	r.Status = state.RoundStatusClaimed
	return r, c, nil
}

// ClaimFallback pays the winner in the stable token once the fallback
// window has opened and the funds are still in the vault.
func ClaimFallback(env Env, r state.Round, c state.DegenClaim, caller solana.PublicKey) (state.Round, state.DegenClaim, ledger.Effects, error) {
	const op = "degen/claim-fallback"
	var fx ledger.Effects

	if caller != r.Winner {
		return r, c, fx, state.Errorf(state.KindAuthorizationFailure, op, "%s is not the winner", caller)
	}
	if c.Status == state.ClaimStatusClaimedFallback {
		return r, c, fx, nil
	}
	if r.Status != state.RoundStatusSettled {
		return r, c, fx, state.Errorf(state.KindStateMismatch, op, "round %d is %s", r.RoundID, r.Status)
	}
	switch {
	case c.Status == state.ClaimStatusRandomnessRequested && r.DegenStatus == state.DegenStatusRandomnessRequested:
	case c.Status == state.ClaimStatusReady && r.DegenStatus == state.DegenStatusReady:
	default:
		return r, c, fx, state.Errorf(state.KindStateMismatch, op, "claim is %s", c.Status)
	}
	if env.Now < c.FallbackAfter {
		return r, c, fx, state.Errorf(state.KindTimingViolation, op, "fallback opens at %d", c.FallbackAfter)
	}

	dst, err := ledger.TokenAccount(r.Winner, env.Config.StableMint)
	if err != nil {
		return r, c, fx, err
	}
	var split payout.Split
	r, split, fx.Transfers, err = round.Disburse(env.round(), r, dst, r.Winner)
	if err != nil {
		return r, c, fx, err
	}

	c.Payout = split.Payout
	c.Status = state.ClaimStatusClaimedFallback
	c.ClaimedAt = env.Now
	r.DegenStatus = state.DegenStatusClaimed
	r.Status = state.RoundStatusClaimed
	return r, c, fx, nil
}
