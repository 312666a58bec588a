// Package round implements the round lifecycle transitions.
//
// Every transition takes records by value and returns the updated copies
// together with the effects it authorizes. On error the returned records
// must be discarded; the caller persists nothing.
package round

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"

	"github.com/stepychdev/winny/program/pkg/fenwick"
	"github.com/stepychdev/winny/program/pkg/ledger"
	"github.com/stepychdev/winny/program/pkg/payout"
	"github.com/stepychdev/winny/program/pkg/state"
)

// Env is the context a round transition runs in.
type Env struct {
	Config  state.Config
	Address solana.PublicKey // round account
	Vault   solana.PublicKey // round token account for Config.StableMint
	Now     int64
}

func expect(op string, r state.Round, want state.RoundStatus) error {
	if r.Status != want {
		return state.Errorf(state.KindStateMismatch, op, "round %d is %s, want %s", r.RoundID, r.Status, want)
	}
	return nil
}

// Start opens round roundID.
func Start(env Env, roundID uint64) (state.Round, error) {
	if env.Config.Paused {
		return state.Round{}, state.Errorf(state.KindPaused, "round/start", "program is paused")
	}
	return state.Round{
		RoundID:   roundID,
		Status:    state.RoundStatusOpen,
		StartTime: env.Now,
	}, nil
}

// Contribute adds amount from wallet to the pool. p is the wallet's
// participant record, zero-valued apart from Round and Wallet on a first
// contribution.
func Contribute(env Env, r state.Round, p state.Participant, amount uint64) (state.Round, state.Participant, ledger.Effects, error) {
	const op = "round/contribute"
	var fx ledger.Effects

	if env.Config.Paused {
		return r, p, fx, state.Errorf(state.KindPaused, op, "program is paused")
	}
	if err := expect(op, r, state.RoundStatusOpen); err != nil {
		return r, p, fx, err
	}
	if r.EndTime > 0 && env.Now >= r.EndTime {
		return r, p, fx, state.Errorf(state.KindTimingViolation, op, "countdown ended at %d", r.EndTime)
	}
	if p.Round != env.Address {
		return r, p, fx, state.Errorf(state.KindInvalidArgument, op, "participant belongs to another round")
	}
	if env.Config.TicketUnit == 0 {
		return r, p, fx, state.Errorf(state.KindInvalidArgument, op, "ticket unit is zero")
	}
	weight := amount / env.Config.TicketUnit
	if weight == 0 {
		return r, p, fx, state.Errorf(state.KindInvalidArgument, op, "amount %d below ticket unit %d", amount, env.Config.TicketUnit)
	}

	value, err := state.CheckedAdd(op, p.Value, amount)
	if err != nil {
		return r, p, fx, err
	}
	if env.Config.MaxDeposit > 0 && value > env.Config.MaxDeposit {
		return r, p, fx, state.Errorf(state.KindCapacityExceeded, op, "deposit %d above cap %d", value, env.Config.MaxDeposit)
	}

	slot := int(p.Index)
	if slot == 0 {
		if int(r.ParticipantCount) >= state.MaxParticipants {
			return r, p, fx, state.Errorf(state.KindCapacityExceeded, op, "round %d is full", r.RoundID)
		}
		r.ParticipantCount++
		slot = int(r.ParticipantCount)
		r.Participants[slot-1] = p.Wallet
		p.Index = uint16(slot)
	} else if w, ok := r.SlotWallet(slot); !ok || w != p.Wallet {
		return r, p, fx, state.Errorf(state.KindStateMismatch, op, "slot %d does not belong to %s", slot, p.Wallet)
	}

	if err := fenwick.Tree(r.Tree[:]).Add(slot, weight); err != nil {
		return r, p, fx, err
	}
	if r.TotalWeight, err = state.CheckedAdd(op, r.TotalWeight, weight); err != nil {
		return r, p, fx, err
	}
	if r.TotalValue, err = state.CheckedAdd(op, r.TotalValue, amount); err != nil {
		return r, p, fx, err
	}
	if p.Weight, err = state.CheckedAdd(op, p.Weight, weight); err != nil {
		return r, p, fx, err
	}
	if p.Contributions == ^uint32(0) {
		return r, p, fx, state.Errorf(state.KindArithmeticOverflow, op, "contribution count overflows")
	}
	p.Value = value
	p.Contributions++

	if r.FirstDepositTime == 0 {
		r.FirstDepositTime = env.Now
	}
	if r.EndTime == 0 && r.ParticipantCount >= env.Config.MinParticipants {
		if r.EndTime, err = state.CheckedAddTime(op, env.Now, env.Config.RoundDuration); err != nil {
			return r, p, fx, err
		}
	}

	source, err := ledger.TokenAccount(p.Wallet, env.Config.StableMint)
	if err != nil {
		return r, p, fx, err
	}
	fx.Transfers = append(fx.Transfers, ledger.Transfer{
		From:    source,
		To:      env.Vault,
		ToOwner: env.Address,
		Mint:    env.Config.StableMint,
		Amount:  amount,
	})
	return r, p, fx, nil
}

// Lock closes the round to contributions. Anyone may lock once the
// countdown has elapsed and is recorded as the randomness payer. The admin
// may lock earlier, and admin-paid randomness is never reimbursed.
func Lock(env Env, r state.Round, caller solana.PublicKey) (state.Round, error) {
	const op = "round/lock"
	if err := expect(op, r, state.RoundStatusOpen); err != nil {
		return r, err
	}

	if caller == env.Config.Admin {
		if r.ParticipantCount == 0 {
			return r, state.Errorf(state.KindStateMismatch, op, "round %d has no participants", r.RoundID)
		}
		r.ReimbursementPayer = solana.PublicKey{}
	} else {
		if r.EndTime == 0 || env.Now < r.EndTime {
			return r, state.Errorf(state.KindTimingViolation, op, "countdown has not elapsed")
		}
		r.ReimbursementPayer = caller
	}
	r.Status = state.RoundStatusLocked
	return r, nil
}

// RequestRandomness asks the oracle for the settlement randomness. Calling
// it again before the callback re-sends the same request.
func RequestRandomness(env Env, r state.Round) (state.Round, ledger.Effects, error) {
	const op = "round/request-randomness"
	var fx ledger.Effects

	switch r.Status {
	case state.RoundStatusRandomnessRequested:
	case state.RoundStatusLocked:
		r.RandomnessSeed = ledger.RoundSeed(env.Address, r.RoundID)
		r.RandomnessRequestedAt = env.Now
		r.Status = state.RoundStatusRandomnessRequested
	default:
		return r, fx, state.Errorf(state.KindStateMismatch, op, "round %d is %s", r.RoundID, r.Status)
	}

	fx.Requests = append(fx.Requests, ledger.RandomnessRequest{
		Kind:        ledger.RequestKindRound,
		RoundID:     r.RoundID,
		Target:      env.Address,
		Seed:        r.RandomnessSeed,
		RequestedAt: r.RandomnessRequestedAt,
	})
	return r, fx, nil
}

// Settle resolves the winner from the oracle callback.
func Settle(env Env, r state.Round, caller solana.PublicKey, seed, randomness [32]byte) (state.Round, error) {
	const op = "round/settle"
	if err := expect(op, r, state.RoundStatusRandomnessRequested); err != nil {
		return r, err
	}
	if caller != env.Config.OracleAuthority {
		return r, state.Errorf(state.KindAuthorizationFailure, op, "%s is not the oracle authority", caller)
	}
	if seed != r.RandomnessSeed {
		return r, state.Errorf(state.KindStateMismatch, op, "callback seed does not match round %d", r.RoundID)
	}
	if r.TotalWeight == 0 {
		return r, state.Errorf(state.KindStateMismatch, op, "round %d has no weight", r.RoundID)
	}

	target := binary.LittleEndian.Uint64(randomness[:8]) % r.TotalWeight
	slot, err := fenwick.Tree(r.Tree[:]).Find(target)
	if err != nil {
		return r, err
	}
	winner, ok := r.SlotWallet(slot)
	if !ok {
		return r, state.Errorf(state.KindStateMismatch, op, "slot %d has no participant", slot)
	}

	r.Randomness = randomness
	r.WinningOffset = target
	r.Winner = winner
	r.Status = state.RoundStatusSettled
	return r, nil
}

// Claim pays the winner directly in the stable token.
func Claim(env Env, r state.Round, caller solana.PublicKey) (state.Round, ledger.Effects, error) {
	const op = "round/claim"
	var fx ledger.Effects

	if err := expect(op, r, state.RoundStatusSettled); err != nil {
		return r, fx, err
	}
	if r.DegenStatus != state.DegenStatusNone {
		return r, fx, state.Errorf(state.KindStateMismatch, op, "degen resolution is %s", r.DegenStatus)
	}
	if caller != r.Winner {
		return r, fx, state.Errorf(state.KindAuthorizationFailure, op, "%s is not the winner", caller)
	}

	dst, err := ledger.TokenAccount(r.Winner, env.Config.StableMint)
	if err != nil {
		return r, fx, err
	}
	r, _, fx.Transfers, err = Disburse(env, r, dst, r.Winner)
	if err != nil {
		return r, fx, err
	}
	r.Status = state.RoundStatusClaimed
	return r, fx, nil
}

// Cancel force-cancels an open round.
func Cancel(env Env, r state.Round, caller solana.PublicKey) (state.Round, error) {
	const op = "round/cancel"
	if caller != env.Config.Admin {
		return r, state.Errorf(state.KindAuthorizationFailure, op, "%s is not the admin", caller)
	}
	if err := expect(op, r, state.RoundStatusOpen); err != nil {
		return r, err
	}
	r.Status = state.RoundStatusCancelled
	return r, nil
}

// Disburse splits the pool and builds the vault transfers for one payout
// path. It consumes the one-shot reimbursement, so every path that pays out
// must go through it exactly once.
func Disburse(env Env, r state.Round, recipient, recipientOwner solana.PublicKey) (state.Round, payout.Split, []ledger.Transfer, error) {
	reimburse := r.ReimbursementDue()
	split, err := payout.Compute(r.TotalValue, env.Config.FeeBps, reimburse)
	if err != nil {
		return r, split, nil, err
	}
	if reimburse {
		r.Reimbursed = true
	}

	mint := env.Config.StableMint
	var transfers []ledger.Transfer
	add := func(owner, to solana.PublicKey, amount uint64) error {
		if amount == 0 {
			return nil
		}
		if to.IsZero() {
			var err error
			if to, err = ledger.TokenAccount(owner, mint); err != nil {
				return err
			}
		}
		transfers = append(transfers, ledger.Transfer{From: env.Vault, To: to, ToOwner: owner, Mint: mint, Amount: amount})
		return nil
	}
	if err := add(r.ReimbursementPayer, solana.PublicKey{}, split.Reimbursement); err != nil {
		return r, split, nil, err
	}
	if err := add(env.Config.Treasury, solana.PublicKey{}, split.Fee); err != nil {
		return r, split, nil, err
	}
	if err := add(recipientOwner, recipient, split.Payout); err != nil {
		return r, split, nil, err
	}
	return r, split, transfers, nil
}
