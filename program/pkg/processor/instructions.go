package processor

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/stepychdev/winny/program/pkg/degen"
	"github.com/stepychdev/winny/program/pkg/ledger"
	"github.com/stepychdev/winny/program/pkg/payout"
	"github.com/stepychdev/winny/program/pkg/round"
	"github.com/stepychdev/winny/program/pkg/state"
)

func validateConfig(cfg state.Config, dcfg state.DegenConfig) error {
	const op = "processor/init-config"
	switch {
	case cfg.Admin.IsZero():
		return state.Errorf(state.KindInvalidArgument, op, "admin is required")
	case cfg.Treasury.IsZero():
		return state.Errorf(state.KindInvalidArgument, op, "treasury is required")
	case cfg.StableMint.IsZero():
		return state.Errorf(state.KindInvalidArgument, op, "stable mint is required")
	case cfg.OracleAuthority.IsZero():
		return state.Errorf(state.KindInvalidArgument, op, "oracle authority is required")
	case cfg.FeeBps > payout.MaxFeeBps:
		return state.Errorf(state.KindInvalidArgument, op, "fee %d bps above %d", cfg.FeeBps, payout.MaxFeeBps)
	case cfg.TicketUnit == 0:
		return state.Errorf(state.KindInvalidArgument, op, "ticket unit must be greater than 0")
	case cfg.RoundDuration <= 0:
		return state.Errorf(state.KindInvalidArgument, op, "round duration must be greater than 0")
	case cfg.MinParticipants == 0 || int(cfg.MinParticipants) > state.MaxParticipants:
		return state.Errorf(state.KindInvalidArgument, op, "min participants must be in 1..%d", state.MaxParticipants)
	case dcfg.FallbackTimeout <= 0:
		return state.Errorf(state.KindInvalidArgument, op, "fallback timeout must be greater than 0")
	case dcfg.Enabled && dcfg.Executor.IsZero():
		return state.Errorf(state.KindInvalidArgument, op, "executor is required when degen is enabled")
	}
	return nil
}

// InitConfig writes the program configuration once. The caller becomes
// bound as admin and must match cfg.Admin.
func (p *Processor) InitConfig(ctx context.Context, caller solana.PublicKey, cfg state.Config, dcfg state.DegenConfig) error {
	return p.execute(ctx, "init_config", func(ctx context.Context, u *unit) error {
		if caller != cfg.Admin {
			return state.Errorf(state.KindAuthorizationFailure, "processor/init-config", "caller must be the configured admin")
		}
		if err := validateConfig(cfg, dcfg); err != nil {
			return err
		}
		key, err := p.addrs.Config()
		if err != nil {
			return err
		}
		if _, found, err := load[state.Config](ctx, u.tx, key); err != nil {
			return err
		} else if found {
			return state.Errorf(state.KindStateMismatch, "processor/init-config", "config already initialized")
		}
		dkey, err := p.addrs.DegenConfig()
		if err != nil {
			return err
		}
		u.put(key, &cfg)
		u.put(dkey, &dcfg)
		return nil
	})
}

// SetPaused stops or resumes round creation and contributions. Rounds
// already past Open keep settling and paying out.
func (p *Processor) SetPaused(ctx context.Context, caller solana.PublicKey, paused bool) error {
	return p.execute(ctx, "set_paused", func(ctx context.Context, u *unit) error {
		cfg, err := u.config(ctx)
		if err != nil {
			return err
		}
		if caller != cfg.Admin {
			return state.Errorf(state.KindAuthorizationFailure, "processor/set-paused", "%s is not the admin", caller)
		}
		key, err := p.addrs.Config()
		if err != nil {
			return err
		}
		cfg.Paused = paused
		u.put(key, &cfg)
		return nil
	})
}

// StartRound opens a new round. Only the admin starts rounds.
func (p *Processor) StartRound(ctx context.Context, caller solana.PublicKey, roundID uint64) error {
	return p.execute(ctx, "start_round", func(ctx context.Context, u *unit) error {
		cfg, err := u.config(ctx)
		if err != nil {
			return err
		}
		if caller != cfg.Admin {
			return state.Errorf(state.KindAuthorizationFailure, "processor/start-round", "%s is not the admin", caller)
		}
		addr, err := p.addrs.Round(roundID)
		if err != nil {
			return err
		}
		if _, found, err := load[state.Round](ctx, u.tx, addr); err != nil {
			return err
		} else if found {
			return state.Errorf(state.KindStateMismatch, "processor/start-round", "round %d already exists", roundID)
		}
		r, err := round.Start(round.Env{Config: cfg, Address: addr, Now: u.now}, roundID)
		if err != nil {
			return err
		}
		u.put(addr, &r)
		return nil
	})
}

func (u *unit) roundEnv(ctx context.Context, roundID uint64) (round.Env, state.Round, error) {
	cfg, err := u.config(ctx)
	if err != nil {
		return round.Env{}, state.Round{}, err
	}
	addr, vault, r, err := u.round(ctx, cfg, roundID)
	if err != nil {
		return round.Env{}, state.Round{}, err
	}
	return round.Env{Config: cfg, Address: addr, Vault: vault, Now: u.now}, r, nil
}

// Contribute moves amount of the stable token from the wallet's token
// account into the round vault.
func (p *Processor) Contribute(ctx context.Context, wallet solana.PublicKey, roundID uint64, amount uint64) error {
	return p.execute(ctx, "contribute", func(ctx context.Context, u *unit) error {
		env, r, err := u.roundEnv(ctx, roundID)
		if err != nil {
			return err
		}
		pkey, err := p.addrs.Participant(env.Address, wallet)
		if err != nil {
			return err
		}
		part, found, err := load[state.Participant](ctx, u.tx, pkey)
		if err != nil {
			return err
		}
		if !found {
			part = state.Participant{Round: env.Address, Wallet: wallet}
		}
		r, part, fx, err := round.Contribute(env, r, part, amount)
		if err != nil {
			return err
		}
		u.put(env.Address, &r)
		u.put(pkey, &part)
		u.emit(fx)
		return nil
	})
}

func (p *Processor) Lock(ctx context.Context, caller solana.PublicKey, roundID uint64) error {
	return p.execute(ctx, "lock", func(ctx context.Context, u *unit) error {
		env, before, err := u.roundEnv(ctx, roundID)
		if err != nil {
			return err
		}
		r, err := round.Lock(env, before, caller)
		if err != nil {
			return err
		}
		return u.putRound(env.Address, before, r)
	})
}

// RequestRandomness is permissionless; the payer was fixed at lock time.
func (p *Processor) RequestRandomness(ctx context.Context, roundID uint64) error {
	return p.execute(ctx, "request_randomness", func(ctx context.Context, u *unit) error {
		env, before, err := u.roundEnv(ctx, roundID)
		if err != nil {
			return err
		}
		r, fx, err := round.RequestRandomness(env, before)
		if err != nil {
			return err
		}
		u.emit(fx)
		return u.putRound(env.Address, before, r)
	})
}

func (p *Processor) Settle(ctx context.Context, caller solana.PublicKey, roundID uint64, seed, randomness [32]byte) error {
	return p.execute(ctx, "settle", func(ctx context.Context, u *unit) error {
		env, before, err := u.roundEnv(ctx, roundID)
		if err != nil {
			return err
		}
		r, err := round.Settle(env, before, caller, seed, randomness)
		if err != nil {
			return err
		}
		return u.putRound(env.Address, before, r)
	})
}

func (p *Processor) Claim(ctx context.Context, caller solana.PublicKey, roundID uint64) error {
	return p.execute(ctx, "claim", func(ctx context.Context, u *unit) error {
		env, before, err := u.roundEnv(ctx, roundID)
		if err != nil {
			return err
		}
		r, fx, err := round.Claim(env, before, caller)
		if err != nil {
			return err
		}
		u.emit(fx)
		return u.putRound(env.Address, before, r)
	})
}

func (p *Processor) Cancel(ctx context.Context, caller solana.PublicKey, roundID uint64) error {
	return p.execute(ctx, "cancel", func(ctx context.Context, u *unit) error {
		env, before, err := u.roundEnv(ctx, roundID)
		if err != nil {
			return err
		}
		r, err := round.Cancel(env, before, caller)
		if err != nil {
			return err
		}
		return u.putRound(env.Address, before, r)
	})
}

func (u *unit) degenEnv(ctx context.Context, roundID uint64) (degen.Env, state.Round, state.DegenClaim, error) {
	renv, r, err := u.roundEnv(ctx, roundID)
	if err != nil {
		return degen.Env{}, r, state.DegenClaim{}, err
	}
	dcfg, err := u.degenConfig(ctx)
	if err != nil {
		return degen.Env{}, r, state.DegenClaim{}, err
	}
	if r.Winner.IsZero() {
		return degen.Env{}, r, state.DegenClaim{}, state.Errorf(state.KindStateMismatch, "processor/degen", "round %d is %s", roundID, r.Status)
	}
	ckey, err := u.p.addrs.DegenClaim(renv.Address, r.Winner)
	if err != nil {
		return degen.Env{}, r, state.DegenClaim{}, err
	}
	c, _, err := load[state.DegenClaim](ctx, u.tx, ckey)
	if err != nil {
		return degen.Env{}, r, c, err
	}
	return degen.Env{
		Config: renv.Config,
		Degen:  dcfg,
		Round:  renv.Address,
		Claim:  ckey,
		Vault:  renv.Vault,
		Now:    u.now,
	}, r, c, nil
}

// degenSnapshot is the round and claim as loaded, before a transition.
type degenSnapshot struct {
	round state.Round
	claim state.DegenClaim
}

func (u *unit) putDegen(env degen.Env, before degenSnapshot, r state.Round, c state.DegenClaim) error {
	u.putClaim(env.Claim, before.claim, c)
	return u.putRound(env.Round, before.round, r)
}

func (p *Processor) RequestDegen(ctx context.Context, caller solana.PublicKey, roundID uint64) error {
	return p.execute(ctx, "request_degen", func(ctx context.Context, u *unit) error {
		env, r, c, err := u.degenEnv(ctx, roundID)
		if err != nil {
			return err
		}
		before := degenSnapshot{round: r, claim: c}
		r, c, fx, err := degen.Request(env, r, c, caller)
		if err != nil {
			return err
		}
		u.emit(fx)
		return u.putDegen(env, before, r, c)
	})
}

func (p *Processor) FulfillDegen(ctx context.Context, caller solana.PublicKey, roundID uint64, seed, randomness [32]byte) error {
	return p.execute(ctx, "fulfill_degen", func(ctx context.Context, u *unit) error {
		env, r, c, err := u.degenEnv(ctx, roundID)
		if err != nil {
			return err
		}
		before := degenSnapshot{round: r, claim: c}
		if r, c, err = degen.Fulfill(env, r, c, caller, seed, randomness); err != nil {
			return err
		}
		return u.putDegen(env, before, r, c)
	})
}

// BeginDegenExecution snapshots the winner's balance of ex.TokenMint and
// moves the payout into the executor's custody.
func (p *Processor) BeginDegenExecution(ctx context.Context, caller solana.PublicKey, roundID uint64, ex degen.Execution) error {
	return p.execute(ctx, "begin_degen_execution", func(ctx context.Context, u *unit) error {
		env, r, c, err := u.degenEnv(ctx, roundID)
		if err != nil {
			return err
		}
		before := degenSnapshot{round: r, claim: c}
		receiver, err := degen.Receiver(r.Winner, ex.TokenMint)
		if err != nil {
			return err
		}
		balance, err := p.cfg.Bank.Balance(ctx, u.tx, receiver)
		if err != nil {
			return err
		}
		r, c, fx, err := degen.BeginExecution(env, r, c, caller, ex, balance)
		if err != nil {
			return err
		}
		u.emit(fx)
		return u.putDegen(env, before, r, c)
	})
}

// FinalizeDegen checks the receiver's current balance against the
// committed minimum output.
func (p *Processor) FinalizeDegen(ctx context.Context, caller solana.PublicKey, roundID uint64) error {
	return p.execute(ctx, "finalize_degen", func(ctx context.Context, u *unit) error {
		env, r, c, err := u.degenEnv(ctx, roundID)
		if err != nil {
			return err
		}
		before := degenSnapshot{round: r, claim: c}
		var balance uint64
		if !c.Receiver.IsZero() {
			if balance, err = p.cfg.Bank.Balance(ctx, u.tx, c.Receiver); err != nil {
				return err
			}
		}
		if r, c, err = degen.FinalizeSuccess(env, r, c, caller, balance); err != nil {
			return err
		}
		return u.putDegen(env, before, r, c)
	})
}

func (p *Processor) ClaimDegenFallback(ctx context.Context, caller solana.PublicKey, roundID uint64) error {
	return p.execute(ctx, "claim_degen_fallback", func(ctx context.Context, u *unit) error {
		env, r, c, err := u.degenEnv(ctx, roundID)
		if err != nil {
			return err
		}
		before := degenSnapshot{round: r, claim: c}
		r, c, fx, err := degen.ClaimFallback(env, r, c, caller)
		if err != nil {
			return err
		}
		u.emit(fx)
		return u.putDegen(env, before, r, c)
	})
}

// HandleFulfillment routes an oracle answer to Settle or FulfillDegen.
func (p *Processor) HandleFulfillment(ctx context.Context, caller solana.PublicKey, f ledger.Fulfillment) error {
	switch f.Request.Kind {
	case ledger.RequestKindRound:
		return p.Settle(ctx, caller, f.Request.RoundID, f.Request.Seed, f.Randomness)
	case ledger.RequestKindDegen:
		return p.FulfillDegen(ctx, caller, f.Request.RoundID, f.Request.Seed, f.Randomness)
	default:
		return state.Errorf(state.KindInvalidArgument, "processor/fulfillment", "unknown request kind %d", f.Request.Kind)
	}
}
