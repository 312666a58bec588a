package processor

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/stepychdev/winny/program/pkg/accounts"
	"github.com/stepychdev/winny/program/pkg/ledger"
	"github.com/stepychdev/winny/program/pkg/state"
)

func (p *Processor) view(ctx context.Context, fn func(u *unit) error) error {
	return p.cfg.Store.View(ctx, func(tx accounts.Tx) error {
		return fn(&unit{p: p, tx: tx, now: p.cfg.Clock.Now().Unix()})
	})
}

func (p *Processor) Config(ctx context.Context) (cfg state.Config, dcfg state.DegenConfig, err error) {
	err = p.view(ctx, func(u *unit) error {
		if cfg, err = u.config(ctx); err != nil {
			return err
		}
		dcfg, err = u.degenConfig(ctx)
		return err
	})
	return cfg, dcfg, err
}

func (p *Processor) Round(ctx context.Context, roundID uint64) (r state.Round, err error) {
	err = p.view(ctx, func(u *unit) error {
		cfg, err := u.config(ctx)
		if err != nil {
			return err
		}
		_, _, r, err = u.round(ctx, cfg, roundID)
		return err
	})
	return r, err
}

func (p *Processor) Participant(ctx context.Context, roundID uint64, wallet solana.PublicKey) (part state.Participant, err error) {
	err = p.view(ctx, func(u *unit) error {
		addr, err := p.addrs.Round(roundID)
		if err != nil {
			return err
		}
		key, err := p.addrs.Participant(addr, wallet)
		if err != nil {
			return err
		}
		part, err = mustLoad[state.Participant](ctx, u.tx, key, "participant")
		return err
	})
	return part, err
}

// DegenClaim returns the claim of the round's winner.
func (p *Processor) DegenClaim(ctx context.Context, roundID uint64) (c state.DegenClaim, err error) {
	err = p.view(ctx, func(u *unit) error {
		addr, err := p.addrs.Round(roundID)
		if err != nil {
			return err
		}
		r, err := mustLoad[state.Round](ctx, u.tx, addr, "round")
		if err != nil {
			return err
		}
		key, err := p.addrs.DegenClaim(addr, r.Winner)
		if err != nil {
			return err
		}
		c, err = mustLoad[state.DegenClaim](ctx, u.tx, key, "degen claim")
		return err
	})
	return c, err
}

// Balance returns owner's balance of mint.
func (p *Processor) Balance(ctx context.Context, owner, mint solana.PublicKey) (amount uint64, err error) {
	err = p.view(ctx, func(u *unit) error {
		key, err := ledger.TokenAccount(owner, mint)
		if err != nil {
			return err
		}
		amount, err = p.cfg.Bank.Balance(ctx, u.tx, key)
		return err
	})
	return amount, err
}

// Now returns the ledger clock in unix seconds.
func (p *Processor) Now() int64 {
	return p.cfg.Clock.Now().Unix()
}
