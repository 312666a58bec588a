package processor

import (
	"context"
	"encoding"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/stepychdev/winny/program/pkg/accounts"
	"github.com/stepychdev/winny/program/pkg/ledger"
	"github.com/stepychdev/winny/program/pkg/state"
)

type write struct {
	key solana.PublicKey
	rec encoding.BinaryMarshaler
}

type auditedRound struct {
	address solana.PublicKey
	round   state.Round
}

type auditedClaim struct {
	address solana.PublicKey
	claim   state.DegenClaim
}

// unit collects the writes and effects of one instruction until commit.
type unit struct {
	p   *Processor
	tx  accounts.Tx
	now int64

	writes  []write
	effects ledger.Effects
	vault   solana.PublicKey

	rounds []auditedRound
	claims []auditedClaim
}

func (u *unit) put(key solana.PublicKey, rec encoding.BinaryMarshaler) {
	u.writes = append(u.writes, write{key: key, rec: rec})
}

func (u *unit) emit(fx ledger.Effects) {
	u.effects.Merge(fx)
}

// commit applies transfers, then record writes. Any failure aborts the
// enclosing store transaction.
func (u *unit) commit(ctx context.Context) error {
	for _, t := range u.effects.Transfers {
		if err := u.p.cfg.Bank.Transfer(ctx, u.tx, t); err != nil {
			return err
		}
	}
	for _, w := range u.writes {
		data, err := w.rec.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to encode record %s: %w", w.key, err)
		}
		if err := u.tx.Put(ctx, w.key, data); err != nil {
			return fmt.Errorf("failed to write record %s: %w", w.key, err)
		}
	}
	return nil
}

type record[T any] interface {
	*T
	encoding.BinaryUnmarshaler
}

// load reads and decodes a record. found is false when the account does
// not exist.
func load[T any, PT record[T]](ctx context.Context, tx accounts.Tx, key solana.PublicKey) (rec T, found bool, err error) {
	data, err := tx.Get(ctx, key)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return rec, false, nil
		}
		return rec, false, fmt.Errorf("failed to read account %s: %w", key, err)
	}
	if err := PT(&rec).UnmarshalBinary(data); err != nil {
		return rec, false, fmt.Errorf("failed to decode account %s: %w", key, err)
	}
	return rec, true, nil
}

// mustLoad reads a record that must exist.
func mustLoad[T any, PT record[T]](ctx context.Context, tx accounts.Tx, key solana.PublicKey, what string) (T, error) {
	rec, found, err := load[T, PT](ctx, tx, key)
	if err != nil {
		return rec, err
	}
	if !found {
		return rec, state.Errorf(state.KindNotFound, "processor/load", "%s %s not found", what, key)
	}
	return rec, nil
}

func (u *unit) config(ctx context.Context) (state.Config, error) {
	key, err := u.p.addrs.Config()
	if err != nil {
		return state.Config{}, err
	}
	return mustLoad[state.Config](ctx, u.tx, key, "config")
}

func (u *unit) degenConfig(ctx context.Context) (state.DegenConfig, error) {
	key, err := u.p.addrs.DegenConfig()
	if err != nil {
		return state.DegenConfig{}, err
	}
	return mustLoad[state.DegenConfig](ctx, u.tx, key, "degen config")
}

// round resolves the round and vault addresses and loads the round.
func (u *unit) round(ctx context.Context, cfg state.Config, roundID uint64) (addr, vault solana.PublicKey, r state.Round, err error) {
	if addr, err = u.p.addrs.Round(roundID); err != nil {
		return
	}
	if vault, err = u.p.addrs.Vault(addr, cfg.StableMint); err != nil {
		return
	}
	u.vault = vault
	r, err = mustLoad[state.Round](ctx, u.tx, addr, "round")
	return
}

// putRound queues the write of a changed round. A round is audited once,
// when it first reaches a terminal status.
func (u *unit) putRound(addr solana.PublicKey, before, after state.Round) error {
	if after.Status.Terminal() && after.DegenStatus.InProgress() {
		return state.Errorf(state.KindStateMismatch, "processor/commit", "round %d is %s with degen %s", after.RoundID, after.Status, after.DegenStatus)
	}
	if after == before {
		return nil
	}
	u.put(addr, &after)
	if after.Status.Terminal() && !before.Status.Terminal() {
		u.rounds = append(u.rounds, auditedRound{address: addr, round: after})
	}
	return nil
}

func (u *unit) putClaim(addr solana.PublicKey, before, after state.DegenClaim) {
	if after == before {
		return
	}
	u.put(addr, &after)
	if after.Status.Terminal() && !before.Status.Terminal() {
		u.claims = append(u.claims, auditedClaim{address: addr, claim: after})
	}
}
