package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/stepychdev/winny/program/pkg/accounts"
	"github.com/stepychdev/winny/program/pkg/state"
)

// TokenBank keeps balances as state.TokenAccount records in the store.
type TokenBank struct{}

func NewTokenBank() *TokenBank {
	return &TokenBank{}
}

func (b *TokenBank) Transfer(ctx context.Context, tx accounts.Tx, t Transfer) error {
	const op = "ledger/transfer"
	if t.Amount == 0 {
		return nil
	}

	src, err := loadTokenAccount(ctx, tx, t.From)
	if err != nil {
		return err
	}
	if src.Mint != t.Mint {
		return state.Errorf(state.KindInvalidArgument, op, "source %s holds %s, not %s", t.From, src.Mint, t.Mint)
	}
	if src.Amount < t.Amount {
		return state.Errorf(state.KindInvalidArgument, op, "insufficient funds in %s: have %d, need %d", t.From, src.Amount, t.Amount)
	}
	if t.From == t.To {
		return nil
	}

	dst, err := loadTokenAccount(ctx, tx, t.To)
	switch {
	case state.KindOf(err) == state.KindNotFound:
		if t.ToOwner.IsZero() {
			return state.Errorf(state.KindInvalidArgument, op, "destination %s does not exist and has no owner", t.To)
		}
		dst = state.TokenAccount{Mint: t.Mint, Owner: t.ToOwner}
	case err != nil:
		return err
	case dst.Mint != t.Mint:
		return state.Errorf(state.KindInvalidArgument, op, "destination %s holds %s, not %s", t.To, dst.Mint, t.Mint)
	}

	src.Amount -= t.Amount
	if dst.Amount, err = state.CheckedAdd(op, dst.Amount, t.Amount); err != nil {
		return err
	}
	if err := storeTokenAccount(ctx, tx, t.From, src); err != nil {
		return err
	}
	return storeTokenAccount(ctx, tx, t.To, dst)
}

// Balance returns the amount held by account, or 0 if it does not exist.
func (b *TokenBank) Balance(ctx context.Context, tx accounts.Tx, account solana.PublicKey) (uint64, error) {
	acct, err := loadTokenAccount(ctx, tx, account)
	if err != nil {
		if state.KindOf(err) == state.KindNotFound {
			return 0, nil
		}
		return 0, err
	}
	return acct.Amount, nil
}

// Mint credits amount to account, creating it for owner if needed. It is
// used to fund wallets on local ledgers and in tests.
func (b *TokenBank) Mint(ctx context.Context, tx accounts.Tx, account, owner, mint solana.PublicKey, amount uint64) error {
	const op = "ledger/mint"
	acct, err := loadTokenAccount(ctx, tx, account)
	switch {
	case state.KindOf(err) == state.KindNotFound:
		acct = state.TokenAccount{Mint: mint, Owner: owner}
	case err != nil:
		return err
	case acct.Mint != mint:
		return state.Errorf(state.KindInvalidArgument, op, "account %s holds %s, not %s", account, acct.Mint, mint)
	}
	if acct.Amount, err = state.CheckedAdd(op, acct.Amount, amount); err != nil {
		return err
	}
	return storeTokenAccount(ctx, tx, account, acct)
}

func loadTokenAccount(ctx context.Context, tx accounts.Tx, key solana.PublicKey) (state.TokenAccount, error) {
	var acct state.TokenAccount
	data, err := tx.Get(ctx, key)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return acct, state.Errorf(state.KindNotFound, "ledger/load", "token account %s not found", key)
		}
		return acct, fmt.Errorf("failed to load token account %s: %w", key, err)
	}
	if err := acct.UnmarshalBinary(data); err != nil {
		return acct, fmt.Errorf("failed to decode token account %s: %w", key, err)
	}
	return acct, nil
}

func storeTokenAccount(ctx context.Context, tx accounts.Tx, key solana.PublicKey, acct state.TokenAccount) error {
	data, err := acct.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to encode token account %s: %w", key, err)
	}
	if err := tx.Put(ctx, key, data); err != nil {
		return fmt.Errorf("failed to store token account %s: %w", key, err)
	}
	return nil
}
