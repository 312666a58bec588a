// Package ledger describes the side effects a transition authorizes and the
// services that carry them out: value transfers between token accounts and
// randomness requests to the oracle. It also derives the program's account
// addresses.
package ledger

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/stepychdev/winny/program/pkg/accounts"
)

// Transfer moves Amount of Mint between two token accounts. ToOwner is the
// owner recorded when the destination account does not exist yet.
type Transfer struct {
	From    solana.PublicKey
	To      solana.PublicKey
	ToOwner solana.PublicKey
	Mint    solana.PublicKey
	Amount  uint64
}

// RequestKind says which callback a randomness request expects.
type RequestKind uint8

const (
	RequestKindRound RequestKind = iota + 1
	RequestKindDegen
)

func (k RequestKind) String() string {
	switch k {
	case RequestKindRound:
		return "round"
	case RequestKindDegen:
		return "degen"
	default:
		return "unknown"
	}
}

// RandomnessRequest asks the oracle for 32 bytes of randomness. Target is
// the round or claim address the callback must resolve, and Seed binds the
// callback to exactly one request.
type RandomnessRequest struct {
	Kind        RequestKind
	RoundID     uint64
	Target      solana.PublicKey
	Seed        [32]byte
	RequestedAt int64
}

// Effects are the side effects of one transition. Transfers are applied in
// the same atomic unit as the state writes; Requests are sent after commit.
type Effects struct {
	Transfers []Transfer
	Requests  []RandomnessRequest
}

// Merge appends other to e.
func (e *Effects) Merge(other Effects) {
	e.Transfers = append(e.Transfers, other.Transfers...)
	e.Requests = append(e.Requests, other.Requests...)
}

// Bank applies value transfers against the account store. Implementations
// fail closed: a transfer that cannot be applied in full returns an error
// and the caller rolls the whole unit back.
type Bank interface {
	Transfer(ctx context.Context, tx accounts.Tx, t Transfer) error
	Balance(ctx context.Context, tx accounts.Tx, account solana.PublicKey) (uint64, error)
}

// Oracle accepts randomness requests. Fulfillment arrives later as a
// separate instruction.
type Oracle interface {
	Request(ctx context.Context, req RandomnessRequest) error
}
