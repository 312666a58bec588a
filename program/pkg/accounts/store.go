// Package accounts stores raw account data keyed by address. Every write
// happens inside Update, which commits all of its writes or none of them.
package accounts

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"
)

var ErrNotFound = errors.New("account not found")

// Tx is a view of the store inside one atomic unit.
type Tx interface {
	// Get returns a copy of the account data or ErrNotFound.
	Get(ctx context.Context, key solana.PublicKey) ([]byte, error)
	// Put replaces the account data. The write is visible to later Gets in
	// the same Tx and persisted only if the enclosing Update succeeds.
	Put(ctx context.Context, key solana.PublicKey, data []byte) error
}

// Store runs atomic units against the account data.
type Store interface {
	// Update runs fn and commits its writes only if fn returns nil.
	Update(ctx context.Context, fn func(tx Tx) error) error
	// View runs fn against a consistent read-only snapshot.
	View(ctx context.Context, fn func(tx Tx) error) error
}

var errReadOnly = errors.New("read-only transaction")
