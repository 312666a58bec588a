package accounts

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// MemoryStore is an in-process Store. Updates are serialized.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[solana.PublicKey][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[solana.PublicKey][]byte)}
}

func (s *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memoryTx{base: s.data, writes: make(map[solana.PublicKey][]byte)}
	if err := fn(tx); err != nil {
		return err
	}
	for k, v := range tx.writes {
		s.data[k] = v
	}
	return nil
}

func (s *MemoryStore) View(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&memoryTx{base: s.data, readOnly: true})
}

// Snapshot returns a copy of every account, for tests comparing state.
func (s *MemoryStore) Snapshot() map[solana.PublicKey][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[solana.PublicKey][]byte, len(s.data))
	for k, v := range s.data {
		out[k] = append([]byte(nil), v...)
	}
	return out
}

type memoryTx struct {
	base     map[solana.PublicKey][]byte
	writes   map[solana.PublicKey][]byte
	readOnly bool
}

func (tx *memoryTx) Get(ctx context.Context, key solana.PublicKey) ([]byte, error) {
	if v, ok := tx.writes[key]; ok {
		return append([]byte(nil), v...), nil
	}
	if v, ok := tx.base[key]; ok {
		return append([]byte(nil), v...), nil
	}
	return nil, ErrNotFound
}

func (tx *memoryTx) Put(ctx context.Context, key solana.PublicKey, data []byte) error {
	if tx.readOnly {
		return errReadOnly
	}
	tx.writes[key] = append([]byte(nil), data...)
	return nil
}
