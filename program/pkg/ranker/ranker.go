// Package ranker derives degen candidates from oracle randomness.
//
// For a fixed (randomness, generation) the candidates for ranks
// 0..Window-1 are the first Window positions of a seeded Fisher-Yates
// shuffle of the candidate pool, so they are pairwise distinct, and anyone
// holding the revealed randomness can recompute the index for a rank.
package ranker

import (
	"crypto/sha256"
	"encoding/binary"

	"github.com/gagliardetto/solana-go"

	"github.com/stepychdev/winny/program/pkg/state"
)

const (
	// Generation is the current derivation version recorded on new claims.
	Generation uint32 = 1

	// Window is how many ranks a claim may choose from.
	Window = 5
)

var domainTag = []byte("winny:degen-candidate")

// Derive returns the candidate pool index for rank.
func Derive(randomness [32]byte, generation uint32, rank int) (uint16, error) {
	if generation != Generation {
		return 0, state.Errorf(state.KindInvalidCandidate, "ranker/derive", "unknown generation %d", generation)
	}
	if rank < 0 || rank >= Window {
		return 0, state.Errorf(state.KindInvalidCandidate, "ranker/derive", "rank %d outside window %d", rank, Window)
	}
	perm := shuffle(randomness, generation, rank+1)
	return perm[rank], nil
}

// Candidates returns the indices for every rank in the window.
func Candidates(randomness [32]byte, generation uint32) ([]uint16, error) {
	if generation != Generation {
		return nil, state.Errorf(state.KindInvalidCandidate, "ranker/candidates", "unknown generation %d", generation)
	}
	perm := shuffle(randomness, generation, Window)
	out := make([]uint16, Window)
	copy(out, perm[:Window])
	return out, nil
}

// Verify checks a claimed (rank, index, mint) triple.
func Verify(randomness [32]byte, generation uint32, rank int, index uint16, mint solana.PublicKey) error {
	expected, err := Derive(randomness, generation, rank)
	if err != nil {
		return err
	}
	if expected != index {
		return state.Errorf(state.KindInvalidCandidate, "ranker/verify", "rank %d derives index %d, got %d", rank, expected, index)
	}
	want, ok := Mint(index)
	if !ok || want != mint {
		return state.Errorf(state.KindInvalidCandidate, "ranker/verify", "mint does not match candidate %d", index)
	}
	return nil
}

// shuffle runs the first steps of a Fisher-Yates shuffle over the pool.
func shuffle(randomness [32]byte, generation uint32, steps int) []uint16 {
	perm := make([]uint16, PoolSize)
	for i := range perm {
		perm[i] = uint16(i)
	}
	for i := 0; i < steps && i < PoolSize-1; i++ {
		j := i + int(draw(randomness, generation, i)%uint64(PoolSize-i))
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm
}

func draw(randomness [32]byte, generation uint32, step int) uint64 {
	var buf [4 + 32 + 4]byte
	binary.LittleEndian.PutUint32(buf[0:4], generation)
	copy(buf[4:36], randomness[:])
	binary.LittleEndian.PutUint32(buf[36:40], uint32(step))

	h := sha256.New()
	h.Write(domainTag)
	h.Write(buf[:])
	sum := h.Sum(nil)
	return binary.LittleEndian.Uint64(sum[:8])
}
