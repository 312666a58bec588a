package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var (
	seedConfig      = []byte("config")
	seedDegenConfig = []byte("degen_config")
	seedRound       = []byte("round")
	seedParticipant = []byte("participant")
	seedDegenClaim  = []byte("degen_claim")
)

// Addresses derives program-owned account addresses for one program id.
type Addresses struct {
	ProgramID solana.PublicKey
}

func (a Addresses) find(what string, seeds ...[]byte) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(seeds, a.ProgramID)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive %s address: %w", what, err)
	}
	return addr, nil
}

func (a Addresses) Config() (solana.PublicKey, error) {
	return a.find("config", seedConfig)
}

func (a Addresses) DegenConfig() (solana.PublicKey, error) {
	return a.find("degen config", seedDegenConfig)
}

func (a Addresses) Round(roundID uint64) (solana.PublicKey, error) {
	var id [8]byte
	binary.LittleEndian.PutUint64(id[:], roundID)
	return a.find("round", seedRound, id[:])
}

func (a Addresses) Participant(round, wallet solana.PublicKey) (solana.PublicKey, error) {
	return a.find("participant", seedParticipant, round[:], wallet[:])
}

func (a Addresses) DegenClaim(round, winner solana.PublicKey) (solana.PublicKey, error) {
	return a.find("degen claim", seedDegenClaim, round[:], winner[:])
}

// Vault is the round's token account for mint.
func (a Addresses) Vault(round, mint solana.PublicKey) (solana.PublicKey, error) {
	return TokenAccount(round, mint)
}

// TokenAccount is the associated token account of owner for mint.
func TokenAccount(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive token account: %w", err)
	}
	return addr, nil
}

// RoundSeed binds a round randomness request to one round.
func RoundSeed(round solana.PublicKey, roundID uint64) [32]byte {
	var id [8]byte
	binary.LittleEndian.PutUint64(id[:], roundID)

	h := sha256.New()
	h.Write([]byte("winny:round"))
	h.Write(round[:])
	h.Write(id[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// ClaimSeed binds a degen randomness request to one claim and request time,
// so a reset claim never accepts a callback meant for an earlier request.
func ClaimSeed(claim solana.PublicKey, roundID uint64, requestedAt int64) [32]byte {
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], roundID)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(requestedAt))

	h := sha256.New()
	h.Write([]byte("winny:degen"))
	h.Write(claim[:])
	h.Write(buf[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}
