// Package state holds the persisted records of the lottery program, their
// status tags, the fixed binary layout they round-trip through, and the
// error taxonomy every transition reports with.
package state

import (
	"github.com/gagliardetto/solana-go"
)

// MaxParticipants is the capacity of a round's slot table.
const MaxParticipants = 200

// RoundStatus is the lifecycle tag of a Round.
type RoundStatus uint8

const (
	RoundStatusOpen RoundStatus = iota
	RoundStatusLocked
	RoundStatusRandomnessRequested
	RoundStatusSettled
	RoundStatusClaimed
	RoundStatusCancelled
)

func (s RoundStatus) String() string {
	switch s {
	case RoundStatusOpen:
		return "open"
	case RoundStatusLocked:
		return "locked"
	case RoundStatusRandomnessRequested:
		return "randomness_requested"
	case RoundStatusSettled:
		return "settled"
	case RoundStatusClaimed:
		return "claimed"
	case RoundStatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (s RoundStatus) valid() bool { return s <= RoundStatusCancelled }

// Terminal reports whether no further round transition is possible.
func (s RoundStatus) Terminal() bool {
	return s == RoundStatusClaimed || s == RoundStatusCancelled
}

// DegenStatus is the degen sub-status carried on a Round.
type DegenStatus uint8

const (
	DegenStatusNone DegenStatus = iota
	DegenStatusRandomnessRequested
	DegenStatusReady
	DegenStatusExecuting
	DegenStatusClaimed
)

func (s DegenStatus) String() string {
	switch s {
	case DegenStatusNone:
		return "none"
	case DegenStatusRandomnessRequested:
		return "randomness_requested"
	case DegenStatusReady:
		return "ready"
	case DegenStatusExecuting:
		return "executing"
	case DegenStatusClaimed:
		return "claimed"
	default:
		return "unknown"
	}
}

func (s DegenStatus) valid() bool { return s <= DegenStatusClaimed }

// InProgress reports whether a degen resolution has started but not finished.
func (s DegenStatus) InProgress() bool {
	switch s {
	case DegenStatusRandomnessRequested, DegenStatusReady, DegenStatusExecuting:
		return true
	default:
		return false
	}
}

// ClaimStatus is the status of a DegenClaim. The zero value marks an
// uninitialized record and never appears on a persisted claim.
type ClaimStatus uint8

const (
	ClaimStatusNone ClaimStatus = iota
	ClaimStatusRandomnessRequested
	ClaimStatusReady
	ClaimStatusExecuting
	ClaimStatusClaimedSwapped
	ClaimStatusClaimedFallback
)

func (s ClaimStatus) String() string {
	switch s {
	case ClaimStatusNone:
		return "none"
	case ClaimStatusRandomnessRequested:
		return "randomness_requested"
	case ClaimStatusReady:
		return "ready"
	case ClaimStatusExecuting:
		return "executing"
	case ClaimStatusClaimedSwapped:
		return "claimed_swapped"
	case ClaimStatusClaimedFallback:
		return "claimed_fallback"
	default:
		return "unknown"
	}
}

func (s ClaimStatus) valid() bool { return s <= ClaimStatusClaimedFallback }

// Terminal reports whether the claim has paid out.
func (s ClaimStatus) Terminal() bool {
	return s == ClaimStatusClaimedSwapped || s == ClaimStatusClaimedFallback
}

// Round is one instance of the pooled lottery.
//
// Participants[i] holds the wallet that joined at slot i+1 and Tree is the
// Fenwick tree over those slots; both are addressed by slot index only.
type Round struct {
	RoundID          uint64
	Status           RoundStatus
	DegenStatus      DegenStatus
	StartTime        int64
	EndTime          int64 // 0 until the countdown starts
	FirstDepositTime int64
	TotalValue       uint64
	TotalWeight      uint64
	ParticipantCount uint16
	Participants     [MaxParticipants]solana.PublicKey
	Tree             [MaxParticipants + 1]uint64

	RandomnessSeed        [32]byte
	RandomnessRequestedAt int64
	Randomness            [32]byte
	WinningOffset         uint64
	Winner                solana.PublicKey

	ReimbursementPayer solana.PublicKey
	Reimbursed         bool
}

// ReimbursementDue reports whether a randomness payer is still owed.
func (r *Round) ReimbursementDue() bool {
	return !r.ReimbursementPayer.IsZero() && !r.Reimbursed
}

// SlotWallet returns the wallet at a 1-based slot.
func (r *Round) SlotWallet(slot int) (solana.PublicKey, bool) {
	if slot < 1 || slot > int(r.ParticipantCount) {
		return solana.PublicKey{}, false
	}
	return r.Participants[slot-1], true
}

// Participant is one wallet's stake in a round.
type Participant struct {
	Round         solana.PublicKey
	Wallet        solana.PublicKey
	Index         uint16 // 1-based slot, 0 until assigned
	Weight        uint64
	Value         uint64
	Contributions uint32
}

// DegenClaim is the audit record of one degen resolution.
type DegenClaim struct {
	Round   solana.PublicKey
	Winner  solana.PublicKey
	RoundID uint64
	Status  ClaimStatus

	Generation uint32
	Window     uint8
	Rank       uint8
	TokenIndex uint16
	TokenMint  solana.PublicKey

	RandomnessSeed [32]byte
	Randomness     [32]byte

	RequestedAt   int64
	FulfilledAt   int64
	ClaimedAt     int64
	FallbackAfter int64

	Payout    uint64
	MinOut    uint64
	RouteHash [32]byte

	Executor           solana.PublicKey
	Receiver           solana.PublicKey
	ReceiverPreBalance uint64
}

// Config holds the admin-set program parameters.
type Config struct {
	Admin           solana.PublicKey
	Treasury        solana.PublicKey
	StableMint      solana.PublicKey
	OracleAuthority solana.PublicKey
	FeeBps          uint16
	TicketUnit      uint64 // value per unit of weight
	RoundDuration   int64  // seconds
	MinParticipants uint16
	MaxDeposit      uint64 // per participant, 0 = uncapped
	Paused          bool
}

// DegenConfig holds the admin-set degen parameters.
type DegenConfig struct {
	Executor        solana.PublicKey
	FallbackTimeout int64 // seconds
	Enabled         bool
}

// TokenAccount is a token balance held by the ledger.
type TokenAccount struct {
	Mint   solana.PublicKey
	Owner  solana.PublicKey
	Amount uint64
}
