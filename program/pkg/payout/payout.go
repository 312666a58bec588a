package payout

import (
	"math/bits"

	"github.com/shopspring/decimal"

	"github.com/stepychdev/winny/program/pkg/state"
)

const (
	// FixedReimbursement is paid to the randomness payer, once per round.
	FixedReimbursement uint64 = 200_000

	// MaxFeeBps is 100%.
	MaxFeeBps = 10_000

	// StableDecimals is the decimal precision of the stable-value token.
	StableDecimals int32 = 6
)

// Split is how a pool total is divided. The three parts always sum to the total.
type Split struct {
	Reimbursement uint64
	Fee           uint64
	Payout        uint64
}

// Compute splits total into reimbursement, fee and payout.
func Compute(total uint64, feeBps uint16, reimburse bool) (Split, error) {
	if feeBps > MaxFeeBps {
		return Split{}, state.Errorf(state.KindInvalidArgument, "payout/compute", "fee %d bps above %d", feeBps, MaxFeeBps)
	}

	var s Split
	if reimburse {
		s.Reimbursement = min(FixedReimbursement, total)
	}
	remainder, err := state.CheckedSub("payout/compute", total, s.Reimbursement)
	if err != nil {
		return Split{}, err
	}

	hi, lo := bits.Mul64(remainder, uint64(feeBps))
	if hi >= MaxFeeBps {
		return Split{}, state.Errorf(state.KindArithmeticOverflow, "payout/compute", "fee on %d overflows", remainder)
	}
	s.Fee, _ = bits.Div64(hi, lo, MaxFeeBps)

	s.Payout, err = state.CheckedSub("payout/compute", remainder, s.Fee)
	if err != nil {
		return Split{}, err
	}
	return s, nil
}

// UIAmount renders a stable-token micro-unit amount as a decimal.
func UIAmount(amount uint64) decimal.Decimal {
	return decimal.NewFromUint64(amount).Shift(-StableDecimals)
}
