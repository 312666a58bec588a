// Package audit mirrors terminal rounds and degen claims into ClickHouse
// for reporting. Rows are keyed by account address and replaced on
// re-insert, so replaying a record is harmless.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/mr-tron/base58"

	"github.com/stepychdev/winny/program/pkg/metrics"
	"github.com/stepychdev/winny/program/pkg/payout"
	"github.com/stepychdev/winny/program/pkg/state"
)

type SinkConfig struct {
	Logger     *slog.Logger
	Clock      clockwork.Clock
	ClickHouse Connection
}

func (cfg *SinkConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.ClickHouse == nil {
		return errors.New("clickhouse connection is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

type Sink struct {
	log *slog.Logger
	cfg SinkConfig
}

func NewSink(cfg SinkConfig) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Sink{log: cfg.Logger, cfg: cfg}, nil
}

const insertRound = `INSERT INTO winny_rounds (
	round_address, round_id, status, degen_status, start_time, end_time,
	total_value, total_weight, participant_count, randomness, winning_offset,
	winner, reimbursement_payer, reimbursed, recorded_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

const insertClaim = `INSERT INTO winny_degen_claims (
	claim_address, round_address, round_id, winner, status, generation, candidate_rank,
	token_index, token_mint, randomness, requested_at, fulfilled_at, claimed_at,
	payout, min_out, route_hash, executor, receiver, recorded_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (s *Sink) RecordRound(ctx context.Context, address solana.PublicKey, r state.Round) error {
	err := s.cfg.ClickHouse.Exec(ContextWithSyncInsert(ctx), insertRound,
		address.String(),
		r.RoundID,
		r.Status.String(),
		r.DegenStatus.String(),
		unixTime(r.StartTime),
		unixTime(r.EndTime),
		payout.UIAmount(r.TotalValue),
		r.TotalWeight,
		r.ParticipantCount,
		hash(r.Randomness),
		r.WinningOffset,
		key(r.Winner),
		key(r.ReimbursementPayer),
		r.Reimbursed,
		s.cfg.Clock.Now().UTC(),
	)
	if err != nil {
		metrics.AuditWritesTotal.WithLabelValues("winny_rounds", "error").Inc()
		return fmt.Errorf("failed to insert round %d: %w", r.RoundID, err)
	}
	metrics.AuditWritesTotal.WithLabelValues("winny_rounds", "ok").Inc()
	s.log.Debug("audit: recorded round", "round_id", r.RoundID, "status", r.Status, "total_value", payout.UIAmount(r.TotalValue).String())
	return nil
}

func (s *Sink) RecordClaim(ctx context.Context, address solana.PublicKey, c state.DegenClaim) error {
	err := s.cfg.ClickHouse.Exec(ContextWithSyncInsert(ctx), insertClaim,
		address.String(),
		c.Round.String(),
		c.RoundID,
		c.Winner.String(),
		c.Status.String(),
		c.Generation,
		c.Rank,
		c.TokenIndex,
		key(c.TokenMint),
		hash(c.Randomness),
		unixTime(c.RequestedAt),
		unixTime(c.FulfilledAt),
		unixTime(c.ClaimedAt),
		payout.UIAmount(c.Payout),
		c.MinOut,
		hash(c.RouteHash),
		key(c.Executor),
		key(c.Receiver),
		s.cfg.Clock.Now().UTC(),
	)
	if err != nil {
		metrics.AuditWritesTotal.WithLabelValues("winny_degen_claims", "error").Inc()
		return fmt.Errorf("failed to insert degen claim for round %d: %w", c.RoundID, err)
	}
	metrics.AuditWritesTotal.WithLabelValues("winny_degen_claims", "ok").Inc()
	s.log.Debug("audit: recorded degen claim", "round_id", c.RoundID, "status", c.Status)
	return nil
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

// hash renders a 32-byte value as base58, or "" when unset.
func hash(h [32]byte) string {
	if h == [32]byte{} {
		return ""
	}
	return base58.Encode(h[:])
}

func key(k solana.PublicKey) string {
	if k.IsZero() {
		return ""
	}
	return k.String()
}
