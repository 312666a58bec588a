// Package processor executes ledger instructions. Each instruction runs as
// one atomic unit against the account store: records are loaded, a pure
// transition runs over copies, and the authorized transfers and record
// writes commit together or not at all. Randomness requests and audit rows
// go out only after commit.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/stepychdev/winny/program/pkg/accounts"
	"github.com/stepychdev/winny/program/pkg/ledger"
	"github.com/stepychdev/winny/program/pkg/metrics"
	"github.com/stepychdev/winny/program/pkg/state"
)

// AuditSink receives terminal records after they commit.
type AuditSink interface {
	RecordRound(ctx context.Context, address solana.PublicKey, r state.Round) error
	RecordClaim(ctx context.Context, address solana.PublicKey, c state.DegenClaim) error
}

type Config struct {
	Logger    *slog.Logger
	Clock     clockwork.Clock
	Store     accounts.Store
	Bank      ledger.Bank
	Oracle    ledger.Oracle
	ProgramID solana.PublicKey
	Audit     AuditSink // optional
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("account store is required")
	}
	if cfg.Bank == nil {
		return errors.New("bank is required")
	}
	if cfg.Oracle == nil {
		return errors.New("oracle is required")
	}
	if cfg.ProgramID.IsZero() {
		return errors.New("program id is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

type Processor struct {
	log   *slog.Logger
	cfg   Config
	addrs ledger.Addresses
}

func New(cfg Config) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Processor{
		log:   cfg.Logger,
		cfg:   cfg,
		addrs: ledger.Addresses{ProgramID: cfg.ProgramID},
	}, nil
}

// Addresses returns the address deriver for the processor's program id.
func (p *Processor) Addresses() ledger.Addresses {
	return p.addrs
}

// execute runs fn as one atomic unit.
func (p *Processor) execute(ctx context.Context, name string, fn func(ctx context.Context, u *unit) error) error {
	start := time.Now()
	log := p.log.With("instruction", name, "trace_id", uuid.NewString())

	var u *unit
	err := p.cfg.Store.Update(ctx, func(tx accounts.Tx) error {
		u = &unit{p: p, tx: tx, now: p.cfg.Clock.Now().Unix()}
		if err := fn(ctx, u); err != nil {
			return err
		}
		return u.commit(ctx)
	})
	metrics.InstructionDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err != nil {
		if kind := state.KindOf(err); kind != 0 {
			metrics.InstructionsTotal.WithLabelValues(name, kind.String()).Inc()
			log.Debug("processor: instruction rejected", "kind", kind, "error", err)
		} else {
			metrics.InstructionsTotal.WithLabelValues(name, "error").Inc()
			log.Error("processor: instruction failed", "error", err)
		}
		return err
	}
	metrics.InstructionsTotal.WithLabelValues(name, "ok").Inc()

	for _, t := range u.effects.Transfers {
		if t.From == u.vault && !u.vault.IsZero() {
			metrics.PayoutAmountTotal.WithLabelValues(name).Add(float64(t.Amount))
		}
	}
	log.Debug("processor: instruction applied", "transfers", len(u.effects.Transfers), "requests", len(u.effects.Requests))

	p.audit(ctx, log, u)
	return p.sendRequests(ctx, log, u.effects.Requests)
}

func (p *Processor) sendRequests(ctx context.Context, log *slog.Logger, reqs []ledger.RandomnessRequest) error {
	for _, req := range reqs {
		if err := p.cfg.Oracle.Request(ctx, req); err != nil {
			metrics.OracleRequestsTotal.WithLabelValues(req.Kind.String(), "error").Inc()
			log.Warn("processor: randomness request failed", "kind", req.Kind, "round_id", req.RoundID, "error", err)
			return fmt.Errorf("failed to send randomness request: %w", err)
		}
		metrics.OracleRequestsTotal.WithLabelValues(req.Kind.String(), "ok").Inc()
		log.Info("processor: randomness requested", "kind", req.Kind, "round_id", req.RoundID, "target", req.Target)
	}
	return nil
}

func (p *Processor) audit(ctx context.Context, log *slog.Logger, u *unit) {
	if p.cfg.Audit == nil {
		return
	}
	for _, r := range u.rounds {
		if err := p.cfg.Audit.RecordRound(ctx, r.address, r.round); err != nil {
			log.Warn("processor: failed to audit round", "round_id", r.round.RoundID, "error", err)
		}
	}
	for _, c := range u.claims {
		if err := p.cfg.Audit.RecordClaim(ctx, c.address, c.claim); err != nil {
			log.Warn("processor: failed to audit degen claim", "round_id", c.claim.RoundID, "error", err)
		}
	}
}
