package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"

	"github.com/stepychdev/winny/program/pkg/accounts"
	"github.com/stepychdev/winny/program/pkg/ledger"
	"github.com/stepychdev/winny/program/pkg/payout"
	"github.com/stepychdev/winny/program/pkg/processor"
	"github.com/stepychdev/winny/program/pkg/state"
)

type LedgerConfig struct {
	Logger    *slog.Logger
	Processor *processor.Processor
	// Store and Bank are only needed for Fund.
	Store accounts.Store
	Bank  *ledger.TokenBank
	Admin solana.PublicKey
	Out   io.Writer
}

func (cfg *LedgerConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Processor == nil {
		return errors.New("processor is required")
	}
	if cfg.Admin.IsZero() {
		return errors.New("admin is required")
	}
	if cfg.Out == nil {
		return errors.New("output writer is required")
	}
	return nil
}

// Ledger runs admin instructions and prints ledger records.
type Ledger struct {
	log *slog.Logger
	cfg LedgerConfig
}

func NewLedger(cfg LedgerConfig) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Ledger{log: cfg.Logger, cfg: cfg}, nil
}

// InitParams are the program parameters given on the command line. Keys
// are base58. Executor may be empty while degen is disabled.
type InitParams struct {
	Treasury        string
	StableMint      string
	OracleAuthority string
	Executor        string
	FeeBps          uint16
	TicketUnit      uint64
	RoundDuration   int64
	MinParticipants uint16
	MaxDeposit      uint64
	FallbackTimeout int64
	DegenEnabled    bool
}

func (p InitParams) configs(admin solana.PublicKey) (state.Config, state.DegenConfig, error) {
	keys := map[string]string{
		"treasury":         p.Treasury,
		"stable mint":      p.StableMint,
		"oracle authority": p.OracleAuthority,
		"executor":         p.Executor,
	}
	parsed := make(map[string]solana.PublicKey, len(keys))
	for name, v := range keys {
		if v == "" && name == "executor" && !p.DegenEnabled {
			continue
		}
		if v == "" {
			return state.Config{}, state.DegenConfig{}, fmt.Errorf("%s is required", name)
		}
		key, err := solana.PublicKeyFromBase58(v)
		if err != nil {
			return state.Config{}, state.DegenConfig{}, fmt.Errorf("invalid %s: %w", name, err)
		}
		parsed[name] = key
	}
	cfg := state.Config{
		Admin:           admin,
		Treasury:        parsed["treasury"],
		StableMint:      parsed["stable mint"],
		OracleAuthority: parsed["oracle authority"],
		FeeBps:          p.FeeBps,
		TicketUnit:      p.TicketUnit,
		RoundDuration:   p.RoundDuration,
		MinParticipants: p.MinParticipants,
		MaxDeposit:      p.MaxDeposit,
	}
	dcfg := state.DegenConfig{
		Executor:        parsed["executor"],
		FallbackTimeout: p.FallbackTimeout,
		Enabled:         p.DegenEnabled,
	}
	return cfg, dcfg, nil
}

func (l *Ledger) Init(ctx context.Context, params InitParams) error {
	cfg, dcfg, err := params.configs(l.cfg.Admin)
	if err != nil {
		return err
	}
	if err := l.cfg.Processor.InitConfig(ctx, l.cfg.Admin, cfg, dcfg); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}
	l.log.Info("admin: config initialized", "admin", l.cfg.Admin, "fee_bps", cfg.FeeBps, "ticket_unit", cfg.TicketUnit)
	return nil
}

func (l *Ledger) StartRound(ctx context.Context, roundID uint64) error {
	if err := l.cfg.Processor.StartRound(ctx, l.cfg.Admin, roundID); err != nil {
		return fmt.Errorf("failed to start round %d: %w", roundID, err)
	}
	l.log.Info("admin: round started", "round_id", roundID)
	return nil
}

func (l *Ledger) SetPaused(ctx context.Context, paused bool) error {
	if err := l.cfg.Processor.SetPaused(ctx, l.cfg.Admin, paused); err != nil {
		return fmt.Errorf("failed to set paused: %w", err)
	}
	l.log.Info("admin: pause flag updated", "paused", paused)
	return nil
}

func (l *Ledger) Cancel(ctx context.Context, roundID uint64) error {
	if err := l.cfg.Processor.Cancel(ctx, l.cfg.Admin, roundID); err != nil {
		return fmt.Errorf("failed to cancel round %d: %w", roundID, err)
	}
	l.log.Info("admin: round cancelled", "round_id", roundID)
	return nil
}

// ForceLock locks an Open round with participants before its countdown
// ends. No randomness reimbursement is owed for admin locks.
func (l *Ledger) ForceLock(ctx context.Context, roundID uint64) error {
	if err := l.cfg.Processor.Lock(ctx, l.cfg.Admin, roundID); err != nil {
		return fmt.Errorf("failed to lock round %d: %w", roundID, err)
	}
	l.log.Info("admin: round locked", "round_id", roundID)
	return nil
}

// Fund mints stable tokens to owner's token account. Only meaningful on a
// local ledger where this process owns the bank.
func (l *Ledger) Fund(ctx context.Context, owner solana.PublicKey, amount uint64) error {
	if l.cfg.Store == nil || l.cfg.Bank == nil {
		return errors.New("store and bank are required to fund accounts")
	}
	cfg, _, err := l.cfg.Processor.Config(ctx)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	acct, err := ledger.TokenAccount(owner, cfg.StableMint)
	if err != nil {
		return err
	}
	if err := l.cfg.Store.Update(ctx, func(tx accounts.Tx) error {
		return l.cfg.Bank.Mint(ctx, tx, acct, owner, cfg.StableMint, amount)
	}); err != nil {
		return fmt.Errorf("failed to fund %s: %w", owner, err)
	}
	l.log.Info("admin: account funded", "owner", owner, "amount", payout.UIAmount(amount))
	return nil
}

type configView struct {
	Admin           string          `json:"admin"`
	Treasury        string          `json:"treasury"`
	StableMint      string          `json:"stable_mint"`
	OracleAuthority string          `json:"oracle_authority"`
	FeeBps          uint16          `json:"fee_bps"`
	TicketUnit      decimal.Decimal `json:"ticket_unit"`
	RoundDuration   int64           `json:"round_duration_secs"`
	MinParticipants uint16          `json:"min_participants"`
	MaxDeposit      decimal.Decimal `json:"max_deposit"`
	Paused          bool            `json:"paused"`
	Executor        string          `json:"degen_executor"`
	FallbackTimeout int64           `json:"degen_fallback_timeout_secs"`
	DegenEnabled    bool            `json:"degen_enabled"`
}

func (l *Ledger) ShowConfig(ctx context.Context) error {
	cfg, dcfg, err := l.cfg.Processor.Config(ctx)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	return l.write(configView{
		Admin:           cfg.Admin.String(),
		Treasury:        cfg.Treasury.String(),
		StableMint:      cfg.StableMint.String(),
		OracleAuthority: cfg.OracleAuthority.String(),
		FeeBps:          cfg.FeeBps,
		TicketUnit:      payout.UIAmount(cfg.TicketUnit),
		RoundDuration:   cfg.RoundDuration,
		MinParticipants: cfg.MinParticipants,
		MaxDeposit:      payout.UIAmount(cfg.MaxDeposit),
		Paused:          cfg.Paused,
		Executor:        dcfg.Executor.String(),
		FallbackTimeout: dcfg.FallbackTimeout,
		DegenEnabled:    dcfg.Enabled,
	})
}

type participantView struct {
	Slot   int             `json:"slot"`
	Wallet string          `json:"wallet"`
	Weight uint64          `json:"weight"`
	Value  decimal.Decimal `json:"value"`
}

type roundView struct {
	RoundID      uint64            `json:"round_id"`
	Address      string            `json:"address"`
	Status       string            `json:"status"`
	DegenStatus  string            `json:"degen_status"`
	StartTime    int64             `json:"start_time"`
	EndTime      int64             `json:"end_time,omitempty"`
	TotalValue   decimal.Decimal   `json:"total_value"`
	TotalWeight  uint64            `json:"total_weight"`
	Participants []participantView `json:"participants"`
	Seed         string            `json:"randomness_seed,omitempty"`
	Randomness   string            `json:"randomness,omitempty"`
	Winner       string            `json:"winner,omitempty"`
	Payer        string            `json:"reimbursement_payer,omitempty"`
	Reimbursed   bool              `json:"reimbursed"`
}

func (l *Ledger) ShowRound(ctx context.Context, roundID uint64) error {
	r, err := l.cfg.Processor.Round(ctx, roundID)
	if err != nil {
		return fmt.Errorf("failed to read round %d: %w", roundID, err)
	}
	addr, err := l.cfg.Processor.Addresses().Round(roundID)
	if err != nil {
		return err
	}

	v := roundView{
		RoundID:      r.RoundID,
		Address:      addr.String(),
		Status:       r.Status.String(),
		DegenStatus:  r.DegenStatus.String(),
		StartTime:    r.StartTime,
		EndTime:      r.EndTime,
		TotalValue:   payout.UIAmount(r.TotalValue),
		TotalWeight:  r.TotalWeight,
		Participants: make([]participantView, 0, r.ParticipantCount),
		Seed:         hash(r.RandomnessSeed),
		Randomness:   hash(r.Randomness),
		Winner:       key(r.Winner),
		Payer:        key(r.ReimbursementPayer),
		Reimbursed:   r.Reimbursed,
	}
	for slot := 1; slot <= int(r.ParticipantCount); slot++ {
		wallet, _ := r.SlotWallet(slot)
		p, err := l.cfg.Processor.Participant(ctx, roundID, wallet)
		if err != nil {
			return fmt.Errorf("failed to read participant %s: %w", wallet, err)
		}
		v.Participants = append(v.Participants, participantView{
			Slot:   slot,
			Wallet: wallet.String(),
			Weight: p.Weight,
			Value:  payout.UIAmount(p.Value),
		})
	}
	return l.write(v)
}

func (l *Ledger) write(v any) error {
	enc := json.NewEncoder(l.cfg.Out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func hash(h [32]byte) string {
	if h == ([32]byte{}) {
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
