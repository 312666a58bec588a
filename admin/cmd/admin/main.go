package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5/pgxpool"
	flag "github.com/spf13/pflag"

	"github.com/stepychdev/winny/admin/internal/admin"
	"github.com/stepychdev/winny/program/pkg/accounts"
	"github.com/stepychdev/winny/program/pkg/audit"
	"github.com/stepychdev/winny/program/pkg/ledger"
	"github.com/stepychdev/winny/program/pkg/processor"
	"github.com/stepychdev/winny/utils/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")

	// Account store configuration
	postgresURLFlag := flag.String("postgres-url", "", "PostgreSQL account store URL (or set WINNY_POSTGRES_URL env var)")

	// ClickHouse configuration
	clickhouseAddrFlag := flag.String("clickhouse-addr", "", "ClickHouse address (host:port) (or set CLICKHOUSE_ADDR_TCP env var)")
	clickhouseDatabaseFlag := flag.String("clickhouse-database", "default", "ClickHouse database name (or set CLICKHOUSE_DATABASE env var)")
	clickhouseUsernameFlag := flag.String("clickhouse-username", "default", "ClickHouse username (or set CLICKHOUSE_USERNAME env var)")
	clickhousePasswordFlag := flag.String("clickhouse-password", "", "ClickHouse password (or set CLICKHOUSE_PASSWORD env var)")
	clickhouseSecureFlag := flag.Bool("clickhouse-secure", false, "Enable TLS for ClickHouse Cloud (or set CLICKHOUSE_SECURE=true env var)")

	// Ledger identity
	programIDFlag := flag.String("program-id", "", "program id the ledger addresses derive from (or set WINNY_PROGRAM_ID env var)")
	adminFlag := flag.String("admin", "", "admin public key instructions are issued as (or set WINNY_ADMIN env var)")

	// Migration commands
	postgresMigrateFlag := flag.Bool("postgres-migrate", false, "Run account store migrations using goose")
	postgresMigrateDownFlag := flag.Bool("postgres-migrate-down", false, "Roll back the last account store migration")
	postgresMigrateStatusFlag := flag.Bool("postgres-migrate-status", false, "Show account store migration status")
	clickhouseMigrateFlag := flag.Bool("clickhouse-migrate", false, "Run audit migrations using goose")
	clickhouseMigrateStatusFlag := flag.Bool("clickhouse-migrate-status", false, "Show audit migration status")
	resetAuditFlag := flag.Bool("reset-audit", false, "Drop the audit tables")
	dryRunFlag := flag.Bool("dry-run", false, "Dry run mode - show what would be done without actually executing")
	yesFlag := flag.Bool("yes", false, "Skip confirmation prompt (use with caution)")

	// Ledger commands
	initConfigFlag := flag.Bool("init-config", false, "Initialize the program config from the --config-* flags")
	showConfigFlag := flag.Bool("show-config", false, "Print the program config")
	pauseFlag := flag.Bool("pause", false, "Pause the program")
	unpauseFlag := flag.Bool("unpause", false, "Unpause the program")
	startRoundFlag := flag.Uint64("start-round", 0, "Start the round with this id")
	lockRoundFlag := flag.Uint64("lock-round", 0, "Lock the round with this id before its countdown ends")
	cancelRoundFlag := flag.Uint64("cancel-round", 0, "Cancel the Open round with this id")
	showRoundFlag := flag.Uint64("show-round", 0, "Print the round with this id")
	fundFlag := flag.String("fund", "", "Mint stable tokens to this owner (local ledgers only)")
	fundAmountFlag := flag.Uint64("fund-amount", 0, "Amount in micro-units for --fund")

	// Config parameters for --init-config
	treasuryFlag := flag.String("config-treasury", "", "fee recipient wallet")
	stableMintFlag := flag.String("config-stable-mint", "", "stable token mint")
	oracleAuthorityFlag := flag.String("config-oracle-authority", "", "key allowed to deliver randomness")
	executorFlag := flag.String("config-executor", "", "degen swap executor")
	feeBpsFlag := flag.Uint16("config-fee-bps", 25, "protocol fee in basis points")
	ticketUnitFlag := flag.Uint64("config-ticket-unit", 10_000, "micro-units per unit of weight")
	roundDurationFlag := flag.Int64("config-round-duration", 120, "countdown length in seconds")
	minParticipantsFlag := flag.Uint16("config-min-participants", 2, "participants needed to start the countdown")
	maxDepositFlag := flag.Uint64("config-max-deposit", 0, "per-participant cap in micro-units, 0 for uncapped")
	fallbackTimeoutFlag := flag.Int64("config-fallback-timeout", 600, "seconds before a degen winner may take the fallback payout")
	degenEnabledFlag := flag.Bool("config-degen-enabled", false, "enable degen resolution")

	flag.Parse()

	log := logger.New(logger.Options{Verbose: *verboseFlag})

	// Override flags with environment variables if set
	if v := os.Getenv("WINNY_POSTGRES_URL"); v != "" {
		*postgresURLFlag = v
	}
	if v := os.Getenv("CLICKHOUSE_ADDR_TCP"); v != "" {
		*clickhouseAddrFlag = v
	}
	if v := os.Getenv("CLICKHOUSE_DATABASE"); v != "" {
		*clickhouseDatabaseFlag = v
	}
	if v := os.Getenv("CLICKHOUSE_USERNAME"); v != "" {
		*clickhouseUsernameFlag = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		*clickhousePasswordFlag = v
	}
	if os.Getenv("CLICKHOUSE_SECURE") == "true" {
		*clickhouseSecureFlag = true
	}
	if v := os.Getenv("WINNY_PROGRAM_ID"); v != "" {
		*programIDFlag = v
	}
	if v := os.Getenv("WINNY_ADMIN"); v != "" {
		*adminFlag = v
	}

	ctx := context.Background()
	chCfg := audit.ClientConfig{
		Addr:     *clickhouseAddrFlag,
		Database: *clickhouseDatabaseFlag,
		Username: *clickhouseUsernameFlag,
		Password: *clickhousePasswordFlag,
		Secure:   *clickhouseSecureFlag,
	}

	// Execute schema commands
	switch {
	case *postgresMigrateFlag, *postgresMigrateDownFlag, *postgresMigrateStatusFlag:
		if *postgresURLFlag == "" {
			return errors.New("--postgres-url is required for account store migrations")
		}
		switch {
		case *postgresMigrateDownFlag:
			return accounts.MigrateDown(ctx, log, *postgresURLFlag)
		case *postgresMigrateStatusFlag:
			return accounts.MigrationStatus(ctx, log, *postgresURLFlag)
		default:
			return accounts.Migrate(ctx, log, *postgresURLFlag)
		}

	case *clickhouseMigrateFlag:
		if chCfg.Addr == "" {
			return fmt.Errorf("--clickhouse-addr is required for --clickhouse-migrate")
		}
		return audit.Migrate(ctx, log, chCfg)

	case *clickhouseMigrateStatusFlag:
		if chCfg.Addr == "" {
			return fmt.Errorf("--clickhouse-addr is required for --clickhouse-migrate-status")
		}
		return audit.MigrationStatus(ctx, log, chCfg)

	case *resetAuditFlag:
		if chCfg.Addr == "" {
			return fmt.Errorf("--clickhouse-addr is required for --reset-audit")
		}
		conn, err := audit.NewConnection(ctx, log, chCfg)
		if err != nil {
			return err
		}
		defer conn.Close()
		return admin.ResetAudit(ctx, conn, chCfg.Database, os.Stdin, os.Stdout, *dryRunFlag, *yesFlag)
	}

	ledgerCommand := *initConfigFlag || *showConfigFlag || *pauseFlag || *unpauseFlag || *startRoundFlag != 0 ||
		*lockRoundFlag != 0 || *cancelRoundFlag != 0 || *showRoundFlag != 0 || *fundFlag != ""
	if !ledgerCommand {
		flag.Usage()
		return nil
	}

	l, closeLedger, err := openLedger(ctx, log, *postgresURLFlag, *programIDFlag, *adminFlag)
	if err != nil {
		return err
	}
	defer closeLedger()

	switch {
	case *initConfigFlag:
		return l.Init(ctx, admin.InitParams{
			Treasury:        *treasuryFlag,
			StableMint:      *stableMintFlag,
			OracleAuthority: *oracleAuthorityFlag,
			Executor:        *executorFlag,
			FeeBps:          *feeBpsFlag,
			TicketUnit:      *ticketUnitFlag,
			RoundDuration:   *roundDurationFlag,
			MinParticipants: *minParticipantsFlag,
			MaxDeposit:      *maxDepositFlag,
			FallbackTimeout: *fallbackTimeoutFlag,
			DegenEnabled:    *degenEnabledFlag,
		})
	case *showConfigFlag:
		return l.ShowConfig(ctx)
	case *pauseFlag, *unpauseFlag:
		if *pauseFlag && *unpauseFlag {
			return errors.New("--pause and --unpause are mutually exclusive")
		}
		return l.SetPaused(ctx, *pauseFlag)
	case *startRoundFlag != 0:
		return l.StartRound(ctx, *startRoundFlag)
	case *lockRoundFlag != 0:
		return l.ForceLock(ctx, *lockRoundFlag)
	case *cancelRoundFlag != 0:
		return l.Cancel(ctx, *cancelRoundFlag)
	case *showRoundFlag != 0:
		return l.ShowRound(ctx, *showRoundFlag)
	default:
		owner, err := solana.PublicKeyFromBase58(*fundFlag)
		if err != nil {
			return fmt.Errorf("invalid --fund owner: %w", err)
		}
		if *fundAmountFlag == 0 {
			return errors.New("--fund-amount is required for --fund")
		}
		return l.Fund(ctx, owner, *fundAmountFlag)
	}
}

func openLedger(ctx context.Context, log *slog.Logger, postgresURL, programIDStr, adminStr string) (*admin.Ledger, func(), error) {
	if postgresURL == "" {
		return nil, nil, errors.New("--postgres-url is required for ledger commands")
	}
	if programIDStr == "" {
		return nil, nil, errors.New("--program-id is required for ledger commands")
	}
	programID, err := solana.PublicKeyFromBase58(programIDStr)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid program id: %w", err)
	}
	if adminStr == "" {
		return nil, nil, errors.New("--admin is required for ledger commands")
	}
	adminKey, err := solana.PublicKeyFromBase58(adminStr)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid admin: %w", err)
	}

	pool, err := pgxpool.New(ctx, postgresURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	store, err := accounts.NewPostgresStore(accounts.PostgresConfig{Logger: log, Pool: pool})
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	bank := ledger.NewTokenBank()
	proc, err := processor.New(processor.Config{
		Logger:    log,
		Store:     store,
		Bank:      bank,
		Oracle:    ledger.NewLocalOracle(log),
		ProgramID: programID,
	})
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to create processor: %w", err)
	}
	l, err := admin.NewLedger(admin.LedgerConfig{
		Logger:    log,
		Processor: proc,
		Store:     store,
		Bank:      bank,
		Admin:     adminKey,
		Out:       os.Stdout,
	})
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return l, pool.Close, nil
}
