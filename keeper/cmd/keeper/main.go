package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	flag "github.com/spf13/pflag"
	"golang.org/x/time/rate"

	"github.com/stepychdev/winny/keeper/pkg/keeper"
	"github.com/stepychdev/winny/keeper/pkg/server"
	"github.com/stepychdev/winny/program/pkg/accounts"
	"github.com/stepychdev/winny/program/pkg/audit"
	"github.com/stepychdev/winny/program/pkg/ledger"
	"github.com/stepychdev/winny/program/pkg/metrics"
	"github.com/stepychdev/winny/program/pkg/processor"
	"github.com/stepychdev/winny/utils/pkg/logger"
	"github.com/stepychdev/winny/utils/pkg/retry"
)

var (
	// Set by LDFLAGS
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	verboseFlag := flag.Bool("verbose", false, "enable verbose (debug) logging")
	noColorFlag := flag.Bool("no-color", false, "disable colored log output")
	envFileFlag := flag.String("env-file", ".env", "file of KEY=value pairs loaded into the environment if present")
	listenAddrFlag := flag.String("listen-addr", "0.0.0.0:8080", "address for /healthz, /readyz, /version and /metrics")

	programIDFlag := flag.String("program-id", "", "program id the ledger addresses derive from (or set WINNY_PROGRAM_ID env var)")
	identityFlag := flag.String("identity", "", "keeper public key, recorded as reimbursement payer (or set WINNY_KEEPER_IDENTITY env var)")
	identityKeypairFlag := flag.String("identity-keypair", "", "solana-keygen JSON file to read the keeper identity from")

	postgresURLFlag := flag.String("postgres-url", "", "PostgreSQL account store URL, in-memory store when empty (or set WINNY_POSTGRES_URL env var)")
	postgresMigrateFlag := flag.Bool("postgres-migrate", true, "apply account store migrations on startup")

	clickhouseAddrFlag := flag.String("clickhouse-addr", "", "ClickHouse address (host:port) for the audit sink, disabled when empty (or set CLICKHOUSE_ADDR_TCP env var)")
	clickhouseDatabaseFlag := flag.String("clickhouse-database", "default", "ClickHouse database name (or set CLICKHOUSE_DATABASE env var)")
	clickhouseUsernameFlag := flag.String("clickhouse-username", "default", "ClickHouse username (or set CLICKHOUSE_USERNAME env var)")
	clickhousePasswordFlag := flag.String("clickhouse-password", "", "ClickHouse password (or set CLICKHOUSE_PASSWORD env var)")
	clickhouseSecureFlag := flag.Bool("clickhouse-secure", false, "enable TLS for ClickHouse Cloud (or set CLICKHOUSE_SECURE=true env var)")

	oracleAuthorityFlag := flag.String("oracle-authority", "", "deliver local oracle answers as this key; must match the configured oracle authority")

	intervalFlag := flag.Duration("interval", 5*time.Second, "time between round scans")
	firstRoundIDFlag := flag.Uint64("first-round-id", 1, "lowest round id to watch")
	maxRoundsFlag := flag.Int("max-rounds-per-scan", 256, "maximum rounds visited per scan")
	resendAfterFlag := flag.Duration("resend-after", 2*time.Minute, "re-send unanswered randomness requests after this long, 0 disables")
	requestRateFlag := flag.Float64("request-rate", 5, "randomness requests per second, 0 for unlimited")
	requestBurstFlag := flag.Int("request-burst", 5, "randomness request burst")
	retryAttemptsFlag := flag.Int("retry-attempts", 3, "attempts per instruction on infrastructure errors")

	sentryDSNFlag := flag.String("sentry-dsn", "", "Sentry DSN for crank failures (or set SENTRY_DSN env var)")
	sentryEnvFlag := flag.String("sentry-environment", "development", "Sentry environment (or set SENTRY_ENVIRONMENT env var)")

	flag.Parse()

	log := logger.New(logger.Options{Verbose: *verboseFlag, NoColor: *noColorFlag})

	if *envFileFlag != "" {
		if err := godotenv.Load(*envFileFlag); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load env file %s: %w", *envFileFlag, err)
		}
	}

	// Override flags with environment variables if set
	overrideString(programIDFlag, "WINNY_PROGRAM_ID")
	overrideString(identityFlag, "WINNY_KEEPER_IDENTITY")
	overrideString(postgresURLFlag, "WINNY_POSTGRES_URL")
	overrideString(clickhouseAddrFlag, "CLICKHOUSE_ADDR_TCP")
	overrideString(clickhouseDatabaseFlag, "CLICKHOUSE_DATABASE")
	overrideString(clickhouseUsernameFlag, "CLICKHOUSE_USERNAME")
	overrideString(clickhousePasswordFlag, "CLICKHOUSE_PASSWORD")
	overrideString(sentryDSNFlag, "SENTRY_DSN")
	overrideString(sentryEnvFlag, "SENTRY_ENVIRONMENT")
	if os.Getenv("CLICKHOUSE_SECURE") == "true" {
		*clickhouseSecureFlag = true
	}
	if v := os.Getenv("WINNY_FIRST_ROUND_ID"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid WINNY_FIRST_ROUND_ID %q: %w", v, err)
		}
		*firstRoundIDFlag = id
	}

	if *programIDFlag == "" {
		return errors.New("--program-id is required")
	}
	programID, err := solana.PublicKeyFromBase58(*programIDFlag)
	if err != nil {
		return fmt.Errorf("invalid program id: %w", err)
	}
	identity, err := loadIdentity(*identityFlag, *identityKeypairFlag)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	metrics.BuildInfo.WithLabelValues(version, commit, date).Set(1)

	var reporter keeper.ErrorReporter
	if *sentryDSNFlag != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         *sentryDSNFlag,
			Environment: *sentryEnvFlag,
			Release:     version,
		}); err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)

		hub := sentry.CurrentHub().Clone()
		hub.ConfigureScope(func(scope *sentry.Scope) {
			scope.SetTag("component", "keeper")
			scope.SetTag("identity", identity.String())
		})
		reporter = hub
		log.Info("sentry error reporting enabled", "environment", *sentryEnvFlag)
	}

	store, closeStore, err := openStore(ctx, log, *postgresURLFlag, *postgresMigrateFlag)
	if err != nil {
		return err
	}
	defer closeStore()

	var sink processor.AuditSink
	if *clickhouseAddrFlag != "" {
		chCfg := audit.ClientConfig{
			Addr:     *clickhouseAddrFlag,
			Database: *clickhouseDatabaseFlag,
			Username: *clickhouseUsernameFlag,
			Password: *clickhousePasswordFlag,
			Secure:   *clickhouseSecureFlag,
		}
		if err := audit.Migrate(ctx, log, chCfg); err != nil {
			return fmt.Errorf("failed to run ClickHouse migrations: %w", err)
		}
		conn, err := audit.NewConnection(ctx, log, chCfg)
		if err != nil {
			return err
		}
		defer conn.Close()
		s, err := audit.NewSink(audit.SinkConfig{Logger: log, ClickHouse: conn})
		if err != nil {
			return fmt.Errorf("failed to create audit sink: %w", err)
		}
		sink = s
	}

	// Requests from this process are queued locally; they are answered here
	// only when an oracle authority is given.
	oracle := ledger.NewLocalOracle(log)

	proc, err := processor.New(processor.Config{
		Logger:    log,
		Store:     store,
		Bank:      ledger.NewTokenBank(),
		Oracle:    oracle,
		ProgramID: programID,
		Audit:     sink,
	})
	if err != nil {
		return fmt.Errorf("failed to create processor: %w", err)
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = *retryAttemptsFlag

	requestRate := rate.Limit(*requestRateFlag)
	if *requestRateFlag <= 0 {
		requestRate = rate.Inf
	}

	keeperCfg := keeper.Config{
		Logger:           log,
		Processor:        proc,
		Identity:         identity,
		Interval:         *intervalFlag,
		FirstRoundID:     *firstRoundIDFlag,
		MaxRoundsPerScan: *maxRoundsFlag,
		ResendAfter:      *resendAfterFlag,
		Retry:            retryCfg,
		RequestRate:      requestRate,
		RequestBurst:     *requestBurstFlag,
		Reporter:         reporter,
	}
	if *oracleAuthorityFlag != "" {
		authority, err := solana.PublicKeyFromBase58(*oracleAuthorityFlag)
		if err != nil {
			return fmt.Errorf("invalid oracle authority: %w", err)
		}
		keeperCfg.LocalOracle = oracle
		keeperCfg.OracleAuthority = authority
	}
	k, err := keeper.New(keeperCfg)
	if err != nil {
		return fmt.Errorf("failed to create keeper: %w", err)
	}

	srv, err := server.New(server.Config{
		Logger:     log,
		ListenAddr: *listenAddrFlag,
		VersionInfo: server.VersionInfo{
			Version: version,
			Commit:  commit,
			Date:    date,
		},
		Runner: k,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	return srv.Run(ctx)
}

func overrideString(flagValue *string, env string) {
	if v := os.Getenv(env); v != "" {
		*flagValue = v
	}
}

func loadIdentity(pubkey, keypairPath string) (solana.PublicKey, error) {
	switch {
	case keypairPath != "":
		priv, err := solana.PrivateKeyFromSolanaKeygenFile(keypairPath)
		if err != nil {
			return solana.PublicKey{}, fmt.Errorf("failed to read identity keypair: %w", err)
		}
		return priv.PublicKey(), nil
	case pubkey != "":
		key, err := solana.PublicKeyFromBase58(pubkey)
		if err != nil {
			return solana.PublicKey{}, fmt.Errorf("invalid identity: %w", err)
		}
		return key, nil
	default:
		return solana.PublicKey{}, errors.New("--identity or --identity-keypair is required")
	}
}

func openStore(ctx context.Context, log *slog.Logger, url string, migrate bool) (accounts.Store, func(), error) {
	if url == "" {
		log.Warn("no postgres url given, using an in-memory account store")
		return accounts.NewMemoryStore(), func() {}, nil
	}
	if migrate {
		if err := accounts.Migrate(ctx, log, url); err != nil {
			return nil, nil, fmt.Errorf("failed to run account store migrations: %w", err)
		}
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	store, err := accounts.NewPostgresStore(accounts.PostgresConfig{Logger: log, Pool: pool})
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return store, pool.Close, nil
}
