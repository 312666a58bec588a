package winnytesting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/docker/go-connections/nat"
	tcch "github.com/testcontainers/testcontainers-go/modules/clickhouse"
)

// ClickHouseConfig configures the ClickHouse test container.
type ClickHouseConfig struct {
	Database       string
	Username       string
	Password       string
	ContainerImage string
}

func (cfg *ClickHouseConfig) Validate() error {
	if cfg.Database == "" {
		cfg.Database = "test"
	}
	if cfg.Username == "" {
		cfg.Username = "default"
	}
	if cfg.Password == "" {
		cfg.Password = "password"
	}
	if cfg.ContainerImage == "" {
		cfg.ContainerImage = "clickhouse/clickhouse-server:latest"
	}
	return nil
}

// ClickHouseDB is a running ClickHouse container.
type ClickHouseDB struct {
	log       *slog.Logger
	cfg       ClickHouseConfig
	addr      string
	container *tcch.ClickHouseContainer
}

func NewClickHouseDB(ctx context.Context, log *slog.Logger, cfg *ClickHouseConfig) (*ClickHouseDB, error) {
	if cfg == nil {
		cfg = &ClickHouseConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate clickhouse config: %w", err)
	}

	container, err := startWithRetry(func() (*tcch.ClickHouseContainer, error) {
		return tcch.Run(ctx,
			cfg.ContainerImage,
			tcch.WithDatabase(cfg.Database),
			tcch.WithUsername(cfg.Username),
			tcch.WithPassword(cfg.Password),
		)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start ClickHouse container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get ClickHouse container host: %w", err)
	}
	port, err := container.MappedPort(ctx, nat.Port("9000/tcp"))
	if err != nil {
		_ = container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get ClickHouse container mapped port: %w", err)
	}

	return &ClickHouseDB{
		log:       log,
		cfg:       *cfg,
		addr:      fmt.Sprintf("%s:%s", host, port.Port()),
		container: container,
	}, nil
}

// Addr returns the native protocol address (host:port).
func (db *ClickHouseDB) Addr() string     { return db.addr }
func (db *ClickHouseDB) Database() string { return db.cfg.Database }
func (db *ClickHouseDB) Username() string { return db.cfg.Username }
func (db *ClickHouseDB) Password() string { return db.cfg.Password }

func (db *ClickHouseDB) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.container.Terminate(ctx); err != nil {
		db.log.Error("failed to terminate ClickHouse container", "error", err)
	}
}
