package db

import (
	"context"
	"fmt"
	"time"

	"option_bot/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PoolConfig struct {
	DSN      string
	MaxConns int32
	// HealthCheck — период проверки простаивающих соединений, 0 — дефолт pgx.
	HealthCheck time.Duration
}

func NewPool(ctx context.Context, conf PoolConfig) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(conf.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if conf.MaxConns > 0 {
		cfg.MaxConns = conf.MaxConns
	}
	if conf.HealthCheck > 0 {
		cfg.HealthCheckPeriod = conf.HealthCheck
	}
	return pgxpool.NewWithConfig(ctx, cfg)
}

// PgTxManager — транзакции на одном мастер-пуле.
type PgTxManager struct {
	pool *pgxpool.Pool
}

func NewPgTxManager(pool *pgxpool.Pool) *PgTxManager {
	return &PgTxManager{pool: pool}
}

func (m *PgTxManager) Close() { m.pool.Close() }

func (m *PgTxManager) Conn() Transaction { return m.pool }

// RunMaster — read committed: delta-записи защищены уникальными индексами,
// более строгая изоляция не нужна.
func (m *PgTxManager) RunMaster(ctx context.Context, fn TxFunc) error {
	return m.inTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, fn)
}

func (m *PgTxManager) inTx(ctx context.Context, opts pgx.TxOptions, fn TxFunc) (err error) {
	tx, err := m.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		switch p := recover(); {
		case p != nil:
			logger.Error("tx panic, rollback: %v", p)
			_ = tx.Rollback(ctx)
			panic(p)
		case err != nil:
			_ = tx.Rollback(ctx)
		default:
			err = tx.Commit(ctx)
		}
	}()

	if err = fn(ctx, tx); err != nil {
		return fmt.Errorf("tx fn: %w", err)
	}
	return nil
}
