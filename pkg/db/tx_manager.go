package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// TxFunc выполняется внутри транзакции; ошибка или паника откатывают её.
type TxFunc func(ctxTx context.Context, tx Transaction) error

// TxManager: запись через RunMaster, чтение без транзакции через Conn.
type TxManager interface {
	RunMaster(ctx context.Context, fn TxFunc) error
	Conn() Transaction
}

// Transaction — общее у пула и pgx.Tx.
type Transaction interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ TxManager = (*PgTxManager)(nil)
