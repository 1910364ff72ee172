package pg

import (
	"context"
	"fmt"
	"strings"

	"option_bot/internal/models"
	"option_bot/internal/modules/deltastore/service"
	"option_bot/pkg/db"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

const uniqueViolation = "23505"

// Store — delta records в Postgres.
type Store struct {
	db db.TxManager
}

var _ service.Store = (*Store)(nil)

func New(tm db.TxManager) *Store {
	return &Store{db: tm}
}

// Migrate создаёт таблицу и индексы, если их нет.
func (s *Store) Migrate(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Migrate: %w", err)
		}
	}()
	return s.db.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		_, err := tx.Exec(ctxTx, schema)
		return err
	})
}

func (s *Store) Create(ctx context.Context, rec models.DeltaRecord) (out models.DeltaRecord, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Create: %w", err)
		}
	}()
	if err = service.Validate(rec); err != nil {
		return out, err
	}
	err = s.db.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		row := tx.QueryRow(ctxTx, insertRecord,
			rec.AccountID, rec.InstrumentName, rec.OrderID, rec.TargetDelta, rec.MovePositionDelta,
			rec.MinExpireDays, rec.TvID, string(rec.Action), string(rec.RecordType))
		var scanErr error
		out, scanErr = scan(row)
		return scanErr
	})
	return out, mapErr(err)
}

func (s *Store) Update(ctx context.Context, rec models.DeltaRecord) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Update: %w", err)
		}
	}()
	if err = service.Validate(rec); err != nil {
		return err
	}
	err = s.db.RunMaster(ctx, func(ctxTx context.Context, tx db.Transaction) error {
		tag, err := tx.Exec(ctxTx, updateRecord,
			rec.ID, rec.AccountID, rec.InstrumentName, rec.OrderID, rec.TargetDelta,
			rec.MovePositionDelta, rec.MinExpireDays, rec.TvID, string(rec.Action), string(rec.RecordType))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errors.Wrapf(service.ErrNotFound, "id=%d", rec.ID)
		}
		return nil
	})
	return mapErr(err)
}

func (s *Store) Delete(ctx context.Context, id int64) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Delete: %w", err)
		}
	}()
	tag, err := s.db.Conn().Exec(ctx, deleteRecord, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(service.ErrNotFound, "id=%d", id)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id int64) (rec models.DeltaRecord, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Get: %w", err)
		}
	}()
	rec, err = scan(s.db.Conn().QueryRow(ctx, selectRecords+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, errors.Wrapf(service.ErrNotFound, "id=%d", id)
	}
	return rec, err
}

func (s *Store) Find(ctx context.Context, f models.DeltaFilter) (out []models.DeltaRecord, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Find: %w", err)
		}
	}()
	where, args := filterSQL(f)
	rows, err := s.db.Conn().Query(ctx, selectRecords+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out = make([]models.DeltaRecord, 0)
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func filterSQL(f models.DeltaFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(col string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if f.AccountID != "" {
		add("account_id", f.AccountID)
	}
	if f.InstrumentName != "" {
		add("instrument_name", f.InstrumentName)
	}
	if f.TvID != "" {
		add("tv_id", f.TvID)
	}
	if f.OrderID != "" {
		add("order_id", f.OrderID)
	}
	if f.RecordType != "" {
		add("record_type", string(f.RecordType))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scan(row pgx.Row) (models.DeltaRecord, error) {
	var (
		rec        models.DeltaRecord
		action     string
		recordType string
	)
	err := row.Scan(&rec.ID, &rec.AccountID, &rec.InstrumentName, &rec.OrderID, &rec.TargetDelta,
		&rec.MovePositionDelta, &rec.MinExpireDays, &rec.TvID, &action, &recordType,
		&rec.CreatedAt, &rec.UpdatedAt)
	rec.Action = models.Action(action)
	rec.RecordType = models.RecordType(recordType)
	return rec, err
}

func mapErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return errors.Wrap(service.ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}
