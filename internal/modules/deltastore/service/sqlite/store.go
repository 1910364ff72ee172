package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"option_bot/internal/models"
	"option_bot/internal/modules/deltastore/service"
	"option_bot/pkg/clock"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS delta_records (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	account_id          TEXT NOT NULL,
	instrument_name     TEXT NOT NULL,
	order_id            TEXT,
	target_delta        REAL NOT NULL,
	move_position_delta REAL NOT NULL DEFAULT 0,
	min_expire_days     INTEGER,
	tv_id               TEXT,
	action              TEXT NOT NULL,
	record_type         TEXT NOT NULL,
	created_at          INTEGER NOT NULL,
	updated_at          INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS delta_records_position_uq
	ON delta_records (account_id, instrument_name) WHERE record_type = 'position';
CREATE UNIQUE INDEX IF NOT EXISTS delta_records_order_uq
	ON delta_records (order_id) WHERE order_id IS NOT NULL;
`

const columns = `id, account_id, instrument_name, order_id, target_delta, move_position_delta,
	min_expire_days, tv_id, action, record_type, created_at, updated_at`

// Store — delta records в локальном файле SQLite, без внешней базы.
type Store struct {
	db    *sql.DB
	clock clock.Clock
}

var _ service.Store = (*Store)(nil)

// Schema — DDL таблицы delta_records для SQLite.
func Schema() string { return schema }

// Open открывает (или создаёт) базу по пути и накатывает схему.
func Open(ctx context.Context, path string, c clock.Clock) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// один писатель, иначе SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "migrate sqlite")
	}
	return &Store{db: db, clock: c}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Create(ctx context.Context, rec models.DeltaRecord) (models.DeltaRecord, error) {
	if err := service.Validate(rec); err != nil {
		return models.DeltaRecord{}, err
	}
	now := s.clock.Now().UTC()
	res, err := s.db.ExecContext(ctx, `INSERT INTO delta_records
		(account_id, instrument_name, order_id, target_delta, move_position_delta,
		 min_expire_days, tv_id, action, record_type, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.AccountID, rec.InstrumentName, nullString(rec.OrderID), rec.TargetDelta, rec.MovePositionDelta,
		nullInt(rec.MinExpireDays), nullString(rec.TvID), string(rec.Action), string(rec.RecordType),
		now.UnixNano(), now.UnixNano())
	if err != nil {
		return models.DeltaRecord{}, mapErr(err, "sqlite.Create")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.DeltaRecord{}, errors.Wrap(err, "sqlite.Create: last id")
	}
	rec.ID = id
	rec.CreatedAt, rec.UpdatedAt = now, now
	return rec, nil
}

func (s *Store) Update(ctx context.Context, rec models.DeltaRecord) error {
	if err := service.Validate(rec); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE delta_records SET
		account_id = ?, instrument_name = ?, order_id = ?, target_delta = ?, move_position_delta = ?,
		min_expire_days = ?, tv_id = ?, action = ?, record_type = ?, updated_at = ?
		WHERE id = ?`,
		rec.AccountID, rec.InstrumentName, nullString(rec.OrderID), rec.TargetDelta, rec.MovePositionDelta,
		nullInt(rec.MinExpireDays), nullString(rec.TvID), string(rec.Action), string(rec.RecordType),
		s.clock.Now().UTC().UnixNano(), rec.ID)
	if err != nil {
		return mapErr(err, "sqlite.Update")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(service.ErrNotFound, "id=%d", rec.ID)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM delta_records WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "sqlite.Delete")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Wrapf(service.ErrNotFound, "id=%d", id)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id int64) (models.DeltaRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM delta_records WHERE id = ?`, id)
	rec, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, errors.Wrapf(service.ErrNotFound, "id=%d", id)
	}
	return rec, errors.Wrap(err, "sqlite.Get")
}

func (s *Store) Find(ctx context.Context, f models.DeltaFilter) ([]models.DeltaRecord, error) {
	var (
		conds []string
		args  []any
	)
	add := func(col string, v any) {
		conds = append(conds, col+" = ?")
		args = append(args, v)
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
	q := `SELECT ` + columns + ` FROM delta_records`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	rows, err := s.db.QueryContext(ctx, q+" ORDER BY id", args...)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite.Find")
	}
	defer rows.Close()

	out := make([]models.DeltaRecord, 0)
	for rows.Next() {
		rec, err := scan(rows)
		if err != nil {
			return nil, errors.Wrap(err, "sqlite.Find: scan")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (models.DeltaRecord, error) {
	var (
		rec                models.DeltaRecord
		orderID, tvID      sql.NullString
		minDays            sql.NullInt64
		action, recordType string
		created, updated   int64
	)
	if err := row.Scan(&rec.ID, &rec.AccountID, &rec.InstrumentName, &orderID, &rec.TargetDelta,
		&rec.MovePositionDelta, &minDays, &tvID, &action, &recordType, &created, &updated); err != nil {
		return rec, err
	}
	if orderID.Valid {
		rec.OrderID = &orderID.String
	}
	if tvID.Valid {
		rec.TvID = &tvID.String
	}
	if minDays.Valid {
		rec.MinExpireDays = models.IntPtr(int(minDays.Int64))
	}
	rec.Action = models.Action(action)
	rec.RecordType = models.RecordType(recordType)
	rec.CreatedAt = time.Unix(0, created).UTC()
	rec.UpdatedAt = time.Unix(0, updated).UTC()
	return rec, nil
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func mapErr(err error, op string) error {
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return errors.Wrap(service.ErrDuplicate, fmt.Sprintf("%s: %v", op, err))
	}
	return errors.Wrap(err, op)
}
