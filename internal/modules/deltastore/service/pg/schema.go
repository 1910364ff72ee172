package pg

const schema = `
CREATE TABLE IF NOT EXISTS delta_records (
	id                  BIGSERIAL PRIMARY KEY,
	account_id          TEXT NOT NULL,
	instrument_name     TEXT NOT NULL,
	order_id            TEXT,
	target_delta        DOUBLE PRECISION NOT NULL,
	move_position_delta DOUBLE PRECISION NOT NULL DEFAULT 0,
	min_expire_days     INTEGER,
	tv_id               TEXT,
	action              TEXT NOT NULL,
	record_type         TEXT NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS delta_records_position_uq
	ON delta_records (account_id, instrument_name) WHERE record_type = 'position';
CREATE UNIQUE INDEX IF NOT EXISTS delta_records_order_uq
	ON delta_records (order_id) WHERE order_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS delta_records_tv_idx ON delta_records (account_id, tv_id);
`

const columns = `id, account_id, instrument_name, order_id, target_delta, move_position_delta,
	min_expire_days, tv_id, action, record_type, created_at, updated_at`

const insertRecord = `INSERT INTO delta_records
	(account_id, instrument_name, order_id, target_delta, move_position_delta,
	 min_expire_days, tv_id, action, record_type)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING ` + columns

const updateRecord = `UPDATE delta_records SET
	account_id = $2, instrument_name = $3, order_id = $4, target_delta = $5,
	move_position_delta = $6, min_expire_days = $7, tv_id = $8, action = $9,
	record_type = $10, updated_at = now()
WHERE id = $1`

const deleteRecord = `DELETE FROM delta_records WHERE id = $1`

const selectRecords = `SELECT ` + columns + ` FROM delta_records`

// Schema — DDL таблицы delta_records для Postgres.
func Schema() string { return schema }
