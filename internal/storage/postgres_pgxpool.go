package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresPoolStorage talks to PostgreSQL through a pgx pool with hand-written
// SQL. Its schema is owned by the goose migrations.
type PostgresPoolStorage struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func OpenPostgresPool(ctx context.Context, dsn string) (*PostgresPoolStorage, error) {
	if dsn == "" {
		dsn = "postgres://localhost:5432/energybill?sslmode=disable"
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return &PostgresPoolStorage{pool: pool, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *PostgresPoolStorage) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresPoolStorage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const (
	rateColumns        = `id, name, type, value::text, active, deleted_at, created_at, updated_at`
	flagColumns        = `id, name, consumption_reference::text, additional_value::text, active, deleted_at, created_at, updated_at`
	calculationColumns = `id, house_id, flag_id, date, consumption::text, value::text, created_at, updated_at`
	lineItemColumns    = `id, calculation_id, rate_id, position, value::text, description, created_at`
)

// Catalog

func (s *PostgresPoolStorage) ListActiveRates(ctx context.Context) ([]Rate, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+rateColumns+` FROM rates
        WHERE active AND deleted_at IS NULL
        ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Rate
	for rows.Next() {
		r, err := scanRate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func (s *PostgresPoolStorage) GetRate(ctx context.Context, id string) (*Rate, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+rateColumns+` FROM rates WHERE id=$1`, id)
	return notFoundAsNil(scanRate(row))
}

func (s *PostgresPoolStorage) UpsertRate(ctx context.Context, r Rate) error {
	now := s.now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	_, err := s.pool.Exec(ctx, `
        INSERT INTO rates (id, name, type, value, active, deleted_at, created_at, updated_at)
        VALUES ($1,$2,$3,$4::numeric,$5,$6,$7,$8)
        ON CONFLICT (id) DO UPDATE SET
            name=EXCLUDED.name,
            type=EXCLUDED.type,
            value=EXCLUDED.value,
            active=EXCLUDED.active,
            deleted_at=EXCLUDED.deleted_at,
            updated_at=EXCLUDED.updated_at
    `, r.ID, r.Name, r.Type, r.Value.String(), r.Active, r.DeletedAt, r.CreatedAt, now)
	return err
}

func (s *PostgresPoolStorage) GetActiveFlag(ctx context.Context, id string) (*Flag, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+flagColumns+` FROM flags
        WHERE id=$1 AND active AND deleted_at IS NULL`, id)
	return notFoundAsNil(scanFlag(row))
}

func (s *PostgresPoolStorage) GetFlag(ctx context.Context, id string) (*Flag, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+flagColumns+` FROM flags WHERE id=$1`, id)
	return notFoundAsNil(scanFlag(row))
}

func (s *PostgresPoolStorage) UpsertFlag(ctx context.Context, f Flag) error {
	now := s.now()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	_, err := s.pool.Exec(ctx, `
        INSERT INTO flags (id, name, consumption_reference, additional_value, active, deleted_at, created_at, updated_at)
        VALUES ($1,$2,$3::numeric,$4::numeric,$5,$6,$7,$8)
        ON CONFLICT (id) DO UPDATE SET
            name=EXCLUDED.name,
            consumption_reference=EXCLUDED.consumption_reference,
            additional_value=EXCLUDED.additional_value,
            active=EXCLUDED.active,
            deleted_at=EXCLUDED.deleted_at,
            updated_at=EXCLUDED.updated_at
    `, f.ID, f.Name, f.ConsumptionReference.String(), f.AdditionalValue.String(), f.Active, f.DeletedAt, f.CreatedAt, now)
	return err
}

func (s *PostgresPoolStorage) GetHouse(ctx context.Context, id string) (*House, error) {
	row := s.pool.QueryRow(ctx, `SELECT id, name, address, created_at FROM houses WHERE id=$1`, id)
	var h House
	if err := row.Scan(&h.ID, &h.Name, &h.Address, &h.CreatedAt); err != nil {
		return notFoundAsNil(&h, err)
	}
	return &h, nil
}

func (s *PostgresPoolStorage) UpsertHouse(ctx context.Context, h House) error {
	if h.CreatedAt.IsZero() {
		h.CreatedAt = s.now()
	}
	_, err := s.pool.Exec(ctx, `
        INSERT INTO houses (id, name, address, created_at)
        VALUES ($1,$2,$3,$4)
        ON CONFLICT (id) DO UPDATE SET
            name=EXCLUDED.name,
            address=EXCLUDED.address
    `, h.ID, h.Name, h.Address, h.CreatedAt)
	return err
}

// Calculations

func (s *PostgresPoolStorage) CreatePendingCalculation(ctx context.Context, c Calculation) (*Calculation, error) {
	now := s.now()
	c.Value = decimal.NullDecimal{}
	c.CreatedAt = now
	c.UpdatedAt = now
	_, err := s.pool.Exec(ctx, `
        INSERT INTO energy_calculations (id, house_id, flag_id, date, consumption, value, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5::numeric,NULL,$6,$7)
    `, c.ID, c.HouseID, c.FlagID, c.Date, c.Consumption.String(), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return nil, translateUnique(err)
	}
	return &c, nil
}

func (s *PostgresPoolStorage) UpdateCalculationValue(ctx context.Context, id string, value decimal.Decimal) (*Calculation, error) {
	row := s.pool.QueryRow(ctx, `
        UPDATE energy_calculations SET value=$2::numeric, updated_at=$3
        WHERE id=$1
        RETURNING `+calculationColumns, id, value.String(), s.now())
	return notFoundAsNil(scanCalculation(row))
}

func (s *PostgresPoolStorage) GetCalculation(ctx context.Context, id string) (*Calculation, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+calculationColumns+` FROM energy_calculations WHERE id=$1`, id)
	return notFoundAsNil(scanCalculation(row))
}

func (s *PostgresPoolStorage) ListStalePending(ctx context.Context, before time.Time) ([]Calculation, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+calculationColumns+` FROM energy_calculations
        WHERE value IS NULL AND created_at < $1
        ORDER BY created_at`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Calculation
	for rows.Next() {
		c, err := scanCalculation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// Line items

func (s *PostgresPoolStorage) InsertLineItem(ctx context.Context, item LineItem) (*LineItem, error) {
	item.CreatedAt = s.now()
	_, err := s.pool.Exec(ctx, `
        INSERT INTO energy_calculation_rates (id, calculation_id, rate_id, position, value, description, created_at)
        VALUES ($1,$2,$3,$4,$5::numeric,$6,$7)
    `, item.ID, item.CalculationID, item.RateID, item.Position, item.Value.String(), item.Description, item.CreatedAt)
	if err != nil {
		return nil, translateUnique(err)
	}
	return &item, nil
}

func (s *PostgresPoolStorage) ListLineItems(ctx context.Context, calculationID string) ([]LineItem, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+lineItemColumns+` FROM energy_calculation_rates
        WHERE calculation_id=$1
        ORDER BY position`, calculationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LineItem
	for rows.Next() {
		var it LineItem
		var value string
		if err := rows.Scan(&it.ID, &it.CalculationID, &it.RateID, &it.Position, &value, &it.Description, &it.CreatedAt); err != nil {
			return nil, err
		}
		if it.Value, err = decimal.NewFromString(value); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Locking

func (s *PostgresPoolStorage) AcquireAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&ok)
	return ok, err
}

func (s *PostgresPoolStorage) ReleaseAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, key).Scan(&ok)
	return ok, err
}

func scanRate(row pgx.Row) (*Rate, error) {
	var r Rate
	var value string
	if err := row.Scan(&r.ID, &r.Name, &r.Type, &value, &r.Active, &r.DeletedAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	v, err := decimal.NewFromString(value)
	if err != nil {
		return nil, err
	}
	r.Value = v
	return &r, nil
}

func scanFlag(row pgx.Row) (*Flag, error) {
	var f Flag
	var ref, extra string
	if err := row.Scan(&f.ID, &f.Name, &ref, &extra, &f.Active, &f.DeletedAt, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if f.ConsumptionReference, err = decimal.NewFromString(ref); err != nil {
		return nil, err
	}
	if f.AdditionalValue, err = decimal.NewFromString(extra); err != nil {
		return nil, err
	}
	return &f, nil
}

func scanCalculation(row pgx.Row) (*Calculation, error) {
	var c Calculation
	var consumption string
	var value *string
	if err := row.Scan(&c.ID, &c.HouseID, &c.FlagID, &c.Date, &consumption, &value, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if c.Consumption, err = decimal.NewFromString(consumption); err != nil {
		return nil, err
	}
	if value != nil {
		v, err := decimal.NewFromString(*value)
		if err != nil {
			return nil, err
		}
		c.Value = decimal.NewNullDecimal(v)
	}
	return &c, nil
}

func notFoundAsNil[T any](v *T, err error) (*T, error) {
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return v, nil
}

func translateUnique(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateID
	}
	return err
}
