package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	pgSchemaSQL = `CREATE TABLE IF NOT EXISTS opportunities (
        id            BIGSERIAL PRIMARY KEY,
        detected_at   TIMESTAMPTZ NOT NULL,
        chain         TEXT NOT NULL,
        token         TEXT NOT NULL,
        base          TEXT NOT NULL,
        buy_dex       TEXT NOT NULL,
        sell_dex      TEXT NOT NULL,
        buy_pool_id   TEXT NOT NULL,
        sell_pool_id  TEXT NOT NULL,
        buy_price     NUMERIC NOT NULL,
        sell_price    NUMERIC NOT NULL,
        spread_brut   NUMERIC NOT NULL,
        spread_net    NUMERIC NOT NULL,
        total_costs   NUMERIC NOT NULL,
        liquidity_usd NUMERIC NOT NULL,
        profit_usd    NUMERIC NOT NULL,
        confidence    INTEGER NOT NULL,
        mev_risk      TEXT NOT NULL,
        source        TEXT NOT NULL,
        hash          TEXT NOT NULL,
        notified      BOOLEAN NOT NULL DEFAULT FALSE,
        created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );
    CREATE INDEX IF NOT EXISTS opportunities_detected_at_idx ON opportunities (detected_at);
    CREATE TABLE IF NOT EXISTS alerts (
        id         BIGSERIAL PRIMARY KEY,
        hash       TEXT NOT NULL,
        chain      TEXT NOT NULL,
        token      TEXT NOT NULL,
        spread_net NUMERIC NOT NULL,
        channels   TEXT[] NOT NULL DEFAULT '{}',
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );`

	insertOpportunitySQL = `INSERT INTO opportunities (
        detected_at,
        chain,
        token,
        base,
        buy_dex,
        sell_dex,
        buy_pool_id,
        sell_pool_id,
        buy_price,
        sell_price,
        spread_brut,
        spread_net,
        total_costs,
        liquidity_usd,
        profit_usd,
        confidence,
        mev_risk,
        source,
        hash,
        notified
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20
    )
    RETURNING id;`

	selectOpportunityColumns = `SELECT
        id,
        detected_at,
        chain,
        token,
        base,
        buy_dex,
        sell_dex,
        buy_pool_id,
        sell_pool_id,
        buy_price::TEXT,
        sell_price::TEXT,
        spread_brut::TEXT,
        spread_net::TEXT,
        total_costs::TEXT,
        liquidity_usd::TEXT,
        profit_usd::TEXT,
        confidence,
        mev_risk,
        source,
        hash,
        notified,
        created_at
    FROM opportunities`

	listOpportunitiesBetweenSQL = selectOpportunityColumns + `
    WHERE detected_at >= $1
      AND detected_at < $2
    ORDER BY detected_at;`

	listRecentOpportunitiesSQL = selectOpportunityColumns + `
    ORDER BY detected_at DESC
    LIMIT $1;`

	countOpportunitiesSQL = `SELECT COUNT(*) FROM opportunities;`

	deleteOpportunitiesBeforeSQL = `DELETE FROM opportunities WHERE detected_at < $1;`

	insertAlertSQL = `INSERT INTO alerts (
        hash,
        chain,
        token,
        spread_net,
        channels
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    RETURNING id, hash, chain, token, spread_net::TEXT, channels, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        hash,
        chain,
        token,
        spread_net::TEXT,
        channels,
        created_at
    FROM alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// OpportunityStore defines operations for detection history.
type OpportunityStore interface {
	InsertOpportunity(ctx context.Context, rec OpportunityRecord) (int64, error)
	ListOpportunitiesBetween(ctx context.Context, from, to time.Time) ([]OpportunityRecord, error)
	ListRecentOpportunities(ctx context.Context, limit int) ([]OpportunityRecord, error)
	CountOpportunities(ctx context.Context) (int64, error)
	DeleteOpportunitiesBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Repository is everything the application needs from a backend.
type Repository interface {
	OpportunityStore
	AlertStore
	AdvisoryLocker
	EnsureSchema(ctx context.Context) error
	Close()
}

// Store is the PostgreSQL repository.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, pgSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// best effort: the lock also goes away with the session
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// InsertOpportunity persists a detection and returns its id.
func (s *Store) InsertOpportunity(ctx context.Context, rec OpportunityRecord) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}

	var id int64
	scanErr := pool.QueryRow(ctx, insertOpportunitySQL,
		rec.DetectedAt,
		rec.Chain,
		rec.Token,
		rec.Base,
		rec.BuyDEX,
		rec.SellDEX,
		rec.BuyPoolID,
		rec.SellPoolID,
		rec.BuyPrice.String(),
		rec.SellPrice.String(),
		rec.SpreadBrut.String(),
		rec.SpreadNet.String(),
		rec.TotalCosts.String(),
		rec.LiquidityUSD.String(),
		rec.ProfitUSD.String(),
		rec.Confidence,
		rec.MEVRisk,
		rec.Source,
		rec.Hash,
		rec.Notified,
	).Scan(&id)
	if scanErr != nil {
		return 0, fmt.Errorf("insert opportunity: %w", scanErr)
	}
	return id, nil
}

// ListOpportunitiesBetween lists detections within a time window.
func (s *Store) ListOpportunitiesBetween(ctx context.Context, from, to time.Time) ([]OpportunityRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listOpportunitiesBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list opportunities between: %w", queryErr)
	}
	defer rows.Close()

	return collectOpportunities(rows, 0)
}

// ListRecentOpportunities lists the newest detections first.
func (s *Store) ListRecentOpportunities(ctx context.Context, limit int) ([]OpportunityRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentOpportunitiesSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent opportunities: %w", queryErr)
	}
	defer rows.Close()

	return collectOpportunities(rows, limit)
}

// CountOpportunities counts stored detections.
func (s *Store) CountOpportunities(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countOpportunitiesSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count opportunities: %w", scanErr)
	}
	return count, nil
}

// DeleteOpportunitiesBefore prunes history and reports how many rows went.
func (s *Store) DeleteOpportunitiesBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteOpportunitiesBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete opportunities before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	channels := alert.Channels
	if channels == nil {
		channels = []string{}
	}
	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.Hash,
		alert.Chain,
		alert.Token,
		alert.SpreadNet.String(),
		channels,
	)

	rec, scanErr := scanAlert(row)
	if scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		rec, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete alerts before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// rowScanner is satisfied by pgx.Row, pgx.Rows and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row rowScanner) (AlertRecord, error) {
	var (
		rec       AlertRecord
		spreadStr string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.Hash,
		&rec.Chain,
		&rec.Token,
		&spreadStr,
		&rec.Channels,
		&rec.CreatedAt,
	); err != nil {
		return AlertRecord{}, err
	}
	spread, err := decimal.NewFromString(spreadStr)
	if err != nil {
		return AlertRecord{}, fmt.Errorf("parse spread net: %w", err)
	}
	rec.SpreadNet = spread
	return rec, nil
}

func collectOpportunities(rows pgx.Rows, capacity int) ([]OpportunityRecord, error) {
	records := make([]OpportunityRecord, 0, max(capacity, 0))
	for rows.Next() {
		var (
			rec  OpportunityRecord
			nums decimalColumns
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.DetectedAt,
			&rec.Chain,
			&rec.Token,
			&rec.Base,
			&rec.BuyDEX,
			&rec.SellDEX,
			&rec.BuyPoolID,
			&rec.SellPoolID,
			&nums.buyPrice,
			&nums.sellPrice,
			&nums.spreadBrut,
			&nums.spreadNet,
			&nums.totalCosts,
			&nums.liquidity,
			&nums.profit,
			&rec.Confidence,
			&rec.MEVRisk,
			&rec.Source,
			&rec.Hash,
			&rec.Notified,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		if err := nums.apply(&rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// decimalColumns holds the textual numeric columns of an opportunity row.
type decimalColumns struct {
	buyPrice   string
	sellPrice  string
	spreadBrut string
	spreadNet  string
	totalCosts string
	liquidity  string
	profit     string
}

func (d decimalColumns) apply(rec *OpportunityRecord) error {
	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"buy price", d.buyPrice, &rec.BuyPrice},
		{"sell price", d.sellPrice, &rec.SellPrice},
		{"spread brut", d.spreadBrut, &rec.SpreadBrut},
		{"spread net", d.spreadNet, &rec.SpreadNet},
		{"total costs", d.totalCosts, &rec.TotalCosts},
		{"liquidity", d.liquidity, &rec.LiquidityUSD},
		{"profit", d.profit, &rec.ProfitUSD},
	}
	for _, f := range fields {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return fmt.Errorf("parse %s: %w", f.name, err)
		}
		*f.dst = v
	}
	return nil
}

var _ Repository = (*Store)(nil)
