package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"
)

const (
	sqliteSchemaSQL = `CREATE TABLE IF NOT EXISTS opportunities (
        id               INTEGER PRIMARY KEY AUTOINCREMENT,
        detected_at_ms   INTEGER NOT NULL,
        chain            TEXT NOT NULL,
        token            TEXT NOT NULL,
        base             TEXT NOT NULL,
        buy_dex          TEXT NOT NULL,
        sell_dex         TEXT NOT NULL,
        buy_pool_id      TEXT NOT NULL,
        sell_pool_id     TEXT NOT NULL,
        buy_price        TEXT NOT NULL,
        sell_price       TEXT NOT NULL,
        spread_brut      TEXT NOT NULL,
        spread_net       TEXT NOT NULL,
        total_costs      TEXT NOT NULL,
        liquidity_usd    TEXT NOT NULL,
        profit_usd       TEXT NOT NULL,
        confidence       INTEGER NOT NULL,
        mev_risk         TEXT NOT NULL,
        source           TEXT NOT NULL,
        hash             TEXT NOT NULL,
        notified         INTEGER NOT NULL DEFAULT 0,
        created_at_ms    INTEGER NOT NULL
    );
    CREATE INDEX IF NOT EXISTS opportunities_detected_at_idx ON opportunities (detected_at_ms);
    CREATE TABLE IF NOT EXISTS alerts (
        id            INTEGER PRIMARY KEY AUTOINCREMENT,
        hash          TEXT NOT NULL,
        chain         TEXT NOT NULL,
        token         TEXT NOT NULL,
        spread_net    TEXT NOT NULL,
        channels      TEXT NOT NULL DEFAULT '',
        created_at_ms INTEGER NOT NULL
    );`

	sqliteInsertOpportunitySQL = `INSERT INTO opportunities (
        detected_at_ms, chain, token, base, buy_dex, sell_dex, buy_pool_id, sell_pool_id,
        buy_price, sell_price, spread_brut, spread_net, total_costs, liquidity_usd, profit_usd,
        confidence, mev_risk, source, hash, notified, created_at_ms
    ) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?);`

	sqliteSelectOpportunityColumns = `SELECT
        id, detected_at_ms, chain, token, base, buy_dex, sell_dex, buy_pool_id, sell_pool_id,
        buy_price, sell_price, spread_brut, spread_net, total_costs, liquidity_usd, profit_usd,
        confidence, mev_risk, source, hash, notified, created_at_ms
    FROM opportunities`

	sqliteListOpportunitiesBetweenSQL = sqliteSelectOpportunityColumns + `
    WHERE detected_at_ms >= ? AND detected_at_ms < ?
    ORDER BY detected_at_ms, id;`

	sqliteListRecentOpportunitiesSQL = sqliteSelectOpportunityColumns + `
    ORDER BY detected_at_ms DESC, id DESC
    LIMIT ?;`

	sqliteCountOpportunitiesSQL        = `SELECT COUNT(*) FROM opportunities;`
	sqliteDeleteOpportunitiesBeforeSQL = `DELETE FROM opportunities WHERE detected_at_ms < ?;`

	sqliteInsertAlertSQL = `INSERT INTO alerts (hash, chain, token, spread_net, channels, created_at_ms)
    VALUES (?,?,?,?,?,?);`

	sqliteListRecentAlertsSQL = `SELECT id, hash, chain, token, spread_net, channels, created_at_ms
    FROM alerts
    ORDER BY created_at_ms DESC, id DESC
    LIMIT ?;`

	sqliteDeleteAlertsBeforeSQL = `DELETE FROM alerts WHERE created_at_ms < ?;`
)

// SQLiteStore is the embedded single-file repository.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the database file at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database.sqlite_path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	if s == nil || s.db == nil {
		return nil, ErrNotConfigured
	}
	return s.db, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

// EnsureSchema creates the tables when missing.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, sqliteSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock always succeeds; a sqlite file has a single scanner by
// construction.
func (s *SQLiteStore) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	if _, err := s.getDB(); err != nil {
		return nil, false, err
	}
	return func() {}, true, nil
}

// InsertOpportunity persists a detection and returns its id.
func (s *SQLiteStore) InsertOpportunity(ctx context.Context, rec OpportunityRecord) (int64, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, sqliteInsertOpportunitySQL,
		rec.DetectedAt.UnixMilli(),
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
		s.now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert opportunity: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert opportunity id: %w", err)
	}
	return id, nil
}

// ListOpportunitiesBetween lists detections within a time window.
func (s *SQLiteStore) ListOpportunitiesBetween(ctx context.Context, from, to time.Time) ([]OpportunityRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, sqliteListOpportunitiesBetweenSQL, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("list opportunities between: %w", err)
	}
	defer rows.Close()
	return collectSQLiteOpportunities(rows)
}

// ListRecentOpportunities lists the newest detections first.
func (s *SQLiteStore) ListRecentOpportunities(ctx context.Context, limit int) ([]OpportunityRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, sqliteListRecentOpportunitiesSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent opportunities: %w", err)
	}
	defer rows.Close()
	return collectSQLiteOpportunities(rows)
}

// CountOpportunities counts stored detections.
func (s *SQLiteStore) CountOpportunities(ctx context.Context) (int64, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	var count int64
	if err := db.QueryRowContext(ctx, sqliteCountOpportunitiesSQL).Scan(&count); err != nil {
		return 0, fmt.Errorf("count opportunities: %w", err)
	}
	return count, nil
}

// DeleteOpportunitiesBefore prunes history and reports how many rows went.
func (s *SQLiteStore) DeleteOpportunitiesBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, sqliteDeleteOpportunitiesBeforeSQL, olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete opportunities before: %w", err)
	}
	return res.RowsAffected()
}

// InsertAlert persists an alert emission.
func (s *SQLiteStore) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return AlertRecord{}, err
	}
	created := s.now()
	res, err := db.ExecContext(ctx, sqliteInsertAlertSQL,
		alert.Hash,
		alert.Chain,
		alert.Token,
		alert.SpreadNet.String(),
		strings.Join(alert.Channels, ","),
		created.UnixMilli(),
	)
	if err != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return AlertRecord{}, fmt.Errorf("insert alert id: %w", err)
	}
	alert.ID = id
	alert.CreatedAt = time.UnixMilli(created.UnixMilli()).UTC()
	return alert, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *SQLiteStore) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, sqliteListRecentAlertsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, max(limit, 0))
	for rows.Next() {
		var (
			rec              AlertRecord
			spread, channels string
			createdMs        int64
		)
		if err := rows.Scan(&rec.ID, &rec.Hash, &rec.Chain, &rec.Token, &spread, &channels, &createdMs); err != nil {
			return nil, err
		}
		if rec.SpreadNet, err = decimal.NewFromString(spread); err != nil {
			return nil, fmt.Errorf("parse spread net: %w", err)
		}
		if channels != "" {
			rec.Channels = strings.Split(channels, ",")
		}
		rec.CreatedAt = time.UnixMilli(createdMs).UTC()
		alerts = append(alerts, rec)
	}
	return alerts, rows.Err()
}

// DeleteAlertsBefore deletes historical alerts.
func (s *SQLiteStore) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, sqliteDeleteAlertsBeforeSQL, olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete alerts before: %w", err)
	}
	return res.RowsAffected()
}

func collectSQLiteOpportunities(rows *sql.Rows) ([]OpportunityRecord, error) {
	records := make([]OpportunityRecord, 0)
	for rows.Next() {
		var (
			rec                   OpportunityRecord
			nums                  decimalColumns
			detectedMs, createdMs int64
		)
		if err := rows.Scan(
			&rec.ID,
			&detectedMs,
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
			&createdMs,
		); err != nil {
			return nil, err
		}
		if err := nums.apply(&rec); err != nil {
			return nil, err
		}
		rec.DetectedAt = time.UnixMilli(detectedMs).UTC()
		rec.CreatedAt = time.UnixMilli(createdMs).UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

var _ Repository = (*SQLiteStore)(nil)
