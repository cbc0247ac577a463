package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fairyhunter13/drug-price-aggregator/internal/model"
	"github.com/fairyhunter13/drug-price-aggregator/internal/obs"
)

const schema = `
CREATE TABLE IF NOT EXISTS price_alerts (
	id                  TEXT PRIMARY KEY,
	user_id             TEXT NOT NULL,
	drug_name           TEXT NOT NULL,
	target_price        BIGINT NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL,
	last_observed_price BIGINT,
	active              BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE INDEX IF NOT EXISTS price_alerts_user_idx ON price_alerts (user_id);
`

const upsertAlert = `
INSERT INTO price_alerts (id, user_id, drug_name, target_price, created_at, last_observed_price, active)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
	last_observed_price = EXCLUDED.last_observed_price,
	active = EXCLUDED.active
`

// PostgresPersister stores alerts in the price_alerts table.
type PostgresPersister struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to url, verifies the connection and ensures the
// schema exists.
func OpenPostgres(ctx context.Context, url string) (*PostgresPersister, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	obs.Logger.Info("alert_db_ready")
	return &PostgresPersister{pool: pool}, nil
}

func (p *PostgresPersister) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresPersister) Load(ctx context.Context) ([]model.PriceAlert, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, user_id, drug_name, target_price, created_at, last_observed_price, active
		FROM price_alerts`)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var out []model.PriceAlert
	for rows.Next() {
		var a model.PriceAlert
		if err := rows.Scan(&a.ID, &a.UserID, &a.DrugName, &a.TargetPrice, &a.CreatedAt, &a.LastObservedPrice, &a.Active); err != nil {
			obs.Logger.Warn("alert_row_scan_failed", "error", err.Error())
			continue
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *PostgresPersister) Save(ctx context.Context, alerts ...model.PriceAlert) error {
	if len(alerts) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, a := range alerts {
		batch.Queue(upsertAlert, a.ID, a.UserID, a.DrugName, a.TargetPrice, a.CreatedAt, a.LastObservedPrice, a.Active)
	}
	br := p.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range alerts {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert alert: %w", err)
		}
	}
	return nil
}

func (p *PostgresPersister) Delete(ctx context.Context, id string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM price_alerts WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete alert: %w", err)
	}
	return nil
}
