package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres connects to the database and verifies the connection.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 5 * time.Minute
	cfg.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Lookup returns the active credential for managerID.
func (p *Postgres) Lookup(ctx context.Context, managerID string) (*PixelCredential, error) {
	query := `
		SELECT manager_id, pixel_id, access_token, display_name, active, created_at
		FROM tiktok_pixels
		WHERE manager_id = $1 AND active = TRUE
	`
	cred := &PixelCredential{}
	err := p.pool.QueryRow(ctx, query, managerID).Scan(
		&cred.ManagerID, &cred.PixelID, &cred.AccessToken,
		&cred.DisplayName, &cred.Active, &cred.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup credential: %w", err)
	}
	return cred, nil
}

// CreateCredential registers a new manager id → pixel mapping.
func (p *Postgres) CreateCredential(ctx context.Context, cred *PixelCredential) error {
	query := `
		INSERT INTO tiktok_pixels (manager_id, pixel_id, access_token, display_name, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	cred.CreatedAt = time.Now().UTC()
	cred.Active = true
	_, err := p.pool.Exec(ctx, query,
		cred.ManagerID, cred.PixelID, cred.AccessToken,
		cred.DisplayName, cred.Active, cred.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("create credential: %w", err)
	}
	return nil
}

// UpdateCredential rotates the stored credential fields that are set in upd.
func (p *Postgres) UpdateCredential(ctx context.Context, managerID string, upd CredentialUpdate) (*PixelCredential, error) {
	query := `
		UPDATE tiktok_pixels
		SET pixel_id     = COALESCE(NULLIF($2, ''), pixel_id),
		    access_token = COALESCE(NULLIF($3, ''), access_token),
		    display_name = COALESCE(NULLIF($4, ''), display_name)
		WHERE manager_id = $1 AND active = TRUE
		RETURNING manager_id, pixel_id, access_token, display_name, active, created_at
	`
	cred := &PixelCredential{}
	err := p.pool.QueryRow(ctx, query, managerID, upd.PixelID, upd.AccessToken, upd.DisplayName).Scan(
		&cred.ManagerID, &cred.PixelID, &cred.AccessToken,
		&cred.DisplayName, &cred.Active, &cred.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update credential: %w", err)
	}
	return cred, nil
}

// ListCredentials returns all active credentials, oldest first.
func (p *Postgres) ListCredentials(ctx context.Context) ([]*PixelCredential, error) {
	query := `
		SELECT manager_id, pixel_id, access_token, display_name, active, created_at
		FROM tiktok_pixels
		WHERE active = TRUE
		ORDER BY created_at
	`
	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []*PixelCredential
	for rows.Next() {
		cred := &PixelCredential{}
		if err := rows.Scan(
			&cred.ManagerID, &cred.PixelID, &cred.AccessToken,
			&cred.DisplayName, &cred.Active, &cred.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

// Append writes one delivery outcome. Outcomes are immutable once written.
func (p *Postgres) Append(ctx context.Context, o *DeliveryOutcome) error {
	query := `
		INSERT INTO event_logs (id, pixel_id, stripe_event_id, stripe_event_type, status, error_message, tiktok_response, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := p.pool.Exec(ctx, query,
		o.ID, o.PixelID, o.SourceEventID, o.SourceEventType,
		o.Status, o.ErrorDetail, o.UpstreamResponse, o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append delivery outcome: %w", err)
	}
	return nil
}

// RecentOutcomes returns the newest outcomes for a pixel, newest first.
func (p *Postgres) RecentOutcomes(ctx context.Context, pixelID string, limit int) ([]*DeliveryOutcome, error) {
	query := `
		SELECT id, pixel_id, stripe_event_id, stripe_event_type, status, error_message, tiktok_response, created_at
		FROM event_logs
		WHERE pixel_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := p.pool.Query(ctx, query, pixelID, limit)
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []*DeliveryOutcome
	for rows.Next() {
		o := &DeliveryOutcome{}
		if err := rows.Scan(
			&o.ID, &o.PixelID, &o.SourceEventID, &o.SourceEventType,
			&o.Status, &o.ErrorDetail, &o.UpstreamResponse, &o.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// Stats aggregates counts for the stats endpoint.
func (p *Postgres) Stats(ctx context.Context) (*Stats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM tiktok_pixels WHERE active = TRUE),
			(SELECT COUNT(*) FROM event_logs),
			(SELECT COUNT(*) FROM event_logs WHERE status = 'success')
	`
	var active, total, succeeded int
	if err := p.pool.QueryRow(ctx, query).Scan(&active, &total, &succeeded); err != nil {
		return nil, fmt.Errorf("aggregate stats: %w", err)
	}
	s := &Stats{ActivePixels: active, TotalEvents: total}
	if total > 0 {
		s.SuccessRate = float64(succeeded) / float64(total) * 100
	}
	return s, nil
}

// Ping checks database reachability for the readiness probe.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
