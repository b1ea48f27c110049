package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/SmartGenzAI1/Aii-sub000/internal/shared/models"
)

type DB struct {
	conn *sql.DB
}

// New creates a new database connection
func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return &DB{conn: conn}, nil
}

// NewWithConn wraps an already-open connection. Tests and callers that
// manage their own pool use this instead of New.
func NewWithConn(conn *sql.DB) *DB {
	return &DB{conn: conn}
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Migrate creates the gateway's tables if they do not exist yet
func (db *DB) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS provider_status (
			provider TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			uptime_percent DOUBLE PRECISION NOT NULL,
			last_checked TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS request_logs (
			id BIGSERIAL PRIMARY KEY,
			request_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			tier TEXT NOT NULL,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			status TEXT NOT NULL,
			latency_ms INTEGER NOT NULL,
			failover_used BOOLEAN NOT NULL DEFAULT FALSE,
			chunks INTEGER NOT NULL DEFAULT 0,
			error_message TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_request_logs_user_created
			ON request_logs (user_id, created_at)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// UpsertProviderStatus stores the latest health snapshot for a provider
func (db *DB) UpsertProviderStatus(ctx context.Context, status models.ProviderStatus) error {
	query := `
		INSERT INTO provider_status (provider, status, uptime_percent, last_checked)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider) DO UPDATE SET
			status = EXCLUDED.status,
			uptime_percent = EXCLUDED.uptime_percent,
			last_checked = EXCLUDED.last_checked
	`

	_, err := db.conn.ExecContext(ctx, query,
		status.Provider,
		status.Status,
		status.UptimePercent,
		status.LastChecked,
	)

	return err
}

// ListProviderStatus returns the stored health snapshot for every provider
func (db *DB) ListProviderStatus(ctx context.Context) ([]models.ProviderStatus, error) {
	query := `
		SELECT provider, status, uptime_percent, last_checked
		FROM provider_status
		ORDER BY provider
	`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	defer rows.Close()

	var statuses []models.ProviderStatus
	for rows.Next() {
		var st models.ProviderStatus
		if err := rows.Scan(&st.Provider, &st.Status, &st.UptimePercent, &st.LastChecked); err != nil {
			return nil, fmt.Errorf("database error: %w", err)
		}
		statuses = append(statuses, st)
	}

	return statuses, rows.Err()
}

// LogRequest records a routed request
func (db *DB) LogRequest(ctx context.Context, log *models.RequestLog) error {
	query := `
		INSERT INTO request_logs (
			request_id, user_id, tier, provider, model, status,
			latency_ms, failover_used, chunks, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := db.conn.ExecContext(ctx,
		query,
		log.RequestID,
		log.UserID,
		log.Tier,
		log.Provider,
		log.Model,
		log.Status,
		log.LatencyMs,
		log.FailoverUsed,
		log.Chunks,
		log.ErrorMessage,
	)

	return err
}
