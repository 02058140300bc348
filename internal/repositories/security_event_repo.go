package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BradenHooton/bulwark/internal/database"
	"github.com/BradenHooton/bulwark/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SecurityEventRepository persists security events to Postgres. It is a
// logger.EventWriter and should sit behind a logger.AsyncWriter.
type SecurityEventRepository struct {
	pool *pgxpool.Pool
}

// NewSecurityEventRepository creates a new SecurityEventRepository
func NewSecurityEventRepository(db *database.DB) *SecurityEventRepository {
	return &SecurityEventRepository{pool: db.Pool}
}

// Name implements logger.EventWriter
func (r *SecurityEventRepository) Name() string { return "postgres" }

// WriteEvent implements logger.EventWriter
func (r *SecurityEventRepository) WriteEvent(ctx context.Context, event models.SecurityEvent) error {
	details, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("failed to encode event details: %w", err)
	}
	if event.Details == nil {
		details = []byte("{}")
	}

	var identity *string
	if event.Identity != "" {
		identity = &event.Identity
	}

	query := `
		INSERT INTO security_events (id, event_type, severity, source_address, identity, occurred_at, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`

	if _, err := r.pool.Exec(ctx, query,
		event.ID, string(event.Type), int16(event.Severity), event.SourceAddress, identity, event.Timestamp, details,
	); err != nil {
		return fmt.Errorf("failed to insert security event: %w", database.MapPostgresError(err))
	}
	return nil
}

const securityEventColumns = `id, event_type, severity, source_address, identity, occurred_at, details`

func scanSecurityEventRow(row rowScanner) (models.SecurityEvent, error) {
	var (
		event    models.SecurityEvent
		typ      string
		severity int16
		identity *string
		details  []byte
	)

	if err := row.Scan(&event.ID, &typ, &severity, &event.SourceAddress, &identity, &event.Timestamp, &details); err != nil {
		return models.SecurityEvent{}, database.MapPostgresError(err)
	}

	event.Type = models.EventType(typ)
	event.Severity = models.Severity(severity)
	event.Timestamp = event.Timestamp.UTC()
	if identity != nil {
		event.Identity = *identity
	}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &event.Details); err != nil {
			return models.SecurityEvent{}, fmt.Errorf("failed to decode event details: %w", err)
		}
	}
	return event, nil
}

func scanSecurityEventRows(rows pgx.Rows) ([]models.SecurityEvent, error) {
	defer rows.Close()

	events := make([]models.SecurityEvent, 0)
	for rows.Next() {
		event, err := scanSecurityEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating security event rows: %w", err)
	}
	return events, nil
}

// Recent returns the newest events first
func (r *SecurityEventRepository) Recent(ctx context.Context, limit int) ([]models.SecurityEvent, error) {
	query := `SELECT ` + securityEventColumns + ` FROM security_events ORDER BY occurred_at DESC LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}
	return scanSecurityEventRows(rows)
}

// ListByType returns events of type t (any type when t is empty) at or above minSeverity, newest first
func (r *SecurityEventRepository) ListByType(ctx context.Context, t models.EventType, minSeverity models.Severity, limit int) ([]models.SecurityEvent, error) {
	query := `
		SELECT ` + securityEventColumns + `
		FROM security_events
		WHERE ($1::text = '' OR event_type = $1) AND severity >= $2
		ORDER BY occurred_at DESC
		LIMIT $3
	`

	rows, err := r.pool.Query(ctx, query, string(t), int16(minSeverity), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}
	return scanSecurityEventRows(rows)
}

// PurgeBefore deletes events that occurred before cutoff
func (r *SecurityEventRepository) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM security_events WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge security events: %w", err)
	}
	return result.RowsAffected(), nil
}
