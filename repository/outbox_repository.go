package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"byteme/database"
	"byteme/models"
)

func OutboxSchema(d database.Dialect) []string {
	ts := d.TimestampType()
	index := ""
	if d.Driver == database.MySQL {
		// MySQL 不支持 CREATE INDEX IF NOT EXISTS
		index = ",\n\t\t\tINDEX idx_outbox_status_created (status, created_at)"
	}
	ddl := []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS outbox_events (
			id VARCHAR(36) NOT NULL PRIMARY KEY,
			aggregate_id VARCHAR(64) NOT NULL,
			exchange_name VARCHAR(100) NOT NULL,
			routing_key VARCHAR(255) NOT NULL,
			payload TEXT NOT NULL,
			priority SMALLINT NOT NULL DEFAULT 0,
			delay_ms BIGINT NOT NULL DEFAULT 0,
			status VARCHAR(20) NOT NULL,
			attempts INT NOT NULL DEFAULT 0,
			last_error TEXT,
			created_at %s NOT NULL,
			next_attempt_at %s NULL,
			published_at %s NULL%s
		)`, ts, ts, ts, index),
	}
	if d.Driver == database.Postgres {
		ddl = append(ddl, `CREATE INDEX IF NOT EXISTS idx_outbox_status_created ON outbox_events (status, created_at)`)
	}
	return ddl
}

type OutboxRepository struct {
	db *database.DB
}

func NewOutboxRepository(db *database.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) Insert(ctx context.Context, q database.Querier, e models.OutboxEvent) error {
	query := r.db.Dialect.Rebind(`
		INSERT INTO outbox_events (id, aggregate_id, exchange_name, routing_key, payload, priority, delay_ms, status, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
	`)

	if _, err := q.ExecContext(ctx, query,
		e.ID, e.AggregateID, e.Exchange, e.RoutingKey, string(e.Payload),
		int(e.Priority), e.Delay.Milliseconds(), models.OutboxPending, e.CreatedAt,
	); err != nil {
		return fmt.Errorf("inserting outbox event: %w", err)
	}
	return nil
}

// FetchPending locks up to limit unpublished events that are due at now,
// oldest first. Rows locked by another relay are skipped.
func (r *OutboxRepository) FetchPending(ctx context.Context, tx *sql.Tx, limit int, now time.Time) ([]models.OutboxEvent, error) {
	query := r.db.Dialect.Rebind(`
		SELECT id, aggregate_id, exchange_name, routing_key, payload, priority, delay_ms, status, attempts, created_at
		FROM outbox_events
		WHERE status = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		ORDER BY created_at, id
		LIMIT ?
		FOR UPDATE SKIP LOCKED
	`)

	rows, err := tx.QueryContext(ctx, query, models.OutboxPending, now.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("querying outbox events: %w", err)
	}
	defer rows.Close()

	var events []models.OutboxEvent
	for rows.Next() {
		var (
			e        models.OutboxEvent
			payload  string
			priority int
			delayMS  int64
		)
		if err := rows.Scan(&e.ID, &e.AggregateID, &e.Exchange, &e.RoutingKey, &payload,
			&priority, &delayMS, &e.Status, &e.Attempts, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning outbox event: %w", err)
		}
		e.Payload = []byte(payload)
		e.Priority = uint8(priority)
		e.Delay = time.Duration(delayMS) * time.Millisecond
		events = append(events, e)
	}
	return events, rows.Err()
}

// Claim hides events from other relays until the lease runs out, so they
// can be published after the fetching transaction has committed.
func (r *OutboxRepository) Claim(ctx context.Context, q database.Querier, ids []string, until time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	query := r.db.Dialect.Rebind(`UPDATE outbox_events SET next_attempt_at = ? WHERE id IN (` + placeholders + `)`)

	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, until.UTC())
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("claiming outbox events: %w", err)
	}
	return nil
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, q database.Querier, id string) error {
	query := r.db.Dialect.Rebind(`UPDATE outbox_events SET status = ?, published_at = ? WHERE id = ?`)

	if _, err := q.ExecContext(ctx, query, models.OutboxPublished, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("marking outbox event published: %w", err)
	}
	return nil
}

// RecordFailure counts a failed publish and schedules the next try.
func (r *OutboxRepository) RecordFailure(ctx context.Context, q database.Querier, id, lastError string, retryAt time.Time) error {
	query := r.db.Dialect.Rebind(`
		UPDATE outbox_events
		SET attempts = attempts + 1, last_error = ?, next_attempt_at = ?
		WHERE id = ?
	`)

	if _, err := q.ExecContext(ctx, query, lastError, retryAt.UTC(), id); err != nil {
		return fmt.Errorf("recording outbox failure: %w", err)
	}
	return nil
}

// CountPending feeds the outbox backlog gauge.
func (r *OutboxRepository) CountPending(ctx context.Context) (int, error) {
	query := r.db.Dialect.Rebind(`SELECT COUNT(*) FROM outbox_events WHERE status = ?`)

	var n int
	if err := r.db.QueryRowContext(ctx, query, models.OutboxPending).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting outbox events: %w", err)
	}
	return n, nil
}
