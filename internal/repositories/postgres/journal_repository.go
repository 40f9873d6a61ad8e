package postgres

import (
	"context"

	"github.com/chrisdamba/foodagent/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

type JournalRepository struct {
	pool *pgxpool.Pool
}

func NewJournalRepository(pool *pgxpool.Pool) *JournalRepository {
	return &JournalRepository{pool: pool}
}

const insertEvent = `
        INSERT INTO journal_events (
            id, occurred_at, type, topic, order_id, agent_id,
            from_state, to_state, amount, detail
        ) VALUES (
            $1, $2, $3, $4, $5, $6, $7, $8, $9, $10
        )
        ON CONFLICT (id) DO NOTHING`

func (r *JournalRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
        CREATE TABLE IF NOT EXISTS journal_events (
            id          TEXT PRIMARY KEY,
            occurred_at TIMESTAMPTZ NOT NULL,
            type        TEXT NOT NULL,
            topic       TEXT NOT NULL,
            order_id    TEXT NOT NULL DEFAULT '',
            agent_id    TEXT NOT NULL DEFAULT '',
            from_state  TEXT NOT NULL DEFAULT '',
            to_state    TEXT NOT NULL DEFAULT '',
            amount      BIGINT NOT NULL DEFAULT 0,
            detail      TEXT NOT NULL DEFAULT ''
        )`)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `
        CREATE INDEX IF NOT EXISTS journal_events_order_idx
            ON journal_events (order_id, occurred_at)`)
	return err
}

func (r *JournalRepository) BulkCreate(ctx context.Context, events []*models.Event) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, e := range events {
		_, err = tx.Exec(ctx, insertEvent, eventArgs(e)...)
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (r *JournalRepository) Create(ctx context.Context, event *models.Event) error {
	_, err := r.pool.Exec(ctx, insertEvent, eventArgs(event)...)
	return err
}

func (r *JournalRepository) GetByOrderID(ctx context.Context, orderID string) ([]*models.Event, error) {
	query := `
        SELECT id, occurred_at, type, order_id, agent_id, from_state, to_state, amount, detail
        FROM journal_events
        WHERE order_id = $1
        ORDER BY occurred_at, id`

	rows, err := r.pool.Query(ctx, query, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var amount int64
		e := &models.Event{}
		err := rows.Scan(
			&e.ID,
			&e.Time,
			&e.Type,
			&e.OrderID,
			&e.AgentID,
			&e.From,
			&e.To,
			&amount,
			&e.Detail,
		)
		if err != nil {
			return nil, err
		}
		e.Amount = models.Money(amount)
		e.Time = e.Time.UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *JournalRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM journal_events").Scan(&count)
	return count, err
}

func (r *JournalRepository) DeleteAll(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, "TRUNCATE TABLE journal_events")
	return err
}

func eventArgs(e *models.Event) []interface{} {
	return []interface{}{
		e.ID,
		e.Time,
		e.Type,
		e.Topic(),
		e.OrderID,
		e.AgentID,
		e.From,
		e.To,
		int64(e.Amount),
		e.Detail,
	}
}
