package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/chrisdamba/foodagent/internal/repositories"
	pgrepo "github.com/chrisdamba/foodagent/internal/repositories/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSink stores events through a JournalRepository.
type PostgresSink struct {
	repo    repositories.JournalRepository
	timeout time.Duration
	close   func()
}

func NewPostgresSink(repo repositories.JournalRepository) *PostgresSink {
	return &PostgresSink{repo: repo, timeout: 10 * time.Second}
}

// OpenPostgresSink connects to dsn and makes sure the journal table exists.
func OpenPostgresSink(ctx context.Context, dsn string) (*PostgresSink, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("error pinging database: %w", err)
	}

	repo := pgrepo.NewJournalRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create journal table: %w", err)
	}
	s := NewPostgresSink(repo)
	s.close = pool.Close
	return s, nil
}

func (s *PostgresSink) WriteMessage(topic string, msg []byte) error {
	event, err := decodeEvent(msg)
	if err != nil {
		return err
	}
	if got := event.Topic(); got != topic {
		return fmt.Errorf("event %s belongs to %s, not %s", event.ID, got, topic)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.repo.Create(ctx, &event); err != nil {
		return fmt.Errorf("failed to insert event %s: %w", event.ID, err)
	}
	return nil
}

func (s *PostgresSink) Close() error {
	if s.close != nil {
		s.close()
		s.close = nil
	}
	return nil
}
