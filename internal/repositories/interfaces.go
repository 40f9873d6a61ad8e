package repositories

import (
	"context"

	"github.com/chrisdamba/foodagent/internal/models"
)

// JournalRepository persists journal events for later audit.
type JournalRepository interface {
	EnsureSchema(ctx context.Context) error
	BulkCreate(ctx context.Context, events []*models.Event) error
	Create(ctx context.Context, event *models.Event) error
	GetByOrderID(ctx context.Context, orderID string) ([]*models.Event, error)
	Count(ctx context.Context) (int, error)
	DeleteAll(ctx context.Context) error
}
