package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Apurer/go-commerce-orders/internal/domains/outbox/domain"
	"github.com/Apurer/go-commerce-orders/internal/domains/outbox/ports"
)

var _ ports.Repository = (*Repository)(nil)

// Repository reads and updates the outbox table in PostgreSQL using GORM.
// Rows are inserted by the orders store inside its transaction; this adapter
// never writes new events.
type Repository struct {
	db *gorm.DB
}

// NewRepository wires a PostgreSQL-backed outbox repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type outboxEventRecord struct {
	ID             uuid.UUID `gorm:"primaryKey;column:id;type:uuid"`
	Kind           string    `gorm:"column:kind;type:varchar(32);index"`
	OrderID        uuid.UUID `gorm:"column:order_id;type:uuid;index"`
	VendorID       uuid.UUID `gorm:"column:vendor_id;type:uuid"`
	Payload        []byte    `gorm:"column:payload;type:jsonb"`
	Status         string    `gorm:"column:status;type:varchar(16)"`
	Attempts       int       `gorm:"column:attempts"`
	IdempotencyKey string    `gorm:"column:idempotency_key;type:varchar(64);uniqueIndex"`
	LastError      string    `gorm:"column:last_error"`
	CreatedAt      time.Time `gorm:"column:created_at;index"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (outboxEventRecord) TableName() string { return "outbox_events" }

// ListPending returns pending events oldest-first, which preserves creation
// order within each vendor.
func (r *Repository) ListPending(ctx context.Context, limit int) ([]*domain.Event, error) {
	return r.listByStatus(ctx, domain.StatusPending, limit)
}

// ListDead returns dead-lettered events oldest-first for operator inspection.
func (r *Repository) ListDead(ctx context.Context, limit int) ([]*domain.Event, error) {
	return r.listByStatus(ctx, domain.StatusDead, limit)
}

func (r *Repository) listByStatus(ctx context.Context, status domain.Status, limit int) ([]*domain.Event, error) {
	if err := r.ensureDB(); err != nil {
		return nil, err
	}
	query := r.db.WithContext(ctx).
		Where("status = ?", string(status)).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var records []outboxEventRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	events := make([]*domain.Event, 0, len(records))
	for i := range records {
		events = append(events, records[i].toDomain())
	}
	return events, nil
}

// Get returns the stored event by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	if err := r.ensureDB(); err != nil {
		return nil, err
	}
	var record outboxEventRecord
	if err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ports.ErrEventNotFound
		}
		return nil, err
	}
	return record.toDomain(), nil
}

// MarkRelayed transitions pending -> relayed.
func (r *Repository) MarkRelayed(ctx context.Context, id uuid.UUID) error {
	return r.transition(ctx, id, domain.StatusRelayed, "", domain.StatusPending)
}

// MarkDelivered transitions relayed -> delivered.
func (r *Repository) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	return r.transition(ctx, id, domain.StatusDelivered, "", domain.StatusRelayed)
}

// MarkDead moves the event to its terminal failure state from either
// non-terminal status.
func (r *Repository) MarkDead(ctx context.Context, id uuid.UUID, reason string) error {
	return r.transition(ctx, id, domain.StatusDead, reason, domain.StatusPending, domain.StatusRelayed)
}

// RecordFailure bumps the attempt counter and last error without changing status.
func (r *Repository) RecordFailure(ctx context.Context, id uuid.UUID, reason string) error {
	if err := r.ensureDB(); err != nil {
		return err
	}
	result := r.db.WithContext(ctx).Model(&outboxEventRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": reason,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ports.ErrEventNotFound
	}
	return nil
}

// transition updates status guarded by the allowed source statuses, so a
// replayed job cannot move a terminal event. A no-op update on an event
// already in the target status is treated as success.
func (r *Repository) transition(ctx context.Context, id uuid.UUID, next domain.Status, reason string, from ...domain.Status) error {
	if err := r.ensureDB(); err != nil {
		return err
	}
	sources := make([]string, 0, len(from))
	for _, status := range from {
		sources = append(sources, string(status))
	}
	updates := map[string]any{
		"status":     string(next),
		"updated_at": time.Now().UTC(),
	}
	if reason != "" {
		updates["last_error"] = reason
	}
	result := r.db.WithContext(ctx).Model(&outboxEventRecord{}).
		Where("id = ? AND status IN ?", id, sources).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		var record outboxEventRecord
		if err := r.db.WithContext(ctx).Select("status").First(&record, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ports.ErrEventNotFound
			}
			return err
		}
		if domain.Status(record.Status) == next {
			return nil
		}
		return ports.ErrInvalidTransition
	}
	return nil
}

func (r *Repository) ensureDB() error {
	if r == nil || r.db == nil {
		return errors.New("postgres outbox repository not configured")
	}
	return nil
}

func (rec outboxEventRecord) toDomain() *domain.Event {
	return &domain.Event{
		ID:             rec.ID,
		Kind:           domain.Kind(rec.Kind),
		OrderID:        rec.OrderID,
		VendorID:       rec.VendorID,
		Payload:        rec.Payload,
		Status:         domain.Status(rec.Status),
		Attempts:       rec.Attempts,
		IdempotencyKey: rec.IdempotencyKey,
		LastError:      rec.LastError,
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
}
