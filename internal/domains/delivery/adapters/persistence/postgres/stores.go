package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Apurer/go-commerce-orders/internal/domains/delivery/domain"
	"github.com/Apurer/go-commerce-orders/internal/domains/delivery/ports"
)

var (
	_ ports.EndpointStateStore = (*EndpointStateStore)(nil)
	_ ports.AttemptLog         = (*AttemptLog)(nil)
	_ ports.VendorDirectory    = (*VendorDirectory)(nil)
)

type vendorEndpointRecord struct {
	VendorID            uuid.UUID `gorm:"primaryKey;column:vendor_id;type:uuid"`
	ConsecutiveFailures int       `gorm:"column:consecutive_failures"`
	Circuit             string    `gorm:"column:circuit;type:varchar(16)"`
	OpenedCount         int       `gorm:"column:opened_count"`
	NextRetryAt         time.Time `gorm:"column:next_retry_at"`
	Version             int64     `gorm:"column:version"`
	UpdatedAt           time.Time `gorm:"column:updated_at"`
}

func (vendorEndpointRecord) TableName() string { return "vendor_endpoints" }

func (r vendorEndpointRecord) toDomain() *domain.EndpointState {
	return &domain.EndpointState{
		VendorID:            r.VendorID,
		ConsecutiveFailures: r.ConsecutiveFailures,
		Circuit:             domain.CircuitState(r.Circuit),
		OpenedCount:         r.OpenedCount,
		NextRetryAt:         r.NextRetryAt,
		Version:             r.Version,
	}
}

// EndpointStateStore persists per-vendor circuit rows with optimistic
// versioning so concurrent workers never clobber each other's transitions.
type EndpointStateStore struct {
	db *gorm.DB
}

// NewEndpointStateStore instantiates the store.
func NewEndpointStateStore(db *gorm.DB) *EndpointStateStore {
	return &EndpointStateStore{db: db}
}

// Get returns the vendor's state, inserting a closed-circuit row on first use.
func (s *EndpointStateStore) Get(ctx context.Context, vendorID uuid.UUID) (*domain.EndpointState, error) {
	var record vendorEndpointRecord
	err := s.db.WithContext(ctx).First(&record, "vendor_id = ?", vendorID).Error
	if err == nil {
		return record.toDomain(), nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load endpoint state: %w", err)
	}

	record = vendorEndpointRecord{
		VendorID:  vendorID,
		Circuit:   string(domain.CircuitClosed),
		UpdatedAt: time.Now().UTC(),
	}
	// Another worker may race the insert; DoNothing plus re-read keeps both on
	// the same row.
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "vendor_id"}}, DoNothing: true}).
		Create(&record).Error
	if err != nil {
		return nil, fmt.Errorf("initialize endpoint state: %w", err)
	}
	if err := s.db.WithContext(ctx).First(&record, "vendor_id = ?", vendorID).Error; err != nil {
		return nil, fmt.Errorf("load endpoint state: %w", err)
	}
	return record.toDomain(), nil
}

// Update writes the state conditional on the version the caller loaded,
// bumping the version on success. A lost race yields ErrVersionConflict.
func (s *EndpointStateStore) Update(ctx context.Context, state *domain.EndpointState) error {
	result := s.db.WithContext(ctx).
		Model(&vendorEndpointRecord{}).
		Where("vendor_id = ? AND version = ?", state.VendorID, state.Version).
		Updates(map[string]any{
			"consecutive_failures": state.ConsecutiveFailures,
			"circuit":              string(state.Circuit),
			"opened_count":         state.OpenedCount,
			"next_retry_at":        state.NextRetryAt,
			"version":              state.Version + 1,
			"updated_at":           time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("update endpoint state: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ports.ErrVersionConflict
	}
	state.Version++
	return nil
}

type deliveryAttemptRecord struct {
	ID         int64     `gorm:"primaryKey;autoIncrement;column:id"`
	EventID    uuid.UUID `gorm:"column:event_id;type:uuid;index"`
	Number     int       `gorm:"column:number"`
	At         time.Time `gorm:"column:at;index"`
	Outcome    string    `gorm:"column:outcome;type:varchar(16)"`
	Reason     string    `gorm:"column:reason"`
	StatusCode int       `gorm:"column:status_code"`
	LatencyNS  int64     `gorm:"column:latency_ns"`
}

func (deliveryAttemptRecord) TableName() string { return "delivery_attempts" }

// AttemptLog is the append-only audit trail of delivery attempts.
type AttemptLog struct {
	db *gorm.DB
}

// NewAttemptLog instantiates the log.
func NewAttemptLog(db *gorm.DB) *AttemptLog {
	return &AttemptLog{db: db}
}

// Append records one attempt.
func (l *AttemptLog) Append(ctx context.Context, attempt domain.Attempt) error {
	record := deliveryAttemptRecord{
		EventID:    attempt.EventID,
		Number:     attempt.Number,
		At:         attempt.At,
		Outcome:    string(attempt.Outcome),
		Reason:     attempt.Reason,
		StatusCode: attempt.StatusCode,
		LatencyNS:  attempt.Latency.Nanoseconds(),
	}
	if err := l.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("append delivery attempt: %w", err)
	}
	return nil
}

// ListByEvent returns an event's attempts in recorded order.
func (l *AttemptLog) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]domain.Attempt, error) {
	var records []deliveryAttemptRecord
	err := l.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Order("id ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list delivery attempts: %w", err)
	}
	attempts := make([]domain.Attempt, 0, len(records))
	for _, record := range records {
		attempts = append(attempts, domain.Attempt{
			EventID:    record.EventID,
			Number:     record.Number,
			At:         record.At,
			Outcome:    domain.Outcome(record.Outcome),
			Reason:     record.Reason,
			StatusCode: record.StatusCode,
			Latency:    time.Duration(record.LatencyNS),
		})
	}
	return attempts, nil
}

type vendorDirectoryRecord struct {
	VendorID  uuid.UUID `gorm:"primaryKey;column:vendor_id;type:uuid"`
	URL       string    `gorm:"column:url"`
	Secret    string    `gorm:"column:secret"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (vendorDirectoryRecord) TableName() string { return "vendor_webhook_endpoints" }

// VendorDirectory resolves registered webhook destinations from the database.
type VendorDirectory struct {
	db *gorm.DB
}

// NewVendorDirectory instantiates the directory.
func NewVendorDirectory(db *gorm.DB) *VendorDirectory {
	return &VendorDirectory{db: db}
}

// Migrate applies the directory's schema. Registration is operator-driven,
// outside the order path, so the table lives with its adapter.
func (d *VendorDirectory) Migrate() error {
	return d.db.AutoMigrate(&vendorDirectoryRecord{})
}

// Register upserts a vendor's endpoint.
func (d *VendorDirectory) Register(ctx context.Context, vendorID uuid.UUID, endpoint ports.Endpoint) error {
	record := vendorDirectoryRecord{
		VendorID:  vendorID,
		URL:       endpoint.URL,
		Secret:    endpoint.Secret,
		UpdatedAt: time.Now().UTC(),
	}
	err := d.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "vendor_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"url", "secret", "updated_at"}),
		}).
		Create(&record).Error
	if err != nil {
		return fmt.Errorf("register vendor endpoint: %w", err)
	}
	return nil
}

// Endpoint resolves a vendor's registered endpoint.
func (d *VendorDirectory) Endpoint(ctx context.Context, vendorID uuid.UUID) (*ports.Endpoint, error) {
	var record vendorDirectoryRecord
	err := d.db.WithContext(ctx).First(&record, "vendor_id = ?", vendorID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ports.ErrVendorUnknown
	}
	if err != nil {
		return nil, fmt.Errorf("resolve vendor endpoint: %w", err)
	}
	return &ports.Endpoint{URL: record.URL, Secret: record.Secret}, nil
}
