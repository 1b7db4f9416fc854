package repository

import (
	"context"
	"errors"

	"shipment-notification-service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DeliveryRepository is the dispatch ledger. InsertPending together
// with the unique index on (subscription_id, event_id) is what makes
// concurrent dispatches of the same pair safe: exactly one caller wins
// the insert, every other caller gets the existing record back.
type DeliveryRepository interface {
	// InsertPending tries to insert rec with status pending. When the
	// pair already has a record it returns inserted=false and the
	// existing entry instead.
	InsertPending(ctx context.Context, rec *models.DeliveryRecord) (inserted bool, existing *models.DeliveryRecord, err error)
	Update(ctx context.Context, rec *models.DeliveryRecord) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.DeliveryRecord, error)
	FindBySubscriptionAndEvent(ctx context.Context, subscriptionID, eventID uuid.UUID) (*models.DeliveryRecord, error)
	// MarkDelivered transitions sent→delivered. Repeated calls are a
	// no-op success; returns false only when the record is missing or
	// was never sent.
	MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error)
	List(ctx context.Context, filter models.DeliveryFilter) ([]models.DeliveryRecord, int64, error)
}

// GormDeliveryRepository implements DeliveryRepository using GORM.
// Requires gorm.Config{TranslateError: true} so Postgres unique
// violations surface as gorm.ErrDuplicatedKey.
type GormDeliveryRepository struct {
	db *gorm.DB
}

func NewGormDeliveryRepository(db *gorm.DB) DeliveryRepository {
	return &GormDeliveryRepository{db: db}
}

func (r *GormDeliveryRepository) InsertPending(ctx context.Context, rec *models.DeliveryRecord) (bool, *models.DeliveryRecord, error) {
	rec.Status = models.StatusPending
	err := r.db.WithContext(ctx).Create(rec).Error
	if err == nil {
		return true, rec, nil
	}
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, nil, err
	}
	existing, findErr := r.FindBySubscriptionAndEvent(ctx, rec.SubscriptionID, rec.EventID)
	if findErr != nil {
		return false, nil, findErr
	}
	return false, existing, nil
}

func (r *GormDeliveryRepository) Update(ctx context.Context, rec *models.DeliveryRecord) error {
	return r.db.WithContext(ctx).Save(rec).Error
}

func (r *GormDeliveryRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.DeliveryRecord, error) {
	var rec models.DeliveryRecord
	if err := r.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *GormDeliveryRepository) FindBySubscriptionAndEvent(ctx context.Context, subscriptionID, eventID uuid.UUID) (*models.DeliveryRecord, error) {
	var rec models.DeliveryRecord
	if err := r.db.WithContext(ctx).
		Where("subscription_id = ? AND event_id = ?", subscriptionID, eventID).
		First(&rec).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *GormDeliveryRepository) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	rec, err := r.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	switch rec.Status {
	case models.StatusDelivered:
		return true, nil
	case models.StatusSent:
		rec.Status = models.StatusDelivered
		if err := r.Update(ctx, rec); err != nil {
			return false, err
		}
		return true, nil
	default:
		return false, nil
	}
}

func (r *GormDeliveryRepository) List(ctx context.Context, filter models.DeliveryFilter) ([]models.DeliveryRecord, int64, error) {
	var recs []models.DeliveryRecord
	var total int64

	if filter.PageSize < 1 {
		filter.PageSize = 10
	}
	if filter.PageSize > 100 {
		filter.PageSize = 100
	}
	if filter.Page < 1 {
		filter.Page = 1
	}

	query := r.db.WithContext(ctx).Model(&models.DeliveryRecord{})
	if filter.SubscriptionID != uuid.Nil {
		query = query.Where("subscription_id = ?", filter.SubscriptionID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Channel != "" {
		query = query.Where("channel = ?", filter.Channel)
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (filter.Page - 1) * filter.PageSize
	err := query.Order("created_at DESC").
		Limit(filter.PageSize).
		Offset(offset).
		Find(&recs).Error

	return recs, total, err
}
