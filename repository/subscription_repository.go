package repository

import (
	"context"

	"shipment-notification-service/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SubscriptionRepository defines data-access operations for subscriptions.
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *models.Subscription) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	FindByShipmentID(ctx context.Context, shipmentID string) ([]models.Subscription, error)
	FindByToken(ctx context.Context, token string) (*models.Subscription, error)
	Update(ctx context.Context, sub *models.Subscription) error
	FindAll(ctx context.Context, page, limit int) ([]models.Subscription, int64, error)
}

// GormSubscriptionRepository implements SubscriptionRepository using GORM.
type GormSubscriptionRepository struct {
	db *gorm.DB
}

func NewGormSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &GormSubscriptionRepository{db: db}
}

func (r *GormSubscriptionRepository) Create(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *GormSubscriptionRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	var s models.Subscription
	if err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *GormSubscriptionRepository) FindByShipmentID(ctx context.Context, shipmentID string) ([]models.Subscription, error) {
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("shipment_id = ?", shipmentID).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *GormSubscriptionRepository) FindByToken(ctx context.Context, token string) (*models.Subscription, error) {
	var s models.Subscription
	if err := r.db.WithContext(ctx).
		Where("unsubscribe_token = ?", token).
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *GormSubscriptionRepository) Update(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Save(sub).Error
}

func (r *GormSubscriptionRepository) FindAll(ctx context.Context, page, limit int) ([]models.Subscription, int64, error) {
	var subs []models.Subscription
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Subscription{})
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := query.
		Offset(offset).Limit(limit).
		Order("created_at DESC").
		Find(&subs).Error; err != nil {
		return nil, 0, err
	}

	return subs, total, nil
}
