package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/studiodesk/internal/customer/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Customer, error) {
	var item domain.Customer
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, email, currency, processor_customer_id,
			mandate_ref, mandate_active, created_at, updated_at
		 FROM customers
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) SetProcessorCustomerID(ctx context.Context, db *gorm.DB, id snowflake.ID, processorCustomerID string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE customers
		 SET processor_customer_id = ?, updated_at = ?
		 WHERE id = ? AND (processor_customer_id IS NULL OR processor_customer_id = '')`,
		processorCustomerID,
		now,
		id,
	).Error
}

func (r *repo) ActivateMandate(ctx context.Context, db *gorm.DB, id snowflake.ID, mandateRef string, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE customers
		 SET mandate_ref = ?, mandate_active = ?, updated_at = ?
		 WHERE id = ?`,
		mandateRef,
		true,
		now,
		id,
	).Error
}

func (r *repo) ListBillable(ctx context.Context, db *gorm.DB) ([]domain.Customer, error) {
	var items []domain.Customer
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, email, currency, processor_customer_id,
			mandate_ref, mandate_active, created_at, updated_at
		 FROM customers
		 WHERE mandate_active = ? AND processor_customer_id IS NOT NULL AND processor_customer_id <> ''
		 ORDER BY id`,
		true,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
