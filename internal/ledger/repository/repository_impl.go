package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/studiodesk/internal/ledger/domain"
	pkgdb "github.com/smallbiznis/studiodesk/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.Entry) (bool, error) {
	if err := entry.Validate(); err != nil {
		return false, err
	}
	res := db.WithContext(ctx).Exec(
		`INSERT INTO ledger_entries (
			id, order_id, customer_id, amount, category, method,
			provider_ref, provider_event_id, provider_status, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider_event_id) WHERE provider_event_id IS NOT NULL DO NOTHING`,
		entry.ID,
		entry.OrderID,
		entry.CustomerID,
		entry.Amount,
		string(entry.Category),
		string(entry.Method),
		entry.ProviderRef,
		entry.ProviderEventID,
		entry.ProviderStatus,
		string(entry.Status),
		entry.CreatedAt,
	)
	if res.Error != nil {
		// Dialects that race past the conflict clause still surface a
		// duplicate-key error; that is the same no-op.
		if pkgdb.IsDuplicateKeyErr(res.Error) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Entry, error) {
	return r.findOne(ctx, db, `id = ?`, id)
}

func (r *repo) FindByProviderEventID(ctx context.Context, db *gorm.DB, eventID string) (*domain.Entry, error) {
	return r.findOne(ctx, db, `provider_event_id = ?`, eventID)
}

func (r *repo) FindByProviderRef(ctx context.Context, db *gorm.DB, ref string) (*domain.Entry, error) {
	if ref == "" {
		return nil, nil
	}
	return r.findOne(ctx, db, `provider_ref = ?`, ref)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, cond string, arg any) (*domain.Entry, error) {
	var item domain.Entry
	err := db.WithContext(ctx).Raw(
		`SELECT id, order_id, customer_id, amount, category, method,
			provider_ref, provider_event_id, provider_status, status, created_at
		 FROM ledger_entries
		 WHERE `+cond+`
		 LIMIT 1`,
		arg,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) MarkSettled(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.Status, providerEventID string, providerStatus string) error {
	return db.WithContext(ctx).Exec(
		`UPDATE ledger_entries
		 SET status = ?, provider_event_id = NULLIF(?, ''), provider_status = ?
		 WHERE id = ? AND status = ?`,
		string(status),
		providerEventID,
		providerStatus,
		id,
		string(domain.StatusPending),
	).Error
}

func (r *repo) SumSettled(ctx context.Context, db *gorm.DB, orderID snowflake.ID, categories ...domain.Category) (int64, error) {
	var total int64

	if len(categories) > 0 {
		cats := make([]string, 0, len(categories))
		for _, c := range categories {
			cats = append(cats, string(c))
		}
		err := db.WithContext(ctx).Raw(
			`SELECT COALESCE(SUM(amount), 0)
			 FROM ledger_entries
			 WHERE order_id = ? AND status = ? AND category IN ?`,
			orderID,
			string(domain.StatusPaid),
			cats,
		).Scan(&total).Error
		return total, err
	}

	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(
			CASE
				WHEN status = ? THEN amount
				WHEN status = ? AND amount < 0 THEN amount
				ELSE 0
			END
		), 0)
		 FROM ledger_entries
		 WHERE order_id = ?`,
		string(domain.StatusPaid),
		string(domain.StatusRefunded),
		orderID,
	).Scan(&total).Error
	return total, err
}

func (r *repo) DeleteByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`DELETE FROM ledger_entries WHERE order_id = ?`,
		orderID,
	).Error
}
