package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/studiodesk/internal/ledger/domain"
	"github.com/smallbiznis/studiodesk/internal/order/domain"
	"github.com/smallbiznis/studiodesk/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Create(ctx context.Context, conn *gorm.DB, order *domain.Order) error {
	return conn.WithContext(ctx).Exec(
		`INSERT INTO orders (
			id, customer_id, title, description, items,
			deposit_amount, balance_amount, total_paid,
			deposit_paid, balance_paid, status, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		order.ID,
		order.CustomerID,
		order.Title,
		order.Description,
		order.Items,
		order.DepositAmount,
		order.BalanceAmount,
		order.TotalPaid,
		order.DepositPaid,
		order.BalancePaid,
		string(order.Status),
		order.CreatedAt,
		order.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, conn *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	return r.find(ctx, conn, id, "")
}

func (r *repo) find(ctx context.Context, conn *gorm.DB, id snowflake.ID, lock string) (*domain.Order, error) {
	var item domain.Order
	err := conn.WithContext(ctx).Raw(
		`SELECT id, customer_id, title, description, items,
			deposit_amount, balance_amount, total_paid,
			deposit_paid, balance_paid, status, created_at, updated_at
		 FROM orders
		 WHERE id = ?`+lock,
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

func (r *repo) RecomputeTotals(ctx context.Context, tx *gorm.DB, id snowflake.ID, now time.Time) (*domain.Order, error) {
	order, err := r.find(ctx, tx, id, db.RowLockClause(tx))
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrNotFound
	}

	totals := struct {
		TotalPaid   int64 `gorm:"column:total_paid"`
		DepositPaid int64 `gorm:"column:deposit_paid"`
		BalancePaid int64 `gorm:"column:balance_paid"`
	}{}
	err = tx.WithContext(ctx).Raw(
		`SELECT
			COALESCE(SUM(CASE
				WHEN status = ? THEN amount
				WHEN status = ? AND amount < 0 THEN amount
				ELSE 0
			END), 0) AS total_paid,
			COALESCE(SUM(CASE
				WHEN status = ? AND category IN (?, ?) THEN amount
				ELSE 0
			END), 0) AS deposit_paid,
			COALESCE(SUM(CASE
				WHEN status = ? AND category IN (?, ?) THEN amount
				ELSE 0
			END), 0) AS balance_paid
		 FROM ledger_entries
		 WHERE order_id = ?`,
		string(ledgerdomain.StatusPaid),
		string(ledgerdomain.StatusRefunded),
		string(ledgerdomain.StatusPaid),
		string(ledgerdomain.CategoryDeposit),
		string(ledgerdomain.CategoryFull),
		string(ledgerdomain.StatusPaid),
		string(ledgerdomain.CategoryBalance),
		string(ledgerdomain.CategoryFull),
		id,
	).Scan(&totals).Error
	if err != nil {
		return nil, err
	}

	order.TotalPaid = totals.TotalPaid
	order.DepositPaid = order.DepositAmount > 0 && totals.DepositPaid >= order.DepositAmount
	order.BalancePaid = order.BalanceAmount > 0 && totals.BalancePaid >= order.BalanceAmount
	order.UpdatedAt = now

	err = tx.WithContext(ctx).Exec(
		`UPDATE orders
		 SET total_paid = ?, deposit_paid = ?, balance_paid = ?, updated_at = ?
		 WHERE id = ?`,
		order.TotalPaid,
		order.DepositPaid,
		order.BalancePaid,
		order.UpdatedAt,
		id,
	).Error
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (r *repo) Delete(ctx context.Context, conn *gorm.DB, id snowflake.ID) error {
	return conn.WithContext(ctx).Exec(
		`DELETE FROM orders WHERE id = ?`,
		id,
	).Error
}
