package db

import "gorm.io/gorm"

// RowLockClause returns the suffix for a SELECT that must take a row
// lock. SQLite serializes writers and rejects FOR UPDATE, so the clause
// is empty there.
func RowLockClause(tx *gorm.DB) string {
	if tx == nil || tx.Dialector == nil {
		return ""
	}
	switch tx.Dialector.Name() {
	case "postgres", "mysql":
		return " FOR UPDATE"
	default:
		return ""
	}
}
