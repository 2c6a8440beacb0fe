package models

import (
	"database/sql"
	"time"
)

// Wallet balances are in minor units. NotificationEmail, when set, receives
// credit and debit alerts.
type Wallet struct {
	ID                string         `db:"id"`
	OwnerID           string         `db:"owner_id"`
	NotificationEmail sql.NullString `db:"notification_email"`
	Balance           int64          `db:"balance"`
	BonusBalance      int64          `db:"bonus_balance"`
	CommissionBalance int64          `db:"commission_balance"`
	Currency          string         `db:"currency"`
	LockedAt          sql.NullTime   `db:"locked_at"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         sql.NullTime   `db:"updated_at"`
}

// IsLocked reports whether the wallet has been suspended.
func (w *Wallet) IsLocked() bool {
	return w.LockedAt.Valid
}

// BalanceField names one of the balance slices a wallet carries.
// Only these values are ever interpolated into SQL.
type BalanceField string

const (
	BalanceFieldMain       BalanceField = "balance"
	BalanceFieldBonus      BalanceField = "bonus_balance"
	BalanceFieldCommission BalanceField = "commission_balance"
)

func (f BalanceField) Valid() bool {
	switch f {
	case BalanceFieldMain, BalanceFieldBonus, BalanceFieldCommission:
		return true
	}
	return false
}

// Of returns the value of the field on w.
func (f BalanceField) Of(w *Wallet) int64 {
	switch f {
	case BalanceFieldBonus:
		return w.BonusBalance
	case BalanceFieldCommission:
		return w.CommissionBalance
	default:
		return w.Balance
	}
}

const DefaultCurrency = "NGN"

// BalanceChange is what an atomic increment or decrement observed at the
// moment it was applied.
type BalanceChange struct {
	WalletID string
	Field    BalanceField
	Before   int64
	After    int64
}
