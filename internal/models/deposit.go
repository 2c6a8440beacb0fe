package models

import (
	"time"
)

// Deposit shadows an inbound funding transaction for audit. It never moves
// money on its own.
type Deposit struct {
	ID            string            `db:"id"`
	OwnerID       string            `db:"owner_id"`
	WalletID      string            `db:"wallet_id"`
	TransactionID string            `db:"transaction_id"`
	Reference     string            `db:"reference"`
	Provider      Provider          `db:"provider"`
	Amount        int64             `db:"amount"`
	NetAmount     int64             `db:"net_amount"`
	Fees          int64             `db:"fees"`
	Status        TransactionStatus `db:"status"`
	Metadata      Metadata          `db:"metadata"`
	CreatedAt     time.Time         `db:"created_at"`
}

type VirtualAccount struct {
	ID            string    `db:"id"`
	OwnerID       string    `db:"owner_id"`
	WalletID      string    `db:"wallet_id"`
	AccountNumber string    `db:"account_number"`
	Provider      Provider  `db:"provider"`
	BankName      string    `db:"bank_name"`
	IsActive      bool      `db:"is_active"`
	CreatedAt     time.Time `db:"created_at"`
}
