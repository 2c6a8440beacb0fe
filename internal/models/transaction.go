package models

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Provider string

const (
	ProviderPaystack    Provider = "paystack"
	ProviderFlutterwave Provider = "flutterwave"
	ProviderMonnify     Provider = "monnify"
	// ProviderInternal marks ledger entries that never left the platform.
	ProviderInternal Provider = "internal"
)

type Direction string

const (
	DirectionDebit  Direction = "DEBIT"
	DirectionCredit Direction = "CREDIT"
)

type Category string

const (
	CategoryFunding     Category = "funding"
	CategoryWithdrawal  Category = "withdrawal"
	CategoryTransfer    Category = "transfer"
	CategoryBillPayment Category = "bill-payment"
	CategoryAirtime     Category = "airtime"
	CategoryRefund      Category = "refund"
)

type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "pending"
	TransactionStatusProcessing TransactionStatus = "processing"
	TransactionStatusSuccess    TransactionStatus = "success"
	TransactionStatusFailed     TransactionStatus = "failed"
	TransactionStatusReversed   TransactionStatus = "reversed"
)

// IsTerminal reports whether no further forward transition is possible.
// success may still move to reversed, but reconciliation treats it as settled.
func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case TransactionStatusSuccess, TransactionStatusFailed, TransactionStatusReversed:
		return true
	}
	return false
}

// Predecessors lists the statuses a transaction may be in for a move to s
// to be legal.
func (s TransactionStatus) Predecessors() []TransactionStatus {
	switch s {
	case TransactionStatusProcessing:
		return []TransactionStatus{TransactionStatusPending}
	case TransactionStatusSuccess, TransactionStatusFailed:
		return []TransactionStatus{TransactionStatusPending, TransactionStatusProcessing}
	case TransactionStatusReversed:
		return []TransactionStatus{TransactionStatusPending, TransactionStatusProcessing, TransactionStatusSuccess}
	}
	return nil
}

// CanMoveTo reports whether s -> next is a legal ledger transition.
func (s TransactionStatus) CanMoveTo(next TransactionStatus) bool {
	for _, p := range next.Predecessors() {
		if p == s {
			return true
		}
	}
	return false
}

type InitiatorKind string

const (
	InitiatorUser   InitiatorKind = "user"
	InitiatorAdmin  InitiatorKind = "admin"
	InitiatorSystem InitiatorKind = "system"
)

type LinkedRecordKind string

const (
	LinkedRecordDeposit     LinkedRecordKind = "deposit"
	LinkedRecordWithdrawal  LinkedRecordKind = "withdrawal"
	LinkedRecordTransfer    LinkedRecordKind = "transfer"
	LinkedRecordBillPayment LinkedRecordKind = "bill_payment"
)

// LinkedRecord points a transaction at the domain record it settles.
type LinkedRecord struct {
	Kind LinkedRecordKind `db:"linked_record_kind"`
	ID   sql.NullString   `db:"linked_record_id"`
}

var ErrUnknownLinkedRecord = errors.New("unknown linked record kind")

func (l LinkedRecord) Validate() error {
	switch l.Kind {
	case LinkedRecordDeposit, LinkedRecordWithdrawal, LinkedRecordTransfer, LinkedRecordBillPayment:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownLinkedRecord, l.Kind)
}

// LinkedRecordFor returns the natural linked record kind for a category.
func LinkedRecordFor(c Category) LinkedRecordKind {
	switch c {
	case CategoryFunding:
		return LinkedRecordDeposit
	case CategoryTransfer:
		return LinkedRecordTransfer
	case CategoryBillPayment, CategoryAirtime:
		return LinkedRecordBillPayment
	default:
		return LinkedRecordWithdrawal
	}
}

type Transaction struct {
	ID                string            `db:"id"`
	Reference         string            `db:"reference"`
	ProviderReference sql.NullString    `db:"provider_reference"`
	IdempotencyKey    string            `db:"idempotency_key"`
	WalletID          string            `db:"wallet_id"`
	OwnerID           string            `db:"owner_id"`
	Amount            int64             `db:"amount"`
	Direction         Direction         `db:"direction"`
	Category          Category          `db:"category"`
	Provider          Provider          `db:"provider"`
	Status            TransactionStatus `db:"status"`
	BalanceBefore     sql.NullInt64     `db:"balance_before"`
	BalanceAfter      sql.NullInt64     `db:"balance_after"`
	Initiator         string            `db:"initiator"`
	InitiatorKind     InitiatorKind     `db:"initiator_kind"`
	Narration         string            `db:"narration"`
	Metadata          Metadata          `db:"metadata"`
	CreatedAt         time.Time         `db:"created_at"`
	UpdatedAt         sql.NullTime      `db:"updated_at"`

	LinkedRecord
}

// MetadataBalanceField records which wallet slice a debit was reserved from.
const MetadataBalanceField = "balance_field"

// ReservedField is the balance slice a debit was taken from. Refunds go
// back to the same slice.
func (t *Transaction) ReservedField() BalanceField {
	if f, ok := t.Metadata[MetadataBalanceField].(string); ok && BalanceField(f).Valid() {
		return BalanceField(f)
	}
	return BalanceFieldMain
}

// Metadata is stored as JSONB.
type Metadata map[string]any

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("metadata: unsupported source type %T", src)
	}
	out := Metadata{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*m = out
	return nil
}

// Merge copies every key of other into a new map on top of m.
func (m Metadata) Merge(other Metadata) Metadata {
	out := make(Metadata, len(m)+len(other))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// NewReference returns a fresh internal transaction reference such as
// "FND-3F2A9C1B7E4D4A0C8B1E".
func NewReference(c Category) string {
	prefix := "TRX"
	switch c {
	case CategoryFunding:
		prefix = "FND"
	case CategoryWithdrawal:
		prefix = "WDR"
	case CategoryBillPayment, CategoryAirtime:
		prefix = "BIL"
	}
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return prefix + "-" + id[:20]
}
