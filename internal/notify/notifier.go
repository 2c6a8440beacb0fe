// Package notify carries customer and operator notifications out of the
// ledger. Nothing here is allowed to fail a balance mutation: callers
// dispatch after commit and only log what goes wrong.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cradoe/walletrecon/internal/models"
)

type EventType string

const (
	EventWalletCredited    EventType = "wallet.credited"
	EventWalletDebited     EventType = "wallet.debited"
	EventTransactionFailed EventType = "transaction.failed"
)

// TopicNotifications is consumed by the notification service, which owns
// email, SMS and push delivery.
const TopicNotifications = "wallet.notifications"

type Event struct {
	Type          EventType                `json:"type"`
	OwnerID       string                   `json:"owner_id"`
	WalletID      string                   `json:"wallet_id"`
	TransactionID string                   `json:"transaction_id"`
	Reference     string                   `json:"reference"`
	Category      models.Category          `json:"category"`
	Provider      models.Provider          `json:"provider"`
	Status        models.TransactionStatus `json:"status"`
	Amount        int64                    `json:"amount"`
	BalanceAfter  int64                    `json:"balance_after"`
	Currency      string                   `json:"currency"`
	Narration     string                   `json:"narration,omitempty"`
	Refunded      bool                     `json:"refunded,omitempty"`
	OccurredAt    time.Time                `json:"occurred_at"`
}

// EventFor builds the notification for a transaction in its current state.
func EventFor(eventType EventType, trans *models.Transaction) Event {
	ev := Event{
		Type:          eventType,
		OwnerID:       trans.OwnerID,
		WalletID:      trans.WalletID,
		TransactionID: trans.ID,
		Reference:     trans.Reference,
		Category:      trans.Category,
		Provider:      trans.Provider,
		Status:        trans.Status,
		Amount:        trans.Amount,
		Currency:      models.DefaultCurrency,
		Narration:     trans.Narration,
		OccurredAt:    time.Now().UTC(),
	}
	if trans.BalanceAfter.Valid {
		ev.BalanceAfter = trans.BalanceAfter.Int64
	}
	return ev
}

type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Review describes a webhook that was acknowledged without being applied
// and needs a human to look at it.
type Review struct {
	Provider          models.Provider
	Reason            string
	EventType         string
	Reference         string
	ProviderReference string
	AccountNumber     string
	Amount            int64
	Currency          string
}

type Escalator interface {
	Escalate(ctx context.Context, review Review)
}

type Producer interface {
	ProduceMessage(topic, message string) error
}

// KafkaNotifier publishes events for the external notification service.
type KafkaNotifier struct {
	producer Producer
	topic    string
	logger   *slog.Logger
}

func NewKafkaNotifier(producer Producer, logger *slog.Logger) *KafkaNotifier {
	return &KafkaNotifier{
		producer: producer,
		topic:    TopicNotifications,
		logger:   logger,
	}
}

func (n *KafkaNotifier) Notify(ctx context.Context, event Event) error {
	message, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	if err := n.producer.ProduceMessage(n.topic, string(message)); err != nil {
		return fmt.Errorf("publish %s for %s: %w", event.Type, event.Reference, err)
	}

	n.logger.Debug("notification published", "type", event.Type, "reference", event.Reference)
	return nil
}
