package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/cradoe/walletrecon/internal/models"
	"github.com/cradoe/walletrecon/internal/notify"
	"github.com/cradoe/walletrecon/internal/stream"
)

var ErrUnknownEvent = errors.New("unknown notification event")

var templates = map[notify.EventType]string{
	notify.EventWalletCredited:    "credit-alert.tmpl",
	notify.EventWalletDebited:     "debit-alert.tmpl",
	notify.EventTransactionFailed: "transaction-failed.tmpl",
}

// NotificationWorker emails wallet owners about ledger events until ctx is
// cancelled.
func (wk *Worker) NotificationWorker(ctx context.Context) error {
	consumer, err := wk.KafkaStream.CreateConsumer(&stream.StreamConsumer{
		GroupId: notificationGroupID,
		Topic:   notify.TopicNotifications,
	})
	if err != nil {
		return fmt.Errorf("create notification consumer: %w", err)
	}

	return wk.consume(ctx, consumer)
}

func (wk *Worker) consume(ctx context.Context, consumer Consumer) error {
	defer consumer.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		event := consumer.Poll(pollTimeoutMs)
		switch e := event.(type) {
		case *kafka.Message:
			// a message that cannot be delivered is logged and skipped so it
			// does not hold up the partition
			if err := wk.HandleNotification(ctx, e.Value); err != nil {
				wk.Logger.Error("notification not delivered", "error", err, "partition", e.TopicPartition.String())
			}

			if _, err := consumer.CommitMessage(e); err != nil {
				wk.Logger.Error("notification offset not committed", "error", err)
			}
		case kafka.Error:
			wk.Logger.Error("notification consumer error", "error", e)
		}
	}
}

// HandleNotification emails the owner of the wallet the event is about.
// Wallets without a notification email are skipped.
func (wk *Worker) HandleNotification(ctx context.Context, message []byte) error {
	var event notify.Event
	if err := json.Unmarshal(message, &event); err != nil {
		return fmt.Errorf("decode notification: %w", err)
	}

	template, ok := templates[event.Type]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEvent, event.Type)
	}

	wallet, found, err := wk.DB.Wallet().GetByOwner(ctx, event.OwnerID)
	if err != nil {
		return fmt.Errorf("wallet lookup: %w", err)
	}
	if !found || !wallet.NotificationEmail.Valid {
		wk.Logger.Debug("notification skipped, no recipient", "type", event.Type, "reference", event.Reference)
		return nil
	}

	currency := event.Currency
	if currency == "" {
		currency = models.DefaultCurrency
	}

	data := wk.Helper.NewEmailData()
	data["Amount"] = event.Amount
	data["BalanceAfter"] = event.BalanceAfter
	data["Currency"] = currency
	data["Reference"] = event.Reference
	data["Narration"] = event.Narration
	data["Category"] = event.Category
	data["Refunded"] = event.Refunded

	if err := wk.Mailer.Send(wallet.NotificationEmail.String, data, template); err != nil {
		return fmt.Errorf("send %s for %s: %w", template, event.Reference, err)
	}

	wk.Logger.Info("notification sent", "type", event.Type, "reference", event.Reference)
	return nil
}
