package worker

import (
	"log/slog"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/cradoe/walletrecon/internal/helper"
	"github.com/cradoe/walletrecon/internal/repository"
	"github.com/cradoe/walletrecon/internal/smtp"
	"github.com/cradoe/walletrecon/internal/stream"
)

const (
	// notificationGroupID is used by workers that turn ledger notifications into customer emails
	notificationGroupID = "wallet-notification-group"

	pollTimeoutMs = 100
)

// Consumer is the part of *kafka.Consumer the workers use.
type Consumer interface {
	Poll(timeoutMs int) kafka.Event
	CommitMessage(m *kafka.Message) ([]kafka.TopicPartition, error)
	Close() error
}

type Worker struct {
	KafkaStream *stream.KafkaStream
	DB          repository.Database
	Mailer      smtp.MailerInterface
	Helper      *helper.HelperRepository
	Logger      *slog.Logger
}

// Our workers typically needs access to database and kafka event stream
// worker-specific dependency can be passed as argument to the worker
func New(wk *Worker) *Worker {
	return &Worker{
		KafkaStream: wk.KafkaStream,
		DB:          wk.DB,
		Mailer:      wk.Mailer,
		Helper:      wk.Helper,
		Logger:      wk.Logger,
	}
}
