package mocks

import (
	"time"

	"github.com/cradoe/walletrecon/internal/config"
)

const (
	PaystackSecret    = "sk_test_paystack"
	FlutterwaveSecret = "flw_test_hash"
	MonnifySecret     = "monnify_test_secret"
)

var MockConfig = &config.Config{
	BaseURL:  "http://localhost",
	HttpPort: 8080,
	Db: struct {
		Dsn         string
		Automigrate bool
		Seed        bool
	}{
		Dsn:         "mock_dsn",
		Automigrate: false,
	},
	Jwt: struct {
		SecretKey string
	}{
		SecretKey: "test_secret",
	},
	Notifications: struct {
		Email string
	}{
		Email: "no-reply@example.com",
	},
	Smtp: struct {
		Host     string
		Port     int
		Username string
		Password string
		From     string
	}{
		Host:     "smtp.example.com",
		Port:     587,
		Username: "user@example.com",
		Password: "password",
		From:     "no-reply@example.com",
	},
	Providers: struct {
		PaystackSecretKey     string
		FlutterwaveSecretHash string
		MonnifyClientSecret   string
	}{
		PaystackSecretKey:     PaystackSecret,
		FlutterwaveSecretHash: FlutterwaveSecret,
		MonnifyClientSecret:   MonnifySecret,
	},
	WebhookLockTTL: 30 * time.Second,
	RedisServer:    "localhost:6379",
	KafkaServers:   "localhost:9092",
}
