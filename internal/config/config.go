package config

import "time"

type Config struct {
	BaseURL  string
	HttpPort int
	Db       struct {
		Dsn         string
		Automigrate bool
		Seed        bool
	}
	Jwt struct {
		SecretKey string
	}
	Notifications struct {
		Email string
	}
	Smtp struct {
		Host     string
		Port     int
		Username string
		Password string
		From     string
	}
	// Webhook signing secrets, one per provider. An empty secret rejects
	// every delivery from that provider.
	Providers struct {
		PaystackSecretKey     string
		FlutterwaveSecretHash string
		MonnifyClientSecret   string
	}
	WebhookLockTTL time.Duration
	RedisServer    string
	KafkaServers   string
}
