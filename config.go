package wschat

import (
	"os"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Config holds the broker endpoint, destinations and timings of a Client.
type Config struct {
	BrokerURL       string `env:"WSCHAT_BROKER_URL,default=ws://localhost:8080/ws" validate:"required,url"`
	Host            string `env:"WSCHAT_STOMP_HOST,default=localhost" validate:"required"`
	JoinDestination string `env:"WSCHAT_JOIN_DESTINATION,default=/app/chat.addUser" validate:"required"`
	SendDestination string `env:"WSCHAT_SEND_DESTINATION,default=/app/chat.sendMessage" validate:"required"`
	Topic           string `env:"WSCHAT_TOPIC,default=/topic/public" validate:"required"`

	ReconnectDelay   time.Duration `env:"WSCHAT_RECONNECT_DELAY,default=5s" validate:"gt=0"`
	HandshakeTimeout time.Duration `env:"WSCHAT_HANDSHAKE_TIMEOUT,default=10s" validate:"gt=0"`
	CloseTimeout     time.Duration `env:"WSCHAT_CLOSE_TIMEOUT,default=2s" validate:"gt=0"`
	WriteTimeout     time.Duration `env:"WSCHAT_WRITE_TIMEOUT,default=1s" validate:"gt=0"`

	// Zero disables heart-beating in that direction.
	HeartbeatOutgoing time.Duration `env:"WSCHAT_HEARTBEAT_OUTGOING,default=10s" validate:"gte=0"`
	HeartbeatIncoming time.Duration `env:"WSCHAT_HEARTBEAT_INCOMING,default=10s" validate:"gte=0"`

	RecvBuffer int `env:"WSCHAT_RECV_BUFFER,default=32" validate:"min=1"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		BrokerURL:         "ws://localhost:8080/ws",
		Host:              "localhost",
		JoinDestination:   "/app/chat.addUser",
		SendDestination:   "/app/chat.sendMessage",
		Topic:             "/topic/public",
		ReconnectDelay:    5 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		CloseTimeout:      2 * time.Second,
		WriteTimeout:      time.Second,
		HeartbeatOutgoing: 10 * time.Second,
		HeartbeatIncoming: 10 * time.Second,
		RecvBuffer:        32,
	}
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	return nil
}

// LoadConfig reads the given .env files, when they exist, and then the
// process environment. Variables already set in the environment win over
// the files.
func LoadConfig(envFiles ...string) (Config, error) {
	var existing []string
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) > 0 {
		if err := godotenv.Load(existing...); err != nil {
			return Config{}, errors.Wrap(err, "cannot load env files")
		}
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "cannot read environment")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
