package auth

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

type Config struct {
	// Secret is the key signing session tokens. It should be at least 32 bytes long.
	// When empty, a random secret is generated at startup and sessions don't survive restarts.
	Secret string `env:"API_SESSION_SECRET"`

	// TTL is how long a session token stays valid. Default is 24 hours.
	TTL time.Duration `env:"API_SESSION_TTL"`

	// BcryptCost is the cost of password hashing. Default is 12.
	BcryptCost int `env:"API_BCRYPT_COST"`
}

func NewConfig() Config {
	return Config{
		TTL:        24 * time.Hour,
		BcryptCost: 12,
	}
}

func (c Config) Validate() error {
	if c.Secret != "" && len(c.Secret) < 32 {
		return errors.New("session secret must be at least 32 bytes long")
	}
	if c.TTL < time.Minute {
		return errors.New("session TTL must be at least 1 minute")
	}
	if c.BcryptCost < bcrypt.MinCost || c.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("bcrypt cost must be in [%d, %d]", bcrypt.MinCost, bcrypt.MaxCost)
	}
	return nil
}

func (c Config) String() string {
	secret := "random"
	if c.Secret != "" {
		secret = "[REDACTED]"
	}

	return fmt.Sprintf("Auth:\n"+
		"\tSecret: %s\n"+
		"\tTTL: %s\n"+
		"\tBcrypt Cost: %d\n",
		secret,
		c.TTL,
		c.BcryptCost)
}
