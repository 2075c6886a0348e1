package rate

import (
	"fmt"
	"time"
)

type Config struct {
	// Enabled turns the per-IP limiting of the API on or off. Default is true.
	Enabled bool `env:"RATE_ENABLED"`

	// InitialTokens is the initial number of tokens for a new bucket. Default is 100.
	InitialTokens int `env:"RATE_INITIAL_TOKENS"`

	// MaxTokens is the maximum number of tokens for a bucket. Default is 100.
	MaxTokens int `env:"RATE_MAX_TOKENS"`

	// TokensPerInterval is the number of tokens added to a bucket per interval. Default is 10.
	TokensPerInterval int `env:"RATE_TOKENS_PER_INTERVAL"`

	// Interval is the duration of the interval. Default is 1 second.
	Interval time.Duration `env:"RATE_INTERVAL"`
}

func NewConfig() Config {
	return Config{
		Enabled:           true,
		InitialTokens:     100,
		MaxTokens:         100,
		TokensPerInterval: 10,
		Interval:          time.Second,
	}
}

func (c Config) Validate() error {
	if c.InitialTokens < 0 {
		return fmt.Errorf("initial tokens must be greater than 0")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max tokens must be greater than 0")
	}
	if c.TokensPerInterval < 0 {
		return fmt.Errorf("tokens per interval must be greater than 0")
	}
	if c.Interval < time.Second {
		return fmt.Errorf("interval must be greater than 1 second")
	}
	if c.InitialTokens > c.MaxTokens {
		return fmt.Errorf("initial tokens must be less than or equal to max tokens")
	}
	if c.TokensPerInterval > c.MaxTokens {
		return fmt.Errorf("tokens per interval must be less than or equal to max tokens")
	}
	return nil
}

func (c Config) String() string {
	return fmt.Sprintf("Rate Limiter:\n"+
		"\tEnabled: %t\n"+
		"\tInitialTokens: %d\n"+
		"\tMaxTokens: %d\n"+
		"\tTokensPerInterval: %d\n"+
		"\tInterval: %v\n",
		c.Enabled, c.InitialTokens, c.MaxTokens, c.TokensPerInterval, c.Interval)
}
