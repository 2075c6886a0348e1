// The package config is responsible for loading package specific configs from the
// environment variables, and validating them.
//
// Packages requiring configs should expose:
// - A Config struct with the package specific config parameters.
// - A NewConfig() function to create a new Config with default parameters.
// - A Validate() method to validate the config.
// - A String() method to return a string representation of the config.
package config

import (
	"fmt"

	"github.com/adaptivelb/server/pkg/api"
	"github.com/adaptivelb/server/pkg/auth"
	"github.com/adaptivelb/server/pkg/collector"
	"github.com/adaptivelb/server/pkg/decision"
	"github.com/adaptivelb/server/pkg/geo"
	"github.com/adaptivelb/server/pkg/rate"
	"github.com/adaptivelb/server/pkg/store"
	"github.com/caarlos0/env/v11"
	_ "github.com/joho/godotenv/autoload"
)

type Config struct {
	Store     store.Config
	API       api.Config
	Auth      auth.Config
	Rate      rate.Config
	Decision  decision.Config
	Geo       geo.Config
	Collector collector.Config
}

// Load creates a new [Config] with default parameters, that get overwritten by env variables when specified.
// It returns an error if the config is invalid.
func Load() (Config, error) {
	config := New()
	if err := env.Parse(&config); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return Config{}, fmt.Errorf("failed to validate config: %w", err)
	}
	return config, nil
}

func New() Config {
	return Config{
		Store:     store.NewConfig(),
		API:       api.NewConfig(),
		Auth:      auth.NewConfig(),
		Rate:      rate.NewConfig(),
		Decision:  decision.NewConfig(),
		Geo:       geo.NewConfig(),
		Collector: collector.NewConfig(),
	}
}

func (c Config) Validate() error {
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.API.Validate(); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := c.Rate.Validate(); err != nil {
		return fmt.Errorf("rate: %w", err)
	}
	if err := c.Decision.Validate(); err != nil {
		return fmt.Errorf("decision: %w", err)
	}
	if err := c.Geo.Validate(); err != nil {
		return fmt.Errorf("geo: %w", err)
	}
	if err := c.Collector.Validate(); err != nil {
		return fmt.Errorf("collector: %w", err)
	}
	return nil
}

func (c Config) Print() {
	fmt.Println(c.Store)
	fmt.Println(c.API)
	fmt.Println(c.Auth)
	fmt.Println(c.Rate)
	fmt.Println(c.Decision)
	fmt.Println(c.Geo)
	fmt.Println(c.Collector)
}
