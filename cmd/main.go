package main

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/adaptivelb/server/pkg/api"
	"github.com/adaptivelb/server/pkg/auth"
	"github.com/adaptivelb/server/pkg/collector"
	"github.com/adaptivelb/server/pkg/config"
	"github.com/adaptivelb/server/pkg/counters"
	"github.com/adaptivelb/server/pkg/decision"
	"github.com/adaptivelb/server/pkg/geo"
	"github.com/adaptivelb/server/pkg/rate"
	"github.com/adaptivelb/server/pkg/store"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	config, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := slog.Default()
	logger.Info("-------------------server startup-------------------")
	defer logger.Info("-------------------server shutdown-------------------")

	// Step 1.
	// Initialize the database
	db, err := store.New(config.Store, logger)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	// Step 2.
	// Initialize traffic counters, rate limiter, decision policy and geolocation
	traffic := counters.New(100)
	limiter := rate.NewLimiter(config.Rate)

	policy, err := decision.New(config.Decision, logger)
	if err != nil {
		panic(err)
	}
	defer policy.Close()

	deps := api.Deps{
		Store:   db,
		Traffic: traffic,
		Decider: policy,
		Limiter: limiter,
	}

	if config.Geo.Enabled {
		locator, err := geo.NewLocator(config.Geo, logger)
		if err != nil {
			panic(err)
		}
		defer locator.Close()
		deps.Locator = locator
	}

	// Step 3.
	// Initialize the collector, which also saves the observed requests
	collector, err := collector.New(config.Collector, db, traffic, policy, logger)
	if err != nil {
		panic(err)
	}

	collector.Start()
	defer collector.Close()
	deps.Recorder = collector

	// Step 4.
	// Setup the API by passing dependencies
	deps.Auth, err = auth.New(config.Auth, db, logger)
	if err != nil {
		panic(err)
	}

	server, err := api.Setup(config.API, deps, logger)
	if err != nil {
		panic(err)
	}

	// Step 5.
	// Run until interrupted
	address := ":" + config.API.Port
	if err := server.StartAndServe(ctx, address); err != nil {
		panic(err)
	}
}
