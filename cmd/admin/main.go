// Command admin performs maintenance on the dashboard database while the server is running
// or stopped. It can:
//
//  1. Create an admin account, which can't be done through the API.
//  2. Delete the requests, metrics and logs older than a number of days.
//  3. Print the number of rows of every table.
//
// The database path and the bcrypt cost are read from the environment, optionally
// loaded from the .env file specified by -env (default: .env).
//
// Usage:
//
//	CGO_ENABLED=1 go run ./cmd/admin -create-admin -name Jane -email jane@example.com -password '...'
//	CGO_ENABLED=1 go run ./cmd/admin -cleanup 30
//	CGO_ENABLED=1 go run ./cmd/admin -counts
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/adaptivelb/server/pkg/auth"
	"github.com/adaptivelb/server/pkg/store"
	"github.com/caarlos0/env/v11"
	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
)

type options struct {
	envFile string
	dbPath  string

	createAdmin bool
	name        string
	email       string
	password    string

	cleanup int
	counts  bool
}

func main() {
	var opts options
	flag.StringVar(&opts.envFile, "env", ".env", "path to .env file (ignored if missing)")
	flag.StringVar(&opts.dbPath, "db", "", "path to the database, overrides DB_PATH")

	flag.BoolVar(&opts.createAdmin, "create-admin", false, "create an admin account")
	flag.StringVar(&opts.name, "name", "", "name of the admin account")
	flag.StringVar(&opts.email, "email", "", "email of the admin account")
	flag.StringVar(&opts.password, "password", "", "password of the admin account")

	flag.IntVar(&opts.cleanup, "cleanup", -1, "delete the data older than this many days")
	flag.BoolVar(&opts.counts, "counts", false, "print the number of rows of every table")
	flag.Parse()

	if !opts.createAdmin && opts.cleanup < 0 && !opts.counts {
		fmt.Fprintf(os.Stderr, "Usage: admin [-env <.env>] [-db <path>] (-create-admin -name <name> -email <email> -password <password> | -cleanup <days> | -counts)\n\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	if err := run(opts); err != nil {
		log.Fatal(err)
	}
}

// run performs the requested operations in order, stopping at the first failure.
// The database is always closed before returning.
func run(opts options) error {
	if opts.createAdmin && (opts.name == "" || opts.email == "" || opts.password == "") {
		return errors.New("-name, -email and -password are required with -create-admin")
	}

	if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load env file %s: %w", opts.envFile, err)
	}

	storeConfig := store.NewConfig()
	authConfig := auth.NewConfig()
	if err := env.Parse(&storeConfig); err != nil {
		return fmt.Errorf("failed to parse store config: %w", err)
	}
	if err := env.Parse(&authConfig); err != nil {
		return fmt.Errorf("failed to parse auth config: %w", err)
	}
	if opts.dbPath != "" {
		storeConfig.Path = opts.dbPath
	}

	if err := storeConfig.Validate(); err != nil {
		return fmt.Errorf("invalid store config: %w", err)
	}
	if err := authConfig.Validate(); err != nil {
		return fmt.Errorf("invalid auth config: %w", err)
	}

	db, err := store.New(storeConfig, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to open the database: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if opts.createAdmin {
		id, err := newAdmin(ctx, db, authConfig.BcryptCost, opts.name, opts.email, opts.password)
		if err != nil {
			return err
		}
		log.Printf("created admin %s with id %d", opts.email, id)
	}

	if opts.cleanup >= 0 {
		removed, err := db.CleanupOldData(ctx, opts.cleanup)
		if err != nil {
			return fmt.Errorf("failed to clean up: %w", err)
		}
		log.Printf("removed %d requests, %d metrics and %d logs older than %d days",
			removed.Requests, removed.Metrics, removed.Logs, opts.cleanup)
	}

	if opts.counts {
		out, err := json.MarshalIndent(db.Counts(ctx), "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode counts: %w", err)
		}
		fmt.Println(string(out))
	}
	return nil
}

func newAdmin(ctx context.Context, db *store.Store, cost int, name, email, password string) (int64, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return 0, fmt.Errorf("failed to hash the password: %w", err)
	}

	id, err := db.SaveUser(ctx, store.NewUser{
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		Role:         store.RoleAdmin,
	})

	if errors.Is(err, store.ErrDuplicateEmail) {
		return 0, fmt.Errorf("an account with email %s already exists", email)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to create the admin: %w", err)
	}
	return id, nil
}
