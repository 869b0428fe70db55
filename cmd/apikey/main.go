// Command apikey creates an API key for an owner and prints the raw key once.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/autopost/internal/api/middleware"
	"github.com/kiranshivaraju/autopost/internal/config"
	"github.com/kiranshivaraju/autopost/internal/store"
	"github.com/kiranshivaraju/autopost/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const (
	keyPrefix   = "apk_"
	secretBytes = 24
)

// KeyCreator persists a new API key.
type KeyCreator interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
}

type options struct {
	owner  uuid.UUID
	name   string
	scopes []string
	dbURL  string
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	opts, err := parseFlags(os.Args[1:], os.Getenv("DATABASE_URL"))
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		slog.Error("invalid arguments", "error", err)
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := store.Connect(ctx, config.DatabaseConfig{URL: opts.dbURL, MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		slog.Error("connect database failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := create(ctx, store.NewPostgresStore(pool), opts, os.Stdout); err != nil {
		slog.Error("create api key failed", "error", err)
		os.Exit(1)
	}
}

func parseFlags(args []string, defaultDB string) (options, error) {
	fs := flag.NewFlagSet("apikey", flag.ContinueOnError)
	owner := fs.String("owner", "", "owner UUID the key is scoped to (required)")
	name := fs.String("name", "", "human readable key name (required)")
	scopes := fs.String("scopes", "jobs", "comma separated scopes, e.g. jobs,scheduler")
	dbURL := fs.String("database-url", defaultDB, "postgres URL (defaults to $DATABASE_URL)")

	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	var opts options
	if *owner == "" {
		return opts, errors.New("-owner is required")
	}
	id, err := uuid.Parse(*owner)
	if err != nil {
		return opts, fmt.Errorf("-owner must be a UUID: %w", err)
	}
	if id == uuid.Nil {
		return opts, errors.New("-owner must not be the nil UUID")
	}
	if strings.TrimSpace(*name) == "" {
		return opts, errors.New("-name is required")
	}
	if *dbURL == "" {
		return opts, errors.New("-database-url or DATABASE_URL is required")
	}

	opts.owner = id
	opts.name = strings.TrimSpace(*name)
	opts.dbURL = *dbURL
	for _, s := range strings.Split(*scopes, ",") {
		if s = strings.TrimSpace(s); s != "" {
			opts.scopes = append(opts.scopes, s)
		}
	}
	return opts, nil
}

// create generates a key, stores its bcrypt hash and writes the raw key to out.
func create(ctx context.Context, s KeyCreator, opts options, out io.Writer) error {
	raw, err := generateRawKey()
	if err != nil {
		return err
	}
	key, err := newAPIKey(opts, raw)
	if err != nil {
		return err
	}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		return fmt.Errorf("store api key: %w", err)
	}

	fmt.Fprintf(out, "id:     %s\nowner:  %s\nscopes: %s\nkey:    %s\n",
		key.ID, key.OwnerID, strings.Join(key.Scopes, ","), raw)
	fmt.Fprintln(out, "Store the key now; it cannot be shown again.")
	return nil
}

func generateRawKey() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key: %w", err)
	}
	return keyPrefix + hex.EncodeToString(buf), nil
}

func newAPIKey(opts options, raw string) (*models.APIKey, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash key: %w", err)
	}
	now := time.Now().UTC()
	return &models.APIKey{
		ID:        uuid.New(),
		OwnerID:   opts.owner,
		Name:      opts.name,
		KeyHash:   string(hash),
		KeyPrefix: raw[:mw.KeyPrefixLen],
		Scopes:    opts.scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}
