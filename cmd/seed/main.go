// Package main implements a one-shot command that bootstraps a Developer
// account directly in the store. It lives inside the server module so it
// can access internal/* packages.
//
// Usage:
//
//	go run ./cmd/seed \
//	  --identifier admin@example.com \
//	  --password secret \
//	  --name "Admin" \
//	  --rights all
//
// Environment variables:
//
//	BEEHIVE_STORE_PATH  bbolt database file path (default: ./beehive.db)
package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/beehive-sync/beehive/internal/berrors"
	"github.com/beehive-sync/beehive/internal/identity"
	"github.com/beehive-sync/beehive/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	identifier := flag.String("identifier", "", "Developer identifier, e.g. an email address (required)")
	password := flag.String("password", "", "Plain-text password (required)")
	name := flag.String("name", "Administrator", "Display name")
	rights := flag.String("rights", "all", "Developer rights: all or admin")
	flag.Parse()

	if *identifier == "" {
		return fmt.Errorf("--identifier is required")
	}
	if *password == "" {
		return fmt.Errorf("--password is required")
	}
	var r identity.DeveloperRights
	switch *rights {
	case string(identity.RightsAll):
		r = identity.RightsAll
	case string(identity.RightsAdmin):
		r = identity.RightsAdmin
	default:
		return fmt.Errorf("--rights must be 'all' or 'admin'")
	}

	path := envOrDefault("BEEHIVE_STORE_PATH", "./beehive.db")

	logger, _ := zap.NewDevelopment()

	s, err := store.Open(path, logger)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer s.Close()

	salt, err := identity.NewSalt()
	if err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	hash := identity.HashPassword(*password, salt)

	registry := identity.NewRegistry(s)
	dev := &identity.Developer{
		Identifier:   *identifier,
		Name:         *name,
		PasswordHash: hash,
		Salt:         salt,
		Rights:       r,
	}

	if err := registry.CreateDeveloper(dev); err != nil {
		if berrors.CodeOf(err) == berrors.CodeAlreadyExists {
			return fmt.Errorf("a developer with identifier %q already exists", *identifier)
		}
		return fmt.Errorf("create developer: %w", err)
	}

	fmt.Printf("developer created\n")
	fmt.Printf("  identifier: %s\n", dev.Identifier)
	fmt.Printf("  name:       %s\n", dev.Name)
	fmt.Printf("  rights:     %s\n", dev.Rights)

	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
