// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command server runs the authentication gateway.
//
// Usage:
//
//	server [serve]          start the HTTP server (default)
//	server migrate          apply the PostgreSQL schema
//	server seed <file>      load a YAML seed document into PostgreSQL
//	server hash-password    read a password from stdin and print its Argon2id hash
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/opentrusty/authgateway/internal/config"
	"github.com/opentrusty/authgateway/internal/identity"
	"github.com/opentrusty/authgateway/internal/observability/logger"
	"github.com/opentrusty/authgateway/internal/seed"
	"github.com/opentrusty/authgateway/internal/store/postgres"
)

func main() {
	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	var err error
	switch cmd {
	case "serve":
		err = runServe()
	case "migrate":
		err = runMigrate()
	case "seed":
		if len(os.Args) < 3 {
			err = errors.New("usage: server seed <file>")
			break
		}
		err = runSeed(os.Args[2])
	case "hash-password":
		err = runHashPassword(os.Stdin, os.Stdout)
	default:
		err = fmt.Errorf("unknown command %q", cmd)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", cmd, err)
		os.Exit(1)
	}
}

// parseConfig reads configuration for subcommands that do not serve traffic.
func parseConfig() (*config.Config, error) {
	cfg, err := config.Parse()
	if err != nil {
		return nil, err
	}
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	return cfg, nil
}

func newHasher(cfg *config.Config) *identity.PasswordHasher {
	return identity.NewPasswordHasher(
		cfg.Security.Argon2Memory,
		cfg.Security.Argon2Iterations,
		cfg.Security.Argon2Parallelism,
		cfg.Security.Argon2SaltLength,
		cfg.Security.Argon2KeyLength,
	)
}

func openPostgres(ctx context.Context, cfg *config.Config) (*postgres.DB, error) {
	return postgres.New(ctx, postgres.Config{
		DSN:          cfg.Database.URL,
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
}

func runMigrate() error {
	cfg, err := parseConfig()
	if err != nil {
		return err
	}

	ctx := context.Background()
	db, err := openPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Println("Applying schema...")
	if err := db.Migrate(ctx); err != nil {
		return err
	}
	fmt.Println("Migration successful.")
	return nil
}

func runSeed(path string) error {
	cfg, err := parseConfig()
	if err != nil {
		return err
	}

	doc, err := seed.LoadFile(path)
	if err != nil {
		return err
	}

	ctx := context.Background()
	db, err := openPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := doc.Apply(ctx, postgres.NewStore(db), newHasher(cfg)); err != nil {
		return err
	}
	fmt.Printf("Seeded %d roles and %d users.\n", len(doc.Roles), len(doc.Users))
	return nil
}

func runHashPassword(in io.Reader, out io.Writer) error {
	cfg, err := parseConfig()
	if err != nil {
		return err
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return errors.New("empty password")
	}

	hash, err := newHasher(cfg).Hash(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, hash)
	return err
}
