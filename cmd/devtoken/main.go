// Command devtoken seeds a user and prints a token for it, for local
// testing against a running relay.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/vedran77/relay/internal/auth"
	"github.com/vedran77/relay/internal/config"
	"github.com/vedran77/relay/internal/database"
	"github.com/vedran77/relay/internal/domain"
	"github.com/vedran77/relay/internal/repository"
	"github.com/vedran77/relay/internal/repository/badgerdb"
	postgresrepo "github.com/vedran77/relay/internal/repository/postgres"
)

func main() {
	email := flag.String("email", "", "email of the user to seed (required)")
	firstName := flag.String("first", "", "first name")
	lastName := flag.String("last", "", "last name")
	id := flag.String("id", "", "user id; a new one is generated when empty")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if err := run(*email, *firstName, *lastName, *id, *ttl); err != nil {
		fmt.Fprintln(os.Stderr, "devtoken:", err)
		os.Exit(1)
	}
}

func run(email, firstName, lastName, rawID string, ttl time.Duration) error {
	if email == "" {
		return errors.New("-email is required")
	}
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	userID := uuid.New()
	if rawID != "" {
		if userID, err = uuid.Parse(rawID); err != nil {
			return fmt.Errorf("-id: %w", err)
		}
	}

	ctx := context.Background()
	users, closeFn, err := userRepo(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	user := &domain.User{ID: userID, Email: email, FirstName: firstName, LastName: lastName, CreatedAt: time.Now().UTC()}
	if err := users.Upsert(ctx, user); err != nil {
		return fmt.Errorf("seeding user: %w", err)
	}

	token, err := auth.IssueToken(userID, []byte(cfg.JWTSecret), ttl)
	if err != nil {
		return fmt.Errorf("signing token: %w", err)
	}
	fmt.Printf("user_id=%s\ntoken=%s\n", userID, token)
	return nil
}

func userRepo(ctx context.Context, cfg *config.Config) (repository.UserRepository, func(), error) {
	if cfg.StorageDriver == config.StorageDriverBadger {
		db, err := badgerdb.Open(cfg.BadgerPath, nil)
		if err != nil {
			return nil, nil, err
		}
		return badgerdb.NewUserRepo(db), func() { _ = db.Close() }, nil
	}

	pool, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return postgresrepo.NewUserRepo(pool), pool.Close, nil
}
