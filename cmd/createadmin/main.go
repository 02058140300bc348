// Command createadmin provisions an administrator account. The password is
// read from ADMIN_PASSWORD or, when unset, from the first line of stdin.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BradenHooton/bulwark/internal/config"
	"github.com/BradenHooton/bulwark/internal/database"
	"github.com/BradenHooton/bulwark/internal/models"
	"github.com/BradenHooton/bulwark/internal/repositories"
	pkgauth "github.com/BradenHooton/bulwark/pkg/auth"
)

func main() {
	email := flag.String("email", os.Getenv("ADMIN_EMAIL"), "administrator email")
	name := flag.String("name", "Admin", "display name")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if err := run(*email, *name, logger); err != nil {
		logger.Error("failed to create admin user", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(email, name string, logger *slog.Logger) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return errors.New("-email or ADMIN_EMAIL is required")
	}

	password, err := readPassword()
	if err != nil {
		return err
	}
	if err := pkgauth.ValidatePassword(password); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := database.NewConnection(ctx, &cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}

	userRepo := repositories.NewUserRepository(db)

	// Check if admin already exists
	if _, err := userRepo.GetByEmail(ctx, email); err == nil {
		logger.Info("admin user already exists")
		return nil
	} else if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to check if admin exists: %w", err)
	}

	hash, err := pkgauth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	admin, err := userRepo.Create(ctx, &models.User{
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		Role:         models.RoleAdmin,
		Status:       models.UserStatusActive,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("admin user created", slog.String("user_id", admin.ID))
	return nil
}

func readPassword() (string, error) {
	if p := os.Getenv("ADMIN_PASSWORD"); p != "" {
		return p, nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", errors.New("ADMIN_PASSWORD not set and no password on stdin")
	}
	return strings.TrimRight(line, "\r\n"), nil
}
