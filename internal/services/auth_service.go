package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BradenHooton/bulwark/internal/models"
	pkgauth "github.com/BradenHooton/bulwark/pkg/auth"
	pkglogger "github.com/BradenHooton/bulwark/pkg/logger"
)

// UserRepository defines the user lookups the login flow needs
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// CredentialVerifier checks a submitted identity and secret. It returns
// models.ErrUnauthorized for a credential mismatch and any other error for
// infrastructure failures.
type CredentialVerifier interface {
	Verify(ctx context.Context, identity, secret string) (*models.User, error)
}

// TokenIssuer issues and validates session tokens
type TokenIssuer interface {
	IssueTokens(user *models.User) (*models.TokenPair, error)
	ValidateToken(token string) (*models.TokenClaims, error)
}

// PasswordVerifier verifies bcrypt password hashes stored in the user repository
type PasswordVerifier struct {
	repo   UserRepository
	logger *slog.Logger
}

// NewPasswordVerifier creates a new PasswordVerifier
func NewPasswordVerifier(repo UserRepository, logger *slog.Logger) *PasswordVerifier {
	return &PasswordVerifier{repo: repo, logger: logger}
}

// Verify implements CredentialVerifier
func (v *PasswordVerifier) Verify(ctx context.Context, identity, secret string) (*models.User, error) {
	user, err := v.repo.GetByEmail(ctx, identity)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkgauth.CompareDummy(secret)
			return nil, models.ErrUnauthorized
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if err := pkgauth.ComparePassword(user.PasswordHash, secret); err != nil {
		return nil, models.ErrUnauthorized
	}

	if user.Status != models.UserStatusActive {
		v.logger.Info("login blocked: account disabled", slog.String("user_id", user.ID))
		return nil, models.ErrUnauthorized
	}

	return user, nil
}

// UserResponse represents a user in the HTTP response
type UserResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// AuthResponse represents the response from auth operations
type AuthResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	User         *UserResponse `json:"user"`
}

// AuthService runs the guarded login flow
type AuthService struct {
	gate     *AccessGate
	verifier CredentialVerifier
	issuer   TokenIssuer
	users    UserRepository
	logger   *slog.Logger
}

// NewAuthService creates a new AuthService
func NewAuthService(gate *AccessGate, verifier CredentialVerifier, issuer TokenIssuer, users UserRepository, logger *slog.Logger) *AuthService {
	return &AuthService{
		gate:     gate,
		verifier: verifier,
		issuer:   issuer,
		users:    users,
		logger:   logger,
	}
}

// Login admits, verifies and records one login attempt. Policy denials are
// returned as *models.DenialError.
func (s *AuthService) Login(ctx context.Context, email, password, address string) (*AuthResponse, error) {
	identity := NormalizeIdentity(email)
	if identity == "" || password == "" {
		return nil, models.ErrBadRequest
	}

	if d := s.gate.GuardLogin(identity, address); !d.Allowed {
		s.logger.Info("login denied",
			slog.String("identity", pkglogger.SanitizedEmail(identity)),
			slog.String("reason", string(d.Reason)),
			slog.Duration("retry_after", d.RetryAfter))
		return nil, d.Err()
	}

	user, err := s.verifier.Verify(ctx, identity, password)
	if err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			s.gate.RecordFailure(identity, address)
			return nil, models.ErrUnauthorized
		}
		// An unavailable user store is not evidence of guessing
		s.logger.Error("credential verification failed", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.gate.RecordSuccess(identity, address)

	tokens, err := s.issuer.IssueTokens(user)
	if err != nil {
		s.logger.Error("failed to issue tokens", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("user logged in", slog.String("user_id", user.ID))
	return &AuthResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		User:         userModelToResponse(user),
	}, nil
}

// RefreshToken exchanges a refresh token for a new pair
func (s *AuthService) RefreshToken(ctx context.Context, refreshToken string) (*AuthResponse, error) {
	if refreshToken = strings.TrimSpace(refreshToken); refreshToken == "" {
		return nil, models.ErrUnauthorized
	}

	claims, err := s.issuer.ValidateToken(refreshToken)
	if err != nil {
		s.logger.Info("refresh token validation failed", slog.Any("error", err))
		return nil, models.ErrUnauthorized
	}

	if claims.Type != models.TokenTypeRefresh {
		s.logger.Warn("refresh attempt with non-refresh token", slog.String("user_id", claims.UserID))
		return nil, models.ErrUnauthorized
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user for token refresh", slog.String("user_id", claims.UserID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	if user.Status != models.UserStatusActive {
		return nil, models.ErrUnauthorized
	}

	tokens, err := s.issuer.IssueTokens(user)
	if err != nil {
		s.logger.Error("failed to issue tokens", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return &AuthResponse{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		User:         userModelToResponse(user),
	}, nil
}

// ChangePassword verifies the caller's current password and stores a new one.
// A wrong current password counts as a failed attempt against the account.
func (s *AuthService) ChangePassword(ctx context.Context, userID, current, next, address string) error {
	if current == "" || next == "" {
		return models.ErrBadRequest
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrUnauthorized
		}
		s.logger.Error("failed to get user for password change", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	identity := NormalizeIdentity(user.Email)

	// the route already applies the per-user password tier
	if d := s.gate.GuardLocked(identity, address); !d.Allowed {
		return d.Err()
	}

	if _, err := s.verifier.Verify(ctx, identity, current); err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			s.gate.RecordFailure(identity, address)
			return models.ErrUnauthorized
		}
		s.logger.Error("credential verification failed", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := pkgauth.ValidatePassword(next); err != nil {
		return fmt.Errorf("%w: %v", models.ErrBadRequest, err)
	}

	hash, err := pkgauth.HashPassword(next)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return models.ErrInternalServer
	}

	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		s.logger.Error("failed to update password", slog.String("user_id", user.ID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.logger.Info("password changed", slog.String("user_id", user.ID))
	return nil
}

func userModelToResponse(user *models.User) *UserResponse {
	return &UserResponse{
		ID:    user.ID,
		Email: user.Email,
		Name:  user.Name,
		Role:  user.Role,
	}
}
