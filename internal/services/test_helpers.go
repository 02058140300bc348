package services

import (
	"context"
	"time"

	"github.com/BradenHooton/bulwark/internal/models"
)

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByIDFunc        func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc     func(ctx context.Context, email string) (*models.User, error)
	UpdatePasswordFunc func(ctx context.Context, id, passwordHash string) error
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, passwordHash)
	}
	return nil
}

// MockCredentialVerifier implements CredentialVerifier for testing
type MockCredentialVerifier struct {
	VerifyFunc func(ctx context.Context, identity, secret string) (*models.User, error)
	Calls      int
}

func (m *MockCredentialVerifier) Verify(ctx context.Context, identity, secret string) (*models.User, error) {
	m.Calls++
	if m.VerifyFunc != nil {
		return m.VerifyFunc(ctx, identity, secret)
	}
	return nil, models.ErrUnauthorized
}

// MockTokenIssuer implements TokenIssuer for testing
type MockTokenIssuer struct {
	IssueTokensFunc   func(user *models.User) (*models.TokenPair, error)
	ValidateTokenFunc func(token string) (*models.TokenClaims, error)
}

func (m *MockTokenIssuer) IssueTokens(user *models.User) (*models.TokenPair, error) {
	if m.IssueTokensFunc != nil {
		return m.IssueTokensFunc(user)
	}
	return &models.TokenPair{AccessToken: "access-" + user.ID, RefreshToken: "refresh-" + user.ID}, nil
}

func (m *MockTokenIssuer) ValidateToken(token string) (*models.TokenClaims, error) {
	if m.ValidateTokenFunc != nil {
		return m.ValidateTokenFunc(token)
	}
	return nil, models.ErrUnauthorized
}

// NewTestUser builds an active editor account
func NewTestUser(id, email, name string) *models.User {
	now := time.Now()
	return &models.User{
		ID:        id,
		Email:     email,
		Name:      name,
		Status:    models.UserStatusActive,
		Role:      models.RoleEditor,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewTestUserWithPassword builds an active user with the given password hash
func NewTestUserWithPassword(id, email, name, passwordHash string) *models.User {
	user := NewTestUser(id, email, name)
	user.PasswordHash = passwordHash
	return user
}
