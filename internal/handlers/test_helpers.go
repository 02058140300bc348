package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/bulwark/internal/auth"
	"github.com/BradenHooton/bulwark/internal/background"
	"github.com/BradenHooton/bulwark/internal/models"
	"github.com/BradenHooton/bulwark/internal/services"
	pkghttp "github.com/BradenHooton/bulwark/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds access-token claims to the request context
func WithAuthContext(req *http.Request, userID, email, role string) *http.Request {
	claims := &models.TokenClaims{
		UserID: userID,
		Email:  email,
		Role:   role,
		Type:   models.TokenTypeAccess,
	}
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// WithChiRouteContext adds chi URL parameters to request context for testing
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockAuthService implements AuthServiceInterface for testing
type MockAuthService struct {
	LoginFunc          func(ctx context.Context, email, password, address string) (*services.AuthResponse, error)
	RefreshTokenFunc   func(ctx context.Context, refreshToken string) (*services.AuthResponse, error)
	ChangePasswordFunc func(ctx context.Context, userID, current, next, address string) error
}

func (m *MockAuthService) Login(ctx context.Context, email, password, address string) (*services.AuthResponse, error) {
	if m.LoginFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.LoginFunc(ctx, email, password, address)
}

func (m *MockAuthService) RefreshToken(ctx context.Context, refreshToken string) (*services.AuthResponse, error) {
	if m.RefreshTokenFunc == nil {
		return nil, models.ErrUnauthorized
	}
	return m.RefreshTokenFunc(ctx, refreshToken)
}

func (m *MockAuthService) ChangePassword(ctx context.Context, userID, current, next, address string) error {
	if m.ChangePasswordFunc == nil {
		return nil
	}
	return m.ChangePasswordFunc(ctx, userID, current, next, address)
}

// MockSecurityGate implements SecurityGate for testing
type MockSecurityGate struct {
	StatusFunc func() services.SecurityStatus
	UnlockFunc func(identity, actorID string) bool
}

func (m *MockSecurityGate) Status() services.SecurityStatus {
	if m.StatusFunc == nil {
		return services.SecurityStatus{Tiers: []models.TierStats{}, Locked: []models.AttemptRecord{}}
	}
	return m.StatusFunc()
}

func (m *MockSecurityGate) Unlock(identity, actorID string) bool {
	if m.UnlockFunc == nil {
		return false
	}
	return m.UnlockFunc(identity, actorID)
}

// MockEventStore implements EventReader, EventQuerier and EventCounter for testing
type MockEventStore struct {
	RecentFunc     func(ctx context.Context, limit int) ([]models.SecurityEvent, error)
	ListByTypeFunc func(ctx context.Context, t models.EventType, minSeverity models.Severity, limit int) ([]models.SecurityEvent, error)
	CountsFunc     func(ctx context.Context, day time.Time) (models.EventCounts, error)
}

func (m *MockEventStore) Recent(ctx context.Context, limit int) ([]models.SecurityEvent, error) {
	if m.RecentFunc == nil {
		return nil, nil
	}
	return m.RecentFunc(ctx, limit)
}

func (m *MockEventStore) ListByType(ctx context.Context, t models.EventType, minSeverity models.Severity, limit int) ([]models.SecurityEvent, error) {
	if m.ListByTypeFunc == nil {
		return nil, nil
	}
	return m.ListByTypeFunc(ctx, t, minSeverity, limit)
}

func (m *MockEventStore) Counts(ctx context.Context, day time.Time) (models.EventCounts, error) {
	if m.CountsFunc == nil {
		return models.EventCounts{}, nil
	}
	return m.CountsFunc(ctx, day)
}

// MockSweepRunner implements SweepRunner for testing
type MockSweepRunner struct {
	Result background.SweepResult
	Calls  int
}

func (m *MockSweepRunner) RunOnce(ctx context.Context) background.SweepResult {
	m.Calls++
	return m.Result
}

// MockUploadRejecter implements UploadRejecter for testing
type MockUploadRejecter struct {
	Reasons []string
}

func (m *MockUploadRejecter) RejectUpload(r *http.Request, reason string, details models.EventDetails) {
	m.Reasons = append(m.Reasons, reason)
}
