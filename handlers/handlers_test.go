package handlers_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/gearmarket/middleware"
	"github.com/yourusername/gearmarket/models"
	"github.com/yourusername/gearmarket/services"
)

type MockUserRepository struct {
	mock.Mock
}

var _ models.UserRepositoryInterface = (*MockUserRepository)(nil)

func (m *MockUserRepository) Create(user *models.User) error {
	args := m.Called(user)
	user.ID = uuid.New()
	return args.Error(0)
}

func (m *MockUserRepository) GetByEmail(email string) (*models.User, error) {
	args := m.Called(email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) GetByNicknameKey(key string) (*models.User, error) {
	args := m.Called(key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) GetByID(id uuid.UUID) (*models.User, error) {
	args := m.Called(id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUserRepository) UpdateNickname(id uuid.UUID, nickname, key string, changedAt time.Time) error {
	return m.Called(id, nickname, key, changedAt).Error(0)
}

func (m *MockUserRepository) UpdateProfileImage(id uuid.UUID, url, blurhash string) error {
	return m.Called(id, url, blurhash).Error(0)
}

const testSecret = "test-secret"

func testPolicy() *services.NicknamePolicy {
	return services.NewNicknamePolicy(
		services.NewBlockList([]string{"fuck", "시발", "badword"}),
		services.NicknameConfig{
			MinLength:      2,
			MaxLength:      12,
			Reserved:       []string{"admin", "운영자"},
			ChangeCooldown: 30 * 24 * time.Hour,
		},
	)
}

func testAuth() *middleware.Auth {
	return middleware.NewAuth(testSecret, time.Hour)
}

func jsonRequest(t *testing.T, method, target string, body interface{}) *http.Request {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func withToken(t *testing.T, req *http.Request, id uuid.UUID, nickname string) *http.Request {
	t.Helper()
	token, err := testAuth().GenerateToken(id, nickname)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func decode(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func newApp() *fiber.App {
	return fiber.New()
}
