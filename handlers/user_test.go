package handlers_test

import (
	"bytes"
	"database/sql"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/gearmarket/handlers"
	"github.com/yourusername/gearmarket/models"
	"github.com/yourusername/gearmarket/services"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func userApp(t *testing.T, repo *MockUserRepository, storage services.Storage) *handlers.UserHandler {
	t.Helper()
	if storage == nil {
		storage = services.NewLocalStorage(t.TempDir())
	}
	avatars := services.NewAvatarProcessor(services.AvatarConfig{Size: 64, MaxBytes: 1 << 20, Quality: 80})
	return handlers.NewUserHandler(repo, testPolicy(), testAuth(), avatars, storage).WithClock(func() time.Time { return fixedNow })
}

func TestGetMyProfile(t *testing.T) {
	changed := fixedNow.Add(-10 * 24 * time.Hour)
	user := &models.User{ID: uuid.New(), Email: "seller@example.com", Nickname: "기타왕", NicknameChangedAt: &changed}
	repo := new(MockUserRepository)
	repo.On("GetByID", user.ID).Return(user, nil)

	h := userApp(t, repo, nil)
	app := newApp()
	app.Get("/me", testAuth().Protected(), h.GetMyProfile)

	resp, err := app.Test(withToken(t, httptest.NewRequest("GET", "/me", nil), user.ID, user.Nickname))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	got := decode(t, resp)["user"].(map[string]interface{})
	assert.Equal(t, "기타왕", got["nickname"])
	assert.Equal(t, changed.Add(30*24*time.Hour).Format(time.RFC3339), got["next_nickname_change_at"])

	resp, err = app.Test(httptest.NewRequest("GET", "/me", nil))
	require.NoError(t, err)
	assert.Equal(t, 401, resp.StatusCode)
}

func TestGetProfile(t *testing.T) {
	user := &models.User{ID: uuid.New(), Email: "seller@example.com", Nickname: "기타왕"}
	disabled := &models.User{ID: uuid.New(), Nickname: "banned", IsDisabled: true}
	missing := uuid.New()

	repo := new(MockUserRepository)
	repo.On("GetByID", user.ID).Return(user, nil)
	repo.On("GetByID", disabled.ID).Return(disabled, nil)
	repo.On("GetByID", missing).Return(nil, assert.AnError)

	app := newApp()
	app.Get("/users/:id", userApp(t, repo, nil).GetProfile)

	resp, err := app.Test(httptest.NewRequest("GET", "/users/"+user.ID.String(), nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, "기타왕", body["nickname"])
	assert.NotContains(t, body, "email")

	for _, id := range []string{disabled.ID.String(), missing.String()} {
		resp, err = app.Test(httptest.NewRequest("GET", "/users/"+id, nil))
		require.NoError(t, err)
		assert.Equal(t, 404, resp.StatusCode)
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/users/not-a-uuid", nil))
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestGetProfileOwnerView(t *testing.T) {
	changed := fixedNow.Add(-time.Hour)
	user := &models.User{ID: uuid.New(), Email: "seller@example.com", Nickname: "기타왕", NicknameChangedAt: &changed}
	repo := new(MockUserRepository)
	repo.On("GetByID", user.ID).Return(user, nil)

	app := newApp()
	app.Get("/users/:id", userApp(t, repo, nil).GetProfile)

	req := withToken(t, httptest.NewRequest("GET", "/users/"+user.ID.String(), nil), user.ID, user.Nickname)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	body := decode(t, resp)
	assert.Equal(t, "seller@example.com", body["email"])
	assert.NotEmpty(t, body["next_nickname_change_at"])

	// someone else's token still gets the public view
	req = withToken(t, httptest.NewRequest("GET", "/users/"+user.ID.String(), nil), uuid.New(), "베이스왕")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.NotContains(t, decode(t, resp), "email")
}

func TestUpdateNickname(t *testing.T) {
	recent := fixedNow.Add(-10 * 24 * time.Hour)
	old := fixedNow.Add(-40 * 24 * time.Hour)

	tests := []struct {
		name      string
		changedAt *time.Time
		nickname  string
		holder    *models.User
		status    int
		reason    string
		update    bool
	}{
		{name: "first change", nickname: "베이스왕", status: 200, update: true},
		{name: "after cooldown", changedAt: &old, nickname: "베이스왕", status: 200, update: true},
		{name: "within cooldown", changedAt: &recent, nickname: "베이스왕", status: 403, reason: "cooldown"},
		{name: "same nickname is a no-op", changedAt: &recent, nickname: "기타왕", status: 200},
		{name: "profane", nickname: "시발왕", status: 400, reason: "profane"},
		{name: "taken", nickname: "베이스왕", holder: &models.User{ID: uuid.New()}, status: 409, reason: "taken"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			user := &models.User{ID: uuid.New(), Nickname: "기타왕", NicknameKey: "기타왕", NicknameChangedAt: tt.changedAt}
			repo := new(MockUserRepository)
			repo.On("GetByID", user.ID).Return(user, nil)
			if tt.holder != nil {
				repo.On("GetByNicknameKey", services.Normalize(tt.nickname)).Return(tt.holder, nil)
			} else {
				repo.On("GetByNicknameKey", mock.Anything).Return(nil, sql.ErrNoRows).Maybe()
			}
			if tt.update {
				repo.On("UpdateNickname", user.ID, tt.nickname, services.Normalize(tt.nickname), fixedNow).Return(nil)
			}

			app := newApp()
			app.Patch("/nickname", testAuth().Protected(), userApp(t, repo, nil).UpdateNickname)

			req := withToken(t, jsonRequest(t, "PATCH", "/nickname", map[string]string{"nickname": tt.nickname}), user.ID, user.Nickname)
			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			body := decode(t, resp)
			if tt.reason != "" {
				assert.Equal(t, tt.reason, body["reason"])
			}
			if tt.update {
				got := body["user"].(map[string]interface{})
				assert.Equal(t, tt.nickname, got["nickname"])
				assert.NotEmpty(t, got["next_nickname_change_at"])
			} else {
				repo.AssertNotCalled(t, "UpdateNickname", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			}
			repo.AssertExpectations(t)
		})
	}
}

func pngUpload(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, target, filename string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestUploadProfileImage(t *testing.T) {
	dir := t.TempDir()
	storage := services.NewLocalStorage(dir)
	id := uuid.New()

	repo := new(MockUserRepository)
	repo.On("UpdateProfileImage", id, mock.MatchedBy(func(url string) bool {
		return strings.HasPrefix(url, "/uploads/avatars/"+id.String()+"/") && strings.HasSuffix(url, ".jpg")
	}), mock.MatchedBy(func(hash string) bool { return hash != "" })).Return(nil)

	app := newApp()
	app.Post("/avatar", testAuth().Protected(), userApp(t, repo, storage).UploadProfileImage)

	req := withToken(t, multipartRequest(t, "/avatar", "me.png", pngUpload(t, 200, 100)), id, "기타왕")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	body := decode(t, resp)
	url := body["profile_image_url"].(string)
	assert.NotEmpty(t, body["profile_image_blurhash"])

	f, err := os.Open(filepath.Join(dir, strings.TrimPrefix(url, "/uploads/")))
	require.NoError(t, err)
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 64, cfg.Width)
	assert.Equal(t, 64, cfg.Height)
	repo.AssertExpectations(t)
}

func TestUploadProfileImageRejectsNonImage(t *testing.T) {
	id := uuid.New()
	repo := new(MockUserRepository)

	app := newApp()
	app.Post("/avatar", testAuth().Protected(), userApp(t, repo, nil).UploadProfileImage)

	req := withToken(t, multipartRequest(t, "/avatar", "me.png", []byte("#!/bin/sh\necho not an image\n")), id, "기타왕")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 400, resp.StatusCode)
	repo.AssertNotCalled(t, "UpdateProfileImage", mock.Anything, mock.Anything, mock.Anything)
}

func TestUploadProfileImageRollsBackOnRepoError(t *testing.T) {
	dir := t.TempDir()
	id := uuid.New()
	repo := new(MockUserRepository)
	repo.On("UpdateProfileImage", id, mock.Anything, mock.Anything).Return(assert.AnError)

	app := newApp()
	app.Post("/avatar", testAuth().Protected(), userApp(t, repo, services.NewLocalStorage(dir)).UploadProfileImage)

	req := withToken(t, multipartRequest(t, "/avatar", "me.png", pngUpload(t, 32, 32)), id, "기타왕")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, 500, resp.StatusCode)

	entries, err := os.ReadDir(filepath.Join(dir, "avatars", id.String()))
	require.NoError(t, err)
	assert.Empty(t, entries)
}
