package handlers

import (
	"bytes"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/gearmarket/middleware"
	"github.com/yourusername/gearmarket/models"
	"github.com/yourusername/gearmarket/services"
)

type UserHandler struct {
	userRepo  models.UserRepositoryInterface
	policy    *services.NicknamePolicy
	auth      *middleware.Auth
	avatars   *services.AvatarProcessor
	storage   services.Storage
	validator *validator.Validate
	now       func() time.Time
}

func NewUserHandler(userRepo models.UserRepositoryInterface, policy *services.NicknamePolicy, auth *middleware.Auth, avatars *services.AvatarProcessor, storage services.Storage) *UserHandler {
	return &UserHandler{
		userRepo:  userRepo,
		policy:    policy,
		auth:      auth,
		avatars:   avatars,
		storage:   storage,
		validator: newValidator(policy),
		now:       time.Now,
	}
}

// WithClock replaces the time source, for tests.
func (h *UserHandler) WithClock(now func() time.Time) *UserHandler {
	h.now = now
	return h
}

func (h *UserHandler) myResponse(u *models.User) models.UserResponse {
	resp := u.ToResponse()
	if next := h.policy.NextChangeAt(u.NicknameChangedAt); next.After(h.now()) {
		resp.NextNicknameChangeAt = &next
	}
	return resp
}

func (h *UserHandler) currentUser(c *fiber.Ctx) (*models.User, error) {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		return nil, c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}
	user, err := h.userRepo.GetByID(userID)
	if err != nil {
		return nil, c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}
	return user, nil
}

// GetMyProfile returns the caller's own profile.
func (h *UserHandler) GetMyProfile(c *fiber.Ctx) error {
	user, err := h.currentUser(c)
	if user == nil {
		return err
	}
	return c.JSON(fiber.Map{"user": h.myResponse(user)})
}

// GetProfile returns a user's public profile. A caller presenting a token for
// the same account gets the owner view instead.
func (h *UserHandler) GetProfile(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid user id"})
	}
	user, err := h.userRepo.GetByID(id)
	if err != nil || user.IsDisabled {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "User not found"})
	}
	if h.auth != nil && h.auth.OptionalUserID(c) == user.ID {
		return c.JSON(h.myResponse(user))
	}
	return c.JSON(user.ToPublicProfile())
}

// UpdateNickname changes the caller's nickname, at most once per cooldown.
func (h *UserHandler) UpdateNickname(c *fiber.Ctx) error {
	user, err := h.currentUser(c)
	if user == nil {
		return err
	}
	var req models.UpdateNicknameRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	req.Nickname = strings.TrimSpace(req.Nickname)
	if req.Nickname == user.Nickname {
		return c.JSON(fiber.Map{"user": h.myResponse(user)})
	}
	if err := h.validator.Struct(req); err != nil {
		return validationFailed(c, h.policy, err)
	}
	now := h.now()
	if err := h.policy.CheckCooldown(user.NicknameChangedAt, now); err != nil {
		next := h.policy.NextChangeAt(user.NicknameChangedAt)
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error":          err.Error(),
			"reason":         services.ReasonCooldown,
			"next_change_at": next,
		})
	}
	key, err := checkNickname(h.userRepo, h.policy, req.Nickname, user.ID)
	if err != nil {
		return nicknameError(c, err)
	}
	if err := h.userRepo.UpdateNickname(user.ID, req.Nickname, key, now); err != nil {
		if errors.Is(err, models.ErrNicknameExists) {
			return nicknameError(c, services.ErrNicknameTaken)
		}
		services.Log.WithError(err).Error("update nickname")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update nickname"})
	}
	services.Log.WithFields(logrus.Fields{"user_id": user.ID, "from": user.Nickname, "to": req.Nickname}).Info("nickname changed")

	user.Nickname = req.Nickname
	user.NicknameKey = key
	user.NicknameChangedAt = &now
	return c.JSON(fiber.Map{"user": h.myResponse(user)})
}

var avatarTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// UploadProfileImage replaces the caller's profile image.
func (h *UserHandler) UploadProfileImage(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	if userID == uuid.Nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
	}
	file, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "No image file provided"})
	}
	if file.Size > h.avatars.MaxBytes() {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{"error": "File too large"})
	}
	src, err := file.Open()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to open image"})
	}
	defer src.Close()
	data, err := io.ReadAll(io.LimitReader(src, h.avatars.MaxBytes()+1))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to read image"})
	}
	// trust the bytes, not the declared Content-Type
	if !avatarTypes[http.DetectContentType(data)] {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid image format. Supported: JPEG, PNG, WebP"})
	}

	avatar, err := h.avatars.Process(data)
	switch {
	case errors.Is(err, services.ErrAvatarTooLarge):
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{"error": "File too large"})
	case errors.Is(err, services.ErrAvatarFormat):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid image format. Supported: JPEG, PNG, WebP"})
	case err != nil:
		services.Log.WithError(err).Error("process profile image")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process image"})
	}

	key := services.AvatarKey(userID)
	url, err := h.storage.Save(c.UserContext(), key, bytes.NewReader(avatar.Data), "image/jpeg")
	if err != nil {
		services.Log.WithError(err).Error("save profile image")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to save image"})
	}
	if err := h.userRepo.UpdateProfileImage(userID, url, avatar.Blurhash); err != nil {
		_ = h.storage.Delete(c.UserContext(), key)
		if errors.Is(err, sql.ErrNoRows) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update profile"})
	}
	services.Log.WithFields(logrus.Fields{
		"user_id":  userID,
		"nickname": middleware.GetNickname(c),
		"format":   avatar.SourceFormat,
	}).Info("profile image updated")
	return c.JSON(fiber.Map{"profile_image_url": url, "profile_image_blurhash": avatar.Blurhash})
}
