package handlers

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/yourusername/gearmarket/middleware"
	"github.com/yourusername/gearmarket/models"
	"github.com/yourusername/gearmarket/services"
)

type AuthHandler struct {
	userRepo  models.UserRepositoryInterface
	policy    *services.NicknamePolicy
	auth      *middleware.Auth
	validator *validator.Validate
}

func NewAuthHandler(userRepo models.UserRepositoryInterface, policy *services.NicknamePolicy, auth *middleware.Auth) *AuthHandler {
	return &AuthHandler{
		userRepo:  userRepo,
		policy:    policy,
		auth:      auth,
		validator: newValidator(policy),
	}
}

func (h *AuthHandler) Signup(c *fiber.Ctx) error {
	var req models.SignupRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	req.Email = strings.TrimSpace(req.Email)
	req.Nickname = strings.TrimSpace(req.Nickname)
	if err := h.validator.Struct(req); err != nil {
		return validationFailed(c, h.policy, err)
	}
	if err := services.ValidatePassword(req.Password); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error(), "reason": "password"})
	}

	existingUser, err := h.userRepo.GetByEmail(req.Email)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Database error"})
	}
	if existingUser != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Email already registered"})
	}
	key, err := checkNickname(h.userRepo, h.policy, req.Nickname, uuid.Nil)
	if err != nil {
		return nicknameError(c, err)
	}

	user := &models.User{Email: req.Email, Nickname: req.Nickname, NicknameKey: key}
	if err := user.HashPassword(req.Password); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to process password"})
	}
	if err := h.userRepo.Create(user); err != nil {
		switch {
		case errors.Is(err, models.ErrNicknameExists):
			return nicknameError(c, services.ErrNicknameTaken)
		case errors.Is(err, models.ErrEmailExists):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Email already registered"})
		}
		services.Log.WithError(err).Error("create user")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create user"})
	}
	services.Log.WithField("user_id", user.ID).Info("user signed up")

	token, err := h.auth.GenerateToken(user.ID, user.Nickname)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to generate token"})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"user": user.ToResponse(), "token": token})
}

func (h *AuthHandler) Signin(c *fiber.Ctx) error {
	var req models.SigninRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if err := h.validator.Struct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Validation failed", "details": err.Error()})
	}
	user, err := h.userRepo.GetByEmail(strings.TrimSpace(req.Email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid credentials"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Database error"})
	}
	if user.IsDisabled {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "Account disabled"})
	}
	if !user.CheckPassword(req.Password) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid credentials"})
	}
	token, err := h.auth.GenerateToken(user.ID, user.Nickname)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to generate token"})
	}
	return c.JSON(fiber.Map{"user": user.ToResponse(), "token": token})
}
