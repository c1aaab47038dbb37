package handlers

import (
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/yourusername/gearmarket/models"
	"github.com/yourusername/gearmarket/services"
)

// newValidator returns a validator that understands the "nickname" tag.
func newValidator(policy *services.NicknamePolicy) *validator.Validate {
	v := validator.New()
	if err := policy.RegisterValidation(v); err != nil {
		// only fails for an empty tag name or nil func
		panic(err)
	}
	return v
}

// validationFailed answers a failed struct validation. Nickname failures
// carry the policy reason so clients can show the right message.
func validationFailed(c *fiber.Ctx, policy *services.NicknamePolicy, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Tag() != "nickname" {
				continue
			}
			value, _ := fe.Value().(string)
			if perr := policy.Validate(value); perr != nil {
				return nicknameError(c, perr)
			}
		}
	}
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Validation failed", "details": err.Error()})
}

// nicknameError answers with the status and reason code for a nickname error.
func nicknameError(c *fiber.Ctx, err error) error {
	reason := services.Reason(err)
	status := http.StatusBadRequest
	switch reason {
	case "":
		services.Log.WithError(err).Error("nickname check failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Database error"})
	case services.ReasonTaken:
		status = fiber.StatusConflict
	case services.ReasonCooldown:
		status = fiber.StatusForbidden
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error(), "reason": reason})
}

// checkNickname runs the policy and the uniqueness check for nickname on
// behalf of user self (uuid.Nil for a new account). It returns the
// normalized key to store.
func checkNickname(repo models.UserRepositoryInterface, policy *services.NicknamePolicy, nickname string, self uuid.UUID) (string, error) {
	if err := policy.Validate(nickname); err != nil {
		return "", err
	}
	key := services.Normalize(nickname)
	holder, err := repo.GetByNicknameKey(key)
	switch {
	case err == nil && holder.ID != self:
		return "", services.ErrNicknameTaken
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return "", err
	}
	return key, nil
}

type NicknameHandler struct {
	userRepo models.UserRepositoryInterface
	policy   *services.NicknamePolicy
}

func NewNicknameHandler(userRepo models.UserRepositoryInterface, policy *services.NicknamePolicy) *NicknameHandler {
	return &NicknameHandler{userRepo: userRepo, policy: policy}
}

// CheckAvailability answers whether ?nickname= may be used for a new account.
func (h *NicknameHandler) CheckAvailability(c *fiber.Ctx) error {
	nickname := strings.TrimSpace(c.Query("nickname"))
	if nickname == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Nickname required"})
	}
	if _, err := checkNickname(h.userRepo, h.policy, nickname, uuid.Nil); err != nil {
		return nicknameError(c, err)
	}
	return c.JSON(fiber.Map{"nickname": nickname, "available": true})
}

// Sanitize strips characters a nickname can never contain, for clients that
// filter keystrokes server-side.
func (h *NicknameHandler) Sanitize(c *fiber.Ctx) error {
	var req models.SanitizeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	out := services.SanitizeNicknameInput(req.Input)
	if out != req.Input {
		services.Log.WithFields(logrus.Fields{
			"input":     req.Input,
			"sanitized": out,
		}).Debug("nickname input sanitized")
	}
	return c.JSON(fiber.Map{"nickname": out})
}

type HealthHandler struct {
	blocklist *services.BlockList
	ping      func() error
}

func NewHealthHandler(blocklist *services.BlockList, ping func() error) *HealthHandler {
	return &HealthHandler{blocklist: blocklist, ping: ping}
}

func (h *HealthHandler) Health(c *fiber.Ctx) error {
	status := "ok"
	if h.ping != nil {
		if err := h.ping(); err != nil {
			status = "degraded"
		}
	}
	return c.JSON(fiber.Map{"status": status, "blocklist_terms": h.blocklist.Len()})
}
