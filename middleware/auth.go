package middleware

import (
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

const devJWTSecret = "gearmarket-default-secret-change-in-production"

type Claims struct {
	UserID   uuid.UUID `json:"user_id"`
	Nickname string    `json:"nickname"`
	jwt.RegisteredClaims
}

// Auth issues and verifies HS256 bearer tokens.
type Auth struct {
	secret []byte
	ttl    time.Duration
}

// NewAuth returns an Auth signing with secret. An empty secret falls back to
// a development value; a non-positive ttl means 24 hours.
func NewAuth(secret string, ttl time.Duration) *Auth {
	if secret == "" {
		secret = devJWTSecret
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Auth{secret: []byte(secret), ttl: ttl}
}

// UsesDevSecret reports whether no secret was configured.
func (a *Auth) UsesDevSecret() bool { return string(a.secret) == devJWTSecret }

func (a *Auth) GenerateToken(userID uuid.UUID, nickname string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   userID,
		Nickname: nickname,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *Auth) parse(tokenString string) (*Claims, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || claims.UserID == uuid.Nil {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

func (a *Auth) Protected() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := c.Get("Authorization")
		if tokenString == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing authorization token",
			})
		}

		claims, err := a.parse(tokenString)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid token",
			})
		}

		c.Locals("user_id", claims.UserID)
		c.Locals("nickname", claims.Nickname)

		return c.Next()
	}
}

// OptionalUserID returns the caller's id when a valid token is present.
func (a *Auth) OptionalUserID(c *fiber.Ctx) uuid.UUID {
	tokenString := c.Get("Authorization")
	if tokenString == "" {
		return uuid.Nil
	}
	claims, err := a.parse(tokenString)
	if err != nil {
		return uuid.Nil
	}
	return claims.UserID
}

func GetUserID(c *fiber.Ctx) uuid.UUID {
	userID, ok := c.Locals("user_id").(uuid.UUID)
	if !ok {
		return uuid.Nil
	}
	return userID
}

func GetNickname(c *fiber.Ctx) string {
	nickname, ok := c.Locals("nickname").(string)
	if !ok {
		return ""
	}
	return nickname
}
