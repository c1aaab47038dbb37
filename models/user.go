package models

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type User struct {
	ID                   uuid.UUID  `json:"id" db:"id"`
	Email                string     `json:"email" db:"email"`
	PasswordHash         string     `json:"-" db:"password_hash"`
	Nickname             string     `json:"nickname" db:"nickname"`
	NicknameKey          string     `json:"-" db:"nickname_key"`
	NicknameChangedAt    *time.Time `json:"nickname_changed_at" db:"nickname_changed_at"`
	ProfileImageURL      *string    `json:"profile_image_url" db:"profile_image_url"`
	ProfileImageBlurhash *string    `json:"profile_image_blurhash" db:"profile_image_blurhash"`
	IsDisabled           bool       `json:"is_disabled" db:"is_disabled"`
	CreatedAt            time.Time  `json:"created_at" db:"created_at"`
}

type SignupRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required"`
	Nickname string `json:"nickname" validate:"required,nickname"`
}

type SigninRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type UpdateNicknameRequest struct {
	Nickname string `json:"nickname" validate:"required,nickname"`
}

type SanitizeRequest struct {
	Input string `json:"input"`
}

// UserResponse is what the owner of an account sees.
type UserResponse struct {
	ID                   uuid.UUID  `json:"id"`
	Email                string     `json:"email"`
	Nickname             string     `json:"nickname"`
	NicknameChangedAt    *time.Time `json:"nickname_changed_at"`
	NextNicknameChangeAt *time.Time `json:"next_nickname_change_at,omitempty"`
	ProfileImageURL      *string    `json:"profile_image_url"`
	ProfileImageBlurhash *string    `json:"profile_image_blurhash"`
	CreatedAt            time.Time  `json:"created_at"`
}

// PublicProfile is what other users see, e.g. on a seller page.
type PublicProfile struct {
	ID                   uuid.UUID `json:"id"`
	Nickname             string    `json:"nickname"`
	ProfileImageURL      *string   `json:"profile_image_url"`
	ProfileImageBlurhash *string   `json:"profile_image_blurhash"`
	CreatedAt            time.Time `json:"created_at"`
}

func (u *User) HashPassword(password string) error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = string(hashedPassword)
	return nil
}

func (u *User) CheckPassword(password string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password))
	return err == nil
}

func (u *User) ToResponse() UserResponse {
	return UserResponse{
		ID:                   u.ID,
		Email:                u.Email,
		Nickname:             u.Nickname,
		NicknameChangedAt:    u.NicknameChangedAt,
		ProfileImageURL:      u.ProfileImageURL,
		ProfileImageBlurhash: u.ProfileImageBlurhash,
		CreatedAt:            u.CreatedAt,
	}
}

func (u *User) ToPublicProfile() PublicProfile {
	return PublicProfile{
		ID:                   u.ID,
		Nickname:             u.Nickname,
		ProfileImageURL:      u.ProfileImageURL,
		ProfileImageBlurhash: u.ProfileImageBlurhash,
		CreatedAt:            u.CreatedAt,
	}
}
