package models

import (
	"time"

	"github.com/google/uuid"
)

type UserRepositoryInterface interface {
	Create(user *User) error
	GetByEmail(email string) (*User, error)
	GetByNicknameKey(key string) (*User, error)
	GetByID(id uuid.UUID) (*User, error)
	UpdateNickname(id uuid.UUID, nickname, key string, changedAt time.Time) error
	UpdateProfileImage(id uuid.UUID, url, blurhash string) error
}
