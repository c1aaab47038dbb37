package models

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	ErrEmailExists    = errors.New("email already registered")
	ErrNicknameExists = errors.New("nickname already in use")
)

// UniqueViolation maps a unique index violation on users to a domain error.
// Other errors are returned unchanged.
func UniqueViolation(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		switch pqErr.Constraint {
		case "users_nickname_key_idx":
			return ErrNicknameExists
		case "users_email_idx":
			return ErrEmailExists
		}
	}
	return err
}

type UserRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(user *User) error {
	query := `
		INSERT INTO users (email, password_hash, nickname, nickname_key)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at`

	err := r.db.QueryRow(query, user.Email, user.PasswordHash, user.Nickname, user.NicknameKey).
		Scan(&user.ID, &user.CreatedAt)
	return UniqueViolation(err)
}

func (r *UserRepository) GetByEmail(email string) (*User, error) {
	var user User
	query := `SELECT * FROM users WHERE LOWER(email) = LOWER($1)`
	err := r.db.Get(&user, query, email)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) GetByNicknameKey(key string) (*User, error) {
	var user User
	query := `SELECT * FROM users WHERE nickname_key = $1`
	err := r.db.Get(&user, query, key)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) GetByID(id uuid.UUID) (*User, error) {
	var user User
	query := `SELECT * FROM users WHERE id = $1`
	err := r.db.Get(&user, query, id)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) UpdateNickname(id uuid.UUID, nickname, key string, changedAt time.Time) error {
	query := `UPDATE users SET nickname = $1, nickname_key = $2, nickname_changed_at = $3 WHERE id = $4`
	res, err := r.db.Exec(query, nickname, key, changedAt, id)
	if err != nil {
		return UniqueViolation(err)
	}
	return expectOneRow(res)
}

func (r *UserRepository) UpdateProfileImage(id uuid.UUID, url, blurhash string) error {
	query := `UPDATE users SET profile_image_url = $1, profile_image_blurhash = $2 WHERE id = $3`
	res, err := r.db.Exec(query, url, blurhash, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
