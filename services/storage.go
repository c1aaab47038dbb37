package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Storage holds public user assets such as profile images.
type Storage interface {
	// Save stores r under key (a slash-separated relative path) and returns
	// the public URL of the object.
	Save(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	// Delete removes key. A missing object is not an error.
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
	// IsLocal reports whether objects are served by this process under /uploads.
	IsLocal() bool
}

// AvatarKey returns a fresh object key for a profile image of userID. Keys
// are never reused so CDNs can cache them forever.
func AvatarKey(userID uuid.UUID) string {
	return "avatars/" + userID.String() + "/" + uuid.NewString() + ".jpg"
}

// NewStorage builds the Storage selected by cfg.Provider: "s3" or "r2" for
// S3-compatible object storage, anything else for the local uploads dir.
func NewStorage(cfg StorageConfig) (Storage, error) {
	switch strings.ToLower(cfg.Provider) {
	case "s3", "r2":
		st, err := newS3Storage(cfg.S3())
		if err != nil {
			return nil, fmt.Errorf("s3 storage: %w", err)
		}
		return st, nil
	}
	return NewLocalStorage(cfg.LocalDir()), nil
}

// LocalDir is the directory local storage writes to and /uploads serves.
func (s StorageConfig) LocalDir() string {
	if strings.TrimSpace(s.UploadsDir) == "" {
		return "uploads"
	}
	return s.UploadsDir
}

// LocalStorage writes objects below a directory served at /uploads.
type LocalStorage struct {
	baseDir string
}

func NewLocalStorage(baseDir string) *LocalStorage {
	if baseDir == "" {
		baseDir = "uploads"
	}
	return &LocalStorage{baseDir: baseDir}
}

func (s *LocalStorage) IsLocal() bool { return true }

// Save writes to a temporary file first so a half-written image is never
// served.
func (s *LocalStorage) Save(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	dst, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", err
	}
	return s.PublicURL(key), nil
}

func (s *LocalStorage) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *LocalStorage) PublicURL(key string) string {
	return "/uploads/" + strings.TrimPrefix(filepath.ToSlash(key), "/")
}

// path resolves key inside baseDir; ".." segments cannot climb out of it.
func (s *LocalStorage) path(key string) (string, error) {
	clean := filepath.Clean("/" + filepath.ToSlash(key))
	if clean == "/" {
		return "", errors.New("empty storage key")
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(clean)), nil
}
