package services

import (
	"errors"
	"strings"
	"unicode"
)

var (
	ErrPasswordLength = errors.New("password must be between 8 and 72 bytes")
	ErrPasswordWeak   = errors.New("password must contain a letter and a number")
	ErrPasswordCommon = errors.New("password is too common")
)

// PasswordPolicy defines the password requirements
type PasswordPolicy struct {
	MinLength      int
	MaxLength      int // bcrypt ignores bytes past 72
	ForbiddenWords []string
	MaxRepeat      int
}

// DefaultPasswordPolicy returns the default password policy
func DefaultPasswordPolicy() *PasswordPolicy {
	return &PasswordPolicy{
		MinLength:      8,
		MaxLength:      72,
		ForbiddenWords: []string{"password", "gearmarket", "qwerty", "123456", "asdf", "letmein"},
		MaxRepeat:      4,
	}
}

// ValidatePassword enforces the default password policy.
func ValidatePassword(password string) error {
	return DefaultPasswordPolicy().ValidatePassword(password)
}

// ValidatePassword validates a password against the policy
func (pp *PasswordPolicy) ValidatePassword(password string) error {
	if len(password) < pp.MinLength || len(password) > pp.MaxLength {
		return ErrPasswordLength
	}

	var hasLetter, hasNumber bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsNumber(r):
			hasNumber = true
		}
	}
	if !hasLetter || !hasNumber {
		return ErrPasswordWeak
	}

	lower := strings.ToLower(password)
	for _, word := range pp.ForbiddenWords {
		if strings.Contains(lower, word) {
			return ErrPasswordCommon
		}
	}
	if pp.MaxRepeat > 0 && hasRepeatingChars(password, pp.MaxRepeat) {
		return ErrPasswordCommon
	}
	return nil
}

// hasRepeatingChars reports a run of at least n identical runes.
func hasRepeatingChars(s string, n int) bool {
	run := 0
	var prev rune = -1
	for _, r := range s {
		if r == prev {
			run++
		} else {
			run = 1
			prev = r
		}
		if run >= n {
			return true
		}
	}
	return false
}
