package services

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

var (
	ErrNicknameProfane  = errors.New("nickname contains a forbidden word")
	ErrNicknameLength   = errors.New("nickname length out of range")
	ErrNicknamePattern  = errors.New("nickname contains unsupported characters")
	ErrNicknameReserved = errors.New("nickname is reserved")
	ErrNicknameTaken    = errors.New("nickname already taken")
	ErrNicknameCooldown = errors.New("nickname was changed too recently")
)

// Reason codes returned to clients alongside nickname errors.
const (
	ReasonProfane  = "profane"
	ReasonLength   = "length"
	ReasonPattern  = "pattern"
	ReasonReserved = "reserved"
	ReasonTaken    = "taken"
	ReasonCooldown = "cooldown"
)

// Reason maps a nickname error to its reason code, or "" for other errors.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrNicknameProfane):
		return ReasonProfane
	case errors.Is(err, ErrNicknameLength):
		return ReasonLength
	case errors.Is(err, ErrNicknamePattern):
		return ReasonPattern
	case errors.Is(err, ErrNicknameReserved):
		return ReasonReserved
	case errors.Is(err, ErrNicknameTaken):
		return ReasonTaken
	case errors.Is(err, ErrNicknameCooldown):
		return ReasonCooldown
	}
	return ""
}

// NicknamePolicy decides whether a nickname may be registered.
type NicknamePolicy struct {
	blocklist *BlockList
	minLength int
	maxLength int
	reserved  map[string]struct{}
	cooldown  time.Duration
}

func NewNicknamePolicy(blocklist *BlockList, cfg NicknameConfig) *NicknamePolicy {
	p := &NicknamePolicy{
		blocklist: blocklist,
		minLength: cfg.MinLength,
		maxLength: cfg.MaxLength,
		reserved:  make(map[string]struct{}, len(cfg.Reserved)),
		cooldown:  cfg.ChangeCooldown,
	}
	if p.minLength <= 0 {
		p.minLength = 2
	}
	if p.maxLength < p.minLength {
		p.maxLength = 12
	}
	for _, r := range cfg.Reserved {
		if n := Normalize(r); n != "" {
			p.reserved[n] = struct{}{}
		}
	}
	return p
}

func (p *NicknamePolicy) Blocklist() *BlockList { return p.blocklist }

// Validate checks nickname in the order the signup form reports problems:
// forbidden words, then length, then characters, then reserved names.
func (p *NicknamePolicy) Validate(nickname string) error {
	if term, ok := p.blocklist.Match(nickname); ok {
		Log.WithField("term", term).Debug("nickname rejected by block-list")
		return ErrNicknameProfane
	}
	if n := utf8.RuneCountInString(nickname); n < p.minLength || n > p.maxLength {
		return fmt.Errorf("%w: %d characters, want %d to %d", ErrNicknameLength, n, p.minLength, p.maxLength)
	}
	if strings.IndexFunc(nickname, func(r rune) bool { return !isNicknameRune(r) }) >= 0 {
		return ErrNicknamePattern
	}
	if _, ok := p.reserved[Normalize(nickname)]; ok {
		return ErrNicknameReserved
	}
	return nil
}

// isNicknameRune reports whether r may appear in a stored nickname. This is
// narrower than the keystroke sanitizer: vowels and conjoining jamo are only
// accepted while composing.
func isNicknameRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r >= 0xAC00 && r <= 0xD7A3: // 가-힣
		return true
	case r >= 0x3131 && r <= 0x314E: // ㄱ-ㅎ
		return true
	}
	return false
}

// NextChangeAt returns when a nickname last changed at changedAt may change
// again. A nil changedAt means the nickname was never changed.
func (p *NicknamePolicy) NextChangeAt(changedAt *time.Time) time.Time {
	if changedAt == nil {
		return time.Time{}
	}
	return changedAt.Add(p.cooldown)
}

// CheckCooldown returns ErrNicknameCooldown if now is before NextChangeAt.
func (p *NicknamePolicy) CheckCooldown(changedAt *time.Time, now time.Time) error {
	next := p.NextChangeAt(changedAt)
	if now.Before(next) {
		return fmt.Errorf("%w: next change allowed at %s", ErrNicknameCooldown, next.UTC().Format(time.RFC3339))
	}
	return nil
}

// RegisterValidation adds the "nickname" struct tag to v.
func (p *NicknamePolicy) RegisterValidation(v *validator.Validate) error {
	return v.RegisterValidation("nickname", func(fl validator.FieldLevel) bool {
		return p.Validate(fl.Field().String()) == nil
	})
}
