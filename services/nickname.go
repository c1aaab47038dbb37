package services

import (
	"sort"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// strippedSymbols are removed from nicknames before comparison so that
// "b.a.d" and "b-a-d" collapse to the same key as "bad".
const strippedSymbols = "._-~!@#$%^&*()[]{}|\\;:'\",<>/?`+="

// isStripped reports whether r is dropped by Normalize.
func isStripped(r rune) bool {
	switch {
	case unicode.IsSpace(r), unicode.In(r, unicode.Z):
		return true
	case r >= 0x200B && r <= 0x200D, r == 0xFEFF:
		return true
	case r <= unicode.MaxASCII:
		return strings.ContainsRune(strippedSymbols, r)
	}
	return false
}

// Transformer chains carry state and cannot be shared between goroutines,
// so each call borrows one from the pool.
var normalizeChains = sync.Pool{
	New: func() any {
		return transform.Chain(
			norm.NFKC,
			cases.Lower(language.Und),
			runes.Remove(runes.Predicate(isStripped)),
			// removing separators can leave a base letter next to a combining
			// mark; recompose so the result is a fixed point
			norm.NFC,
		)
	},
}

// Normalize maps s to the canonical form used for block-list comparison:
// NFKC, lowercased, with whitespace, zero-width characters and common
// punctuation removed. It never fails; invalid input bytes are dropped.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ToValidUTF8(s, "")

	t := normalizeChains.Get().(transform.Transformer)
	out, _, _ := transform.String(t, s)
	t.Reset()
	normalizeChains.Put(t)
	return out
}

// SanitizeNicknameInput drops every rune a nickname may not contain while it
// is being typed. Only Hangul (syllables, compatibility jamo, the Jamo block),
// ASCII letters and ASCII digits survive. Case and Unicode form are kept as-is.
func SanitizeNicknameInput(input string) string {
	return strings.Map(func(r rune) rune {
		if isNicknameInputRune(r) {
			return r
		}
		return -1
	}, input)
}

func isNicknameInputRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r >= 0xAC00 && r <= 0xD7A3: // 가-힣
		return true
	case r >= 0x3131 && r <= 0x3163: // ㄱ-ㅎ, ㅏ-ㅣ
		return true
	case r >= 0x1100 && r <= 0x11FF: // ᄀ-ᇿ
		return true
	}
	return false
}

// BlockList is an immutable set of normalized forbidden terms. It is built
// once and is safe for concurrent use.
type BlockList struct {
	terms map[string]struct{}
	// ordered copy of terms for the containment scan, longest first so the
	// reported match is the most specific one
	scan []string
}

// NewBlockList normalizes every term and keeps the non-empty ones.
// Duplicates collapse.
func NewBlockList(terms []string) *BlockList {
	bl := &BlockList{terms: make(map[string]struct{}, len(terms))}
	for _, t := range terms {
		n := Normalize(t)
		if n == "" {
			continue
		}
		if _, dup := bl.terms[n]; dup {
			continue
		}
		bl.terms[n] = struct{}{}
		bl.scan = append(bl.scan, n)
	}
	sort.SliceStable(bl.scan, func(i, j int) bool { return len(bl.scan[i]) > len(bl.scan[j]) })
	return bl
}

// Len returns the number of distinct normalized terms.
func (b *BlockList) Len() int {
	if b == nil {
		return 0
	}
	return len(b.terms)
}

// Has reports whether term, once normalized, is an entry of the list.
func (b *BlockList) Has(term string) bool {
	if b == nil {
		return false
	}
	_, ok := b.terms[Normalize(term)]
	return ok
}

// ContainsBadWord reports whether nickname, once normalized, equals or
// contains any blocked term.
func (b *BlockList) ContainsBadWord(nickname string) bool {
	_, ok := b.Match(nickname)
	return ok
}

// Match returns the blocked term found in nickname, if any.
func (b *BlockList) Match(nickname string) (string, bool) {
	if b == nil || len(b.terms) == 0 {
		return "", false
	}
	n := Normalize(nickname)
	if n == "" {
		return "", false
	}
	if _, ok := b.terms[n]; ok {
		return n, true
	}
	for _, t := range b.scan {
		if strings.Contains(n, t) {
			return t, true
		}
	}
	return "", false
}

// Terms returns a copy of the normalized entries.
func (b *BlockList) Terms() []string {
	if b == nil {
		return nil
	}
	out := make([]string, len(b.scan))
	copy(out, b.scan)
	return out
}
