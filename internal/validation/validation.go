package validation

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
)

// ErrLocationEmpty is returned when location is empty or whitespace-only after trim.
var ErrLocationEmpty = errors.New("location is required")

// ErrLocationTooShort is returned when location length is below the minimum.
var ErrLocationTooShort = errors.New("location too short")

// ErrLocationTooLong is returned when location length exceeds the maximum.
var ErrLocationTooLong = errors.New("location too long")

// ErrLocationInvalidChars is returned when location contains disallowed characters.
var ErrLocationInvalidChars = errors.New("location contains invalid characters")

var (
	ErrIndexNameInvalid     = errors.New("invalid index name")
	ErrContainerNameInvalid = errors.New("invalid container name")
)

// ValidateLocation trims the input, enforces length bounds (minLen, maxLen in runes),
// and restricts to allowed characters: letters (Unicode), digits, space, comma, hyphen.
// "Vienna,AT" style city,country queries pass unchanged.
func ValidateLocation(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrLocationEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrLocationTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrLocationTooLong
	}
	for _, c := range r {
		if !isAllowedLocationRune(c) {
			return "", ErrLocationInvalidChars
		}
	}
	return s, nil
}

// isAllowedLocationRune returns true for letters (Unicode), digits, space, comma, hyphen.
func isAllowedLocationRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-':
		return true
	}
	return false
}

// ValidateIndexName applies Elasticsearch index naming rules: lowercase, at most 255 bytes,
// none of \ / * ? " < > | space , #, not starting with - _ +, and not "." or "..".
func ValidateIndexName(name string) error {
	if name == "" || name == "." || name == ".." || len(name) > 255 {
		return ErrIndexNameInvalid
	}
	if strings.ToLower(name) != name {
		return ErrIndexNameInvalid
	}
	if strings.ContainsAny(name, `\/*?"<>| ,#:`) {
		return ErrIndexNameInvalid
	}
	switch name[0] {
	case '-', '_', '+':
		return ErrIndexNameInvalid
	}
	return nil
}

var containerNameRE = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// ValidateContainerName applies docker's container name pattern.
func ValidateContainerName(name string) error {
	if !containerNameRE.MatchString(name) {
		return ErrContainerNameInvalid
	}
	return nil
}
