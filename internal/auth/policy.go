package auth

import (
	"net/mail"
	"strings"
)

const (
	minPasswordLength = 6
	// bcrypt only accepts the first 72 bytes and rejects anything longer.
	maxPasswordLength = 72
	maxEmailLength    = 254
	passwordSpecials  = "@$!%*?&"
)

// ValidatePassword enforces the password policy: six to 72 characters
// drawn from letters, digits and @$!%*?&, with at least one lowercase letter,
// one uppercase letter, one digit and one special character.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLength {
		return fail(ErrValidationFailed, "password must be at least 6 characters")
	}
	if len(password) > maxPasswordLength {
		return fail(ErrValidationFailed, "password must be at most 72 characters")
	}

	var lower, upper, digit, special bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		case strings.ContainsRune(passwordSpecials, r):
			special = true
		default:
			return fail(ErrValidationFailed, "password may only contain letters, digits and @$!%*?&")
		}
	}

	if !lower || !upper || !digit || !special {
		return fail(ErrValidationFailed,
			"password must contain an uppercase letter, a lowercase letter, a digit and one of @$!%*?&")
	}
	return nil
}

// ValidateEmail accepts a bare address (no display name) with a dotted domain.
func ValidateEmail(email string) error {
	if len(email) > maxEmailLength {
		return fail(ErrValidationFailed, "please enter a valid email")
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return fail(ErrValidationFailed, "please enter a valid email")
	}

	at := strings.LastIndexByte(email, '@')
	domain := email[at+1:]
	dot := strings.IndexByte(domain, '.')
	if dot <= 0 || strings.HasSuffix(domain, ".") {
		return fail(ErrValidationFailed, "please enter a valid email")
	}
	return nil
}
