package auth

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

// ErrWeakPassword is returned by ValidatePassword.
var ErrWeakPassword = errors.New("password too weak")

var commonPasswords = map[string]struct{}{
	"password": {}, "password1": {}, "12345678": {}, "123456789": {}, "qwerty123": {},
	"iloveyou": {}, "admin123": {}, "letmein1": {}, "welcome1": {}, "11111111": {},
}

// ValidatePassword rejects short, all-numeric, common passwords and passwords
// equal to the username or email.
func ValidatePassword(pw, username, email string) error {
	if len(pw) < MinPasswordLength {
		return weak("password must be at least 8 characters")
	}
	allDigits := true
	for _, r := range pw {
		if !unicode.IsDigit(r) {
			allDigits = false
			break
		}
	}
	if allDigits {
		return weak("password cannot be entirely numeric")
	}
	low := strings.ToLower(pw)
	if _, ok := commonPasswords[low]; ok {
		return weak("password is too common")
	}
	if (username != "" && low == strings.ToLower(username)) ||
		(email != "" && low == strings.ToLower(email)) {
		return weak("password is too similar to the username or email")
	}
	return nil
}

func weak(msg string) error { return fmt.Errorf("%w: %s", ErrWeakPassword, msg) }

// HashPassword returns a bcrypt hash of pw.
func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// CheckPassword reports whether pw matches hash.
func CheckPassword(hash, pw string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw)) == nil
}
