package models

import (
	"regexp"
)

// Username rules shared by the client and the server: letters, digits and
// underscore only. Passwords must be at least MinPasswordLen characters.
var usernameRE = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

const MinPasswordLen = 6

// ValidUsername reports whether the username matches the allowed pattern
func ValidUsername(username string) bool {
	return username != "" && usernameRE.MatchString(username)
}

// ValidPassword reports whether the password meets the minimum length
func ValidPassword(password string) bool {
	return len(password) >= MinPasswordLen
}
