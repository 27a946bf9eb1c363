package types

import "unicode/utf8"

// MaxUsernameLength bounds usernames on the wire and in storage.
const MaxUsernameLength = 64

// IsValidUsername reports whether a username is acceptable for connection
// identification. Usernames are opaque beyond these checks: non-empty, valid
// UTF-8, bounded length, and no control characters.
func IsValidUsername(username string) bool {
	if username == "" || len(username) > MaxUsernameLength {
		return false
	}
	if !utf8.ValidString(username) {
		return false
	}
	for _, r := range username {
		if r < 0x20 || r == 0x7f {
			return false
		}
	}
	return true
}
