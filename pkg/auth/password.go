package auth

import "crypto/subtle"

// PasswordMatches compares a room or admin password in plaintext. Rooms store
// passwords as entered; there is no hashing scheme to check against.
func PasswordMatches(stored, given string) bool {
	return subtle.ConstantTimeCompare([]byte(stored), []byte(given)) == 1
}
