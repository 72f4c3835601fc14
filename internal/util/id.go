package util

import (
	"crypto/rand"
	"encoding/hex"

	nanoid "github.com/jaevor/go-nanoid"
)

var newNanoID func() string

func init() {
	gen, err := nanoid.Standard(21)
	if err == nil {
		newNanoID = gen
	}
}

// NewID returns a URL-safe random ID.
func NewID() string {
	if newNanoID != nil {
		return newNanoID()
	}
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
