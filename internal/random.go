package internal

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"

	"github.com/google/uuid"
)

// TokenBytes is the entropy of session and single-use tokens (256 bits).
const TokenBytes = 32

// TokenLength is the hex-encoded length of a token.
const TokenLength = TokenBytes * 2

var errShortRead = errors.New("short random read")

// NewToken returns 32 random bytes, hex encoded.
func NewToken() (string, error) {
	return newTokenFrom(rand.Reader)
}

func newTokenFrom(r io.Reader) (string, error) {
	var raw [TokenBytes]byte
	n, err := io.ReadFull(r, raw[:])
	if err != nil {
		return "", err
	}
	if n != TokenBytes {
		return "", errShortRead
	}
	return hex.EncodeToString(raw[:]), nil
}

// NewSessionID returns the public identifier of a session row. Unlike the
// token it is safe to log and to hand to administrators.
func NewSessionID() string {
	return uuid.NewString()
}

// TokenPrefix returns a loggable prefix of a secret token.
func TokenPrefix(token string) string {
	const keep = 8
	if len(token) <= keep {
		return token
	}
	return token[:keep] + "..."
}
