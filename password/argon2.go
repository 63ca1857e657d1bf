package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argon2Prefix   = "$argon2id$"
	minArgonMemory = 8 * 1024
	minArgonSalt   = 16
	minArgonKey    = 16
)

// Argon2Params are the Argon2id cost parameters.
type Argon2Params struct {
	Memory      uint32 `yaml:"memory_kb" toml:"memory_kb" env:"MEMORY_KB"`
	Time        uint32 `yaml:"time" toml:"time" env:"TIME"`
	Parallelism uint8  `yaml:"parallelism" toml:"parallelism" env:"PARALLELISM"`
	SaltLength  uint32 `yaml:"salt_length" toml:"salt_length" env:"SALT_LENGTH"`
	KeyLength   uint32 `yaml:"key_length" toml:"key_length" env:"KEY_LENGTH"`
}

// DefaultArgon2Params returns 64 MiB, 3 passes, 2 lanes, 16-byte salt and
// 32-byte key.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{Memory: 64 * 1024, Time: 3, Parallelism: 2, SaltLength: 16, KeyLength: 32}
}

// Argon2 hashes with Argon2id and encodes results in PHC format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
type Argon2 struct {
	params Argon2Params
}

// NewArgon2 validates p and returns a hasher.
func NewArgon2(p Argon2Params) (*Argon2, error) {
	switch {
	case p.Memory < minArgonMemory:
		return nil, fmt.Errorf("%w: argon2 memory must be >= %d KiB", ErrInvalidParams, minArgonMemory)
	case p.Time < 1:
		return nil, fmt.Errorf("%w: argon2 time must be >= 1", ErrInvalidParams)
	case p.Parallelism < 1:
		return nil, fmt.Errorf("%w: argon2 parallelism must be >= 1", ErrInvalidParams)
	case p.SaltLength < minArgonSalt:
		return nil, fmt.Errorf("%w: argon2 salt must be >= %d bytes", ErrInvalidParams, minArgonSalt)
	case p.KeyLength < minArgonKey:
		return nil, fmt.Errorf("%w: argon2 key must be >= %d bytes", ErrInvalidParams, minArgonKey)
	}
	return &Argon2{params: p}, nil
}

// Handles reports whether encoded is an Argon2id PHC string.
func (a *Argon2) Handles(encoded string) bool {
	return strings.HasPrefix(encoded, argon2Prefix)
}

// Hash derives a fresh salted hash. The password bytes are used as given.
func (a *Argon2) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	salt := make([]byte, a.params.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(password), salt, a.params.Time, a.params.Memory, a.params.Parallelism, a.params.KeyLength)
	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2Prefix, argon2.Version,
		a.params.Memory, a.params.Time, a.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the hash with the stored parameters and compares in
// constant time.
func (a *Argon2) Verify(password, encoded string) (bool, error) {
	stored, err := decodeArgon2(encoded)
	if err != nil {
		return false, err
	}
	key := argon2.IDKey([]byte(password), stored.salt, stored.params.Time, stored.params.Memory, stored.params.Parallelism, stored.params.KeyLength)
	return subtle.ConstantTimeCompare(key, stored.key) == 1, nil
}

// NeedsUpgrade reports whether encoded was produced with weaker parameters
// than the hasher's.
func (a *Argon2) NeedsUpgrade(encoded string) (bool, error) {
	stored, err := decodeArgon2(encoded)
	if err != nil {
		return false, err
	}
	p := stored.params
	return a.params.Memory > p.Memory ||
		a.params.Time > p.Time ||
		a.params.Parallelism > p.Parallelism ||
		a.params.KeyLength != p.KeyLength, nil
}

type argon2Hash struct {
	params Argon2Params
	salt   []byte
	key    []byte
}

func decodeArgon2(encoded string) (*argon2Hash, error) {
	if !strings.HasPrefix(encoded, argon2Prefix) {
		return nil, ErrUnsupportedAlgorithm
	}

	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 {
		return nil, ErrMalformedHash
	}
	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return nil, fmt.Errorf("%w: argon2 version %q", ErrMalformedHash, parts[2])
	}

	var h argon2Hash
	seen := 0
	for _, kv := range strings.Split(parts[3], ",") {
		name, value, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, ErrMalformedHash
		}
		n, err := strconv.ParseUint(value, 10, 32)
		if err != nil || n == 0 {
			return nil, fmt.Errorf("%w: argon2 parameter %q", ErrMalformedHash, kv)
		}
		switch name {
		case "m":
			h.params.Memory = uint32(n)
		case "t":
			h.params.Time = uint32(n)
		case "p":
			if n > 255 {
				return nil, fmt.Errorf("%w: argon2 parallelism %d", ErrMalformedHash, n)
			}
			h.params.Parallelism = uint8(n)
		default:
			return nil, fmt.Errorf("%w: argon2 parameter %q", ErrMalformedHash, name)
		}
		seen++
	}
	if seen != 3 || h.params.Memory == 0 || h.params.Time == 0 || h.params.Parallelism == 0 {
		return nil, fmt.Errorf("%w: missing argon2 parameters", ErrMalformedHash)
	}

	var err error
	if h.salt, err = decodeB64(parts[4]); err != nil || len(h.salt) < minArgonSalt {
		return nil, fmt.Errorf("%w: argon2 salt", ErrMalformedHash)
	}
	if h.key, err = decodeB64(parts[5]); err != nil || len(h.key) == 0 {
		return nil, fmt.Errorf("%w: argon2 key", ErrMalformedHash)
	}
	h.params.SaltLength = uint32(len(h.salt))
	h.params.KeyLength = uint32(len(h.key))
	return &h, nil
}

// decodeB64 accepts both padded and unpadded standard base64.
func decodeB64(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}
