package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	hashTime    uint32 = 3
	hashMemory  uint32 = 64 * 1024
	hashThreads uint8  = 2
	hashKeyLen  uint32 = 32
	hashSaltLen        = 16

	// GeneratedBytes is the entropy of generated passwords.
	GeneratedBytes = 24
)

var errInvalidHash = errors.New("invalid password hash")

// Generate returns a random password that nobody is expected to type.
// It is used wherever an account must carry a credential that is never used to log in.
func Generate() (string, error) {
	buf := make([]byte, GeneratedBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate password: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Hash returns an argon2id hash string including parameters and salt.
func Hash(password string) (string, error) {
	salt := make([]byte, hashSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	sum := argon2.IDKey([]byte(password), salt, hashTime, hashMemory, hashThreads, hashKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		hashMemory,
		hashTime,
		hashThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

// Verify checks a password against the encoded argon2id hash.
func Verify(password, hash string) (bool, error) {
	params, salt, expected, err := decode(hash)
	if err != nil {
		return false, err
	}
	actual := argon2.IDKey([]byte(password), salt, params.time, params.memory, params.threads, uint32(len(expected)))
	return subtle.ConstantTimeCompare(actual, expected) == 1, nil
}

type hashParams struct {
	memory  uint32
	time    uint32
	threads uint8
}

func decode(hash string) (hashParams, []byte, []byte, error) {
	parts := strings.Split(hash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return hashParams{}, nil, nil, errInvalidHash
	}
	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return hashParams{}, nil, nil, errInvalidHash
	}

	var p hashParams
	for _, kv := range strings.Split(parts[3], ",") {
		key, raw, ok := strings.Cut(kv, "=")
		if !ok {
			return hashParams{}, nil, nil, errInvalidHash
		}
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return hashParams{}, nil, nil, errInvalidHash
		}
		switch key {
		case "m":
			p.memory = uint32(n)
		case "t":
			p.time = uint32(n)
		case "p":
			if n > 255 {
				return hashParams{}, nil, nil, errInvalidHash
			}
			p.threads = uint8(n)
		default:
			return hashParams{}, nil, nil, errInvalidHash
		}
	}
	if p.memory == 0 || p.time == 0 || p.threads == 0 {
		return hashParams{}, nil, nil, errInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return hashParams{}, nil, nil, errInvalidHash
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(expected) == 0 {
		return hashParams{}, nil, nil, errInvalidHash
	}
	return p, salt, expected, nil
}
