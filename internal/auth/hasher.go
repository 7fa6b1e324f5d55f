package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/oops"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// Argon2id parameters - tuned for security vs performance balance
// Time: 3, Memory: 64MB, Threads: 4, KeyLen: 32 bytes
const (
	argon2Time    = 3
	argon2Memory  = 64 * 1024 // 64 MB
	argon2Threads = 4
	argon2KeyLen  = 32
	saltLen       = 16

	argon2Prefix = "$argon2id$"
)

// PasswordHasher turns plaintext passwords into one-way salted hashes.
type PasswordHasher interface {
	// Hash returns a salted hash of password.
	Hash(password string) (string, error)

	// Verify reports whether password matches hash. A malformed hash is an
	// error; a wrong password is (false, nil).
	Verify(password, hash string) (bool, error)
}

// BcryptHasher hashes with bcrypt at a fixed cost.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher returns a bcrypt hasher. Costs outside bcrypt's range fall
// back to bcrypt.DefaultCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", oops.In("hasher").Code("HASH_FAILED").Wrapf(err, "failed to hash password")
	}
	return string(hash), nil
}

func (h *BcryptHasher) Verify(password, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, oops.In("hasher").Code("INVALID_HASH").Wrapf(err, "failed to verify password")
	}
}

// Argon2idHasher hashes with argon2id and encodes the result in PHC form:
// $argon2id$v=19$m=65536,t=3,p=4$salt$hash
type Argon2idHasher struct{}

func NewArgon2idHasher() *Argon2idHasher {
	return &Argon2idHasher{}
}

func (h *Argon2idHasher) Hash(password string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", oops.In("hasher").Code("SALT_FAILED").Wrapf(err, "failed to generate salt")
	}

	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		argon2Memory,
		argon2Time,
		argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

func (h *Argon2idHasher) Verify(password, encodedHash string) (bool, error) {
	invalid := oops.In("hasher").Code("INVALID_HASH")

	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, invalid.Errorf("invalid argon2id hash format")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return false, invalid.Wrap(err)
	}

	var memory, time, threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, invalid.Wrap(err)
	}
	if threads == 0 || threads > 255 {
		return false, invalid.Errorf("invalid parallelism %d", threads)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, invalid.Wrap(err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, invalid.Wrap(err)
	}
	if len(expected) == 0 || len(expected) > 1024 {
		return false, invalid.Errorf("invalid key length %d", len(expected))
	}

	computed := argon2.IDKey([]byte(password), salt, time, memory, uint8(threads), uint32(len(expected)))
	return subtle.ConstantTimeCompare(computed, expected) == 1, nil
}

// MultiHasher hashes with a primary algorithm and verifies any hash whose
// format it recognizes, so switching PASSWORD_HASHER keeps old accounts working.
type MultiHasher struct {
	primary PasswordHasher
	bcrypt  *BcryptHasher
	argon2  *Argon2idHasher
}

// NewMultiHasher selects the primary algorithm by name ("bcrypt" or "argon2id").
func NewMultiHasher(primary string, bcryptCost int) (*MultiHasher, error) {
	m := &MultiHasher{
		bcrypt: NewBcryptHasher(bcryptCost),
		argon2: NewArgon2idHasher(),
	}
	switch primary {
	case "bcrypt":
		m.primary = m.bcrypt
	case "argon2id":
		m.primary = m.argon2
	default:
		return nil, oops.In("hasher").Errorf("unknown password hasher %q", primary)
	}
	return m, nil
}

func (m *MultiHasher) Hash(password string) (string, error) {
	return m.primary.Hash(password)
}

func (m *MultiHasher) Verify(password, hash string) (bool, error) {
	if strings.HasPrefix(hash, argon2Prefix) {
		return m.argon2.Verify(password, hash)
	}
	return m.bcrypt.Verify(password, hash)
}
