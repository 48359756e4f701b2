// Package password hashes and verifies account passwords with Argon2id,
// stored as PHC strings ($argon2id$v=19$m=...,t=...,p=...$salt$hash).
package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

// MinLength is the shortest accepted password, in bytes.
const MinLength = 8

const (
	algorithm     = "argon2id"
	saltLength    = 16
	keyLength     = 32
	minMemoryKB   = 1024
	defaultMemory = 64 * 1024
	defaultTime   = 3
	defaultThread = 2
)

// Params are the Argon2id cost parameters used for new hashes.
type Params struct {
	MemoryKB uint32
	Time     uint32
	Threads  uint8
}

// DefaultParams returns production costs.
func DefaultParams() Params {
	return Params{MemoryKB: defaultMemory, Time: defaultTime, Threads: defaultThread}
}

// Validate reports unusable parameters.
func (p Params) Validate() error {
	switch {
	case p.MemoryKB < minMemoryKB:
		return fmt.Errorf("%w: memory must be >= %d KB", ErrInvalidParams, minMemoryKB)
	case p.Time < 1:
		return fmt.Errorf("%w: time must be >= 1", ErrInvalidParams)
	case p.Threads < 1:
		return fmt.Errorf("%w: threads must be >= 1", ErrInvalidParams)
	}
	return nil
}

// Hasher creates and checks PHC-encoded Argon2id hashes.
type Hasher struct {
	params Params
	rand   io.Reader
}

// NewHasher validates params and returns a hasher.
func NewHasher(params Params) (*Hasher, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Hasher{params: params, rand: rand.Reader}, nil
}

// Hash derives a new salted hash of password.
func (h *Hasher) Hash(password string) (string, error) {
	if len(password) < MinLength {
		return "", fmt.Errorf("%w: need at least %d bytes", ErrTooShort, MinLength)
	}
	salt := make([]byte, saltLength)
	if _, err := io.ReadFull(h.rand, salt); err != nil {
		return "", fmt.Errorf("read salt: %w", err)
	}
	key := argon2.IDKey([]byte(password), salt, h.params.Time, h.params.MemoryKB, h.params.Threads, keyLength)
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithm, argon2.Version,
		h.params.MemoryKB, h.params.Time, h.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether password matches encoded. Parameters are taken from
// the hash, so hashes made with older costs still verify.
func (h *Hasher) Verify(password, encoded string) (bool, error) {
	p, salt, want, err := decode(encoded)
	if err != nil {
		return false, err
	}
	got := argon2.IDKey([]byte(password), salt, p.Time, p.MemoryKB, p.Threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// NeedsRehash reports whether encoded was made with weaker costs than h uses.
func (h *Hasher) NeedsRehash(encoded string) (bool, error) {
	p, _, _, err := decode(encoded)
	if err != nil {
		return false, err
	}
	return p.MemoryKB < h.params.MemoryKB || p.Time < h.params.Time || p.Threads < h.params.Threads, nil
}

func decode(encoded string) (Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithm {
		return Params{}, nil, nil, fmt.Errorf("%w: not an argon2id PHC string", ErrInvalidHash)
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return Params{}, nil, nil, fmt.Errorf("%w: unsupported version", ErrInvalidHash)
	}
	var p Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.MemoryKB, &p.Time, &p.Threads); err != nil {
		return Params{}, nil, nil, fmt.Errorf("%w: bad parameters", ErrInvalidHash)
	}
	if err := p.Validate(); err != nil {
		return Params{}, nil, nil, fmt.Errorf("%w: %w", ErrInvalidHash, err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return Params{}, nil, nil, fmt.Errorf("%w: bad salt", ErrInvalidHash)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return Params{}, nil, nil, fmt.Errorf("%w: bad key", ErrInvalidHash)
	}
	return p, salt, key, nil
}
