// Package crypto seals export archives with a password.
// The password is never stored; the same password must be supplied on import.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

var (
	// ErrInvalidPassword is returned when the password does not open the archive.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrInvalidArchive is returned when the sealed header cannot be parsed.
	ErrInvalidArchive = errors.New("invalid archive format")
)

const (
	// PasswordMinLength is the minimum accepted password length.
	PasswordMinLength = 8
	// SaltLength is the length of the random key-derivation salt.
	SaltLength = 32
	// Iterations is the PBKDF2 round count.
	Iterations = 100_000

	algorithm   = "AES-256-GCM"
	version     = 1
	headerMagic = "TMEALAR"
	keyLength   = 32
)

// Header is the plaintext prefix of a sealed archive.
type Header struct {
	Version   uint8
	Algorithm string
	Nonce     []byte
	Salt      []byte
}

// IsEncrypted reports whether data starts with the sealed-archive magic.
func IsEncrypted(data []byte) bool {
	return bytes.HasPrefix(data, []byte(headerMagic))
}

// EncryptArchive seals data with a key derived from password.
// The result is the header followed by the GCM ciphertext.
func EncryptArchive(data []byte, password string) ([]byte, error) {
	if err := ValidatePassword(password); err != nil {
		return nil, err
	}

	salt := make([]byte, SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	h := Header{Version: version, Algorithm: algorithm, Nonce: nonce, Salt: salt}
	head, err := h.marshal()
	if err != nil {
		return nil, err
	}

	// The header is authenticated as additional data.
	return gcm.Seal(head, nonce, data, head), nil
}

// DecryptArchive opens a sealed archive. A wrong password and a tampered
// payload both yield ErrInvalidPassword; GCM cannot tell them apart.
func DecryptArchive(sealed []byte, password string) ([]byte, error) {
	h, n, err := parseHeader(sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	if h.Version != version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidArchive, h.Version)
	}
	if h.Algorithm != algorithm {
		return nil, fmt.Errorf("%w: unsupported algorithm %s", ErrInvalidArchive, h.Algorithm)
	}

	gcm, err := newGCM(password, h.Salt)
	if err != nil {
		return nil, err
	}
	if len(h.Nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce length %d", ErrInvalidArchive, len(h.Nonce))
	}

	plaintext, err := gcm.Open(nil, h.Nonce, sealed[n:], sealed[:n])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPassword, err)
	}
	return plaintext, nil
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	key := DeriveKey(password, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// DeriveKey derives a 32-byte key with PBKDF2-SHA256.
func DeriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, Iterations, keyLength, sha256.New)
}

// =====================================================
// Header Serialization
// =====================================================

// marshal writes magic, version, then three length-prefixed fields.
func (h Header) marshal() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(headerMagic)
	buf.WriteByte(h.Version)
	for _, field := range [][]byte{[]byte(h.Algorithm), h.Nonce, h.Salt} {
		if len(field) > 255 {
			return nil, errors.New("header field too long")
		}
		buf.WriteByte(byte(len(field)))
		buf.Write(field)
	}
	return buf.Bytes(), nil
}

// parseHeader returns the header and its encoded length.
func parseHeader(data []byte) (Header, int, error) {
	var h Header
	r := bytes.NewReader(data)

	magic := make([]byte, len(headerMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return h, 0, fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != headerMagic {
		return h, 0, fmt.Errorf("bad magic %q", magic)
	}

	v, err := r.ReadByte()
	if err != nil {
		return h, 0, fmt.Errorf("read version: %w", err)
	}
	h.Version = v

	fields := make([][]byte, 3)
	for i := range fields {
		n, err := r.ReadByte()
		if err != nil {
			return h, 0, fmt.Errorf("read field length: %w", err)
		}
		fields[i] = make([]byte, n)
		if _, err := io.ReadFull(r, fields[i]); err != nil {
			return h, 0, fmt.Errorf("read field: %w", err)
		}
	}
	h.Algorithm = string(fields[0])
	h.Nonce = fields[1]
	h.Salt = fields[2]

	return h, len(data) - r.Len(), nil
}

// ValidatePassword checks the minimum length.
func ValidatePassword(password string) error {
	if len(password) < PasswordMinLength {
		return fmt.Errorf("password must be at least %d characters", PasswordMinLength)
	}
	return nil
}

// GeneratePassword returns a random URL-safe password of the given length.
func GeneratePassword(length int) (string, error) {
	if length < PasswordMinLength {
		length = PasswordMinLength
	}
	raw := make([]byte, length)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw)[:length], nil
}
