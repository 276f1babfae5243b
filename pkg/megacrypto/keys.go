package megacrypto

import (
	"crypto/aes"
	"crypto/sha512"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Key derivation parameters for version 2 accounts.
const (
	pbkdf2Iterations = 100000
	derivedKeySize   = 32
	// SaltSize is the length of the per-account salt generated at registration
	// and on password change.
	SaltSize = 32
)

// Legacy (version 1) derivation parameters.
const (
	v1KeyRounds  = 0x10000
	v1HashRounds = 0x4000
)

// v1Seed is the fixed starting block of the legacy password key schedule.
var v1Seed = [KeySize]byte{
	0x93, 0xC4, 0x67, 0xE3, 0x7D, 0xB0, 0xC7, 0xA4,
	0xD1, 0xBE, 0x3F, 0x81, 0x01, 0x52, 0xCB, 0x56,
}

// DerivedKey is the output of password key derivation: PasswordKey unwraps
// the account master key; LoginHash proves knowledge of the password to the
// server without revealing PasswordKey.
type DerivedKey struct {
	PasswordKey []byte
	LoginHash   string
}

// DeriveKey derives the password key and login hash for a version 2 account
// with PBKDF2-HMAC-SHA512. The first half of the 32-byte output is the
// password key, the second half the login hash.
func DeriveKey(password string, salt []byte) (*DerivedKey, error) {
	if len(salt) == 0 {
		return nil, fmt.Errorf("%w: empty salt", ErrCrypto)
	}

	dk := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, derivedKeySize, sha512.New)

	return &DerivedKey{
		PasswordKey: dk[:KeySize],
		LoginHash:   B64Encode(dk[KeySize:]),
	}, nil
}

// DeriveMasterKey derives the key that unwraps the account master key from
// the password and account salt.
func DeriveMasterKey(password string, salt []byte) ([]byte, error) {
	dk, err := DeriveKey(password, salt)
	if err != nil {
		return nil, err
	}

	return dk.PasswordKey, nil
}

// DeriveKeyV1 derives the password key and login hash for a legacy account,
// which has no salt and hashes the lowercased email instead.
func DeriveKeyV1(password, email string) (*DerivedKey, error) {
	pkey, err := prepareKeyV1(password)
	if err != nil {
		return nil, err
	}

	hash, err := stringHashV1(strings.ToLower(email), pkey)
	if err != nil {
		return nil, err
	}

	return &DerivedKey{PasswordKey: pkey, LoginHash: hash}, nil
}

func prepareKeyV1(password string) ([]byte, error) {
	pw := []byte(password)
	if rem := len(pw) % KeySize; rem != 0 || len(pw) == 0 {
		pw = append(pw, make([]byte, KeySize-rem)...)
	}

	ciphers := make([]interface{ Encrypt(dst, src []byte) }, 0, len(pw)/KeySize)

	for i := 0; i < len(pw); i += KeySize {
		c, err := aes.NewCipher(pw[i : i+KeySize])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCrypto, err)
		}

		ciphers = append(ciphers, c)
	}

	pkey := v1Seed

	for range v1KeyRounds {
		for _, c := range ciphers {
			c.Encrypt(pkey[:], pkey[:])
		}
	}

	return pkey[:], nil
}

func stringHashV1(s string, key []byte) (string, error) {
	var h [KeySize]byte
	for i, b := range []byte(s) {
		h[i%KeySize] ^= b
	}

	c, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCrypto, err)
	}

	for range v1HashRounds {
		c.Encrypt(h[:], h[:])
	}

	out := make([]byte, 0, 8)
	out = append(out, h[0:4]...)
	out = append(out, h[8:12]...)

	return B64Encode(out), nil
}

// FileKeySize is the length of a packed file node key.
const FileKeySize = 32

// FileKey is the unpacked form of a 32-byte file node key. AES is the content
// key, Nonce seeds the CTR counter and the chunk MACs, MetaMAC is the
// condensed integrity value over every chunk.
type FileKey struct {
	AES     [KeySize]byte
	Nonce   [8]byte
	MetaMAC [8]byte
}

// NewFileKey generates a random content key and nonce. MetaMAC is filled in
// after the upload completes.
func NewFileKey() (*FileKey, error) {
	b, err := RandomBytes(KeySize + 8)
	if err != nil {
		return nil, err
	}

	fk := &FileKey{}
	copy(fk.AES[:], b[:KeySize])
	copy(fk.Nonce[:], b[KeySize:])

	return fk, nil
}

// ParseFileKey unpacks a 32-byte node key.
func ParseFileKey(b []byte) (*FileKey, error) {
	if len(b) != FileKeySize {
		return nil, fmt.Errorf("%w: file key length %d", ErrKeySize, len(b))
	}

	fk := &FileKey{}
	for i := range KeySize {
		fk.AES[i] = b[i] ^ b[KeySize+i]
	}

	copy(fk.Nonce[:], b[16:24])
	copy(fk.MetaMAC[:], b[24:32])

	return fk, nil
}

// Bytes packs the key into its 32-byte node key form.
func (k *FileKey) Bytes() []byte {
	out := make([]byte, FileKeySize)
	copy(out[16:24], k.Nonce[:])
	copy(out[24:32], k.MetaMAC[:])

	for i := range KeySize {
		out[i] = k.AES[i] ^ out[KeySize+i]
	}

	return out
}

// AttributeKey returns the key that encrypts a node's attributes: the folded
// content key for files, the key itself for folders.
func AttributeKey(nodeKey []byte) ([]byte, error) {
	switch len(nodeKey) {
	case KeySize:
		return nodeKey, nil
	case FileKeySize:
		fk, err := ParseFileKey(nodeKey)
		if err != nil {
			return nil, err
		}

		return fk.AES[:], nil
	default:
		return nil, fmt.Errorf("%w: node key length %d", ErrKeySize, len(nodeKey))
	}
}
