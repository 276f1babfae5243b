// Package megacrypto implements the client-side cryptography used by the
// storage service: password key derivation, master-key wrapping of node keys,
// attribute encryption, and per-chunk file encryption with CBC-MAC integrity
// tags that can be decrypted in any order.
//
// Every function is a pure transformation over the byte slices it is given.
// Malformed input and integrity failures are reported as errors wrapping
// ErrCrypto; corrupted plaintext is never returned.
package megacrypto

import (
	"crypto/aes"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
)

// KeySize is the length of every symmetric key (AES-128).
const KeySize = 16

// BlockSize is the AES block size.
const BlockSize = aes.BlockSize

// Sentinel errors. Use errors.Is(err, megacrypto.ErrCrypto) to match any
// cryptographic failure.
var (
	ErrCrypto    = errors.New("megacrypto: crypto failure")
	ErrIntegrity = fmt.Errorf("%w: integrity check failed", ErrCrypto)
	ErrKeySize   = fmt.Errorf("%w: invalid key size", ErrCrypto)
)

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("megacrypto: reading random bytes: %w", err)
	}

	return b, nil
}

// RandomKey returns a fresh 16-byte symmetric key.
func RandomKey() ([]byte, error) {
	return RandomBytes(KeySize)
}

// WrapKey encrypts data (a multiple of 16 bytes) under key with AES-ECB.
// This is how node keys and the master key are stored server-side.
func WrapKey(key, data []byte) ([]byte, error) {
	return ecb(key, data, true)
}

// UnwrapKey reverses WrapKey.
func UnwrapKey(key, data []byte) ([]byte, error) {
	return ecb(key, data, false)
}

func ecb(key, data []byte, encrypt bool) ([]byte, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}

	if len(data) == 0 || len(data)%BlockSize != 0 {
		return nil, fmt.Errorf("%w: wrapped data length %d is not a positive multiple of %d",
			ErrCrypto, len(data), BlockSize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCrypto, err)
	}

	out := make([]byte, len(data))
	for i := 0; i < len(data); i += BlockSize {
		if encrypt {
			block.Encrypt(out[i:i+BlockSize], data[i:i+BlockSize])
		} else {
			block.Decrypt(out[i:i+BlockSize], data[i:i+BlockSize])
		}
	}

	return out, nil
}

// DecryptNodeKey unwraps a node key with its parent share key or the master
// key. File keys are 32 bytes, folder keys 16.
func DecryptNodeKey(wrapped, parentOrMaster []byte) ([]byte, error) {
	if len(wrapped) != KeySize && len(wrapped) != FileKeySize {
		return nil, fmt.Errorf("%w: node key length %d", ErrKeySize, len(wrapped))
	}

	return UnwrapKey(parentOrMaster, wrapped)
}

// Equal reports whether two MACs or keys are equal in constant time.
func Equal(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

func xorInto(dst, src []byte) {
	for i := range dst {
		dst[i] ^= src[i]
	}
}
