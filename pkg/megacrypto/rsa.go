package megacrypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/binary"
	"fmt"
)

// DefaultRSABits is the modulus size for newly generated account key pairs.
const DefaultRSABits = 2048

// GenerateRSAKey creates the key pair used to receive share keys.
func GenerateRSAKey(bits int) (*rsa.PrivateKey, error) {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("megacrypto: generating RSA key: %w", err)
	}

	return priv, nil
}

// EncryptForPublicKey wraps a share key (or session id) for the holder of pub
// with RSA-OAEP SHA-256.
func EncryptForPublicKey(pub *rsa.PublicKey, data []byte) ([]byte, error) {
	out, err := rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: RSA encrypt: %w", ErrCrypto, err)
	}

	return out, nil
}

// DecryptWithPrivateKey reverses EncryptForPublicKey.
func DecryptWithPrivateKey(priv *rsa.PrivateKey, ct []byte) ([]byte, error) {
	out, err := rsa.DecryptOAEP(sha256.New(), rand.Reader, priv, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: RSA decrypt: %w", ErrCrypto, err)
	}

	return out, nil
}

// MarshalPublicKey encodes pub as PKIX DER.
func MarshalPublicKey(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal public key: %w", ErrCrypto, err)
	}

	return der, nil
}

// ParsePublicKey decodes a PKIX DER RSA public key.
func ParsePublicKey(der []byte) (*rsa.PublicKey, error) {
	k, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: parse public key: %w", ErrCrypto, err)
	}

	pub, ok := k.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: public key is %T, not RSA", ErrCrypto, k)
	}

	return pub, nil
}

// WrapPrivateKey encodes priv as PKCS#1 DER behind a 4-byte length prefix,
// zero-pads to the block size and encrypts with the master key.
func WrapPrivateKey(master []byte, priv *rsa.PrivateKey) ([]byte, error) {
	der := x509.MarshalPKCS1PrivateKey(priv)

	plain := make([]byte, 4, 4+len(der)+BlockSize)
	binary.BigEndian.PutUint32(plain, uint32(len(der)))
	plain = append(plain, der...)

	if rem := len(plain) % BlockSize; rem != 0 {
		plain = append(plain, make([]byte, BlockSize-rem)...)
	}

	return WrapKey(master, plain)
}

// UnwrapPrivateKey reverses WrapPrivateKey.
func UnwrapPrivateKey(master, wrapped []byte) (*rsa.PrivateKey, error) {
	plain, err := UnwrapKey(master, wrapped)
	if err != nil {
		return nil, err
	}

	n := int(binary.BigEndian.Uint32(plain[:4]))
	if n <= 0 || n > len(plain)-4 {
		return nil, fmt.Errorf("%w: private key length %d out of range", ErrCrypto, n)
	}

	priv, err := x509.ParsePKCS1PrivateKey(plain[4 : 4+n])
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %w", ErrCrypto, err)
	}

	return priv, nil
}
