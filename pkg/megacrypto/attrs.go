package megacrypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/json"
	"fmt"
)

// attrPrefix marks a correctly decrypted attribute block.
const attrPrefix = "MEGA"

// Attributes are the decrypted, user-visible properties of a node. Name maps
// to the "n" key; every other key is kept in Meta untouched.
type Attributes struct {
	Name string
	Meta map[string]any
}

// EncryptAttributes serializes attrs as "MEGA"+JSON, zero-pads to the block
// size and encrypts with AES-CBC under a zero IV.
func EncryptAttributes(attrs Attributes, key []byte) ([]byte, error) {
	m := make(map[string]any, len(attrs.Meta)+1)
	for k, v := range attrs.Meta {
		m[k] = v
	}

	m["n"] = attrs.Name

	js, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("megacrypto: encoding attributes: %w", err)
	}

	plain := append([]byte(attrPrefix), js...)

	return CBCEncrypt(key, plain)
}

// DecryptAttributes reverses EncryptAttributes. A wrong key shows up as a
// missing prefix or invalid JSON and is reported as ErrCrypto.
func DecryptAttributes(ciphertext, key []byte) (Attributes, error) {
	plain, err := CBCDecrypt(key, ciphertext)
	if err != nil {
		return Attributes{}, err
	}

	if !bytes.HasPrefix(plain, []byte(attrPrefix+"{")) {
		return Attributes{}, fmt.Errorf("%w: attribute block has no valid prefix", ErrCrypto)
	}

	body := bytes.TrimRight(plain[len(attrPrefix):], "\x00")

	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return Attributes{}, fmt.Errorf("%w: attribute JSON: %w", ErrCrypto, err)
	}

	attrs := Attributes{Meta: make(map[string]any, len(m))}

	for k, v := range m {
		if k == "n" {
			if s, ok := v.(string); ok {
				attrs.Name = s
			}

			continue
		}

		attrs.Meta[k] = v
	}

	return attrs, nil
}

// CBCEncrypt zero-pads plain to the block size and encrypts with AES-CBC
// under a zero IV. Used for attribute blocks and file attachments.
func CBCEncrypt(key, plain []byte) ([]byte, error) {
	block, err := newBlock(key)
	if err != nil {
		return nil, err
	}

	padded := plain
	if rem := len(plain) % BlockSize; rem != 0 || len(plain) == 0 {
		padded = append(append([]byte{}, plain...), make([]byte, BlockSize-rem)...)
	}

	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, make([]byte, BlockSize)).CryptBlocks(out, padded)

	return out, nil
}

// CBCDecrypt reverses CBCEncrypt. Padding is left in place for the caller.
func CBCDecrypt(key, ciphertext []byte) ([]byte, error) {
	block, err := newBlock(key)
	if err != nil {
		return nil, err
	}

	if len(ciphertext) == 0 || len(ciphertext)%BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is not a positive multiple of %d",
			ErrCrypto, len(ciphertext), BlockSize)
	}

	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, make([]byte, BlockSize)).CryptBlocks(out, ciphertext)

	return out, nil
}

func newBlock(key []byte) (cipher.Block, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCrypto, err)
	}

	return block, nil
}
