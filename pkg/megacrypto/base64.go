package megacrypto

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// B64Encode encodes b with the unpadded URL-safe alphabet used on the wire
// and in link fragments.
func B64Encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// B64Decode accepts both URL-safe and standard alphabets, padded or not.
func B64Decode(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	s = strings.NewReplacer("+", "-", "/", "_", ",", "").Replace(s)

	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %w", ErrCrypto, err)
	}

	return b, nil
}
